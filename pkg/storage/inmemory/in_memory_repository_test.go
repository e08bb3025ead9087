package inmemory

import (
	"testing"

	"github.com/caseflow-io/caseflow/pkg/storage/storagetest"
)

func TestInMemoryStorageConformance(t *testing.T) {
	s := NewStorage()
	for name, test := range storagetest.GetTests() {
		t.Run(name, test(s, t))
	}
}
