// Package storagetest holds reusable conformance tests for storage
// implementations. A new backend runs them via:
//
//	for name, test := range storagetest.GetTests() {
//		t.Run(name, test(myStorage, t))
//	}
package storagetest

import (
	"context"
	"fmt"
	"math/rand"
	"reflect"
	stdruntime "runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

type StorageTestFunc func(s storage.Storage, t *testing.T) func(t *testing.T)

func GetTests() map[string]StorageTestFunc {
	tests := map[string]StorageTestFunc{}

	functions := []StorageTestFunc{
		TestSaveSpecification,
		TestLatestSpecificationWins,
		TestSaveCase,
		TestWorkItemFilter,
		TestExecutionRecordsAppendOnly,
		TestBatchVisibility,
	}

	for _, function := range functions {
		tests[getFunctionName(function)] = function
	}
	return tests
}

func getFunctionName(i any) string {
	return stdruntime.FuncForPC(reflect.ValueOf(i).Pointer()).Name()
}

func TestSaveSpecification(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.TODO()
		r := rand.Int63()

		spec := flownet.Specification{
			ID:      fmt.Sprintf("spec-%d", r),
			Name:    "conformance",
			Version: 1,
			Key:     r,
		}
		err := s.SaveSpecification(ctx, spec)
		assert.Nil(t, err)

		found, err := s.FindSpecificationByKey(ctx, r)
		assert.Nil(t, err)
		assert.Equal(t, spec.ID, found.ID)

		_, err = s.FindSpecificationByKey(ctx, r+1)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	}
}

func TestLatestSpecificationWins(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.TODO()
		r := rand.Int63()
		id := fmt.Sprintf("spec-%d", r)

		for v := int32(1); v <= 3; v++ {
			err := s.SaveSpecification(ctx, flownet.Specification{ID: id, Version: v, Key: r + int64(v)})
			assert.Nil(t, err)
		}

		latest, err := s.FindLatestSpecificationById(ctx, id)
		assert.Nil(t, err)
		assert.Equal(t, int32(3), latest.Version)

		all, err := s.FindSpecificationsById(ctx, id)
		assert.Nil(t, err)
		assert.Len(t, all, 3)
		assert.Equal(t, int32(1), all[0].Version)
	}
}

func TestSaveCase(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.TODO()
		r := rand.Int63()

		c := runtime.Case{
			Key:       r,
			SpecID:    "spec",
			State:     runtime.CaseStateActive,
			Marking:   runtime.Marking{0: 1},
			CreatedAt: time.Now(),
		}
		err := s.SaveCase(ctx, c)
		assert.Nil(t, err)

		found, err := s.FindCaseByKey(ctx, r)
		assert.Nil(t, err)
		assert.Equal(t, 1, found.Marking.Count(0))
	}
}

func TestWorkItemFilter(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.TODO()
		caseKey := rand.Int63()

		offered := runtime.WorkItem{Key: caseKey + 1, CaseKey: caseKey, TaskID: "a", State: runtime.WorkItemOffered, OfferedTo: []string{"alice", "bob"}}
		executing := runtime.WorkItem{Key: caseKey + 2, CaseKey: caseKey, TaskID: "b", State: runtime.WorkItemExecuting, AllocatedTo: "bob"}
		assert.Nil(t, s.SaveWorkItem(ctx, offered))
		assert.Nil(t, s.SaveWorkItem(ctx, executing))

		res, err := s.FindWorkItems(ctx, storage.WorkItemFilter{CaseKey: caseKey})
		assert.Nil(t, err)
		assert.Len(t, res, 2)

		res, err = s.FindWorkItems(ctx, storage.WorkItemFilter{CaseKey: caseKey, Participant: "bob"})
		assert.Nil(t, err)
		assert.Len(t, res, 2)

		res, err = s.FindWorkItems(ctx, storage.WorkItemFilter{CaseKey: caseKey, Participant: "alice"})
		assert.Nil(t, err)
		assert.Len(t, res, 1)
		assert.Equal(t, "a", res[0].TaskID)

		res, err = s.FindWorkItems(ctx, storage.WorkItemFilter{CaseKey: caseKey, States: []runtime.WorkItemState{runtime.WorkItemExecuting}})
		assert.Nil(t, err)
		assert.Len(t, res, 1)
	}
}

func TestExecutionRecordsAppendOnly(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.TODO()
		caseKey := rand.Int63()

		for i := 0; i < 3; i++ {
			err := s.SaveExecutionRecord(ctx, runtime.ExecutionRecord{
				Key:     caseKey + int64(i),
				CaseKey: caseKey,
				TaskID:  fmt.Sprintf("t%d", i),
				Action:  "complete",
				At:      time.Now(),
			})
			assert.Nil(t, err)
		}

		recs, err := s.FindExecutionRecordsByCase(ctx, caseKey)
		assert.Nil(t, err)
		assert.Len(t, recs, 3)
		assert.Equal(t, "t0", recs[0].TaskID, "records keep insertion order")
	}
}

func TestBatchVisibility(s storage.Storage, t *testing.T) func(t *testing.T) {
	return func(t *testing.T) {
		ctx := context.TODO()
		r := rand.Int63()

		batch := s.NewBatch()
		err := batch.SaveWorkItem(ctx, runtime.WorkItem{Key: r, CaseKey: r, TaskID: "x", State: runtime.WorkItemCreated})
		assert.Nil(t, err)

		_, err = s.FindWorkItemByKey(ctx, r)
		assert.ErrorIs(t, err, storage.ErrNotFound, "queued write must not be visible before Flush")

		assert.Nil(t, batch.Flush(ctx))

		found, err := s.FindWorkItemByKey(ctx, r)
		assert.Nil(t, err)
		assert.Equal(t, runtime.WorkItemCreated, found.State)
	}
}
