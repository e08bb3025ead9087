// Package memory records exported audit events in memory. Intended for tests
// asserting that each transition emits exactly one event.
package memory

import (
	"sync"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
)

type Recorder struct {
	mu             sync.Mutex
	Specifications []exporter.SpecificationEvent
	CasesStarted   []exporter.CaseEvent
	CasesEnded     []exporter.CaseEvent
	WorkItemEvents []exporter.WorkItemInfo
}

var _ exporter.EventExporter = &Recorder{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) NewSpecificationEvent(event *exporter.SpecificationEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Specifications = append(r.Specifications, *event)
}

func (r *Recorder) NewCaseEvent(event *exporter.CaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CasesStarted = append(r.CasesStarted, *event)
}

func (r *Recorder) EndCaseEvent(event *exporter.CaseEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CasesEnded = append(r.CasesEnded, *event)
}

func (r *Recorder) NewWorkItemEvent(event *exporter.CaseEvent, info *exporter.WorkItemInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.WorkItemEvents = append(r.WorkItemEvents, *info)
}

// IntentsFor returns the recorded intents of one work item, in order.
func (r *Recorder) IntentsFor(workItemKey int64) []exporter.Intent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var res []exporter.Intent
	for _, e := range r.WorkItemEvents {
		if e.WorkItemKey == workItemKey {
			res = append(res, e.Intent)
		}
	}
	return res
}
