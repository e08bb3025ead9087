package engine

import (
	"context"
	"errors"
	"time"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/ptr"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

// timeNow is swapped in tests.
var timeNow = time.Now

// step is one mutation of one case, executed under the case lock. All reads
// go through the step's in-memory view of the case's work items so writes
// queued on the batch are visible to later decisions within the same step.
// Nothing leaves the step until Flush.
type step struct {
	batch  storage.Batch
	events *pendingEvents

	c     *runtime.Case
	spec  *flownet.Specification
	items []*runtime.WorkItem

	groups  map[int64]*runtime.MIGroup
	records []runtime.ExecutionRecord

	// result carries a typed rejection that must surface to the caller even
	// though the step itself commits, like a failed split selection on an
	// otherwise valid completion.
	result error

	caseEnded bool

	createdCount   int64
	completedCount int64
	failedCount    int64
	cancelledCount int64
}

// beginStep loads the full work item and audit state of the case. The caller
// must hold the case lock.
func (engine *Engine) beginStep(ctx context.Context, c *runtime.Case) (*step, error) {
	spec, err := engine.specification(ctx, c)
	if err != nil {
		return nil, err
	}
	stored, err := engine.persistence.FindWorkItems(ctx, storage.WorkItemFilter{CaseKey: c.Key})
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load work items of case %d", c.Key), err)
	}
	items := ptr.ConvertSliceToPointerSlice(stored)
	records, err := engine.persistence.FindExecutionRecordsByCase(ctx, c.Key)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load execution records of case %d", c.Key), err)
	}
	return &step{
		batch:   engine.persistence.NewBatch(),
		events:  &pendingEvents{},
		c:       c,
		spec:    spec,
		items:   items,
		groups:  map[int64]*runtime.MIGroup{},
		records: records,
	}, nil
}

func (s *step) itemByKey(key int64) *runtime.WorkItem {
	for _, wi := range s.items {
		if wi.Key == key {
			return wi
		}
	}
	return nil
}

// itemsForTask returns every work item of the given task, terminal ones
// included.
func (s *step) itemsForTask(t flownet.TaskIdx) []*runtime.WorkItem {
	var res []*runtime.WorkItem
	for _, wi := range s.items {
		if wi.Task == t {
			res = append(res, wi)
		}
	}
	return res
}

func (s *step) liveItems() []*runtime.WorkItem {
	var res []*runtime.WorkItem
	for _, wi := range s.items {
		if !wi.State.IsTerminal() {
			res = append(res, wi)
		}
	}
	return res
}

func (s *step) group(ctx context.Context, engine *Engine, key int64) (*runtime.MIGroup, error) {
	if g, ok := s.groups[key]; ok {
		return g, nil
	}
	g, err := engine.persistence.FindMIGroupByKey(ctx, key)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("failed to load instance group %d", key), err)
	}
	s.groups[key] = &g
	return &g, nil
}

// put queues the current state of a work item for persistence.
func (s *step) put(ctx context.Context, wi *runtime.WorkItem) error {
	return s.batch.SaveWorkItem(ctx, *wi)
}

func (s *step) putGroup(ctx context.Context, g *runtime.MIGroup) error {
	s.groups[g.Key] = g
	return s.batch.SaveMIGroup(ctx, *g)
}

// record appends an audit entry to both the batch and the step's local
// history, so constraint filters running later in the same step see it.
func (engine *Engine) record(ctx context.Context, s *step, wi *runtime.WorkItem, action, participant, coSigner string) error {
	rec := runtime.ExecutionRecord{
		Key:         engine.generateKey(),
		CaseKey:     s.c.Key,
		WorkItemKey: wi.Key,
		TaskID:      wi.TaskID,
		Participant: participant,
		CoSigner:    coSigner,
		Action:      action,
		State:       wi.State,
		At:          timeNow(),
	}
	if err := s.batch.SaveExecutionRecord(ctx, rec); err != nil {
		return err
	}
	s.records = append(s.records, rec)
	return nil
}

// deferError records a typed rejection that the caller receives after the
// step committed.
func (s *step) deferError(err error) {
	if s.result == nil {
		s.result = err
	}
}

// commit persists the case and flushes the batch, then emits the queued
// events and metric updates.
func (engine *Engine) commit(ctx context.Context, s *step) error {
	if err := s.batch.SaveCase(ctx, *s.c); err != nil {
		return err
	}
	if err := s.batch.Flush(ctx); err != nil {
		return errors.Join(newEngineErrorf("failed to persist step of case %d", s.c.Key), err)
	}
	s.events.emit(engine)
	if s.caseEnded {
		engine.exportCaseEvent(*s.c, caseEnded)
	}
	if engine.metrics != nil {
		if s.createdCount > 0 {
			engine.metrics.WorkItemsCreated.Add(ctx, s.createdCount)
		}
		if s.completedCount > 0 {
			engine.metrics.WorkItemsCompleted.Add(ctx, s.completedCount)
		}
		if s.failedCount > 0 {
			engine.metrics.WorkItemsFailed.Add(ctx, s.failedCount)
		}
		if s.cancelledCount > 0 {
			engine.metrics.WorkItemsCancelled.Add(ctx, s.cancelledCount)
		}
		if s.caseEnded {
			if s.c.State == runtime.CaseStateCompleted {
				engine.metrics.CasesCompleted.Add(ctx, 1)
			}
			engine.metrics.CasesRunning.Add(ctx, -1)
		}
	}
	return s.result
}

// withWorkItem is the frame of every work item operation: resolve the owning
// case, take its lock, build the step, run the mutation and commit.
func (engine *Engine) withWorkItem(ctx context.Context, workItemKey int64, fn func(ctx context.Context, s *step, wi *runtime.WorkItem) error) error {
	stored, err := engine.persistence.FindWorkItemByKey(ctx, workItemKey)
	if err != nil {
		return errors.Join(newEngineErrorf("no work item with key=%d", workItemKey), err)
	}
	return engine.withCase(ctx, stored.CaseKey, func(ctx context.Context, s *step) error {
		wi := s.itemByKey(workItemKey)
		if wi == nil {
			return newEngineErrorf("work item %d vanished from case %d", workItemKey, stored.CaseKey)
		}
		return fn(ctx, s, wi)
	})
}

func (engine *Engine) withCase(ctx context.Context, caseKey int64, fn func(ctx context.Context, s *step) error) error {
	engine.locks.lock(caseKey)
	defer engine.locks.unlock(caseKey)

	c, err := engine.persistence.FindCaseByKey(ctx, caseKey)
	if err != nil {
		return errors.Join(newEngineErrorf("no case with key=%d", caseKey), err)
	}
	s, err := engine.beginStep(ctx, &c)
	if err != nil {
		return err
	}
	if err := fn(ctx, s); err != nil {
		return err
	}
	return engine.commit(ctx, s)
}

// exportWorkItem queues the event and bumps the matching step counter.
func (s *step) exportWorkItem(wi *runtime.WorkItem, intent exporter.Intent, actor string) {
	s.events.workItem(*s.c, *wi, intent, actor)
	switch intent {
	case exporter.WorkItemCreated:
		s.createdCount++
	case exporter.WorkItemCompleted:
		s.completedCount++
	case exporter.WorkItemFailed:
		s.failedCount++
	case exporter.WorkItemCancelled:
		s.cancelledCount++
	}
}
