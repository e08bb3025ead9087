package engine

import (
	"time"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
)

type caseEventPhase int

const (
	caseStarted caseEventPhase = iota
	caseEnded
)

func (engine *Engine) exportSpecificationEvent(spec flownet.Specification) {
	event := exporter.SpecificationEvent{
		SpecID:       spec.ID,
		SpecKey:      spec.Key,
		Version:      spec.Version,
		ResourceName: spec.Name,
	}
	for _, e := range engine.exporters {
		e.NewSpecificationEvent(&event)
	}
}

func (engine *Engine) exportCaseEvent(c runtime.Case, phase caseEventPhase) {
	event := exporter.CaseEvent{
		SpecID:      c.SpecID,
		SpecKey:     c.SpecKey,
		SpecVersion: c.SpecVersion,
		CaseKey:     c.Key,
	}
	for _, e := range engine.exporters {
		if phase == caseStarted {
			e.NewCaseEvent(&event)
		} else {
			e.EndCaseEvent(&event)
		}
	}
}

// pendingEvents collects work item events during a mutation step. They are
// emitted only after the step's batch flushed, so exporters never see state
// that failed to persist.
type pendingEvents struct {
	queued []pendingWorkItemEvent
}

type pendingWorkItemEvent struct {
	c      runtime.Case
	wi     runtime.WorkItem
	intent exporter.Intent
	actor  string
}

func (p *pendingEvents) workItem(c runtime.Case, wi runtime.WorkItem, intent exporter.Intent, actor string) {
	p.queued = append(p.queued, pendingWorkItemEvent{c: c, wi: wi, intent: intent, actor: actor})
}

func (p *pendingEvents) emit(engine *Engine) {
	for _, q := range p.queued {
		event := exporter.CaseEvent{
			SpecID:      q.c.SpecID,
			SpecKey:     q.c.SpecKey,
			SpecVersion: q.c.SpecVersion,
			CaseKey:     q.c.Key,
		}
		info := exporter.WorkItemInfo{
			WorkItemKey: q.wi.Key,
			TaskID:      q.wi.TaskID,
			Intent:      q.intent,
			Participant: q.actor,
			CoSigner:    q.wi.CoSigner,
			At:          time.Now(),
		}
		for _, e := range engine.exporters {
			e.NewWorkItemEvent(&event, &info)
		}
	}
	p.queued = nil
}

