// Package exporter defines the audit/telemetry sink contract: one structured
// event per state transition, delivered synchronously from the engine.
package exporter

import "time"

type EventExporter interface {
	NewSpecificationEvent(event *SpecificationEvent)
	NewCaseEvent(event *CaseEvent)
	EndCaseEvent(event *CaseEvent)
	NewWorkItemEvent(event *CaseEvent, info *WorkItemInfo)
}

// Intent classifies a work item event.
type Intent string

const (
	WorkItemCreated   Intent = "WORK_ITEM_CREATED"
	WorkItemOffered   Intent = "WORK_ITEM_OFFERED"
	WorkItemAllocated Intent = "WORK_ITEM_ALLOCATED"
	WorkItemStarted   Intent = "WORK_ITEM_STARTED"
	WorkItemSuspended Intent = "WORK_ITEM_SUSPENDED"
	WorkItemResumed   Intent = "WORK_ITEM_RESUMED"
	WorkItemDelegated Intent = "WORK_ITEM_DELEGATED"
	WorkItemCompleted Intent = "WORK_ITEM_COMPLETED"
	WorkItemFailed    Intent = "WORK_ITEM_FAILED"
	WorkItemCancelled Intent = "WORK_ITEM_CANCELLED"
	TaskFired         Intent = "TASK_FIRED"
)

type SpecificationEvent struct {
	SpecID       string
	SpecKey      int64
	Version      int32
	ResourceName string
}

type CaseEvent struct {
	SpecID      string
	SpecKey     int64
	SpecVersion int32
	CaseKey     int64
}

type WorkItemInfo struct {
	WorkItemKey int64
	TaskID      string
	Intent      Intent
	Participant string
	CoSigner    string
	At          time.Time
}
