package storage

import (
	"context"
	"errors"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
)

var ErrNotFound = errors.New("not found")

type SpecificationStorageReader interface {
	// FindLatestSpecificationById returns the deployed specification with
	// the highest version for the given ID.
	FindLatestSpecificationById(ctx context.Context, specID string) (flownet.Specification, error)

	FindSpecificationByKey(ctx context.Context, key int64) (flownet.Specification, error)

	// FindSpecificationsById returns every deployed version of the given ID,
	// ordered by version, lowest first.
	FindSpecificationsById(ctx context.Context, specID string) ([]flownet.Specification, error)
}

type SpecificationStorageWriter interface {
	SaveSpecification(ctx context.Context, spec flownet.Specification) error
}

type CaseStorageReader interface {
	FindCaseByKey(ctx context.Context, key int64) (runtime.Case, error)
	FindCasesByState(ctx context.Context, state runtime.CaseState) ([]runtime.Case, error)
}

type CaseStorageWriter interface {
	SaveCase(ctx context.Context, c runtime.Case) error
}

// WorkItemFilter narrows FindWorkItems. Zero fields are ignored.
type WorkItemFilter struct {
	CaseKey     int64
	TaskID      string
	States      []runtime.WorkItemState
	Participant string
}

type WorkItemStorageReader interface {
	FindWorkItemByKey(ctx context.Context, key int64) (runtime.WorkItem, error)
	FindWorkItems(ctx context.Context, filter WorkItemFilter) ([]runtime.WorkItem, error)
}

type WorkItemStorageWriter interface {
	SaveWorkItem(ctx context.Context, wi runtime.WorkItem) error
}

type MIGroupStorageReader interface {
	FindMIGroupByKey(ctx context.Context, key int64) (runtime.MIGroup, error)
}

type MIGroupStorageWriter interface {
	SaveMIGroup(ctx context.Context, group runtime.MIGroup) error
}

type ExecutionRecordStorageReader interface {
	// FindExecutionRecordsByCase returns the append-only audit history of a
	// case, ordered by insertion.
	FindExecutionRecordsByCase(ctx context.Context, caseKey int64) ([]runtime.ExecutionRecord, error)
}

type ExecutionRecordStorageWriter interface {
	// SaveExecutionRecord appends a record; records are never updated.
	SaveExecutionRecord(ctx context.Context, rec runtime.ExecutionRecord) error
}

// Storage is the full persistence surface the engine binds to.
type Storage interface {
	SpecificationStorageReader
	SpecificationStorageWriter
	CaseStorageReader
	CaseStorageWriter
	WorkItemStorageReader
	WorkItemStorageWriter
	MIGroupStorageReader
	MIGroupStorageWriter
	ExecutionRecordStorageReader
	ExecutionRecordStorageWriter

	NewBatch() Batch
}

// Batch collects writes belonging to one engine step. Either all of them
// become visible on Flush or none do, which keeps per-operation state
// changes all-or-nothing.
type Batch interface {
	CaseStorageWriter
	WorkItemStorageWriter
	MIGroupStorageWriter
	ExecutionRecordStorageWriter

	Flush(ctx context.Context) error
}
