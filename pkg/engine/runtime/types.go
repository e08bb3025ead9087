package runtime

import (
	"time"

	"github.com/caseflow-io/caseflow/pkg/flownet"
)

// CaseState is the lifecycle state of one case.
type CaseState string

const (
	CaseStateReady     CaseState = "READY"
	CaseStateActive    CaseState = "ACTIVE"
	CaseStateCompleted CaseState = "COMPLETED"
	CaseStateCancelled CaseState = "CANCELLED"
)

// Case is one execution of a specification. The marking and the live work
// items of a case are mutated only under the coordinator's per-case lock.
type Case struct {
	Key         int64                  `json:"k"`
	SpecID      string                 `json:"sid"`
	SpecVersion int32                  `json:"sv"`
	SpecKey     int64                  `json:"sk"`
	State       CaseState              `json:"s"`
	Marking     Marking                `json:"m"`
	Variables   VariableHolder         `json:"vh,omitempty"`
	CreatedAt   time.Time              `json:"c"`
	CompletedAt *time.Time             `json:"e,omitempty"`
	Spec        *flownet.Specification `json:"-"`
}

// WorkItemState is the lifecycle state of a work item. Transitions are
// monotonic: the three terminal states are never left.
type WorkItemState string

const (
	WorkItemCreated   WorkItemState = "CREATED"
	WorkItemOffered   WorkItemState = "OFFERED"
	WorkItemAllocated WorkItemState = "ALLOCATED"
	WorkItemExecuting WorkItemState = "EXECUTING"
	WorkItemSuspended WorkItemState = "SUSPENDED"
	WorkItemCompleted WorkItemState = "COMPLETED"
	WorkItemFailed    WorkItemState = "FAILED"
	WorkItemCancelled WorkItemState = "CANCELLED"
)

// IsTerminal reports whether the state can never be left again.
func (s WorkItemState) IsTerminal() bool {
	switch s {
	case WorkItemCompleted, WorkItemFailed, WorkItemCancelled:
		return true
	}
	return false
}

// transitions is the single authority on legal lifecycle moves. Completion,
// failure and cancellation of suspended items go through resume first, except
// for the externally triggered terminal moves listed here.
var transitions = map[WorkItemState][]WorkItemState{
	WorkItemCreated:   {WorkItemOffered, WorkItemCancelled, WorkItemFailed},
	WorkItemOffered:   {WorkItemAllocated, WorkItemExecuting, WorkItemCancelled, WorkItemFailed},
	WorkItemAllocated: {WorkItemExecuting, WorkItemOffered, WorkItemAllocated, WorkItemCancelled, WorkItemFailed},
	WorkItemExecuting: {WorkItemSuspended, WorkItemAllocated, WorkItemCompleted, WorkItemFailed, WorkItemCancelled},
	WorkItemSuspended: {WorkItemExecuting, WorkItemCancelled, WorkItemFailed},
}

// CanTransition reports whether moving from to next is legal.
func CanTransition(from, next WorkItemState) bool {
	for _, s := range transitions[from] {
		if s == next {
			return true
		}
	}
	return false
}

// WorkItem is one executable instance of one task within one case.
type WorkItem struct {
	Key     int64            `json:"k"`
	CaseKey int64            `json:"ck"`
	Task    flownet.TaskIdx  `json:"t"`
	TaskID  string           `json:"tid"`
	State   WorkItemState    `json:"s"`

	OfferedTo   []string `json:"o,omitempty"`
	AllocatedTo string   `json:"a,omitempty"`
	// CoSigner is the second participant required by a four-eyes task,
	// recorded at completion.
	CoSigner string `json:"cs,omitempty"`

	// MIGroupKey groups the sibling instances of one multiple-instance
	// activation; zero for plain tasks. MIIndex is the instance position
	// within the group.
	MIGroupKey int64 `json:"mg,omitempty"`
	MIIndex    int   `json:"mi,omitempty"`

	// ChoiceGroupKey groups work items competing for the same tokens
	// (deferred choice); the first one started wins, the others are
	// withdrawn. Zero when the item competes with nobody.
	ChoiceGroupKey int64 `json:"cg,omitempty"`

	Params     map[string]any `json:"p,omitempty"`
	Checkpoint map[string]any `json:"cp,omitempty"`
	Output     map[string]any `json:"out,omitempty"`

	// ConsumeFrom lists the input conditions whose tokens this item consumes
	// when it fires, fixed at enablement time (AND: all inputs, XOR: the one
	// marked input, OR: every marked input).
	ConsumeFrom []flownet.CondIdx `json:"cf,omitempty"`

	// Fired records that downstream tokens for this item were produced.
	// A completed item with Fired false is waiting for manual resolution
	// of a failed split selection.
	Fired bool `json:"f,omitempty"`

	CreatedAt   time.Time  `json:"c"`
	OfferedAt   *time.Time `json:"oa,omitempty"`
	AllocatedAt *time.Time `json:"aa,omitempty"`
	StartedAt   *time.Time `json:"sa,omitempty"`
	CompletedAt *time.Time `json:"ca,omitempty"`
	ExpiresAt   *time.Time `json:"x,omitempty"`
}

// MIGroup tracks the sibling instances of one multiple-instance activation.
// The group fires downstream exactly once, when Completed first reaches
// Threshold.
type MIGroup struct {
	Key       int64           `json:"k"`
	CaseKey   int64           `json:"ck"`
	Task      flownet.TaskIdx `json:"t"`
	Created   int             `json:"n"`
	Completed int             `json:"d"`
	Threshold int             `json:"th"`
	Fired     bool            `json:"f"`

	// ConsumeFrom holds the input tokens the whole sibling group consumes
	// when it fires at the threshold.
	ConsumeFrom []flownet.CondIdx `json:"cf,omitempty"`
}

// ExecutionRecord is one append-only audit entry. The records of a case form
// its allocation constraint history consulted by the SOD and four-eyes
// filters.
type ExecutionRecord struct {
	Key         int64         `json:"k"`
	CaseKey     int64         `json:"ck"`
	WorkItemKey int64         `json:"wk"`
	TaskID      string        `json:"tid"`
	Participant string        `json:"p,omitempty"`
	CoSigner    string        `json:"cs,omitempty"`
	Action      string        `json:"a"`
	State       WorkItemState `json:"s"`
	At          time.Time     `json:"at"`
}
