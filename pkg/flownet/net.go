package flownet

import "time"

// CondIdx addresses a condition inside the arena of a Net.
type CondIdx int

// TaskIdx addresses a task inside the arena of a Net.
type TaskIdx int

// JoinType controls how a task consumes tokens from its input conditions.
type JoinType string

// SplitType controls how a task produces tokens to its output conditions.
type SplitType string

const (
	JoinAnd JoinType = "and"
	JoinXor JoinType = "xor"
	JoinOr  JoinType = "or"

	SplitAnd SplitType = "and"
	SplitXor SplitType = "xor"
	SplitOr  SplitType = "or"
)

// Condition is a place that can hold tokens.
type Condition struct {
	ID   string
	Name string
}

// Output is one outgoing flow of a task. When is an optional predicate
// expression evaluated against the case variables; for XOR splits the first
// output whose predicate holds is chosen, for OR splits every holding output
// receives a token. Outputs without a predicate act as the declaration-order
// fallback.
type Output struct {
	To   CondIdx
	When string
}

// MultiInstance holds the instance bounds of a multiple-instance task.
// Threshold is the number of completed instances after which the task fires;
// remaining instances keep running but no longer affect the firing.
type MultiInstance struct {
	Min       int
	Max       int
	Threshold int
}

// CancelRegion is the set of net members withdrawn when the owning task
// starts executing ("stop waiting once I start").
type CancelRegion struct {
	Conditions []CondIdx
	Tasks      []TaskIdx
}

// Resourcing configures the three-phase allocation for one task.
type Resourcing struct {
	Roles        []string
	Capabilities []string
	OrgGroups    []string

	// Allocator names the allocation strategy. Empty means no system
	// allocation: the work item stays offered until a participant claims it.
	Allocator string
	// Assignee is the participant for the direct allocator.
	Assignee string
	// AutoStart makes the engine start the work item right after allocation.
	AutoStart bool

	// SeparationFrom lists task IDs whose recorded executor must never
	// execute this task within the same case.
	SeparationFrom []string
	// FourEyesWith lists task IDs whose recorded executors are excluded at
	// allocation time; a task with a non-empty list additionally requires a
	// distinct co-signing participant on completion.
	FourEyesWith []string
}

// Configured reports whether the task declares any resourcing at all. Tasks
// without it are left for manual offering through the engine API.
func (r Resourcing) Configured() bool {
	return len(r.Roles) > 0 || len(r.Capabilities) > 0 || len(r.OrgGroups) > 0 ||
		r.Allocator != "" || r.Assignee != ""
}

// Task is a unit of work in the net.
type Task struct {
	ID   string
	Name string

	Join  JoinType
	Split SplitType

	Inputs  []CondIdx
	Outputs []Output

	Multi      *MultiInstance
	Cancel     *CancelRegion
	Resourcing Resourcing

	// Timeout stamps an expiry deadline on the task's work items. The engine
	// never schedules wall-clock work itself; an external scheduler reads the
	// deadline and fails the item. Zero means no deadline.
	Timeout time.Duration

	// Params are expressions evaluated against the case variables when a
	// work item for this task is created.
	Params map[string]string
}

// Net is the immutable control-flow graph of a specification. Conditions and
// tasks live in index-addressed arenas, so cyclic nets need no special
// treatment. Adjacency slices are derived once by link().
type Net struct {
	Conditions []Condition
	Tasks      []Task

	// Initial holds the conditions seeded with one token each at launch.
	Initial []CondIdx

	// condConsumers[c] lists the tasks with c among their inputs.
	condConsumers [][]TaskIdx
	// condProducers[c] lists the tasks with c among their outputs.
	condProducers [][]TaskIdx

	linked bool
}

// Specification is a named, versioned net. Immutable once deployed.
type Specification struct {
	ID      string
	Name    string
	Version int32
	Key     int64
	Net     *Net
}

// TaskByID returns the index of the task with the given ID.
func (n *Net) TaskByID(id string) (TaskIdx, bool) {
	for i := range n.Tasks {
		if n.Tasks[i].ID == id {
			return TaskIdx(i), true
		}
	}
	return -1, false
}

// CondByID returns the index of the condition with the given ID.
func (n *Net) CondByID(id string) (CondIdx, bool) {
	for i := range n.Conditions {
		if n.Conditions[i].ID == id {
			return CondIdx(i), true
		}
	}
	return -1, false
}

// Consumers returns the tasks consuming tokens from the given condition.
func (n *Net) Consumers(c CondIdx) []TaskIdx {
	n.link()
	return n.condConsumers[c]
}

// Producers returns the tasks producing tokens into the given condition.
func (n *Net) Producers(c CondIdx) []TaskIdx {
	n.link()
	return n.condProducers[c]
}

func (n *Net) link() {
	if n.linked {
		return
	}
	n.condConsumers = make([][]TaskIdx, len(n.Conditions))
	n.condProducers = make([][]TaskIdx, len(n.Conditions))
	for t := range n.Tasks {
		for _, c := range n.Tasks[t].Inputs {
			n.condConsumers[c] = append(n.condConsumers[c], TaskIdx(t))
		}
		for _, out := range n.Tasks[t].Outputs {
			n.condProducers[out.To] = append(n.condProducers[out.To], TaskIdx(t))
		}
	}
	n.linked = true
}
