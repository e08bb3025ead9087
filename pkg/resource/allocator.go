package resource

import (
	"context"
	"fmt"
	"math/rand"
	"sync"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

// Allocator picks exactly one participant from the offered set.
type Allocator interface {
	Name() string
	Pick(ctx context.Context, offered []Participant, fctx *Context) (Participant, error)
}

const (
	AllocatorRoundRobin    = "round-robin"
	AllocatorShortestQueue = "shortest-queue"
	AllocatorRandom        = "random"
	AllocatorDirect        = "direct"
)

// AllocatorByName resolves an allocator name from a task's resourcing
// configuration. Unknown names are a deploy-time defect, so this only sees
// validated values.
func AllocatorByName(name string) (Allocator, error) {
	switch name {
	case AllocatorRoundRobin:
		return NewRoundRobinAllocator(), nil
	case AllocatorShortestQueue:
		return ShortestQueueAllocator{}, nil
	case AllocatorRandom:
		return RandomAllocator{}, nil
	case AllocatorDirect:
		return DirectAllocator{}, nil
	}
	return nil, fmt.Errorf("unknown allocator %q", name)
}

// RoundRobinAllocator cycles through the offered set per task.
type RoundRobinAllocator struct {
	mu       sync.Mutex
	counters map[string]int
}

func NewRoundRobinAllocator() *RoundRobinAllocator {
	return &RoundRobinAllocator{counters: make(map[string]int)}
}

func (a *RoundRobinAllocator) Name() string { return AllocatorRoundRobin }

func (a *RoundRobinAllocator) Pick(ctx context.Context, offered []Participant, fctx *Context) (Participant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := a.counters[fctx.TaskID]
	a.counters[fctx.TaskID] = n + 1
	return offered[n%len(offered)], nil
}

// ShortestQueueAllocator picks the participant with the fewest live work
// items (allocated, executing or suspended).
type ShortestQueueAllocator struct{}

func (ShortestQueueAllocator) Name() string { return AllocatorShortestQueue }

func (ShortestQueueAllocator) Pick(ctx context.Context, offered []Participant, fctx *Context) (Participant, error) {
	best := offered[0]
	bestLen := -1
	for _, p := range offered {
		items, err := fctx.WorkItems.FindWorkItems(ctx, storage.WorkItemFilter{
			Participant: p.Ref(),
			States: []runtime.WorkItemState{
				runtime.WorkItemAllocated,
				runtime.WorkItemExecuting,
				runtime.WorkItemSuspended,
			},
		})
		if err != nil {
			return Participant{}, err
		}
		if bestLen == -1 || len(items) < bestLen {
			best = p
			bestLen = len(items)
		}
	}
	return best, nil
}

// RandomAllocator picks uniformly from the offered set.
type RandomAllocator struct{}

func (RandomAllocator) Name() string { return AllocatorRandom }

func (RandomAllocator) Pick(ctx context.Context, offered []Participant, fctx *Context) (Participant, error) {
	return offered[rand.Intn(len(offered))], nil
}

// DirectAllocator picks the participant named by the task's assignee, by
// reference or by name.
type DirectAllocator struct{}

func (DirectAllocator) Name() string { return AllocatorDirect }

func (DirectAllocator) Pick(ctx context.Context, offered []Participant, fctx *Context) (Participant, error) {
	assignee := fctx.Resourcing.Assignee
	for _, p := range offered {
		if p.Ref() == assignee || p.Name == assignee {
			return p, nil
		}
	}
	return Participant{}, &ErrNoEligibleParticipants{TaskID: fctx.TaskID, FilterName: AllocatorDirect}
}
