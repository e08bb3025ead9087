package resource

import (
	"context"
)

// Manager drives the three-phase protocol for the engine. Allocator
// instances are shared across calls so stateful strategies (round-robin)
// keep their counters.
type Manager struct {
	directory  Directory
	allocators map[string]Allocator
}

func NewManager(directory Directory) *Manager {
	return &Manager{
		directory: directory,
		allocators: map[string]Allocator{
			AllocatorRoundRobin:    NewRoundRobinAllocator(),
			AllocatorShortestQueue: ShortestQueueAllocator{},
			AllocatorRandom:        RandomAllocator{},
			AllocatorDirect:        DirectAllocator{},
		},
	}
}

func (m *Manager) Directory() Directory {
	return m.directory
}

// Offer is phase 1: the ordered eligibility chain applied to the whole
// directory. Constraint filters run last so compliance always sees the
// already narrowed set.
func (m *Manager) Offer(ctx context.Context, fctx *Context) ([]Participant, error) {
	candidates, err := m.directory.List(ctx)
	if err != nil {
		return nil, err
	}
	chain := []Filter{
		RoleFilter{Roles: fctx.Resourcing.Roles},
		CapabilityFilter{Capabilities: fctx.Resourcing.Capabilities},
		OrgGroupFilter{Groups: fctx.Resourcing.OrgGroups},
		SeparationOfDutiesFilter{},
		FourEyesFilter{},
	}
	return ApplyChain(ctx, chain, candidates, fctx)
}

// Allocate is phase 2. When the task configures no allocator the work item
// stays offered for self-service claiming and ok is false.
func (m *Manager) Allocate(ctx context.Context, offered []Participant, fctx *Context) (p Participant, ok bool, err error) {
	name := fctx.Resourcing.Allocator
	if name == "" {
		return Participant{}, false, nil
	}
	allocator := m.allocators[name]
	if allocator == nil {
		allocator, err = AllocatorByName(name)
		if err != nil {
			return Participant{}, false, err
		}
	}
	p, err = allocator.Pick(ctx, offered, fctx)
	if err != nil {
		return Participant{}, false, err
	}
	return p, true, nil
}
