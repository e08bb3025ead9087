package inmemory

import (
	"context"
	"slices"
	"sync"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

// Storage keeps all engine state in memory. Use NewStorage to create one.
// Guards its maps with a single RWMutex: cases are serialized by the engine,
// but different cases write concurrently.
type Storage struct {
	mu               sync.RWMutex
	Specifications   map[int64]flownet.Specification
	Cases            map[int64]runtime.Case
	WorkItems        map[int64]runtime.WorkItem
	MIGroups         map[int64]runtime.MIGroup
	ExecutionRecords map[int64][]runtime.ExecutionRecord
}

func NewStorage() *Storage {
	return &Storage{
		Specifications:   make(map[int64]flownet.Specification),
		Cases:            make(map[int64]runtime.Case),
		WorkItems:        make(map[int64]runtime.WorkItem),
		MIGroups:         make(map[int64]runtime.MIGroup),
		ExecutionRecords: make(map[int64][]runtime.ExecutionRecord),
	}
}

var _ storage.Storage = &Storage{}

func (mem *Storage) NewBatch() storage.Batch {
	return &StorageBatch{
		db:        mem,
		stmtToRun: make([]func() error, 0, 10),
	}
}

func (mem *Storage) FindLatestSpecificationById(ctx context.Context, specID string) (flownet.Specification, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	var res flownet.Specification
	found := false
	for _, spec := range mem.Specifications {
		if spec.ID != specID {
			continue
		}
		if found && spec.Version < res.Version {
			continue
		}
		found = true
		res = spec
	}
	if !found {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindSpecificationByKey(ctx context.Context, key int64) (flownet.Specification, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Specifications[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindSpecificationsById(ctx context.Context, specID string) ([]flownet.Specification, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]flownet.Specification, 0)
	for _, spec := range mem.Specifications {
		if spec.ID == specID {
			res = append(res, spec)
		}
	}
	slices.SortFunc(res, func(a, b flownet.Specification) int {
		return int(a.Version - b.Version)
	})
	return res, nil
}

func (mem *Storage) SaveSpecification(ctx context.Context, spec flownet.Specification) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Specifications[spec.Key] = spec
	return nil
}

func (mem *Storage) FindCaseByKey(ctx context.Context, key int64) (runtime.Case, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.Cases[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindCasesByState(ctx context.Context, state runtime.CaseState) ([]runtime.Case, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.Case, 0)
	for _, c := range mem.Cases {
		if c.State == state {
			res = append(res, c)
		}
	}
	return res, nil
}

func (mem *Storage) SaveCase(ctx context.Context, c runtime.Case) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.Cases[c.Key] = c
	return nil
}

func (mem *Storage) FindWorkItemByKey(ctx context.Context, key int64) (runtime.WorkItem, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.WorkItems[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) FindWorkItems(ctx context.Context, filter storage.WorkItemFilter) ([]runtime.WorkItem, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res := make([]runtime.WorkItem, 0)
	for _, wi := range mem.WorkItems {
		if matchesFilter(wi, filter) {
			res = append(res, wi)
		}
	}
	slices.SortFunc(res, func(a, b runtime.WorkItem) int {
		switch {
		case a.Key < b.Key:
			return -1
		case a.Key > b.Key:
			return 1
		}
		return 0
	})
	return res, nil
}

func matchesFilter(wi runtime.WorkItem, filter storage.WorkItemFilter) bool {
	if filter.CaseKey != 0 && wi.CaseKey != filter.CaseKey {
		return false
	}
	if filter.TaskID != "" && wi.TaskID != filter.TaskID {
		return false
	}
	if len(filter.States) > 0 && !slices.Contains(filter.States, wi.State) {
		return false
	}
	if filter.Participant != "" {
		if wi.AllocatedTo != filter.Participant && !slices.Contains(wi.OfferedTo, filter.Participant) {
			return false
		}
	}
	return true
}

func (mem *Storage) SaveWorkItem(ctx context.Context, wi runtime.WorkItem) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.WorkItems[wi.Key] = wi
	return nil
}

func (mem *Storage) FindMIGroupByKey(ctx context.Context, key int64) (runtime.MIGroup, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	res, ok := mem.MIGroups[key]
	if !ok {
		return res, storage.ErrNotFound
	}
	return res, nil
}

func (mem *Storage) SaveMIGroup(ctx context.Context, group runtime.MIGroup) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.MIGroups[group.Key] = group
	return nil
}

func (mem *Storage) FindExecutionRecordsByCase(ctx context.Context, caseKey int64) ([]runtime.ExecutionRecord, error) {
	mem.mu.RLock()
	defer mem.mu.RUnlock()
	recs := mem.ExecutionRecords[caseKey]
	res := make([]runtime.ExecutionRecord, len(recs))
	copy(res, recs)
	return res, nil
}

func (mem *Storage) SaveExecutionRecord(ctx context.Context, rec runtime.ExecutionRecord) error {
	mem.mu.Lock()
	defer mem.mu.Unlock()
	mem.ExecutionRecords[rec.CaseKey] = append(mem.ExecutionRecords[rec.CaseKey], rec)
	return nil
}
