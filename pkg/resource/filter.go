package resource

import (
	"context"
	"fmt"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/storage"
)

// ErrNoEligibleParticipants is returned when a filter chain empties the
// candidate set. This is a hard failure: the work item cannot be offered and
// needs escalation.
type ErrNoEligibleParticipants struct {
	TaskID     string
	FilterName string
}

func (e *ErrNoEligibleParticipants) Error() string {
	return fmt.Sprintf("no eligible participants for task %q after filter %q", e.TaskID, e.FilterName)
}

// Context carries everything a filter or allocator may consult about the
// work item being resourced. Records is the case's execution history,
// read-after-write consistent because allocation runs under the case lock.
type Context struct {
	CaseKey    int64
	TaskID     string
	Resourcing flownet.Resourcing
	Records    []runtime.ExecutionRecord
	WorkItems  storage.WorkItemStorageReader
}

// Filter narrows a candidate set. Filters run as an ordered chain; each one
// sees the survivors of the previous.
type Filter interface {
	Name() string
	Apply(ctx context.Context, candidates []Participant, fctx *Context) ([]Participant, error)
}

// ApplyChain folds the filters over the candidates and fails hard when the
// set becomes empty.
func ApplyChain(ctx context.Context, filters []Filter, candidates []Participant, fctx *Context) ([]Participant, error) {
	for _, f := range filters {
		var err error
		candidates, err = f.Apply(ctx, candidates, fctx)
		if err != nil {
			return nil, fmt.Errorf("filter %q: %w", f.Name(), err)
		}
		if len(candidates) == 0 {
			return nil, &ErrNoEligibleParticipants{TaskID: fctx.TaskID, FilterName: f.Name()}
		}
	}
	return candidates, nil
}

// RoleFilter keeps participants holding at least one of the required roles.
type RoleFilter struct {
	Roles []string
}

func (f RoleFilter) Name() string { return "role" }

func (f RoleFilter) Apply(ctx context.Context, candidates []Participant, fctx *Context) ([]Participant, error) {
	if len(f.Roles) == 0 {
		return candidates, nil
	}
	var res []Participant
	for _, p := range candidates {
		for _, role := range f.Roles {
			if p.HasRole(role) {
				res = append(res, p)
				break
			}
		}
	}
	return res, nil
}

// CapabilityFilter keeps participants holding every required capability.
type CapabilityFilter struct {
	Capabilities []string
}

func (f CapabilityFilter) Name() string { return "capability" }

func (f CapabilityFilter) Apply(ctx context.Context, candidates []Participant, fctx *Context) ([]Participant, error) {
	if len(f.Capabilities) == 0 {
		return candidates, nil
	}
	var res []Participant
	for _, p := range candidates {
		all := true
		for _, c := range f.Capabilities {
			if !p.HasCapability(c) {
				all = false
				break
			}
		}
		if all {
			res = append(res, p)
		}
	}
	return res, nil
}

// OrgGroupFilter keeps participants belonging to at least one of the given
// organizational groups.
type OrgGroupFilter struct {
	Groups []string
}

func (f OrgGroupFilter) Name() string { return "org-group" }

func (f OrgGroupFilter) Apply(ctx context.Context, candidates []Participant, fctx *Context) ([]Participant, error) {
	if len(f.Groups) == 0 {
		return candidates, nil
	}
	var res []Participant
	for _, p := range candidates {
		for _, g := range f.Groups {
			if p.InOrgGroup(g) {
				res = append(res, p)
				break
			}
		}
	}
	return res, nil
}
