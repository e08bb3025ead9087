package engine

import (
	"context"
	"errors"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/resource"
)

// enabledTask is one task the current marking enables, together with the
// input conditions its firing will consume. The consumption set is fixed
// here, at enablement time, so a later marking change cannot shift what the
// task takes.
type enabledTask struct {
	task        flownet.TaskIdx
	consumeFrom []flownet.CondIdx
}

// evaluateEnablement walks every task of the net against the current marking
// and creates work items for the newly enabled ones. Tasks that already have
// a live work item (or an unresolved completed one) are skipped; the firing
// that created the marking change is the only caller, so a task is never
// instantiated twice for the same tokens.
func (engine *Engine) evaluateEnablement(ctx context.Context, s *step) error {
	if s.c.State != runtime.CaseStateActive {
		return nil
	}
	net := s.spec.Net
	marking, err := engine.enablementMarking(ctx, s)
	if err != nil {
		return err
	}

	var enabled []enabledTask
	for t := range net.Tasks {
		idx := flownet.TaskIdx(t)
		occupied, err := engine.taskOccupied(ctx, s, idx)
		if err != nil {
			return err
		}
		if occupied {
			continue
		}
		consumeFrom, ok := enabledInputs(net, &net.Tasks[t], idx, marking)
		if !ok {
			continue
		}
		enabled = append(enabled, enabledTask{task: idx, consumeFrom: consumeFrom})
	}
	if len(enabled) == 0 {
		return nil
	}

	choiceKeys := engine.groupDeferredChoices(s, enabled, marking)

	// Two passes: every competing work item must exist before any of them
	// is allocated, or an auto-started one could race a sibling that was
	// not instantiated yet.
	var created []*runtime.WorkItem
	for i, en := range enabled {
		task := &net.Tasks[en.task]
		if task.Multi != nil {
			instances, err := engine.createInstanceGroup(ctx, s, en, choiceKeys[i])
			if err != nil {
				return err
			}
			created = append(created, instances...)
			continue
		}
		wi, err := engine.createWorkItem(ctx, s, en.task, en.consumeFrom, choiceKeys[i], 0, 0)
		if err != nil {
			return err
		}
		created = append(created, wi)
	}
	for _, wi := range created {
		if err := engine.offerAndAllocate(ctx, s, wi, &net.Tasks[wi.Task]); err != nil {
			return err
		}
	}
	return nil
}

// taskOccupied reports whether the task already has a live work item, or a
// completed one still waiting for its firing to be resolved. Occupied tasks
// are not re-instantiated even though their input tokens are still present.
func (engine *Engine) taskOccupied(ctx context.Context, s *step, t flownet.TaskIdx) (bool, error) {
	for _, wi := range s.itemsForTask(t) {
		if !wi.State.IsTerminal() {
			return true, nil
		}
		if wi.State != runtime.WorkItemCompleted {
			continue
		}
		if wi.MIGroupKey == 0 {
			if !wi.Fired {
				return true, nil
			}
			continue
		}
		g, err := s.group(ctx, engine, wi.MIGroupKey)
		if err != nil {
			return false, err
		}
		if !g.Fired {
			return true, nil
		}
	}
	return false, nil
}

// enablementMarking is the marking as enablement sees it: tokens committed
// to a started or completed-but-unfired work item are subtracted. Such a
// token stays in the case marking until the item fires, but it is spoken
// for. Without this a resolved deferred choice would hand the shared token
// to the withdrawn contender again on the next re-evaluation. For
// multiple-instance work the group owns the tokens, so an unfired group with
// a started instance reserves its consumption set once.
func (engine *Engine) enablementMarking(ctx context.Context, s *step) (runtime.Marking, error) {
	var held []flownet.CondIdx
	reservedGroups := map[int64]bool{}
	for _, wi := range s.items {
		started := wi.State == runtime.WorkItemExecuting || wi.State == runtime.WorkItemSuspended ||
			(wi.State == runtime.WorkItemCompleted && !wi.Fired)
		if !started {
			continue
		}
		if wi.MIGroupKey == 0 {
			held = append(held, wi.ConsumeFrom...)
			continue
		}
		if reservedGroups[wi.MIGroupKey] {
			continue
		}
		reservedGroups[wi.MIGroupKey] = true
		g, err := s.group(ctx, engine, wi.MIGroupKey)
		if err != nil {
			return nil, err
		}
		if !g.Fired {
			held = append(held, g.ConsumeFrom...)
		}
	}
	if len(held) == 0 {
		return s.c.Marking, nil
	}
	m := s.c.Marking.Clone()
	for _, c := range held {
		// the token may already be gone when a cancel region cleared it
		_ = m.Consume(c, 1)
	}
	return m, nil
}

// enabledInputs applies the join rule of the task to the marking. The second
// return is false when the task is not enabled.
func enabledInputs(net *flownet.Net, task *flownet.Task, idx flownet.TaskIdx, m runtime.Marking) ([]flownet.CondIdx, bool) {
	switch task.Join {
	case flownet.JoinXor:
		// first marked input in declaration order
		for _, in := range task.Inputs {
			if m.Count(in) > 0 {
				return []flownet.CondIdx{in}, true
			}
		}
		return nil, false

	case flownet.JoinOr:
		var marked []flownet.CondIdx
		var unmarked []flownet.CondIdx
		for _, in := range task.Inputs {
			if m.Count(in) > 0 {
				marked = append(marked, in)
			} else {
				unmarked = append(unmarked, in)
			}
		}
		if len(marked) == 0 {
			return nil, false
		}
		// Wait while any token elsewhere in the case could still arrive at
		// an unmarked input without the join itself firing. Structural
		// over-approximation: predicates are ignored, so the join can wait
		// for tokens that will never come, but it never fires early.
		for c := range m {
			for _, u := range unmarked {
				if net.CanReachWithout(c, u, idx) {
					return nil, false
				}
			}
		}
		return marked, true

	default: // and
		for _, in := range task.Inputs {
			if m.Count(in) == 0 {
				return nil, false
			}
		}
		return append([]flownet.CondIdx{}, task.Inputs...), true
	}
}

// groupDeferredChoices assigns a shared choice group key to enabled tasks
// competing for more tokens than a condition holds. The first of the group
// to start wins; the coordinator withdraws the rest.
func (engine *Engine) groupDeferredChoices(s *step, enabled []enabledTask, marking runtime.Marking) map[int]int64 {
	keys := map[int]int64{}
	for c := range s.spec.Net.Conditions {
		cond := flownet.CondIdx(c)
		var contenders []int
		for i, en := range enabled {
			for _, in := range en.consumeFrom {
				if in == cond {
					contenders = append(contenders, i)
					break
				}
			}
		}
		if len(contenders) <= marking.Count(cond) {
			continue
		}
		key := engine.generateKey()
		for _, i := range contenders {
			if _, taken := keys[i]; !taken {
				keys[i] = key
			}
		}
	}
	return keys
}

// createWorkItem instantiates one task as a Created work item, evaluates its
// parameter expressions and hands it to the resource manager when the task
// declares resourcing.
func (engine *Engine) createWorkItem(ctx context.Context, s *step, t flownet.TaskIdx, consumeFrom []flownet.CondIdx, choiceKey, miGroupKey int64, miIndex int) (*runtime.WorkItem, error) {
	task := &s.spec.Net.Tasks[t]
	wi := &runtime.WorkItem{
		Key:            engine.generateKey(),
		CaseKey:        s.c.Key,
		Task:           t,
		TaskID:         task.ID,
		State:          runtime.WorkItemCreated,
		ChoiceGroupKey: choiceKey,
		MIGroupKey:     miGroupKey,
		MIIndex:        miIndex,
		Params:         engine.evaluateParams(task, s.c.Variables.Variables()),
		ConsumeFrom:    consumeFrom,
		CreatedAt:      timeNow(),
	}
	if task.Timeout > 0 {
		expires := wi.CreatedAt.Add(task.Timeout)
		wi.ExpiresAt = &expires
	}
	s.items = append(s.items, wi)
	if err := engine.record(ctx, s, wi, "create", "", ""); err != nil {
		return nil, err
	}
	s.exportWorkItem(wi, exporter.WorkItemCreated, "")
	if err := s.put(ctx, wi); err != nil {
		return nil, err
	}
	return wi, nil
}

// createInstanceGroup fans a multiple-instance task out into its minimum
// instance count. The group, not the single instance, owns the input tokens
// and fires once at the completion threshold.
func (engine *Engine) createInstanceGroup(ctx context.Context, s *step, en enabledTask, choiceKey int64) ([]*runtime.WorkItem, error) {
	task := &s.spec.Net.Tasks[en.task]
	group := &runtime.MIGroup{
		Key:         engine.generateKey(),
		CaseKey:     s.c.Key,
		Task:        en.task,
		Created:     task.Multi.Min,
		Threshold:   task.Multi.Threshold,
		ConsumeFrom: en.consumeFrom,
	}
	if err := s.putGroup(ctx, group); err != nil {
		return nil, err
	}
	instances := make([]*runtime.WorkItem, 0, task.Multi.Min)
	for i := 0; i < task.Multi.Min; i++ {
		wi, err := engine.createWorkItem(ctx, s, en.task, nil, choiceKey, group.Key, i)
		if err != nil {
			return nil, err
		}
		instances = append(instances, wi)
	}
	return instances, nil
}

// evaluateParams resolves the parameter expressions of a task against the
// case variables. A failing expression is logged and omitted; parameter
// evaluation never blocks instantiation.
func (engine *Engine) evaluateParams(task *flownet.Task, vars map[string]any) map[string]any {
	if len(task.Params) == 0 || engine.scripts == nil {
		return nil
	}
	params := make(map[string]any, len(task.Params))
	for name, expr := range task.Params {
		val, err := engine.scripts.Evaluate(expr, vars)
		if err != nil {
			engine.logger.Warn("parameter expression failed",
				"taskId", task.ID, "param", name, "error", err)
			continue
		}
		params[name] = val
	}
	return params
}

// offerAndAllocate runs the three-phase protocol for a fresh work item. An
// empty eligibility set leaves the item Created for escalation instead of
// failing the whole step. Items without declared resourcing (or without a
// resource manager) wait for a manual Offer.
func (engine *Engine) offerAndAllocate(ctx context.Context, s *step, wi *runtime.WorkItem, task *flownet.Task) error {
	if wi.State != runtime.WorkItemCreated {
		return nil
	}
	if engine.resources == nil || !task.Resourcing.Configured() {
		return nil
	}
	fctx := &resource.Context{
		CaseKey:    s.c.Key,
		TaskID:     task.ID,
		Resourcing: task.Resourcing,
		Records:    s.records,
		WorkItems:  engine.persistence,
	}
	candidates, err := engine.resources.Offer(ctx, fctx)
	if err != nil {
		var empty *resource.ErrNoEligibleParticipants
		if errors.As(err, &empty) {
			engine.logger.Warn("no eligible participants, work item needs escalation",
				"caseKey", s.c.Key, "taskId", task.ID, "filter", empty.FilterName)
			return nil
		}
		return err
	}

	now := timeNow()
	wi.OfferedTo = participantRefs(candidates)
	wi.State = runtime.WorkItemOffered
	wi.OfferedAt = &now
	if err := engine.record(ctx, s, wi, "offer", "", ""); err != nil {
		return err
	}
	s.exportWorkItem(wi, exporter.WorkItemOffered, "")

	chosen, ok, err := engine.resources.Allocate(ctx, candidates, fctx)
	if err != nil {
		engine.logger.Warn("allocation failed, work item stays offered",
			"caseKey", s.c.Key, "taskId", task.ID, "error", err)
		return s.put(ctx, wi)
	}
	if !ok {
		// self-service task, waits for a claim
		return s.put(ctx, wi)
	}

	wi.AllocatedTo = chosen.Ref()
	wi.State = runtime.WorkItemAllocated
	wi.AllocatedAt = &now
	if err := engine.record(ctx, s, wi, "allocate", chosen.Ref(), ""); err != nil {
		return err
	}
	s.exportWorkItem(wi, exporter.WorkItemAllocated, chosen.Ref())

	if task.Resourcing.AutoStart {
		return engine.startWorkItem(ctx, s, wi, chosen.Ref())
	}
	return s.put(ctx, wi)
}

func participantRefs(participants []resource.Participant) []string {
	refs := make([]string, len(participants))
	for i, p := range participants {
		refs[i] = p.Ref()
	}
	return refs
}
