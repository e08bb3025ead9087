package engine

import (
	"context"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
)

// startWorkItem moves a work item into Executing. Starting is the point of
// no return for its competitors: deferred choice siblings are withdrawn and
// the task's cancel region is applied.
func (engine *Engine) startWorkItem(ctx context.Context, s *step, wi *runtime.WorkItem, actor string) error {
	if !runtime.CanTransition(wi.State, runtime.WorkItemExecuting) {
		return rejectTransition(wi, "start")
	}
	now := timeNow()
	if wi.AllocatedTo == "" {
		wi.AllocatedTo = actor
	}
	wi.State = runtime.WorkItemExecuting
	wi.StartedAt = &now

	if wi.ChoiceGroupKey != 0 {
		if err := engine.withdrawChoiceSiblings(ctx, s, wi); err != nil {
			return err
		}
	}
	task := &s.spec.Net.Tasks[wi.Task]
	if task.Cancel != nil {
		if err := engine.applyCancelRegion(ctx, s, wi, task.Cancel); err != nil {
			return err
		}
	}

	if err := engine.record(ctx, s, wi, "start", actor, ""); err != nil {
		return err
	}
	s.exportWorkItem(wi, exporter.WorkItemStarted, actor)
	return s.put(ctx, wi)
}

// withdrawChoiceSiblings cancels every live competitor of a deferred choice
// once one of them started.
func (engine *Engine) withdrawChoiceSiblings(ctx context.Context, s *step, winner *runtime.WorkItem) error {
	now := timeNow()
	for _, wi := range s.items {
		if wi.ChoiceGroupKey != winner.ChoiceGroupKey || wi.Key == winner.Key || wi.State.IsTerminal() {
			continue
		}
		wi.State = runtime.WorkItemCancelled
		wi.CompletedAt = &now
		if err := engine.record(ctx, s, wi, "cancel", "", ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemCancelled, "")
		if err := s.put(ctx, wi); err != nil {
			return err
		}
	}
	return nil
}

// applyCancelRegion clears the tokens of the region's conditions and
// withdraws the live work items of its tasks.
func (engine *Engine) applyCancelRegion(ctx context.Context, s *step, owner *runtime.WorkItem, region *flownet.CancelRegion) error {
	for _, c := range region.Conditions {
		s.c.Marking.Clear(c)
	}
	now := timeNow()
	for _, t := range region.Tasks {
		for _, wi := range s.itemsForTask(t) {
			if wi.Key == owner.Key || wi.State.IsTerminal() {
				continue
			}
			wi.State = runtime.WorkItemCancelled
			wi.CompletedAt = &now
			if err := engine.record(ctx, s, wi, "cancel", "", ""); err != nil {
				return err
			}
			s.exportWorkItem(wi, exporter.WorkItemCancelled, "")
			if err := s.put(ctx, wi); err != nil {
				return err
			}
		}
	}
	return nil
}

// fireTask atomically consumes the fixed input tokens and produces on the
// split-selected outputs. Selection runs first so an evaluation failure
// leaves the marking untouched.
func (engine *Engine) fireTask(ctx context.Context, s *step, t flownet.TaskIdx, consumeFrom []flownet.CondIdx, chosen []string) error {
	task := &s.spec.Net.Tasks[t]
	outputs, err := engine.selectOutputs(s, task, chosen)
	if err != nil {
		return err
	}
	for _, c := range consumeFrom {
		if err := s.c.Marking.Consume(c, 1); err != nil {
			return engine.contractViolation("firing task %s of case %d: %s", task.ID, s.c.Key, err)
		}
	}
	for _, c := range outputs {
		s.c.Marking.Add(c, 1)
	}
	return nil
}

// selectOutputs applies the split rule. For XOR and OR splits the caller may
// pass explicitly chosen output condition IDs, which win over the predicate
// expressions; without either, the first declared output is the fallback.
func (engine *Engine) selectOutputs(s *step, task *flownet.Task, chosen []string) ([]flownet.CondIdx, error) {
	if task.Split == flownet.SplitAnd || task.Split == "" {
		outputs := make([]flownet.CondIdx, len(task.Outputs))
		for i, out := range task.Outputs {
			outputs[i] = out.To
		}
		return outputs, nil
	}

	if len(chosen) > 0 {
		return engine.resolveChosen(s, task, chosen)
	}

	switch task.Split {
	case flownet.SplitXor:
		fallback := flownet.CondIdx(-1)
		for _, out := range task.Outputs {
			if out.When == "" {
				if fallback < 0 {
					fallback = out.To
				}
				continue
			}
			hold, err := engine.evaluatePredicate(s, task, out.When)
			if err != nil {
				return nil, err
			}
			if hold {
				return []flownet.CondIdx{out.To}, nil
			}
		}
		if fallback >= 0 {
			return []flownet.CondIdx{fallback}, nil
		}
		return []flownet.CondIdx{task.Outputs[0].To}, nil

	default: // or
		var outputs []flownet.CondIdx
		for _, out := range task.Outputs {
			if out.When == "" {
				outputs = append(outputs, out.To)
				continue
			}
			hold, err := engine.evaluatePredicate(s, task, out.When)
			if err != nil {
				return nil, err
			}
			if hold {
				outputs = append(outputs, out.To)
			}
		}
		if len(outputs) == 0 {
			outputs = append(outputs, task.Outputs[0].To)
		}
		return outputs, nil
	}
}

func (engine *Engine) resolveChosen(s *step, task *flownet.Task, chosen []string) ([]flownet.CondIdx, error) {
	if task.Split == flownet.SplitXor && len(chosen) != 1 {
		return nil, newLifecycleErrorf(ErrEvaluation, "task %s routes to exactly one output, got %d", task.ID, len(chosen))
	}
	outputs := make([]flownet.CondIdx, 0, len(chosen))
	for _, id := range chosen {
		c, ok := s.spec.Net.CondByID(id)
		if !ok {
			return nil, newLifecycleErrorf(ErrEvaluation, "chosen output %q is not a condition of the net", id)
		}
		declared := false
		for _, out := range task.Outputs {
			if out.To == c {
				declared = true
				break
			}
		}
		if !declared {
			return nil, newLifecycleErrorf(ErrEvaluation, "condition %q is not an output of task %s", id, task.ID)
		}
		outputs = append(outputs, c)
	}
	return outputs, nil
}

func (engine *Engine) evaluatePredicate(s *step, task *flownet.Task, expr string) (bool, error) {
	if engine.scripts == nil {
		return false, newLifecycleErrorf(ErrEvaluation, "task %s carries predicate %q but no script runtime is configured", task.ID, expr)
	}
	val, err := engine.scripts.Evaluate(expr, s.c.Variables.Variables())
	if err != nil {
		return false, &LifecycleError{Kind: ErrEvaluation, Msg: "predicate " + expr + " of task " + task.ID + " failed", Err: err}
	}
	return truthy(val), nil
}

func truthy(val any) bool {
	switch v := val.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		return v != ""
	case int64:
		return v != 0
	case float64:
		return v != 0
	default:
		return true
	}
}

// fireOnCompletion runs the firing a completed work item triggers. For
// multiple-instance work the group fires once, when the threshold is first
// reached; earlier and later sibling completions only record.
func (engine *Engine) fireOnCompletion(ctx context.Context, s *step, wi *runtime.WorkItem, chosen []string) error {
	if wi.MIGroupKey == 0 {
		if err := engine.fireTask(ctx, s, wi.Task, wi.ConsumeFrom, chosen); err != nil {
			return err
		}
		wi.Fired = true
		s.exportWorkItem(wi, exporter.TaskFired, "")
		return nil
	}

	group, err := s.group(ctx, engine, wi.MIGroupKey)
	if err != nil {
		return err
	}
	group.Completed++
	if group.Fired || group.Completed < group.Threshold {
		return s.putGroup(ctx, group)
	}
	if err := engine.fireTask(ctx, s, wi.Task, group.ConsumeFrom, chosen); err != nil {
		// keep the completion count, the firing stays pending
		if putErr := s.putGroup(ctx, group); putErr != nil {
			return putErr
		}
		return err
	}
	group.Fired = true
	wi.Fired = true
	s.exportWorkItem(wi, exporter.TaskFired, "")
	return s.putGroup(ctx, group)
}

// checkTerminal archives the case once no tokens and no live work items
// remain.
func (engine *Engine) checkTerminal(s *step) {
	if s.c.State != runtime.CaseStateActive {
		return
	}
	if s.c.Marking.Total() != 0 || len(s.liveItems()) != 0 {
		return
	}
	now := timeNow()
	s.c.State = runtime.CaseStateCompleted
	s.c.CompletedAt = &now
	s.caseEnded = true
}
