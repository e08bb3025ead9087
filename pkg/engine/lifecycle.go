package engine

import (
	"context"
	"errors"
	"slices"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/resource"
)

// Offer manually routes a Created work item to the given participants. Used
// for tasks without declared resourcing and for escalation after an empty
// eligibility set.
func (engine *Engine) Offer(ctx context.Context, workItemKey int64, participants []string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemCreated {
			return rejectTransition(wi, "offer")
		}
		if len(participants) == 0 {
			return newLifecycleErrorf(ErrNotEligible, "cannot offer work item %d to nobody", wi.Key)
		}
		now := timeNow()
		wi.OfferedTo = participants
		wi.State = runtime.WorkItemOffered
		wi.OfferedAt = &now
		if err := engine.record(ctx, s, wi, "offer", "", ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemOffered, "")
		return s.put(ctx, wi)
	})
}

// Claim allocates an offered work item to one of its offerees. The
// compliance filters run again here so a constraint cannot be bypassed by
// claiming instead of waiting for system allocation.
func (engine *Engine) Claim(ctx context.Context, workItemKey int64, participant string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemOffered {
			return rejectTransition(wi, "claim")
		}
		if !slices.Contains(wi.OfferedTo, participant) {
			return newLifecycleErrorf(ErrNotEligible, "work item %d was not offered to %s", wi.Key, participant)
		}
		if err := engine.checkConstraints(ctx, s, wi, participant); err != nil {
			return err
		}
		now := timeNow()
		wi.AllocatedTo = participant
		wi.State = runtime.WorkItemAllocated
		wi.AllocatedAt = &now
		if err := engine.record(ctx, s, wi, "allocate", participant, ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemAllocated, participant)
		return s.put(ctx, wi)
	})
}

// Start moves a work item into Executing. An offered item may be started
// directly by an offeree, which claims and starts in one step.
func (engine *Engine) Start(ctx context.Context, workItemKey int64, participant string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		switch wi.State {
		case runtime.WorkItemOffered:
			if !slices.Contains(wi.OfferedTo, participant) {
				return newLifecycleErrorf(ErrNotEligible, "work item %d was not offered to %s", wi.Key, participant)
			}
			if err := engine.checkConstraints(ctx, s, wi, participant); err != nil {
				return err
			}
		case runtime.WorkItemAllocated:
			if wi.AllocatedTo != participant {
				return newLifecycleErrorf(ErrNotOwner, "work item %d belongs to %s", wi.Key, wi.AllocatedTo)
			}
		default:
			return rejectTransition(wi, "start")
		}
		return engine.startWorkItem(ctx, s, wi, participant)
	})
}

// Suspend parks an executing work item. The checkpoint survives.
func (engine *Engine) Suspend(ctx context.Context, workItemKey int64, participant string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemExecuting {
			return rejectTransition(wi, "suspend")
		}
		if err := requireOwner(wi, participant); err != nil {
			return err
		}
		wi.State = runtime.WorkItemSuspended
		if err := engine.record(ctx, s, wi, "suspend", participant, ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemSuspended, participant)
		return s.put(ctx, wi)
	})
}

// Resume continues a suspended work item.
func (engine *Engine) Resume(ctx context.Context, workItemKey int64, participant string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemSuspended {
			return rejectTransition(wi, "resume")
		}
		if err := requireOwner(wi, participant); err != nil {
			return err
		}
		wi.State = runtime.WorkItemExecuting
		if err := engine.record(ctx, s, wi, "resume", participant, ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemResumed, participant)
		return s.put(ctx, wi)
	})
}

// Checkpoint stores intermediate working state on an executing work item. It
// replaces the previous checkpoint wholesale.
func (engine *Engine) Checkpoint(ctx context.Context, workItemKey int64, participant string, data map[string]any) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemExecuting {
			return rejectTransition(wi, "checkpoint")
		}
		if err := requireOwner(wi, participant); err != nil {
			return err
		}
		wi.Checkpoint = data
		if err := engine.record(ctx, s, wi, "checkpoint", participant, ""); err != nil {
			return err
		}
		return s.put(ctx, wi)
	})
}

// Delegate hands an allocated or executing work item to another participant.
// The item returns to Allocated and keeps its checkpoint, so the new owner
// resumes where the old one left off.
func (engine *Engine) Delegate(ctx context.Context, workItemKey int64, from, to string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemAllocated && wi.State != runtime.WorkItemExecuting {
			return rejectTransition(wi, "delegate")
		}
		if err := requireOwner(wi, from); err != nil {
			return err
		}
		if to == from {
			return newLifecycleErrorf(ErrNotEligible, "cannot delegate work item %d to its current owner", wi.Key)
		}
		if err := engine.checkConstraints(ctx, s, wi, to); err != nil {
			return err
		}
		wi.State = runtime.WorkItemAllocated
		wi.AllocatedTo = to
		if err := engine.record(ctx, s, wi, "delegate", to, ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemDelegated, to)
		return s.put(ctx, wi)
	})
}

// Deallocate returns an allocated work item to its offer set.
func (engine *Engine) Deallocate(ctx context.Context, workItemKey int64, participant string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemAllocated {
			return rejectTransition(wi, "deallocate")
		}
		if err := requireOwner(wi, participant); err != nil {
			return err
		}
		wi.AllocatedTo = ""
		wi.State = runtime.WorkItemOffered
		if err := engine.record(ctx, s, wi, "deallocate", participant, ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemOffered, participant)
		return s.put(ctx, wi)
	})
}

// CompleteRequest carries the completion of one work item.
type CompleteRequest struct {
	Participant string
	// CoSigner is the distinct second participant a four-eyes task requires.
	CoSigner string
	// Output is written into the case variables.
	Output map[string]any
	// ChosenOutputs explicitly routes an XOR or OR split by condition ID,
	// overriding the declared predicates.
	ChosenOutputs []string
}

// Complete finishes an executing work item and fires its task. Completing an
// already completed item is a no-op success, so a retried request never
// produces tokens twice.
func (engine *Engine) Complete(ctx context.Context, workItemKey int64, req CompleteRequest) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State == runtime.WorkItemCompleted {
			return nil
		}
		if wi.State != runtime.WorkItemExecuting {
			return rejectTransition(wi, "complete")
		}
		if err := requireOwner(wi, req.Participant); err != nil {
			return err
		}
		task := &s.spec.Net.Tasks[wi.Task]
		if len(task.Resourcing.FourEyesWith) > 0 {
			if req.CoSigner == "" {
				return newLifecycleErrorf(ErrConstraintViolation, "task %s requires a co-signer", wi.TaskID)
			}
			if req.CoSigner == req.Participant {
				return newLifecycleErrorf(ErrConstraintViolation, "co-signer of work item %d must differ from its executor", wi.Key)
			}
		}

		now := timeNow()
		wi.State = runtime.WorkItemCompleted
		wi.CompletedAt = &now
		wi.CoSigner = req.CoSigner
		wi.Output = req.Output
		s.c.Variables.SetVariables(req.Output)

		if err := engine.record(ctx, s, wi, "complete", req.Participant, req.CoSigner); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemCompleted, req.Participant)

		if err := engine.fireOnCompletion(ctx, s, wi, req.ChosenOutputs); err != nil {
			if KindOf(err) != ErrEvaluation {
				return err
			}
			// the completion stands, the firing waits for ResolveFiring
			s.deferError(err)
			return s.put(ctx, wi)
		}
		if err := s.put(ctx, wi); err != nil {
			return err
		}
		if err := engine.evaluateEnablement(ctx, s); err != nil {
			return err
		}
		engine.checkTerminal(s)
		return nil
	})
}

// ResolveFiring retries the firing of a completed work item whose split
// selection failed, this time with explicitly chosen outputs.
func (engine *Engine) ResolveFiring(ctx context.Context, workItemKey int64, chosenOutputs []string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State != runtime.WorkItemCompleted || wi.Fired {
			return newLifecycleErrorf(ErrInvalidTransition, "work item %d has no pending firing", wi.Key)
		}
		if wi.MIGroupKey != 0 {
			group, err := s.group(ctx, engine, wi.MIGroupKey)
			if err != nil {
				return err
			}
			if group.Fired || group.Completed < group.Threshold {
				return newLifecycleErrorf(ErrInvalidTransition, "instance group %d has no pending firing", group.Key)
			}
			if err := engine.fireTask(ctx, s, wi.Task, group.ConsumeFrom, chosenOutputs); err != nil {
				return err
			}
			group.Fired = true
			if err := s.putGroup(ctx, group); err != nil {
				return err
			}
		} else {
			if err := engine.fireTask(ctx, s, wi.Task, wi.ConsumeFrom, chosenOutputs); err != nil {
				return err
			}
		}
		wi.Fired = true
		if err := engine.record(ctx, s, wi, "resolve", "", ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.TaskFired, "")
		if err := s.put(ctx, wi); err != nil {
			return err
		}
		if err := engine.evaluateEnablement(ctx, s); err != nil {
			return err
		}
		engine.checkTerminal(s)
		return nil
	})
}

// Fail terminates a work item without firing. The input tokens stay where
// they are, so the task becomes enabled again and a fresh work item appears
// as the retry.
func (engine *Engine) Fail(ctx context.Context, workItemKey int64, participant, reason string) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State.IsTerminal() {
			return rejectTransition(wi, "fail")
		}
		if wi.State == runtime.WorkItemExecuting || wi.State == runtime.WorkItemSuspended {
			if err := requireOwner(wi, participant); err != nil {
				return err
			}
		}
		engine.logger.Warn("work item failed",
			"caseKey", s.c.Key, "workItemKey", wi.Key, "taskId", wi.TaskID, "reason", reason)
		now := timeNow()
		wi.State = runtime.WorkItemFailed
		wi.CompletedAt = &now
		if err := engine.record(ctx, s, wi, "fail", participant, ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemFailed, participant)
		if err := s.put(ctx, wi); err != nil {
			return err
		}
		return engine.evaluateEnablement(ctx, s)
	})
}

// CancelWorkItem withdraws a work item without retry. Unlike Fail it does
// not re-evaluate enablement, so the task stays dormant until the marking
// next changes.
func (engine *Engine) CancelWorkItem(ctx context.Context, workItemKey int64) error {
	return engine.withWorkItem(ctx, workItemKey, func(ctx context.Context, s *step, wi *runtime.WorkItem) error {
		if wi.State.IsTerminal() {
			return rejectTransition(wi, "cancel")
		}
		now := timeNow()
		wi.State = runtime.WorkItemCancelled
		wi.CompletedAt = &now
		if err := engine.record(ctx, s, wi, "cancel", "", ""); err != nil {
			return err
		}
		s.exportWorkItem(wi, exporter.WorkItemCancelled, "")
		return s.put(ctx, wi)
	})
}

// AddInstance grows a running multiple-instance activation by one work item,
// up to the declared maximum.
func (engine *Engine) AddInstance(ctx context.Context, miGroupKey int64) (*runtime.WorkItem, error) {
	stored, err := engine.persistence.FindMIGroupByKey(ctx, miGroupKey)
	if err != nil {
		return nil, errors.Join(newEngineErrorf("no instance group with key=%d", miGroupKey), err)
	}
	var created *runtime.WorkItem
	err = engine.withCase(ctx, stored.CaseKey, func(ctx context.Context, s *step) error {
		group, err := s.group(ctx, engine, miGroupKey)
		if err != nil {
			return err
		}
		if group.Fired {
			return newLifecycleErrorf(ErrInvalidTransition, "instance group %d already fired", group.Key)
		}
		task := &s.spec.Net.Tasks[group.Task]
		if group.Created >= task.Multi.Max {
			return newLifecycleErrorf(ErrConstraintViolation, "task %s allows at most %d instances", task.ID, task.Multi.Max)
		}
		created, err = engine.createWorkItem(ctx, s, group.Task, nil, 0, group.Key, group.Created)
		if err != nil {
			return err
		}
		group.Created++
		if err := s.putGroup(ctx, group); err != nil {
			return err
		}
		return engine.offerAndAllocate(ctx, s, created, task)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// rejectTransition classifies an illegal state change. Operations hitting a
// work item that was withdrawn (by CancelCase, a cancel region or a lost
// deferred choice) report Cancelled; every other illegal move is an
// InvalidTransition.
func rejectTransition(wi *runtime.WorkItem, verb string) error {
	kind := ErrInvalidTransition
	if wi.State == runtime.WorkItemCancelled {
		kind = ErrCancelled
	}
	return newLifecycleErrorf(kind, "cannot %s work item %d in state %s", verb, wi.Key, wi.State)
}

func requireOwner(wi *runtime.WorkItem, participant string) error {
	if wi.AllocatedTo != participant {
		return &LifecycleError{Kind: ErrNotOwner, Msg: "work item " + wi.TaskID + " belongs to " + wi.AllocatedTo + ", not " + participant}
	}
	return nil
}

// checkConstraints re-applies the compliance filters to a single candidate.
// Claim, start-from-offer and delegate all route through here so manual
// routing cannot bypass separation of duties.
func (engine *Engine) checkConstraints(ctx context.Context, s *step, wi *runtime.WorkItem, participant string) error {
	if engine.resources == nil {
		return nil
	}
	p, ok := engine.resources.Directory().Lookup(ctx, participant)
	if !ok {
		return newLifecycleErrorf(ErrNotEligible, "participant %s is not in the directory", participant)
	}
	task := &s.spec.Net.Tasks[wi.Task]
	fctx := &resource.Context{
		CaseKey:    s.c.Key,
		TaskID:     wi.TaskID,
		Resourcing: task.Resourcing,
		Records:    s.records,
		WorkItems:  engine.persistence,
	}
	chain := []resource.Filter{resource.SeparationOfDutiesFilter{}, resource.FourEyesFilter{}}
	if _, err := resource.ApplyChain(ctx, chain, []resource.Participant{p}, fctx); err != nil {
		var empty *resource.ErrNoEligibleParticipants
		if errors.As(err, &empty) {
			return &LifecycleError{Kind: ErrConstraintViolation, Msg: "participant " + participant + " violates " + empty.FilterName + " on task " + wi.TaskID, Err: err}
		}
		return err
	}
	return nil
}
