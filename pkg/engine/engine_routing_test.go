package engine

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/storage"
	"github.com/caseflow-io/caseflow/pkg/storage/inmemory"
)

// liveTaskIDs returns the task ids of the case's non-terminal work items,
// sorted.
func liveTaskIDs(t *testing.T, e *Engine, caseKey int64) []string {
	t.Helper()
	items, err := e.GetWorkItems(t.Context(), storage.WorkItemFilter{CaseKey: caseKey})
	require.NoError(t, err)
	var ids []string
	for _, wi := range items {
		if !wi.State.IsTerminal() {
			ids = append(ids, wi.TaskID)
		}
	}
	sort.Strings(ids)
	return ids
}

func TestParallelSplitAndSynchronize(t *testing.T) {
	// given
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/parallel.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "parallel", nil)
	require.NoError(t, err)

	// when: the fork completes
	fork := soleWorkItem(t, &flowEngine, c.Key, "fork")
	runThrough(t, &flowEngine, fork.Key, "alice", CompleteRequest{})

	// then: both branches run, and the and split put one token on each
	assert.Equal(t, []string{"left", "right"}, liveTaskIDs(t, &flowEngine, c.Key))
	after, err := flowEngine.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, 2, after.Marking.Total())

	// the join waits for the slower branch
	left := soleWorkItem(t, &flowEngine, c.Key, "left")
	runThrough(t, &flowEngine, left.Key, "alice", CompleteRequest{})
	assert.Equal(t, []string{"right"}, liveTaskIDs(t, &flowEngine, c.Key))

	right := soleWorkItem(t, &flowEngine, c.Key, "right")
	runThrough(t, &flowEngine, right.Key, "bob", CompleteRequest{})

	// both branch tokens feed the single join firing
	join := soleWorkItem(t, &flowEngine, c.Key, "join")
	assert.Len(t, join.ConsumeFrom, 2)
	runThrough(t, &flowEngine, join.Key, "alice", CompleteRequest{})

	done, err := flowEngine.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.CaseStateCompleted, done.State)
	assert.Equal(t, 0, done.Marking.Total())
}

func TestXorSplitRoutesByPredicate(t *testing.T) {
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/xor-split.yaml")
	require.NoError(t, err)

	t.Run("predicate holds", func(t *testing.T) {
		c, err := flowEngine.LaunchCase(t.Context(), "xor-split", map[string]any{"amount": 1500})
		require.NoError(t, err)
		classify := soleWorkItem(t, &flowEngine, c.Key, "classify")
		runThrough(t, &flowEngine, classify.Key, "alice", CompleteRequest{})

		assert.Equal(t, []string{"review"}, liveTaskIDs(t, &flowEngine, c.Key))
	})

	t.Run("falls back to the branch without predicate", func(t *testing.T) {
		c, err := flowEngine.LaunchCase(t.Context(), "xor-split", map[string]any{"amount": 200})
		require.NoError(t, err)
		classify := soleWorkItem(t, &flowEngine, c.Key, "classify")
		runThrough(t, &flowEngine, classify.Key, "alice", CompleteRequest{})

		assert.Equal(t, []string{"approve"}, liveTaskIDs(t, &flowEngine, c.Key))
	})

	t.Run("explicit choice wins over the predicates", func(t *testing.T) {
		c, err := flowEngine.LaunchCase(t.Context(), "xor-split", map[string]any{"amount": 1500})
		require.NoError(t, err)
		classify := soleWorkItem(t, &flowEngine, c.Key, "classify")
		runThrough(t, &flowEngine, classify.Key, "alice", CompleteRequest{ChosenOutputs: []string{"c_low"}})

		assert.Equal(t, []string{"approve"}, liveTaskIDs(t, &flowEngine, c.Key))
	})

	t.Run("choosing two outputs on an xor split is rejected", func(t *testing.T) {
		c, err := flowEngine.LaunchCase(t.Context(), "xor-split", map[string]any{"amount": 1500})
		require.NoError(t, err)
		classify := soleWorkItem(t, &flowEngine, c.Key, "classify")
		require.NoError(t, flowEngine.Offer(t.Context(), classify.Key, []string{"alice"}))
		require.NoError(t, flowEngine.Claim(t.Context(), classify.Key, "alice"))
		require.NoError(t, flowEngine.Start(t.Context(), classify.Key, "alice"))

		err = flowEngine.Complete(t.Context(), classify.Key, CompleteRequest{
			Participant:   "alice",
			ChosenOutputs: []string{"c_low", "c_high"},
		})
		assert.Equal(t, ErrEvaluation, KindOf(err))
	})
}

func TestOrSplitAndSynchronizingMerge(t *testing.T) {
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/or-join.yaml")
	require.NoError(t, err)

	t.Run("merge waits for every active branch", func(t *testing.T) {
		// given: both branch predicates hold
		c, err := flowEngine.LaunchCase(t.Context(), "or-join", map[string]any{"wantLeft": true, "wantRight": true})
		require.NoError(t, err)
		scatter := soleWorkItem(t, &flowEngine, c.Key, "scatter")
		runThrough(t, &flowEngine, scatter.Key, "alice", CompleteRequest{})
		assert.Equal(t, []string{"left", "right"}, liveTaskIDs(t, &flowEngine, c.Key))

		// when: only the left branch is done
		left := soleWorkItem(t, &flowEngine, c.Key, "left")
		runThrough(t, &flowEngine, left.Key, "alice", CompleteRequest{})

		// then: the or join must not fire, the right branch can still
		// reach its unmarked input
		assert.Equal(t, []string{"right"}, liveTaskIDs(t, &flowEngine, c.Key))

		right := soleWorkItem(t, &flowEngine, c.Key, "right")
		runThrough(t, &flowEngine, right.Key, "alice", CompleteRequest{})

		gather := soleWorkItem(t, &flowEngine, c.Key, "gather")
		assert.Len(t, gather.ConsumeFrom, 2)
		runThrough(t, &flowEngine, gather.Key, "alice", CompleteRequest{})

		done, err := flowEngine.FindCase(t.Context(), c.Key)
		require.NoError(t, err)
		assert.Equal(t, runtime.CaseStateCompleted, done.State)
	})

	t.Run("merge fires on a single active branch", func(t *testing.T) {
		c, err := flowEngine.LaunchCase(t.Context(), "or-join", map[string]any{"wantLeft": true, "wantRight": false})
		require.NoError(t, err)
		scatter := soleWorkItem(t, &flowEngine, c.Key, "scatter")
		runThrough(t, &flowEngine, scatter.Key, "alice", CompleteRequest{})
		assert.Equal(t, []string{"left"}, liveTaskIDs(t, &flowEngine, c.Key))

		left := soleWorkItem(t, &flowEngine, c.Key, "left")
		runThrough(t, &flowEngine, left.Key, "alice", CompleteRequest{})

		// nothing can reach the right input anymore, one marked input is
		// enough
		gather := soleWorkItem(t, &flowEngine, c.Key, "gather")
		assert.Len(t, gather.ConsumeFrom, 1)
		runThrough(t, &flowEngine, gather.Key, "alice", CompleteRequest{})

		done, err := flowEngine.FindCase(t.Context(), c.Key)
		require.NoError(t, err)
		assert.Equal(t, runtime.CaseStateCompleted, done.State)
	})
}

func TestDeferredChoiceFirstStartWins(t *testing.T) {
	// given: two tasks competing for one token
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/deferred-choice.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "deferred-choice", nil)
	require.NoError(t, err)

	payment := soleWorkItem(t, &flowEngine, c.Key, "payment")
	timeout := soleWorkItem(t, &flowEngine, c.Key, "timeout")
	require.NotZero(t, payment.ChoiceGroupKey)
	assert.Equal(t, payment.ChoiceGroupKey, timeout.ChoiceGroupKey)

	// when: the payment branch starts first
	require.NoError(t, flowEngine.Offer(t.Context(), payment.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), payment.Key, "alice"))
	require.NoError(t, flowEngine.Start(t.Context(), payment.Key, "alice"))

	// then: the loser is withdrawn and cannot be started anymore
	withdrawn, err := flowEngine.FindWorkItem(t.Context(), timeout.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.WorkItemCancelled, withdrawn.State)
	assert.Equal(t, ErrCancelled, KindOf(flowEngine.Offer(t.Context(), timeout.Key, []string{"bob"})))

	require.NoError(t, flowEngine.Complete(t.Context(), payment.Key, CompleteRequest{Participant: "alice"}))
	assert.Equal(t, []string{"ship"}, liveTaskIDs(t, &flowEngine, c.Key))

	ship := soleWorkItem(t, &flowEngine, c.Key, "ship")
	runThrough(t, &flowEngine, ship.Key, "alice", CompleteRequest{})

	done, err := flowEngine.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.CaseStateCompleted, done.State)
}

func TestDeferredChoiceConcurrentStarts(t *testing.T) {
	// given: both contenders claimed by different participants
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/deferred-choice.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "deferred-choice", nil)
	require.NoError(t, err)

	payment := soleWorkItem(t, &flowEngine, c.Key, "payment")
	timeout := soleWorkItem(t, &flowEngine, c.Key, "timeout")
	require.NoError(t, flowEngine.Offer(t.Context(), payment.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), payment.Key, "alice"))
	require.NoError(t, flowEngine.Offer(t.Context(), timeout.Key, []string{"bob"}))
	require.NoError(t, flowEngine.Claim(t.Context(), timeout.Key, "bob"))

	// when: both participants race to start
	ctx := t.Context()
	errs := make([]error, 2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		errs[0] = flowEngine.Start(ctx, payment.Key, "alice")
	}()
	go func() {
		defer wg.Done()
		errs[1] = flowEngine.Start(ctx, timeout.Key, "bob")
	}()
	wg.Wait()

	// then: exactly one start wins, the loser sees its item withdrawn
	rejected := 0
	for _, startErr := range errs {
		if startErr != nil {
			rejected++
			assert.Equal(t, ErrCancelled, KindOf(startErr))
		}
	}
	assert.Equal(t, 1, rejected)

	items, err := flowEngine.GetWorkItems(ctx, storage.WorkItemFilter{CaseKey: c.Key})
	require.NoError(t, err)
	states := map[runtime.WorkItemState]int{}
	for _, wi := range items {
		states[wi.State]++
	}
	assert.Equal(t, 1, states[runtime.WorkItemExecuting])
	assert.Equal(t, 1, states[runtime.WorkItemCancelled])
}

func TestResolvedChoiceLoserStaysWithdrawn(t *testing.T) {
	// given: a deferred choice racing next to an independent branch
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/deferred-choice-parallel.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "deferred-choice-parallel", nil)
	require.NoError(t, err)

	payment := soleWorkItem(t, &flowEngine, c.Key, "payment")
	side := soleWorkItem(t, &flowEngine, c.Key, "side")
	require.NotZero(t, payment.ChoiceGroupKey)
	assert.Zero(t, side.ChoiceGroupKey)

	// when: the choice is resolved and the other branch completes afterwards
	require.NoError(t, flowEngine.Offer(t.Context(), payment.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), payment.Key, "alice"))
	require.NoError(t, flowEngine.Start(t.Context(), payment.Key, "alice"))
	runThrough(t, &flowEngine, side.Key, "bob", CompleteRequest{})

	// then: the withdrawn loser is not re-instantiated on the shared token,
	// which the executing winner still holds
	items, err := flowEngine.GetWorkItems(t.Context(), storage.WorkItemFilter{CaseKey: c.Key, TaskID: "timeout"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, runtime.WorkItemCancelled, items[0].State)

	require.NoError(t, flowEngine.Complete(t.Context(), payment.Key, CompleteRequest{Participant: "alice"}))
	ship := soleWorkItem(t, &flowEngine, c.Key, "ship")
	runThrough(t, &flowEngine, ship.Key, "alice", CompleteRequest{})
	wrap := soleWorkItem(t, &flowEngine, c.Key, "wrap")
	runThrough(t, &flowEngine, wrap.Key, "bob", CompleteRequest{})

	done, err := flowEngine.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.CaseStateCompleted, done.State)
	assert.Equal(t, 0, done.Marking.Total())
}

func TestCancelRegionAppliedAtStart(t *testing.T) {
	// given: fork produced the slow and the fast branch
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/cancel-region.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "cancel-region", nil)
	require.NoError(t, err)
	fork := soleWorkItem(t, &flowEngine, c.Key, "fork")
	runThrough(t, &flowEngine, fork.Key, "alice", CompleteRequest{})

	longPath := soleWorkItem(t, &flowEngine, c.Key, "long_path")
	shortcut := soleWorkItem(t, &flowEngine, c.Key, "shortcut")

	// when: the shortcut starts
	require.NoError(t, flowEngine.Offer(t.Context(), shortcut.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), shortcut.Key, "alice"))
	require.NoError(t, flowEngine.Start(t.Context(), shortcut.Key, "alice"))

	// then: the slow token is gone and the long path item is withdrawn
	after, err := flowEngine.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Marking.Total())
	withdrawn, err := flowEngine.FindWorkItem(t.Context(), longPath.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.WorkItemCancelled, withdrawn.State)

	require.NoError(t, flowEngine.Complete(t.Context(), shortcut.Key, CompleteRequest{Participant: "alice"}))
	finish := soleWorkItem(t, &flowEngine, c.Key, "finish")
	runThrough(t, &flowEngine, finish.Key, "alice", CompleteRequest{})

	done, err := flowEngine.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.CaseStateCompleted, done.State)
}

func TestFailedPredicateWaitsForResolveFiring(t *testing.T) {
	// given: an engine without a script runtime, so predicates cannot be
	// evaluated
	bare := NewEngine(EngineWithStorage(inmemory.NewStorage()))
	_, err := bare.DeployFromFile(t.Context(), "./test-cases/xor-split.yaml")
	require.NoError(t, err)
	c, err := bare.LaunchCase(t.Context(), "xor-split", map[string]any{"amount": 1500})
	require.NoError(t, err)
	classify := soleWorkItem(t, &bare, c.Key, "classify")
	require.NoError(t, bare.Offer(t.Context(), classify.Key, []string{"alice"}))
	require.NoError(t, bare.Claim(t.Context(), classify.Key, "alice"))
	require.NoError(t, bare.Start(t.Context(), classify.Key, "alice"))

	// when
	err = bare.Complete(t.Context(), classify.Key, CompleteRequest{Participant: "alice"})

	// then: the completion stands, the firing is pending, the marking is
	// untouched
	assert.Equal(t, ErrEvaluation, KindOf(err))
	stuck, err := bare.FindWorkItem(t.Context(), classify.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.WorkItemCompleted, stuck.State)
	assert.False(t, stuck.Fired)
	after, err := bare.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, 1, after.Marking.Total())
	assert.Empty(t, liveTaskIDs(t, &bare, c.Key))

	// an operator resolves the routing manually
	require.NoError(t, bare.ResolveFiring(t.Context(), classify.Key, []string{"c_low"}))
	assert.Equal(t, []string{"approve"}, liveTaskIDs(t, &bare, c.Key))

	resolved, err := bare.FindWorkItem(t.Context(), classify.Key)
	require.NoError(t, err)
	assert.True(t, resolved.Fired)

	// a second resolve is rejected
	err = bare.ResolveFiring(t.Context(), classify.Key, []string{"c_low"})
	assert.Equal(t, ErrInvalidTransition, KindOf(err))
}
