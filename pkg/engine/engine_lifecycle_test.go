package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/pkg/engine/exporter"
	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
)

func TestSuspendAndResumeKeepOwnership(t *testing.T) {
	// given
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/sequence.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "sequence", nil)
	require.NoError(t, err)
	a := soleWorkItem(t, &flowEngine, c.Key, "a")
	require.NoError(t, flowEngine.Offer(t.Context(), a.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), a.Key, "alice"))
	require.NoError(t, flowEngine.Start(t.Context(), a.Key, "alice"))

	// when
	require.NoError(t, flowEngine.Suspend(t.Context(), a.Key, "alice"))

	// then: a suspended item cannot complete and stays with its owner
	assert.Equal(t, ErrInvalidTransition, KindOf(flowEngine.Complete(t.Context(), a.Key, CompleteRequest{Participant: "alice"})))
	assert.Equal(t, ErrNotOwner, KindOf(flowEngine.Resume(t.Context(), a.Key, "bob")))

	require.NoError(t, flowEngine.Resume(t.Context(), a.Key, "alice"))
	require.NoError(t, flowEngine.Complete(t.Context(), a.Key, CompleteRequest{Participant: "alice"}))

	assert.Equal(t, []exporter.Intent{
		exporter.WorkItemCreated,
		exporter.WorkItemOffered,
		exporter.WorkItemAllocated,
		exporter.WorkItemStarted,
		exporter.WorkItemSuspended,
		exporter.WorkItemResumed,
		exporter.WorkItemCompleted,
		exporter.TaskFired,
	}, recorder.IntentsFor(a.Key))
}

func TestDelegateKeepsCheckpoint(t *testing.T) {
	// given: alice did half the work and saved a checkpoint
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/sequence.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "sequence", nil)
	require.NoError(t, err)
	a := soleWorkItem(t, &flowEngine, c.Key, "a")
	require.NoError(t, flowEngine.Offer(t.Context(), a.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), a.Key, "alice"))
	require.NoError(t, flowEngine.Start(t.Context(), a.Key, "alice"))
	require.NoError(t, flowEngine.Checkpoint(t.Context(), a.Key, "alice", map[string]any{"step": 2, "draft": "half done"}))

	// when
	require.NoError(t, flowEngine.Delegate(t.Context(), a.Key, "alice", "bob"))

	// then: bob owns the item and resumes from the checkpoint
	delegated, err := flowEngine.FindWorkItem(t.Context(), a.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.WorkItemAllocated, delegated.State)
	assert.Equal(t, "bob", delegated.AllocatedTo)
	assert.Equal(t, "half done", delegated.Checkpoint["draft"])

	// alice lost the item
	assert.Equal(t, ErrNotOwner, KindOf(flowEngine.Start(t.Context(), a.Key, "alice")))

	require.NoError(t, flowEngine.Start(t.Context(), a.Key, "bob"))
	require.NoError(t, flowEngine.Complete(t.Context(), a.Key, CompleteRequest{Participant: "bob"}))
}

func TestDelegateToSelfIsRejected(t *testing.T) {
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/sequence.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "sequence", nil)
	require.NoError(t, err)
	a := soleWorkItem(t, &flowEngine, c.Key, "a")
	require.NoError(t, flowEngine.Offer(t.Context(), a.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Claim(t.Context(), a.Key, "alice"))

	assert.Equal(t, ErrNotEligible, KindOf(flowEngine.Delegate(t.Context(), a.Key, "alice", "alice")))
}

func TestDeallocateReturnsItemToOfferSet(t *testing.T) {
	// given
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/sequence.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "sequence", nil)
	require.NoError(t, err)
	a := soleWorkItem(t, &flowEngine, c.Key, "a")
	require.NoError(t, flowEngine.Offer(t.Context(), a.Key, []string{"alice", "bob"}))
	require.NoError(t, flowEngine.Claim(t.Context(), a.Key, "alice"))

	// when
	require.NoError(t, flowEngine.Deallocate(t.Context(), a.Key, "alice"))

	// then: any original offeree may claim again
	back, err := flowEngine.FindWorkItem(t.Context(), a.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.WorkItemOffered, back.State)
	assert.Empty(t, back.AllocatedTo)
	assert.ElementsMatch(t, []string{"alice", "bob"}, back.OfferedTo)

	require.NoError(t, flowEngine.Claim(t.Context(), a.Key, "bob"))
	require.NoError(t, flowEngine.Start(t.Context(), a.Key, "bob"))
	require.NoError(t, flowEngine.Complete(t.Context(), a.Key, CompleteRequest{Participant: "bob"}))
}

func TestStartFromOfferSkipsClaim(t *testing.T) {
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/sequence.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "sequence", nil)
	require.NoError(t, err)
	a := soleWorkItem(t, &flowEngine, c.Key, "a")
	require.NoError(t, flowEngine.Offer(t.Context(), a.Key, []string{"alice", "bob"}))

	// starting from offered claims and starts in one step
	require.NoError(t, flowEngine.Start(t.Context(), a.Key, "bob"))

	started, err := flowEngine.FindWorkItem(t.Context(), a.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.WorkItemExecuting, started.State)
	assert.Equal(t, "bob", started.AllocatedTo)
}

func TestCheckpointReplacesWholesale(t *testing.T) {
	_, err := flowEngine.DeployFromFile(t.Context(), "./test-cases/sequence.yaml")
	require.NoError(t, err)
	c, err := flowEngine.LaunchCase(t.Context(), "sequence", nil)
	require.NoError(t, err)
	a := soleWorkItem(t, &flowEngine, c.Key, "a")
	require.NoError(t, flowEngine.Offer(t.Context(), a.Key, []string{"alice"}))
	require.NoError(t, flowEngine.Start(t.Context(), a.Key, "alice"))

	require.NoError(t, flowEngine.Checkpoint(t.Context(), a.Key, "alice", map[string]any{"step": 1, "draft": "x"}))
	require.NoError(t, flowEngine.Checkpoint(t.Context(), a.Key, "alice", map[string]any{"step": 2}))

	wi, err := flowEngine.FindWorkItem(t.Context(), a.Key)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": 2}, wi.Checkpoint)

	// checkpointing needs an executing item, the last checkpoint survives
	// the suspension
	require.NoError(t, flowEngine.Suspend(t.Context(), a.Key, "alice"))
	assert.Equal(t, ErrInvalidTransition, KindOf(flowEngine.Checkpoint(t.Context(), a.Key, "alice", map[string]any{"step": 3})))
	suspended, err := flowEngine.FindWorkItem(t.Context(), a.Key)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"step": 2}, suspended.Checkpoint)
}
