package engine

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/resource"
	"github.com/caseflow-io/caseflow/pkg/storage/inmemory"
)

func complianceFixture() (alice, bob, carol, dave resource.Participant, e Engine) {
	alice = resource.Participant{ID: uuid.New(), Name: "alice", Roles: []string{"clerk", "manager"}}
	bob = resource.Participant{ID: uuid.New(), Name: "bob", Roles: []string{"manager"}}
	carol = resource.Participant{ID: uuid.New(), Name: "carol", Roles: []string{"manager"}}
	dave = resource.Participant{ID: uuid.New(), Name: "dave", Roles: []string{"clerk"}}
	e = NewEngine(
		EngineWithStorage(inmemory.NewStorage()),
		EngineWithResourceManager(resource.NewManager(resource.NewInMemoryDirectory(alice, bob, carol, dave))),
	)
	return
}

func TestSeparationOfDutiesNarrowsTheOffer(t *testing.T) {
	// given: alice wears both the clerk and the manager hat
	alice, bob, carol, _, e := complianceFixture()
	_, err := e.DeployFromFile(t.Context(), "./test-cases/compliance.yaml")
	require.NoError(t, err)
	c, err := e.LaunchCase(t.Context(), "compliance", nil)
	require.NoError(t, err)

	// submit is offered to both clerks, self-service
	submit := soleWorkItem(t, &e, c.Key, "submit")
	assert.Equal(t, runtime.WorkItemOffered, submit.State)
	assert.Contains(t, submit.OfferedTo, alice.Ref())

	// when: alice executes submit
	require.NoError(t, e.Claim(t.Context(), submit.Key, alice.Ref()))
	require.NoError(t, e.Start(t.Context(), submit.Key, alice.Ref()))
	require.NoError(t, e.Complete(t.Context(), submit.Key, CompleteRequest{Participant: alice.Ref()}))

	// then: approve excludes her despite the manager role
	approve := soleWorkItem(t, &e, c.Key, "approve")
	assert.ElementsMatch(t, []string{bob.Ref(), carol.Ref()}, approve.OfferedTo)
	assert.Equal(t, ErrNotEligible, KindOf(e.Claim(t.Context(), approve.Key, alice.Ref())))
}

func TestDelegationCannotBypassSeparationOfDuties(t *testing.T) {
	// given: alice submitted, bob holds the approval
	alice, bob, carol, _, e := complianceFixture()
	_, err := e.DeployFromFile(t.Context(), "./test-cases/compliance.yaml")
	require.NoError(t, err)
	c, err := e.LaunchCase(t.Context(), "compliance", nil)
	require.NoError(t, err)
	submit := soleWorkItem(t, &e, c.Key, "submit")
	require.NoError(t, e.Claim(t.Context(), submit.Key, alice.Ref()))
	require.NoError(t, e.Start(t.Context(), submit.Key, alice.Ref()))
	require.NoError(t, e.Complete(t.Context(), submit.Key, CompleteRequest{Participant: alice.Ref()}))
	approve := soleWorkItem(t, &e, c.Key, "approve")
	require.NoError(t, e.Claim(t.Context(), approve.Key, bob.Ref()))

	// when / then: handing the approval to the submitter is rejected
	err = e.Delegate(t.Context(), approve.Key, bob.Ref(), alice.Ref())
	assert.Equal(t, ErrConstraintViolation, KindOf(err))

	// another manager is fine
	require.NoError(t, e.Delegate(t.Context(), approve.Key, bob.Ref(), carol.Ref()))
	delegated, err := e.FindWorkItem(t.Context(), approve.Key)
	require.NoError(t, err)
	assert.Equal(t, carol.Ref(), delegated.AllocatedTo)
}

func TestFourEyesCompletionNeedsDistinctCoSigner(t *testing.T) {
	// given: bob is executing the approval
	alice, bob, carol, dave, e := complianceFixture()
	_, err := e.DeployFromFile(t.Context(), "./test-cases/compliance.yaml")
	require.NoError(t, err)
	c, err := e.LaunchCase(t.Context(), "compliance", nil)
	require.NoError(t, err)
	submit := soleWorkItem(t, &e, c.Key, "submit")
	require.NoError(t, e.Claim(t.Context(), submit.Key, alice.Ref()))
	require.NoError(t, e.Start(t.Context(), submit.Key, alice.Ref()))
	require.NoError(t, e.Complete(t.Context(), submit.Key, CompleteRequest{Participant: alice.Ref()}))
	approve := soleWorkItem(t, &e, c.Key, "approve")
	require.NoError(t, e.Claim(t.Context(), approve.Key, bob.Ref()))
	require.NoError(t, e.Start(t.Context(), approve.Key, bob.Ref()))

	// when / then
	err = e.Complete(t.Context(), approve.Key, CompleteRequest{Participant: bob.Ref()})
	assert.Equal(t, ErrConstraintViolation, KindOf(err), "missing co-signer")

	err = e.Complete(t.Context(), approve.Key, CompleteRequest{Participant: bob.Ref(), CoSigner: bob.Ref()})
	assert.Equal(t, ErrConstraintViolation, KindOf(err), "self co-signing")

	require.NoError(t, e.Complete(t.Context(), approve.Key, CompleteRequest{Participant: bob.Ref(), CoSigner: carol.Ref()}))
	done, err := e.FindWorkItem(t.Context(), approve.Key)
	require.NoError(t, err)
	assert.Equal(t, carol.Ref(), done.CoSigner)

	// the case runs to its end through the archive clerk
	archive := soleWorkItem(t, &e, c.Key, "archive")
	require.NoError(t, e.Claim(t.Context(), archive.Key, dave.Ref()))
	require.NoError(t, e.Start(t.Context(), archive.Key, dave.Ref()))
	require.NoError(t, e.Complete(t.Context(), archive.Key, CompleteRequest{Participant: dave.Ref()}))
	ended, err := e.FindCase(t.Context(), c.Key)
	require.NoError(t, err)
	assert.Equal(t, runtime.CaseStateCompleted, ended.State)
}

func TestAutoStartRotatesOverOperators(t *testing.T) {
	// given: two operators and a round robin auto started task
	op1 := resource.Participant{ID: uuid.New(), Name: "op1", Roles: []string{"operator"}}
	op2 := resource.Participant{ID: uuid.New(), Name: "op2", Roles: []string{"operator"}}
	e := NewEngine(
		EngineWithStorage(inmemory.NewStorage()),
		EngineWithResourceManager(resource.NewManager(resource.NewInMemoryDirectory(op1, op2))),
	)
	_, err := e.DeployFromFile(t.Context(), "./test-cases/auto-start.yaml")
	require.NoError(t, err)

	// when: two cases launch
	c1, err := e.LaunchCase(t.Context(), "auto-start", nil)
	require.NoError(t, err)
	c2, err := e.LaunchCase(t.Context(), "auto-start", nil)
	require.NoError(t, err)

	// then: both dispatch items skipped straight to Executing, on
	// different operators
	d1 := soleWorkItem(t, &e, c1.Key, "dispatch")
	d2 := soleWorkItem(t, &e, c2.Key, "dispatch")
	assert.Equal(t, runtime.WorkItemExecuting, d1.State)
	assert.Equal(t, runtime.WorkItemExecuting, d2.State)
	assert.NotEqual(t, d1.AllocatedTo, d2.AllocatedTo)

	// wrap_up allocates but does not start by itself
	require.NoError(t, e.Complete(t.Context(), d1.Key, CompleteRequest{Participant: d1.AllocatedTo}))
	w := soleWorkItem(t, &e, c1.Key, "wrap_up")
	assert.Equal(t, runtime.WorkItemAllocated, w.State)
	assert.NotEmpty(t, w.AllocatedTo)
}

func TestEmptyEligibilitySetWaitsForEscalation(t *testing.T) {
	// given: nobody carries the operator role
	boss := resource.Participant{ID: uuid.New(), Name: "boss", Roles: []string{"manager"}}
	e := NewEngine(
		EngineWithStorage(inmemory.NewStorage()),
		EngineWithResourceManager(resource.NewManager(resource.NewInMemoryDirectory(boss))),
	)
	_, err := e.DeployFromFile(t.Context(), "./test-cases/auto-start.yaml")
	require.NoError(t, err)

	// when
	c, err := e.LaunchCase(t.Context(), "auto-start", nil)
	require.NoError(t, err)

	// then: the item stays Created until somebody escalates it manually
	dispatch := soleWorkItem(t, &e, c.Key, "dispatch")
	assert.Equal(t, runtime.WorkItemCreated, dispatch.State)

	require.NoError(t, e.Offer(t.Context(), dispatch.Key, []string{boss.Ref()}))
	require.NoError(t, e.Start(t.Context(), dispatch.Key, boss.Ref()))
	require.NoError(t, e.Complete(t.Context(), dispatch.Key, CompleteRequest{Participant: boss.Ref()}))
	wrapUp := soleWorkItem(t, &e, c.Key, "wrap_up")
	assert.Equal(t, runtime.WorkItemCreated, wrapUp.State)
}
