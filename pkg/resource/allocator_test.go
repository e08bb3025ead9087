package resource

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caseflow-io/caseflow/pkg/engine/runtime"
	"github.com/caseflow-io/caseflow/pkg/flownet"
	"github.com/caseflow-io/caseflow/pkg/storage/inmemory"
)

func TestAllocatorByNameRejectsUnknownNames(t *testing.T) {
	for _, name := range []string{AllocatorRoundRobin, AllocatorShortestQueue, AllocatorRandom, AllocatorDirect} {
		a, err := AllocatorByName(name)
		require.NoError(t, err)
		assert.Equal(t, name, a.Name())
	}
	_, err := AllocatorByName("fanciest-first")
	assert.Error(t, err)
}

func TestRoundRobinCyclesPerTask(t *testing.T) {
	a := NewRoundRobinAllocator()
	offered := []Participant{
		participant("p1", nil, nil, nil),
		participant("p2", nil, nil, nil),
	}

	dispatch := &Context{TaskID: "dispatch"}
	first, err := a.Pick(t.Context(), offered, dispatch)
	require.NoError(t, err)
	second, err := a.Pick(t.Context(), offered, dispatch)
	require.NoError(t, err)
	third, err := a.Pick(t.Context(), offered, dispatch)
	require.NoError(t, err)

	assert.NotEqual(t, first.Ref(), second.Ref())
	assert.Equal(t, first.Ref(), third.Ref())

	// counters are per task, another task starts from the front
	other, err := a.Pick(t.Context(), offered, &Context{TaskID: "review"})
	require.NoError(t, err)
	assert.Equal(t, first.Ref(), other.Ref())
}

func TestShortestQueuePrefersTheIdleParticipant(t *testing.T) {
	// given: busy holds two live work items, idle none
	busy := participant("busy", nil, nil, nil)
	idle := participant("idle", nil, nil, nil)
	store := inmemory.NewStorage()
	for i, state := range []runtime.WorkItemState{runtime.WorkItemExecuting, runtime.WorkItemAllocated} {
		require.NoError(t, store.SaveWorkItem(t.Context(), runtime.WorkItem{
			Key: int64(i + 1), CaseKey: 1, TaskID: "other", State: state, AllocatedTo: busy.Ref(),
		}))
	}
	// completed items do not count
	require.NoError(t, store.SaveWorkItem(t.Context(), runtime.WorkItem{
		Key: 3, CaseKey: 1, TaskID: "other", State: runtime.WorkItemCompleted, AllocatedTo: idle.Ref(),
	}))

	// when
	picked, err := ShortestQueueAllocator{}.Pick(t.Context(), []Participant{busy, idle}, &Context{TaskID: "dispatch", WorkItems: store})

	// then
	require.NoError(t, err)
	assert.Equal(t, idle.Ref(), picked.Ref())
}

func TestDirectAllocatorMatchesRefOrName(t *testing.T) {
	carol := participant("carol", nil, nil, nil)
	dave := participant("dave", nil, nil, nil)
	offered := []Participant{carol, dave}

	byName, err := DirectAllocator{}.Pick(t.Context(), offered, &Context{
		TaskID:     "sign-off",
		Resourcing: flownet.Resourcing{Assignee: "dave"},
	})
	require.NoError(t, err)
	assert.Equal(t, dave.Ref(), byName.Ref())

	byRef, err := DirectAllocator{}.Pick(t.Context(), offered, &Context{
		TaskID:     "sign-off",
		Resourcing: flownet.Resourcing{Assignee: carol.Ref()},
	})
	require.NoError(t, err)
	assert.Equal(t, carol.Ref(), byRef.Ref())

	_, err = DirectAllocator{}.Pick(t.Context(), offered, &Context{
		TaskID:     "sign-off",
		Resourcing: flownet.Resourcing{Assignee: "nobody"},
	})
	var empty *ErrNoEligibleParticipants
	assert.ErrorAs(t, err, &empty)
}

func TestManagerOfferRunsTheFullChain(t *testing.T) {
	// given: alice already submitted in this case
	alice := participant("alice", []string{"clerk", "manager"}, nil, nil)
	bob := participant("bob", []string{"manager"}, nil, nil)
	m := NewManager(NewInMemoryDirectory(alice, bob))

	fctx := historyContext(
		flownet.Resourcing{Roles: []string{"manager"}, SeparationFrom: []string{"submit"}},
		completion("submit", alice.Ref(), ""),
	)

	// when
	offered, err := m.Offer(t.Context(), fctx)

	// then: role narrowed to managers, separation removed alice
	require.NoError(t, err)
	require.Len(t, offered, 1)
	assert.Equal(t, bob.Ref(), offered[0].Ref())
}

func TestManagerAllocateWithoutAllocatorIsSelfService(t *testing.T) {
	m := NewManager(NewInMemoryDirectory())
	_, ok, err := m.Allocate(t.Context(), []Participant{participant("p", nil, nil, nil)}, &Context{TaskID: "t"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadDirectoryParsesParticipants(t *testing.T) {
	fixed := uuid.New()
	dir, err := LoadDirectory([]byte(`
participants:
  - id: ` + fixed.String() + `
    name: alice
    roles: [clerk]
    capabilities: [sign]
    orgGroups: [emea]
  - name: bob
    roles: [manager]
`))
	require.NoError(t, err)

	alice, ok := dir.Lookup(t.Context(), fixed.String())
	require.True(t, ok)
	assert.Equal(t, "alice", alice.Name)
	assert.True(t, alice.HasRole("clerk"))
	assert.True(t, alice.HasCapability("sign"))
	assert.True(t, alice.InOrgGroup("emea"))

	// bob got a generated id
	all, err := dir.List(t.Context())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.NotEqual(t, uuid.Nil, all[1].ID)

	// a nameless participant is rejected
	_, err = LoadDirectory([]byte("participants:\n  - roles: [clerk]\n"))
	assert.Error(t, err)

	// a broken id is rejected
	_, err = LoadDirectory([]byte("participants:\n  - id: not-a-uuid\n    name: x\n"))
	assert.Error(t, err)
}

func TestCachedDirectoryMemoizesLookups(t *testing.T) {
	alice := participant("alice", nil, nil, nil)
	backing := NewInMemoryDirectory(alice)
	cached, err := NewCachedDirectory(backing, 16)
	require.NoError(t, err)

	got, ok := cached.Lookup(t.Context(), alice.Ref())
	require.True(t, ok)
	assert.Equal(t, alice.Name, got.Name)

	// served from the cache even after the backing entry changes
	renamed := alice
	renamed.Name = "alicia"
	backing.Add(renamed)
	got, ok = cached.Lookup(t.Context(), alice.Ref())
	require.True(t, ok)
	assert.Equal(t, "alice", got.Name)

	_, ok = cached.Lookup(t.Context(), "unknown")
	assert.False(t, ok)
}
