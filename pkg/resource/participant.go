// Package resource implements the three-phase resource allocation protocol:
// offer (eligibility filters), allocate (one strategy), start (auto or
// manual). Compliance constraints consult the case's append-only execution
// history.
package resource

import (
	"context"
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/google/uuid"
)

// Participant is one human or automated worker known to the directory.
type Participant struct {
	ID           uuid.UUID
	Name         string
	Roles        []string
	Capabilities []string
	OrgGroups    []string
}

// Ref is the string form participants are recorded under in work items and
// execution records.
func (p Participant) Ref() string {
	return p.ID.String()
}

func (p Participant) HasRole(role string) bool {
	return slices.Contains(p.Roles, role)
}

func (p Participant) HasCapability(capability string) bool {
	return slices.Contains(p.Capabilities, capability)
}

func (p Participant) InOrgGroup(group string) bool {
	return slices.Contains(p.OrgGroups, group)
}

// Directory is the read-only participant registry. Implementations may be
// freely cached; the engine never writes through it.
type Directory interface {
	Lookup(ctx context.Context, ref string) (Participant, bool)
	List(ctx context.Context) ([]Participant, error)
}

// InMemoryDirectory is a static Directory, mainly for tests and single-node
// setups.
type InMemoryDirectory struct {
	mu           sync.RWMutex
	participants map[string]Participant
	order        []string
}

var _ Directory = &InMemoryDirectory{}

func NewInMemoryDirectory(participants ...Participant) *InMemoryDirectory {
	d := &InMemoryDirectory{participants: make(map[string]Participant)}
	for _, p := range participants {
		d.Add(p)
	}
	return d
}

func (d *InMemoryDirectory) Add(p Participant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.participants[p.Ref()]; !ok {
		d.order = append(d.order, p.Ref())
	}
	d.participants[p.Ref()] = p
}

func (d *InMemoryDirectory) Lookup(ctx context.Context, ref string) (Participant, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	p, ok := d.participants[ref]
	return p, ok
}

func (d *InMemoryDirectory) List(ctx context.Context) ([]Participant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	res := make([]Participant, 0, len(d.order))
	for _, ref := range d.order {
		res = append(res, d.participants[ref])
	}
	return res, nil
}

// CachedDirectory memoizes lookups of a slower backing directory.
type CachedDirectory struct {
	backing Directory
	cache   *lru.Cache[string, Participant]
}

var _ Directory = &CachedDirectory{}

func NewCachedDirectory(backing Directory, size int) (*CachedDirectory, error) {
	cache, err := lru.New[string, Participant](size)
	if err != nil {
		return nil, err
	}
	return &CachedDirectory{backing: backing, cache: cache}, nil
}

func (d *CachedDirectory) Lookup(ctx context.Context, ref string) (Participant, bool) {
	if p, ok := d.cache.Get(ref); ok {
		return p, true
	}
	p, ok := d.backing.Lookup(ctx, ref)
	if ok {
		d.cache.Add(ref, p)
	}
	return p, ok
}

func (d *CachedDirectory) List(ctx context.Context) ([]Participant, error) {
	return d.backing.List(ctx)
}
