package engine

import "sync"

// caseLocks serializes all mutation per case. Entries are created on first
// use and dropped once nobody holds or waits for them, so the table does not
// grow with archived cases.
type caseLocks struct {
	mu    sync.Mutex
	cases map[int64]*caseLock
}

type caseLock struct {
	mu      sync.Mutex
	waiters int
}

func newCaseLocks() *caseLocks {
	return &caseLocks{cases: make(map[int64]*caseLock)}
}

func (c *caseLocks) lock(caseKey int64) {
	c.mu.Lock()
	l, ok := c.cases[caseKey]
	if !ok {
		l = &caseLock{}
		c.cases[caseKey] = l
	}
	l.waiters++
	c.mu.Unlock()

	l.mu.Lock()
}

func (c *caseLocks) unlock(caseKey int64) {
	c.mu.Lock()
	l := c.cases[caseKey]
	l.waiters--
	if l.waiters == 0 {
		delete(c.cases, caseKey)
	}
	c.mu.Unlock()

	l.mu.Unlock()
}
