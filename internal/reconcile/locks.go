package reconcile

import "sync"

// tenantLocks hands out one mutex per tenant so runs on the same tenant serialize
// while different tenants proceed in parallel.
type tenantLocks struct {
	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the tenant's mutex and returns its release function.
func (l *tenantLocks) lock(tenantID string) func() {
	l.mu.Lock()
	m, ok := l.locks[tenantID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[tenantID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
