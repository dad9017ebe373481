// Package claims provides reviewer leases on responses. A lease expires on
// its own, so a reviewer who walks away never blocks the queue for long.
package claims

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	holder  string
	expires time.Time
}

// MemoryLocker keeps leases in process. It serves single-instance
// deployments and tests.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: map[string]lease{}, now: time.Now}
}

// Acquire takes the lease or refreshes it when holder already owns it.
func (m *MemoryLocker) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if l, ok := m.leases[key]; ok && now.Before(l.expires) && l.holder != holder {
		return false, nil
	}
	m.leases[key] = lease{holder: holder, expires: now.Add(ttl)}
	return true, nil
}

func (m *MemoryLocker) Holder(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[key]
	if !ok || !m.now().Before(l.expires) {
		delete(m.leases, key)
		return "", nil
	}
	return l.holder, nil
}

// Release drops the lease only if holder owns it.
func (m *MemoryLocker) Release(ctx context.Context, key, holder string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[key]; ok && l.holder == holder {
		delete(m.leases, key)
	}
	return nil
}
