package tokenstore

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a thread-safe in-memory Store. With a TTL every entry expires
// that long after its last Set, the same way redisstore entries do.
type Memory struct {
	mu     sync.RWMutex
	values map[string]memoryEntry
	ttl    time.Duration
	now    func() time.Time
}

// MemoryOption configures a Memory store
type MemoryOption func(*Memory)

// WithTTL expires entries d after they are set. Zero keeps them forever.
func WithTTL(d time.Duration) MemoryOption {
	return func(m *Memory) {
		m.ttl = d
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) {
		m.now = now
	}
}

// NewMemory creates an empty in-memory store
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		values: make(map[string]memoryEntry),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.values[name]
	if !ok || e.expired(m.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := memoryEntry{value: value}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.values[name] = e
	return nil
}

func (m *Memory) Clear(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, name)
	return nil
}

func (m *Memory) Take(_ context.Context, name string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.values[name]
	if !ok {
		return "", false, nil
	}
	delete(m.values, name)
	if e.expired(m.now()) {
		return "", false, nil
	}
	return e.value, true, nil
}

// Sweep drops expired entries and returns how many were removed.
func (m *Memory) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for name, e := range m.values {
		if e.expired(now) {
			delete(m.values, name)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Sweep every interval until ctx is done.
func (m *Memory) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Len returns the number of stored entries across all namespaces, expired
// ones included until they are swept.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}
