package presence

import (
	"context"
	"sync"
)

// Memory tracks participant counts in an in-process map. It is the
// source of truth only when a single process serves every connection;
// multi-process deployments must use the Redis registry instead, since
// two processes holding separate maps would each see themselves as the
// last participant.
type Memory struct {
	mu     sync.Mutex
	counts map[string]int64
}

// NewMemory creates an empty in-process registry.
func NewMemory() *Memory {
	return &Memory{counts: make(map[string]int64)}
}

// Increment records one more attached connection for the session.
func (m *Memory) Increment(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counts[sessionID]++
	return m.counts[sessionID], nil
}

// Decrement records one detached connection. The count never goes
// negative, and the entry is removed once it reaches zero.
func (m *Memory) Decrement(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := m.counts[sessionID] - 1
	if count <= 0 {
		delete(m.counts, sessionID)
		return 0, nil
	}
	m.counts[sessionID] = count
	return count, nil
}

// Count returns the current count for a session. Used by stats and
// tests.
func (m *Memory) Count(sessionID string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[sessionID]
}
