// Package cache is a small TTL key-value abstraction injected wherever a
// lookup is worth memoizing, so tests can control time and isolate state.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores string values with a per-entry TTL. Get returns ok=false on a
// miss or an expired entry.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key string, value string, ttl time.Duration) error
}

// Memory is a mutex-guarded in-process cache with an injectable clock.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry

	// Clock defaults to time.Now; tests override it.
	Clock func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

var _ Cache = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		Clock:   time.Now,
	}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	if m.Clock().After(e.expiresAt) {
		delete(m.entries, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Put(_ context.Context, key string, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expiresAt: m.Clock().Add(ttl)}
	return nil
}
