package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with per-key timestamp lists.
//
// A background goroutine evicts idle keys every minute to bound memory.
// Call Close to stop it.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	now func() time.Time

	stopOnce sync.Once
	done     chan struct{}
}

// NewMemoryStore creates an in-memory sliding-window store.
func NewMemoryStore() *MemoryStore {
	m := &MemoryStore{
		windows: make(map[string][]time.Time),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go m.cleanup()
	return m
}

// Take records one request for key unless the window is already full.
func (m *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cutoff := now.Add(-window)

	kept := m.windows[key][:0]
	for _, ts := range m.windows[key] {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	res := Result{Limit: limit}
	if len(kept) >= limit {
		m.windows[key] = kept
		res.ResetAt = kept[0].Add(window)
		return res, nil
	}

	kept = append(kept, now)
	m.windows[key] = kept
	res.Allowed = true
	res.Remaining = limit - len(kept)
	res.ResetAt = kept[0].Add(window)
	return res, nil
}

// Stats reports the number of tracked keys.
func (m *MemoryStore) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return map[string]any{"backend": "memory", "tracked_keys": len(m.windows)}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryStore) Close() error {
	m.stopOnce.Do(func() { close(m.done) })
	return nil
}

const staleThreshold = 10 * time.Minute

func (m *MemoryStore) cleanup() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.evictStale()
		}
	}
}

func (m *MemoryStore) evictStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-staleThreshold)
	for key, window := range m.windows {
		if len(window) == 0 || window[len(window)-1].Before(cutoff) {
			delete(m.windows, key)
		}
	}
}
