package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*MemoryStore, *time.Time) {
	t.Helper()
	m := NewMemoryStore()
	t.Cleanup(func() { _ = m.Close() })
	current := time.Now()
	m.now = func() time.Time { return current }
	return m, &current
}

func TestMemoryStoreEnforcesLimit(t *testing.T) {
	m, _ := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := m.Take(ctx, "k", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, 3, res.Limit)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := m.Take(ctx, "k", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 0, res.Remaining)
}

func TestMemoryStoreWindowSlides(t *testing.T) {
	m, clock := newTestStore(t)
	ctx := context.Background()

	res, err := m.Take(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	*clock = clock.Add(30 * time.Second)
	res, err = m.Take(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = m.Take(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	// first request leaves the window; one slot frees up
	*clock = clock.Add(31 * time.Second)
	res, err = m.Take(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestMemoryStoreResetAtTracksOldestRequest(t *testing.T) {
	m, clock := newTestStore(t)
	ctx := context.Background()

	start := *clock
	_, err := m.Take(ctx, "k", 2, time.Minute)
	require.NoError(t, err)

	*clock = clock.Add(10 * time.Second)
	res, err := m.Take(ctx, "k", 2, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, start.Add(time.Minute), res.ResetAt)
}

func TestMemoryStoreKeysIndependent(t *testing.T) {
	m, _ := newTestStore(t)
	ctx := context.Background()

	res, err := m.Take(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = m.Take(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	res, err = m.Take(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
}

func TestMemoryStoreEviction(t *testing.T) {
	m, clock := newTestStore(t)
	ctx := context.Background()

	_, err := m.Take(ctx, "old", 5, time.Minute)
	require.NoError(t, err)

	*clock = clock.Add(staleThreshold + time.Second)
	m.evictStale()

	assert.Equal(t, 0, m.Stats()["tracked_keys"])
}

func TestLimiterFailsOpenWithoutStore(t *testing.T) {
	l := New(nil, nil)
	res := l.Allow(context.Background(), Rule{Name: "r", Limit: 1, Window: time.Minute}, "k")
	assert.True(t, res.Allowed)
	res = l.Allow(context.Background(), Rule{Name: "r", Limit: 1, Window: time.Minute}, "k")
	assert.True(t, res.Allowed)
}
