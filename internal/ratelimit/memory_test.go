package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(t *testing.T, rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	t.Helper()
	m := NewMemoryLimiter(rate, burst)
	c := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	m.now = c.now
	t.Cleanup(func() { require.NoError(t, m.Close()) })
	return m, c
}

func allow(t *testing.T, m *MemoryLimiter, key string) bool {
	t.Helper()
	ok, err := m.Allow(context.Background(), key)
	require.NoError(t, err)
	return ok
}

func TestMemoryLimiter_BurstThenDeny(t *testing.T) {
	m, _ := newTestLimiter(t, 10, 3)
	for i := range 3 {
		assert.True(t, allow(t, m, "k"), "request %d within burst", i)
	}
	assert.False(t, allow(t, m, "k"))
}

func TestMemoryLimiter_Refill(t *testing.T) {
	m, c := newTestLimiter(t, 2, 1)
	assert.True(t, allow(t, m, "k"))
	assert.False(t, allow(t, m, "k"))

	c.advance(500 * time.Millisecond)
	assert.True(t, allow(t, m, "k"))

	// Long idle periods refill only up to burst.
	c.advance(time.Hour)
	assert.True(t, allow(t, m, "k"))
	assert.False(t, allow(t, m, "k"))
}

func TestMemoryLimiter_IndependentKeys(t *testing.T) {
	m, _ := newTestLimiter(t, 1, 1)
	assert.True(t, allow(t, m, "ip:a"))
	assert.False(t, allow(t, m, "ip:a"))
	assert.True(t, allow(t, m, "ip:b"))
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	m, _ := newTestLimiter(t, 0, 50)
	var allowed atomic.Int64
	var wg sync.WaitGroup
	for range 200 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := m.Allow(context.Background(), "shared"); ok {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 50, allowed.Load())
}

func TestMemoryLimiter_EvictStale(t *testing.T) {
	m, c := newTestLimiter(t, 1, 1)
	allow(t, m, "old")
	c.advance(staleAfter + time.Second)
	allow(t, m, "fresh")

	m.evictStale()
	assert.Equal(t, 1, m.size())
}

func TestMemoryLimiter_CloseIdempotent(t *testing.T) {
	m := NewMemoryLimiter(1, 1)
	assert.NoError(t, m.Close())
	assert.NoError(t, m.Close())
}
