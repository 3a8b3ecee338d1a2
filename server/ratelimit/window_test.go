package ratelimit

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestAdmitCapsWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 10, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		require.True(t, l.Admit("alice"), "message %d should be admitted", i+1)
		clock.Advance(time.Second)
	}
	assert.False(t, l.Admit("alice"), "11th message inside the window must be rejected")
	assert.Equal(t, 10, l.Count("alice"))

	// Other users are unaffected
	assert.True(t, l.Admit("bob"))
}

func TestAdmitRecoversAfterOldestExpires(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 10, WithClock(clock.Now))

	for i := 0; i < 10; i++ {
		require.True(t, l.Admit("alice"))
	}
	require.False(t, l.Admit("alice"))

	clock.Advance(61 * time.Second)
	assert.True(t, l.Admit("alice"))
	assert.Equal(t, 1, l.Count("alice"))
}

func TestRejectionDoesNotMutateWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 2, WithClock(clock.Now))

	require.True(t, l.Admit("u"))
	clock.Advance(30 * time.Second)
	require.True(t, l.Admit("u"))

	for i := 0; i < 5; i++ {
		ok, retry := l.Reserve("u", false)
		require.False(t, ok)
		assert.Equal(t, 30*time.Second, retry)
	}
	assert.Equal(t, 2, l.Count("u"))

	// First stamp leaves the window, second stays
	clock.Advance(31 * time.Second)
	assert.True(t, l.Admit("u"))
	assert.False(t, l.Admit("u"))
}

func TestReserveFreshClearsWindow(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 3, WithClock(clock.Now))

	for i := 0; i < 3; i++ {
		require.True(t, l.Admit("u"))
	}
	require.False(t, l.Admit("u"))

	ok, _ := l.Reserve("u", true)
	assert.True(t, ok)
	assert.Equal(t, 1, l.Count("u"))
}

func TestReset(t *testing.T) {
	l := New(time.Minute, 1)
	require.True(t, l.Admit("u"))
	require.False(t, l.Admit("u"))

	l.Reset("u")
	assert.True(t, l.Admit("u"))
	l.Reset("nobody")
}

func TestSweepForgetsIdleUsers(t *testing.T) {
	clock := newFakeClock()
	l := New(time.Minute, 5, WithClock(clock.Now))

	l.Admit("idle")
	clock.Advance(50 * time.Second)
	l.Admit("active")
	clock.Advance(20 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 0, l.Count("idle"))
	assert.Equal(t, 1, l.Count("active"))
	assert.True(t, l.Admit("idle"))
}

func TestRejectCounter(t *testing.T) {
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_rejections_total"})
	l := New(time.Minute, 1, WithRejectCounter(counter))

	l.Admit("u")
	l.Admit("u")
	l.Admit("u")
	assert.Equal(t, float64(2), testutil.ToFloat64(counter))
}

func TestConcurrentAdmitNeverExceedsCapacity(t *testing.T) {
	l := New(time.Minute, 10)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := map[string]int{}

	for u := 0; u < 4; u++ {
		user := fmt.Sprintf("user-%d", u)
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if l.Admit(user) {
					mu.Lock()
					admitted[user]++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	for user, n := range admitted {
		assert.Equal(t, 10, n, "user %s", user)
	}
}
