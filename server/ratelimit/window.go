// Package ratelimit implements the per-user sliding window that caps how
// many messages a user may send in a fixed period.
package ratelimit

import (
	"sync"
	"time"

	"github.com/eapache/queue/v2"
	"github.com/prometheus/client_golang/prometheus"
)

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithRejectCounter counts rejected admissions.
func WithRejectCounter(c prometheus.Counter) Option {
	return func(l *Limiter) {
		l.rejected = c
	}
}

// Limiter keeps, per user, the timestamps of admitted messages that are
// still inside the window. State lives in memory for the process lifetime.
type Limiter struct {
	window   time.Duration
	capacity int
	now      func() time.Time
	rejected prometheus.Counter

	users sync.Map // user id -> *userWindow
}

type userWindow struct {
	mu     sync.Mutex
	stamps *queue.Queue[time.Time]
	dead   bool // removed from the map, callers must fetch a new window
}

// New creates a limiter admitting capacity messages per window.
func New(window time.Duration, capacity int, opts ...Option) *Limiter {
	l := &Limiter{
		window:   window,
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// lock returns the live window of userID with its mutex held.
func (l *Limiter) lock(userID string) *userWindow {
	for {
		v, ok := l.users.Load(userID)
		if !ok {
			v, _ = l.users.LoadOrStore(userID, &userWindow{stamps: queue.New[time.Time]()})
		}
		w := v.(*userWindow)
		w.mu.Lock()
		if !w.dead {
			return w
		}
		w.mu.Unlock()
	}
}

// evict drops timestamps that left the window. Caller holds w.mu.
func (l *Limiter) evict(w *userWindow, now time.Time) {
	for w.stamps.Length() > 0 && now.Sub(w.stamps.Peek()) > l.window {
		w.stamps.Remove()
	}
}

// Admit records a message for userID if the window has room.
func (l *Limiter) Admit(userID string) bool {
	ok, _ := l.Reserve(userID, false)
	return ok
}

// Reserve is Admit with two additions: fresh clears the user's window first
// (used for a user's first-ever message), and on rejection it returns how
// long until the oldest timestamp leaves the window. A rejection does not
// modify the window.
func (l *Limiter) Reserve(userID string, fresh bool) (bool, time.Duration) {
	w := l.lock(userID)
	defer w.mu.Unlock()

	now := l.now()
	if fresh {
		w.stamps = queue.New[time.Time]()
	}
	l.evict(w, now)

	if w.stamps.Length() < l.capacity {
		w.stamps.Add(now)
		return true, 0
	}

	if l.rejected != nil {
		l.rejected.Inc()
	}
	retry := l.window - now.Sub(w.stamps.Peek())
	if retry < 0 {
		retry = 0
	}
	return false, retry
}

// Reset clears the window of userID.
func (l *Limiter) Reset(userID string) {
	v, ok := l.users.Load(userID)
	if !ok {
		return
	}
	w := v.(*userWindow)
	w.mu.Lock()
	if !w.dead {
		w.dead = true
		l.users.Delete(userID)
	}
	w.mu.Unlock()
}

// Count returns how many admitted messages of userID are inside the window.
func (l *Limiter) Count(userID string) int {
	v, ok := l.users.Load(userID)
	if !ok {
		return 0
	}
	w := v.(*userWindow)
	w.mu.Lock()
	defer w.mu.Unlock()
	l.evict(w, l.now())
	return w.stamps.Length()
}

// Sweep forgets users whose window is empty so idle users do not pin memory.
func (l *Limiter) Sweep() int {
	removed := 0
	now := l.now()
	l.users.Range(func(key, value interface{}) bool {
		w := value.(*userWindow)
		w.mu.Lock()
		l.evict(w, now)
		if !w.dead && w.stamps.Length() == 0 {
			w.dead = true
			l.users.Delete(key)
			removed++
		}
		w.mu.Unlock()
		return true
	})
	return removed
}
