package ratelimit

import (
	"math"
	"sync"
	"time"
)

// DefaultWindow is the admission window applied when none is configured.
const DefaultWindow = time.Minute

type entry struct {
	count         int
	windowResetAt time.Time
}

// Decision is the outcome of a Check.
type Decision struct {
	Allowed bool
	// RetryAfterSeconds is the whole-second ceiling of the remaining window
	// when denied.
	RetryAfterSeconds int
}

// Limiter is a fixed-window counter keyed by arbitrary strings.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	window time.Duration
	max    int

	sweepStop chan struct{}

	// now is swapped in tests.
	now func() time.Time
}

// New creates a limiter admitting max checks per key per window. A zero
// window means DefaultWindow.
func New(max int, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{
		entries: make(map[string]*entry),
		window:  window,
		max:     max,
		now:     time.Now,
	}
}

// Check admits or denies one request for key.
func (l *Limiter) Check(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.entries[key]
	if !ok || !now.Before(e.windowResetAt) {
		l.entries[key] = &entry{count: 1, windowResetAt: now.Add(l.window)}
		return Decision{Allowed: true}
	}
	if e.count < l.max {
		e.count++
		return Decision{Allowed: true}
	}
	remaining := e.windowResetAt.Sub(now)
	return Decision{
		Allowed:           false,
		RetryAfterSeconds: int(math.Ceil(remaining.Seconds())),
	}
}

// Cleanup removes entries whose window has already expired.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	removed := 0
	for key, e := range l.entries {
		if !now.Before(e.windowResetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartSweeper runs Cleanup on the given interval until StopSweeper.
func (l *Limiter) StartSweeper(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sweepStop != nil {
		return
	}
	if interval <= 0 {
		interval = l.window
	}
	stop := make(chan struct{})
	l.sweepStop = stop
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

// StopSweeper stops the background sweeper.
func (l *Limiter) StopSweeper() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sweepStop != nil {
		close(l.sweepStop)
		l.sweepStop = nil
	}
}
