// Package ratelimit bounds how often one channel identity may interact,
// using a per-identity sliding one-minute window. State is in-memory and
// recreated on process restart.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Mode decides where enforcement happens relative to message processing.
// The original system computed the reply first and only logged violations;
// ModeAfter preserves that observable behavior, ModeBefore rejects the turn
// before the dialogue runs.
type Mode string

const (
	ModeBefore Mode = "before"
	ModeAfter  Mode = "after"
)

const (
	DefaultPerMinute = 5
	window           = time.Minute
	idleCutoff       = 10 * time.Minute
)

type entry struct {
	ts    time.Time
	count int
}

// Limiter guards all identities with one coarse lock, acceptable at clinic
// scale. The clock is injected so tests can drive the window.
type Limiter struct {
	mu      sync.Mutex
	windows map[string][]entry
	limit   int
	now     func() time.Time
}

func New(limit int, now func() time.Time) *Limiter {
	if limit <= 0 {
		limit = DefaultPerMinute
	}
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		windows: make(map[string][]entry),
		limit:   limit,
		now:     now,
	}
}

// Allow records one interaction for identity and reports whether it fits in
// the sliding window. A rejected interaction is not recorded.
func (l *Limiter) Allow(identity string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	windowStart := now.Add(-window)

	records := l.windows[identity]
	kept := records[:0]
	total := 0
	for _, e := range records {
		if e.ts.After(windowStart) {
			kept = append(kept, e)
			total += e.count
		}
	}

	if total >= l.limit {
		l.windows[identity] = kept
		return false
	}

	l.windows[identity] = append(kept, entry{ts: now, count: 1})
	return true
}

// Cleanup discards identities idle for longer than ten minutes.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-idleCutoff)
	for identity, records := range l.windows {
		kept := records[:0]
		for _, e := range records {
			if e.ts.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(l.windows, identity)
		} else {
			l.windows[identity] = kept
		}
	}
}

// RunCleanup runs Cleanup on every tick until ctx is cancelled. The caller
// owns the task; the limiter starts no goroutines of its own.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
