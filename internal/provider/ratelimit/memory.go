package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// quotaWindow is the live state of one (scope, key) window.
type quotaWindow struct {
	count   int
	resetAt time.Time
}

// active reports whether the window still counts against the quota.
func (w *quotaWindow) active(now time.Time) bool {
	return now.Before(w.resetAt)
}

// MemoryLimiter keeps quota windows in process memory.
type MemoryLimiter struct {
	limits Limits
	clock  clockwork.Clock

	mu      sync.Mutex
	windows map[Scope]map[string]*quotaWindow
}

var _ Limiter = (*MemoryLimiter)(nil)

// NewMemoryLimiter creates an in-memory dual-window limiter.
func NewMemoryLimiter(limits Limits, clock clockwork.Clock) *MemoryLimiter {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLimiter{
		limits:  limits,
		clock:   clock,
		windows: newWindows(),
	}
}

func newWindows() map[Scope]map[string]*quotaWindow {
	return map[Scope]map[string]*quotaWindow{
		ScopeShort: {},
		ScopeLong:  {},
	}
}

// CanMakeRequest checks the short window, then the long one. Expired
// windows do not block and are left in place for RecordRequest to replace.
func (m *MemoryLimiter) CanMakeRequest(_ context.Context, key string) (Decision, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range []Scope{ScopeShort, ScopeLong} {
		w, ok := m.windows[s][key]
		if !ok || !w.active(now) {
			continue
		}
		if w.count >= m.limits.window(s).Limit {
			return Decision{
				Allowed:    false,
				Scope:      s,
				Reason:     reasonFor(s),
				RetryAfter: w.resetAt.Sub(now),
			}, nil
		}
	}
	return Decision{Allowed: true}, nil
}

// RecordRequest counts one dispatched request against both windows.
// A missing or expired window is replaced by a fresh one anchored at now.
func (m *MemoryLimiter) RecordRequest(_ context.Context, key string) error {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range []Scope{ScopeShort, ScopeLong} {
		if w, ok := m.windows[s][key]; ok && w.active(now) {
			w.count++
			continue
		}
		m.windows[s][key] = &quotaWindow{count: 1, resetAt: now.Add(m.limits.window(s).Duration)}
	}
	return nil
}

// Usage reports active counts; absent or expired windows count as zero.
func (m *MemoryLimiter) Usage(_ context.Context, key string) (Usage, error) {
	now := m.clock.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	count := func(s Scope) int {
		if w, ok := m.windows[s][key]; ok && w.active(now) {
			return w.count
		}
		return 0
	}
	return Usage{
		ShortUsage: count(ScopeShort),
		ShortLimit: m.limits.Short.Limit,
		LongUsage:  count(ScopeLong),
		LongLimit:  m.limits.Long.Limit,
	}, nil
}

// Reset drops every window.
func (m *MemoryLimiter) Reset(_ context.Context) error {
	m.mu.Lock()
	m.windows = newWindows()
	m.mu.Unlock()
	return nil
}
