package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"indexwatch/internal/provider"
)

// MinInterval wraps a provider and enforces a minimum time between upstream
// calls. Concurrent calls wait until the interval has elapsed since the last
// call finished, or return early with provider.ErrNotDispatched if the
// context is canceled.
type MinInterval struct {
	P        provider.Provider
	Interval time.Duration
	Clock    clockwork.Clock

	mu   sync.Mutex
	last time.Time
}

var _ provider.Provider = (*MinInterval)(nil)

func (m *MinInterval) Name() string { return m.P.Name() }

func (m *MinInterval) FetchQuote(ctx context.Context, symbol string) (provider.Quote, error) {
	if err := m.wait(ctx); err != nil {
		return provider.Quote{}, err
	}
	defer m.mark()
	return m.P.FetchQuote(ctx, symbol)
}

func (m *MinInterval) FetchHistory(ctx context.Context, symbol string) ([]provider.HistoricalPoint, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	defer m.mark()
	return m.P.FetchHistory(ctx, symbol)
}

func (m *MinInterval) clock() clockwork.Clock {
	if m.Clock == nil {
		return clockwork.NewRealClock()
	}
	return m.Clock
}

func (m *MinInterval) wait(ctx context.Context) error {
	if m.Interval <= 0 {
		return nil
	}
	clock := m.clock()
	m.mu.Lock()
	wait := m.last.Add(m.Interval).Sub(clock.Now())
	m.mu.Unlock()
	if wait <= 0 {
		return nil
	}
	t := clock.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", provider.ErrNotDispatched, ctx.Err())
	case <-t.Chan():
		return nil
	}
}

func (m *MinInterval) mark() {
	if m.Interval <= 0 {
		return
	}
	now := m.clock().Now()
	m.mu.Lock()
	m.last = now
	m.mu.Unlock()
}
