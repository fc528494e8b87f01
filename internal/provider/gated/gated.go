// Package gated wraps an upstream provider with a TTL cache and a quota
// check so that cached reads never consume upstream allowance.
package gated

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"indexwatch/internal/metrics"
	"indexwatch/internal/provider"
	"indexwatch/internal/provider/cache"
	"indexwatch/internal/provider/ratelimit"
)

const (
	endpointQuote   = "quote"
	endpointHistory = "historical"
)

// QuoteKey and HistoryKey are the cache keys used for a symbol.
func QuoteKey(symbol string) string   { return endpointQuote + ":" + symbol }
func HistoryKey(symbol string) string { return endpointHistory + ":" + symbol }

type Config struct {
	QuoteTTL   time.Duration // default 60s
	HistoryTTL time.Duration // default 300s
	// FetchTimeout bounds one upstream flight, which is detached from the
	// caller that started it. Default 30s.
	FetchTimeout time.Duration
	// QuotaKey partitions the limiter; empty means ratelimit.DefaultKey.
	QuotaKey string
}

// Fetcher is the single path to the upstream provider.
type Fetcher struct {
	cfg     Config
	p       provider.Provider
	quota   ratelimit.Limiter
	quotes  *cache.Cache[provider.Quote]
	history *cache.Cache[[]provider.HistoricalPoint]
	log     zerolog.Logger

	sf singleflight.Group
	// dispatchMu makes check, dispatch and record one step so concurrent
	// misses cannot both pass a check that only one of them fits in.
	dispatchMu sync.Mutex
}

func New(
	p provider.Provider,
	quota ratelimit.Limiter,
	quotes *cache.Cache[provider.Quote],
	history *cache.Cache[[]provider.HistoricalPoint],
	cfg Config,
	log zerolog.Logger,
) *Fetcher {
	if cfg.QuoteTTL <= 0 {
		cfg.QuoteTTL = 60 * time.Second
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 30 * time.Second
	}
	if cfg.QuotaKey == "" {
		cfg.QuotaKey = ratelimit.DefaultKey
	}
	return &Fetcher{
		cfg:     cfg,
		p:       p,
		quota:   quota,
		quotes:  quotes,
		history: history,
		log:     log.With().Str("component", "gated").Str("provider", p.Name()).Logger(),
	}
}

// Quote returns the live quote for symbol.
func (f *Fetcher) Quote(ctx context.Context, symbol string) (provider.Quote, error) {
	symbol = normalize(symbol)
	return fetch(ctx, f, f.quotes, endpointQuote, symbol, f.cfg.QuoteTTL,
		func(ctx context.Context) (provider.Quote, error) { return f.p.FetchQuote(ctx, symbol) },
		func(q provider.Quote) bool { return q.Symbol != "" },
	)
}

// History returns the daily series for symbol, oldest point first.
func (f *Fetcher) History(ctx context.Context, symbol string) ([]provider.HistoricalPoint, error) {
	symbol = normalize(symbol)
	return fetch(ctx, f, f.history, endpointHistory, symbol, f.cfg.HistoryTTL,
		func(ctx context.Context) ([]provider.HistoricalPoint, error) { return f.p.FetchHistory(ctx, symbol) },
		func(h []provider.HistoricalPoint) bool { return len(h) > 0 },
	)
}

// Usage reports the quota usage of the fetcher's key.
func (f *Fetcher) Usage(ctx context.Context) (ratelimit.Usage, error) {
	return f.quota.Usage(ctx, f.cfg.QuotaKey)
}

// CacheStats sums the stats of the quote and history caches.
func (f *Fetcher) CacheStats() cache.Stats {
	q, h := f.quotes.Stats(), f.history.Stats()
	return cache.Stats{
		TotalEntries:   q.TotalEntries + h.TotalEntries,
		ValidEntries:   q.ValidEntries + h.ValidEntries,
		ExpiredEntries: q.ExpiredEntries + h.ExpiredEntries,
	}
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func fetch[V any](
	ctx context.Context,
	f *Fetcher,
	c *cache.Cache[V],
	endpoint, symbol string,
	ttl time.Duration,
	call func(context.Context) (V, error),
	valid func(V) bool,
) (V, error) {
	key := endpoint + ":" + symbol
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	// callers share the flight, so one caller going away must not fail the rest
	flight := f.sf.DoChan(key, func() (any, error) {
		// another flight may have filled the cache while we were queued
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.cfg.FetchTimeout)
		defer cancel()
		return dispatch(fctx, f, c, endpoint, key, ttl, call, valid)
	})

	var zero V
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-flight:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	}
}

func dispatch[V any](
	ctx context.Context,
	f *Fetcher,
	c *cache.Cache[V],
	endpoint, key string,
	ttl time.Duration,
	call func(context.Context) (V, error),
	valid func(V) bool,
) (V, error) {
	var zero V

	f.dispatchMu.Lock()
	defer f.dispatchMu.Unlock()

	decision, err := f.quota.CanMakeRequest(ctx, f.cfg.QuotaKey)
	if err != nil {
		return zero, fmt.Errorf("check quota for %s: %w", key, err)
	}
	if !decision.Allowed {
		metrics.QuotaRejections.WithLabelValues(string(decision.Scope)).Inc()
		f.log.Warn().Str("key", key).Str("reason", decision.Reason).
			Dur("retry_after", decision.RetryAfter).Msg("upstream request refused by quota")
		return zero, decision.Err()
	}

	timer := prometheus.NewTimer(metrics.UpstreamDuration.WithLabelValues(endpoint))
	v, callErr := call(ctx)
	timer.ObserveDuration()

	switch {
	case errors.Is(callErr, provider.ErrNotConfigured):
		metrics.UpstreamRequests.WithLabelValues(endpoint, "not_configured").Inc()
		return zero, callErr
	case errors.Is(callErr, provider.ErrNotDispatched):
		metrics.UpstreamRequests.WithLabelValues(endpoint, "not_dispatched").Inc()
		return zero, callErr
	}

	// the request went out, whatever came back
	if err := f.quota.RecordRequest(ctx, f.cfg.QuotaKey); err != nil {
		f.log.Error().Err(err).Str("key", key).Msg("failed to record upstream request")
	}

	switch {
	case errors.Is(callErr, provider.ErrNoData):
		metrics.UpstreamRequests.WithLabelValues(endpoint, "no_data").Inc()
		return zero, fmt.Errorf("%s: %w", key, provider.ErrNoData)
	case callErr != nil:
		metrics.UpstreamRequests.WithLabelValues(endpoint, "error").Inc()
		return zero, callErr
	case !valid(v):
		metrics.UpstreamRequests.WithLabelValues(endpoint, "no_data").Inc()
		return zero, fmt.Errorf("%s: %w", key, provider.ErrNoData)
	}

	metrics.UpstreamRequests.WithLabelValues(endpoint, "ok").Inc()
	c.SetWithTTL(key, v, ttl)
	return v, nil
}
