package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"indexwatch/internal/broadcast"
	"indexwatch/internal/config"
	"indexwatch/internal/httpx"
	"indexwatch/internal/indices"
	"indexwatch/internal/logging"
	"indexwatch/internal/provider"
	"indexwatch/internal/provider/alphavantage"
	"indexwatch/internal/provider/alphavantageadapter"
	"indexwatch/internal/provider/cache"
	"indexwatch/internal/provider/gated"
	"indexwatch/internal/provider/ratelimit"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	if cfg.AlphaVantage.APIKey == "" {
		log.Warn().Msg("ALPHA_VANTAGE_API_KEY not set; every upstream fetch will fail")
	}

	httpClient := httpx.New(cfg.Server.RequestTimeout())
	avClient, err := alphavantage.NewAPIClient(
		cfg.AlphaVantage.APIKey,
		alphavantage.WithBaseURL(cfg.AlphaVantage.BaseURL),
		alphavantage.WithHTTPClient(httpClient),
		alphavantage.WithHeader(http.Header{"User-Agent": []string{httpx.DefaultUserAgent}}),
	)
	if err != nil {
		return fmt.Errorf("alpha vantage client: %w", err)
	}
	var upstream provider.Provider = alphavantageadapter.New(alphavantageadapter.Config{}, avClient)
	if interval := cfg.AlphaVantage.MinRequestInterval(); interval > 0 {
		upstream = &ratelimit.MinInterval{P: upstream, Interval: interval, Clock: clock}
	}

	quota, closeQuota, err := newLimiter(ctx, cfg.Quota, clock, log)
	if err != nil {
		return err
	}
	defer closeQuota()

	quotes := cache.New[provider.Quote]("quotes", cfg.Cache.TTL(), clock)
	history := cache.New[[]provider.HistoricalPoint]("history", cfg.Cache.HistoryTTL(), clock)
	stopQuotesSweep := quotes.StartSweeper(cfg.Cache.SweepInterval(), log)
	defer stopQuotesSweep()
	stopHistorySweep := history.StartSweeper(cfg.Cache.SweepInterval(), log)
	defer stopHistorySweep()

	fetcher := gated.New(upstream, quota, quotes, history, gated.Config{
		QuoteTTL:   cfg.Cache.TTL(),
		HistoryTTL: cfg.Cache.HistoryTTL(),
	}, log)
	service := indices.NewService(fetcher, cfg.AlphaVantage.Symbols, log)

	scheduler := broadcast.NewScheduler(service, broadcast.Config{
		PollInterval:      cfg.Broadcast.PollInterval(),
		HeartbeatInterval: cfg.Broadcast.HeartbeatInterval(),
	}, clock, log)
	defer scheduler.Stop()

	var throttle *ipThrottle
	if cfg.Server.RefreshRatePerSec > 0 {
		throttle = newIPThrottle(cfg.Server.RefreshRatePerSec, cfg.Server.RefreshBurst, clock)
		stopThrottleSweep := throttle.limiters.StartSweeper(throttleExpiry, log)
		defer stopThrottleSweep()
	}

	a := &api{indices: service, gate: fetcher, clock: clock}
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           newRouter(a, scheduler, throttle, log),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Strs("symbols", service.Symbols()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	// websocket connections are hijacked, Shutdown does not wait for them
	scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// newLimiter returns the Redis-backed limiter when a URL is configured and
// the in-memory one otherwise.
func newLimiter(ctx context.Context, cfg config.Quota, clock clockwork.Clock, log zerolog.Logger) (ratelimit.Limiter, func(), error) {
	limits := cfg.Limits()
	if cfg.RedisURL == "" {
		log.Info().Msg("quota counters kept in memory")
		return ratelimit.NewMemoryLimiter(limits, clock), func() {}, nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	log.Info().Str("addr", opts.Addr).Msg("quota counters kept in redis")
	return ratelimit.NewRedisLimiter(rdb, limits), func() { _ = rdb.Close() }, nil
}
