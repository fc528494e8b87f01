package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/hlog"

	"indexwatch/internal/provider"
	"indexwatch/internal/provider/cache"
	"indexwatch/internal/provider/ratelimit"
)

const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

type indexReader interface {
	All(ctx context.Context) ([]provider.Quote, error)
	Detail(ctx context.Context, symbol string) (provider.QuoteDetail, error)
}

type quotaReporter interface {
	Usage(ctx context.Context) (ratelimit.Usage, error)
	CacheStats() cache.Stats
}

type api struct {
	indices indexReader
	gate    quotaReporter
	clock   clockwork.Clock
}

// envelope is the body of every API response.
type envelope struct {
	Success   bool             `json:"success"`
	Data      any              `json:"data,omitempty"`
	Error     string           `json:"error,omitempty"`
	Timestamp string           `json:"timestamp,omitempty"`
	RateLimit *ratelimit.Usage `json:"rateLimit,omitempty"`
}

type cacheStatsData struct {
	cache.Stats
	RateLimit *ratelimit.Usage `json:"rateLimit,omitempty"`
}

func (a *api) handleList(w http.ResponseWriter, r *http.Request) {
	quotes, err := a.indices.All(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeData(w, r, quotes)
}

func (a *api) handleDetail(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "symbol")))
	detail, err := a.indices.Detail(r.Context(), symbol)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeData(w, r, detail)
}

func (a *api) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Data:      cacheStatsData{Stats: a.gate.CacheStats(), RateLimit: a.usage(r)},
		Timestamp: a.now(),
	})
}

func (a *api) handleMethodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "GET, OPTIONS")
	writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: "Method not allowed"})
}

func (a *api) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusNotFound, envelope{Error: "Not found"})
}

func (a *api) writeData(w http.ResponseWriter, r *http.Request, data any) {
	writeJSON(w, http.StatusOK, envelope{
		Success:   true,
		Data:      data,
		Timestamp: a.now(),
		RateLimit: a.usage(r),
	})
}

func (a *api) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	log := hlog.FromRequest(r)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request failed")
	} else {
		log.Warn().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request refused")
	}

	var exceeded *ratelimit.ExceededError
	if errors.As(err, &exceeded) {
		w.Header().Set("Retry-After", strconv.Itoa(exceeded.RetryAfterSeconds()))
	}
	writeJSON(w, status, envelope{Error: msg, RateLimit: a.usage(r)})
}

// usage is best effort; a failing quota store only drops the block.
func (a *api) usage(r *http.Request) *ratelimit.Usage {
	u, err := a.gate.Usage(r.Context())
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("failed to read quota usage")
		return nil
	}
	return &u
}

func (a *api) now() string {
	return a.clock.Now().UTC().Format(timestampLayout)
}

// statusFor maps a read error to its HTTP status and public message.
func statusFor(err error) (int, string) {
	var exceeded *ratelimit.ExceededError
	var transport *provider.TransportError
	switch {
	case errors.As(err, &exceeded):
		return http.StatusTooManyRequests, exceeded.Reason
	case errors.Is(err, provider.ErrNoData):
		return http.StatusNotFound, "Index not found"
	case errors.Is(err, provider.ErrNotConfigured):
		return http.StatusInternalServerError, err.Error()
	case errors.As(err, &transport):
		return http.StatusBadGateway, err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "Request canceled"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(body)
}

