package main

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"indexwatch/internal/broadcast"
)

func newRouter(a *api, scheduler *broadcast.Scheduler, throttle *ipThrottle, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(hlog.NewHandler(log))
	r.Use(withRequestID)
	r.Use(hlog.AccessHandler(accessLog))
	r.Use(recoverPanic)
	r.MethodNotAllowed(a.handleMethodNotAllowed)
	r.NotFound(a.handleNotFound)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	mountAPI := func(r chi.Router) {
		r.Use(withJSONHeaders)
		r.Use(withGzip)
		if throttle != nil {
			r.Use(throttle.middleware)
		}
		r.Get("/indices", a.handleList)
		r.Get("/indices/{symbol}", a.handleDetail)
		r.Get("/cache/stats", a.handleCacheStats)
		for _, path := range []string{"/indices", "/indices/{symbol}", "/cache/stats"} {
			// withJSONHeaders answers preflight before this runs
			r.Options(path, func(http.ResponseWriter, *http.Request) {})
		}
	}
	r.Route("/api", func(r chi.Router) {
		r.MethodNotAllowed(a.handleMethodNotAllowed)
		r.NotFound(a.handleNotFound)
		r.Get("/ws", broadcast.Handler(scheduler, a.clock))
		r.Group(mountAPI)
	})
	r.Group(mountAPI)

	return r
}

func accessLog(r *http.Request, status, size int, duration time.Duration) {
	hlog.FromRequest(r).Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("request")
}
