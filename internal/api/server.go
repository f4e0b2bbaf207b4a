// Meridian - Multi-Tenant Platform Synchronization Engine
// Copyright 2026 Meridian Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/meridianhq/meridian

// Package api exposes the admin HTTP surface: health, metrics, job config,
// manual triggers, and the authorization flow endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/meridianhq/meridian/internal/logging"
)

// Config holds server settings.
type Config struct {
	Timeout         time.Duration
	RateLimitReqs   int
	RateLimitWindow time.Duration
}

// Server is the admin HTTP API.
type Server struct {
	router   chi.Router
	handlers *Handlers
}

// NewServer builds the router around the handler set.
func NewServer(cfg Config, handlers *Handlers) *Server {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimitReqs <= 0 {
		cfg.RateLimitReqs = 100
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	r.Get("/healthz", handlers.Healthz)
	r.Get("/readyz", handlers.Readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(cfg.RateLimitReqs, cfg.RateLimitWindow))

		r.Get("/jobs", handlers.ListJobs)
		r.Put("/jobs", handlers.PutJob)
		r.Post("/sync/trigger", handlers.TriggerSync)

		r.Get("/authorize-url", handlers.AuthorizeURL)
		r.Post("/authorize", handlers.Authorize)

		r.Get("/tenants/{tenant}/leads", handlers.ListLeads)
		r.Get("/tenants/{tenant}/campaigns", handlers.ListCampaigns)
		r.Delete("/tenants/{tenant}/providers/{provider}", handlers.Disconnect)
	})

	return &Server{router: r, handlers: handlers}
}

// Handler returns the root handler for the HTTP service.
func (s *Server) Handler() http.Handler {
	return s.router
}

// requestLogger logs one line per request with the structured logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logging.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// writeJSON encodes a response body. Encode failures are logged; headers are
// already gone by then.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logging.Warn().Err(err).Msg("Failed to encode response")
	}
}

// writeError sends a JSON error envelope.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
