// SPDX-License-Identifier: MIT

// Package api exposes the recording scheduler over HTTP.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ottrec/ottrec/internal/scheduler"
)

// Server holds the HTTP surface dependencies.
type Server struct {
	svc       *scheduler.Service
	logger    zerolog.Logger
	rateLimit int
}

// NewServer constructs the HTTP server. rateLimit is requests per minute per
// client IP on /api; zero disables limiting.
func NewServer(svc *scheduler.Service, rateLimit int, logger zerolog.Logger) *Server {
	return &Server{svc: svc, logger: logger, rateLimit: rateLimit}
}

// Router builds the chi routing tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.Limit(
				s.rateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "application/json")
					w.Header().Set("Retry-After", fmt.Sprintf("%d", 60))
					w.WriteHeader(http.StatusTooManyRequests)
					_, _ = w.Write([]byte(`{"error":"rate_limit_exceeded"}`))
				}),
			))
		}

		r.Route("/recordings", func(r chi.Router) {
			r.Get("/", s.handleListRecordings)
			r.Post("/", s.handleScheduleRecording)
			r.Get("/upcoming", s.handleUpcoming)
			r.Get("/conflicts", s.handleConflicts)
			r.Get("/{id}", s.handleGetRecording)
			r.Put("/{id}", s.handleUpdateRecording)
			r.Delete("/{id}", s.handleCancelRecording)
		})

		r.Route("/series", func(r chi.Router) {
			r.Get("/", s.handleListRules)
			r.Post("/", s.handleAddRule)
			r.Post("/run", s.handleRunAllRules)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
			r.Post("/{id}/run", s.handleRunRule)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
