package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

const (
	metricsPath        = "/metrics"
	healthCheckTimeout = 2 * time.Second
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metrics != nil {
		r.Handle(metricsPath, s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Delete("/", s.handleDeleteDevice)
				r.Get("/series", s.handleListSeries)
				r.Get("/series/{metric}", s.handleGetSeries)
				r.Get("/commands", s.handleListCommands)
				r.Post("/commands", s.handleSendCommand)
			})
		})

		r.Route("/commands", func(r chi.Router) {
			r.Post("/broadcast", s.handleBroadcast)
			r.Post("/stage", s.handleStageCommand)
			r.Post("/{cid}/confirm", s.handleConfirmCommand)
			r.Delete("/{cid}", s.handleCancelCommand)
		})

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", s.handleListNotifications)
			r.Delete("/", s.handleClearNotifications)
		})

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

type componentHealth struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// handleHealth reports session counts and the state of each collaborator.
// A failing collaborator degrades the status but the core keeps serving.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	components := make(map[string]componentHealth, len(names))
	for _, name := range names {
		if err := s.checks[name].HealthCheck(ctx); err != nil {
			status = "degraded"
			components[name] = componentHealth{Status: "error", Error: err.Error()}
			continue
		}
		components[name] = componentHealth{Status: "ok"}
	}

	clients := 0
	s.mu.Lock()
	if s.hub != nil {
		clients = s.hub.ClientCount()
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]any{
		"status":            status,
		"version":           s.version,
		"uptime_seconds":    int64(time.Since(s.startedAt).Seconds()),
		"components":        components,
		"session":           s.session.Stats(),
		"websocket_clients": clients,
	})
}
