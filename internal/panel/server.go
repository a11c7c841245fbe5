// Package panel exposes the dashboard over a JSON HTTP API plus SSE
// streams for live scenario events.
package panel

import (
	"log/slog"
	"net/http"
	"os"

	"github.com/pulsekit/pulseboard/internal/bridge"
	"github.com/pulsekit/pulseboard/internal/dataset"
	"github.com/pulsekit/pulseboard/internal/engine"
	"github.com/pulsekit/pulseboard/internal/expressions"
	"github.com/pulsekit/pulseboard/internal/scheduler"
	"github.com/pulsekit/pulseboard/internal/session"
	"github.com/pulsekit/pulseboard/internal/store"
	"github.com/pulsekit/pulseboard/internal/streaming"
)

// Deps holds the dependencies for the panel server.
type Deps struct {
	Store        store.Store
	Orchestrator engine.Orchestrator
	Bridge       *bridge.Bridge
	Sessions     *session.Manager
	Scheduler    *scheduler.Scheduler
	Hub          streaming.EventHub
	Dataset      *dataset.Frame
	Logger       *slog.Logger
}

// Server serves the dashboard API.
type Server struct {
	deps Deps
	jq   *expressions.GoJQEngine
}

// NewServer creates a Server. The jq engine backs the ?path= projection
// on node reads.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return &Server{
		deps: deps,
		jq:   expressions.NewGoJQEngine(),
	}
}

// Handler returns the HTTP handler for all panel routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Scenarios.
	mux.HandleFunc("GET /api/scenarios", s.handleListScenarios)
	mux.HandleFunc("POST /api/scenarios", s.handleCreateScenario)
	mux.HandleFunc("GET /api/scenarios/{id}", s.handleScenarioDetail)
	mux.HandleFunc("DELETE /api/scenarios/{id}", s.handleDiscardScenario)
	mux.HandleFunc("POST /api/scenarios/{id}/submit", s.handleSubmitScenario)
	mux.HandleFunc("GET /api/scenarios/{id}/events", s.handleScenarioEvents)

	// Data nodes.
	mux.HandleFunc("GET /api/scenarios/{id}/nodes/{name}", s.handleReadNode)
	mux.HandleFunc("PUT /api/scenarios/{id}/nodes/{name}", s.handleWriteNode)

	// Sessions (presentation state).
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleSessionView)
	mux.HandleFunc("PUT /api/sessions/{id}/filter", s.handleSetFilter)
	mux.HandleFunc("POST /api/sessions/{id}/commit", s.handleCommitSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleRemoveSession)

	// Scheduled refreshes.
	mux.HandleFunc("GET /api/scheduler", s.handleListJobs)
	mux.HandleFunc("POST /api/scheduler", s.handleCreateJob)
	mux.HandleFunc("PUT /api/scheduler/{id}", s.handleUpdateJob)
	mux.HandleFunc("DELETE /api/scheduler/{id}", s.handleDeleteJob)

	// SSE streams.
	mux.HandleFunc("GET /sse/events", s.handleSSEGlobal)
	mux.HandleFunc("GET /sse/scenarios/{id}", s.handleSSEScenario)

	return mux
}
