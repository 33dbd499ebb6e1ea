// Package gateway is the mission control HTTP API server.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dohr-michael/missionctl/internal/activation"
	"github.com/dohr-michael/missionctl/internal/apierr"
	"github.com/dohr-michael/missionctl/internal/dispatch"
	"github.com/dohr-michael/missionctl/internal/events"
	"github.com/dohr-michael/missionctl/internal/lifecycle"
	"github.com/dohr-michael/missionctl/internal/store"
)

// Server is the mission control API server.
type Server struct {
	httpServer *http.Server
	store      *store.Store
	controller *lifecycle.Controller
	engine     *dispatch.Engine
	orch       *activation.Orchestrator
	bus        *events.Bus
}

// NewServer wires the router and handlers.
func NewServer(st *store.Store, controller *lifecycle.Controller, engine *dispatch.Engine, orch *activation.Orchestrator, bus *events.Bus, host string, port int) *Server {
	s := &Server{
		store:      st,
		controller: controller,
		engine:     engine,
		orch:       orch,
		bus:        bus,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Get("/api/health", s.handleHealth)
	r.Get("/api/events", s.handleEvents)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", s.handleCreateTask)
		r.Get("/", s.handleListTasks)
		r.Get("/{id}", s.handleGetTask)
		r.Patch("/{id}", s.handlePatchTask)
		r.Delete("/{id}", s.handleDeleteTask)
		r.Post("/{id}/dispatch", s.handleDispatch)
		r.Get("/{id}/events", s.handleTaskEvents)
		r.Post("/{id}/questions", s.handlePlanningQuestion)
		r.Post("/{id}/lock-spec", s.handleLockSpec)
	})

	r.Post("/workspaces/activate", s.handleActivate)
	r.Get("/task-types", s.handleTaskTypes)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("mission control API listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		fmt.Sscanf(v, "%d", &limit)
	}
	history := s.bus.History(limit)
	if history == nil {
		history = []events.Event{}
	}
	writeJSON(w, http.StatusOK, history)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierr.Status(err)
	body := map[string]any{"error": err.Error()}

	var ce *apierr.ConflictError
	if errors.As(err, &ce) && len(ce.ConflictingAgents) > 0 {
		body["conflicting_agents"] = ce.ConflictingAgents
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, body)
}
