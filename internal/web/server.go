// Package web serves the Core's REST contract. Authentication lives in
// the API gateway in front of this surface.
package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/shared"
	"github.com/swarmgrid/swarm-core/model"
)

type Server struct {
	router     chi.Router
	res        *shared.Resources
	wakeQueued chan<- struct{}
}

func NewServer(res *shared.Resources, wakeQueued chan<- struct{}) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		res:        res,
		wakeQueued: wakeQueued,
	}
	s.routes()
	return s
}

// Router exposes the handler for main.go.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.handleCreateUser)
		r.Get("/", s.handleListUsers)
		r.Get("/{id}", s.handleGetUser)
		r.Put("/{id}", s.handleUpdateUser)
		r.Delete("/{id}", s.handleDeleteUser)
	})

	r.Route("/jobs", func(r chi.Router) {
		r.Post("/", s.handleCreateJob)
		r.Get("/", s.handleListJobs)
		r.Get("/{id}", s.handleGetJob)
		r.Put("/{id}", s.handleUpdateJob)
		r.Delete("/{id}", s.handleDeleteJob)
		r.Get("/{id}/assignments", s.handleJobAssignments)
		r.Get("/{id}/results", s.handleJobResults)
		r.Get("/{id}/metrics", s.handleJobMetrics)
		r.Get("/{id}/logs", s.handleJobLogs)
		r.Get("/{id}/artifacts/*", s.handlePullArtifact)
	})

	r.Route("/workers", func(r chi.Router) {
		r.Post("/", s.handleRegisterWorker)
		r.Get("/", s.handleListWorkers)
		r.Get("/{id}", s.handleGetWorker)
		r.Delete("/{id}", s.handleDeleteWorker)
		r.Get("/{id}/status", s.handleWorkerStatus)
		r.Patch("/{id}/status", s.handlePatchWorkerStatus)
		r.Get("/{id}/assignments", s.handleWorkerAssignments)
	})

	r.Get("/worker-status", s.handleListWorkerStatus)
	r.Get("/assignments/{id}", s.handleGetAssignment)
	r.Get("/results/{id}", s.handleGetResult)
	r.Get("/logs", s.handleRecentLogs)

	r.Post("/lifecycle/{command}", s.handleLifecycle)
}

// handleLifecycle lets administrative callers request a transition
// through the manipulation inbox.
func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	var event model.CoreEvent
	switch chi.URLParam(r, "command") {
	case "restart":
		event = model.EventRestart
	case "shutdown":
		event = model.EventShutdown
	default:
		apperrors.WriteJSON(w, apperrors.Validation("command", "unknown lifecycle command"))
		return
	}
	s.res.Bus.Request(event)
	writeJSON(w, http.StatusAccepted, map[string]string{"requested": event.String()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation("id", "numeric id required")
	}
	return id, nil
}
