package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/cache"
	"github.com/swarmgrid/swarm-core/model"
)

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var worker model.Worker
	if err := json.NewDecoder(r.Body).Decode(&worker); err != nil {
		apperrors.WriteJSON(w, apperrors.Validation("body", "invalid JSON"))
		return
	}
	created, err := s.res.Repos.Workers.Register(r.Context(), &worker)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	if adminParam := r.URL.Query().Get("adminId"); adminParam != "" {
		adminID, err := strconv.ParseInt(adminParam, 10, 64)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.Validation("adminId", "numeric id required"))
			return
		}
		workers, err := s.res.Repos.Workers.ListByAdmin(r.Context(), adminID)
		if err != nil {
			apperrors.WriteJSON(w, err)
			return
		}
		writeJSON(w, http.StatusOK, workers)
		return
	}
	workers, err := s.res.Repos.Workers.List(r.Context())
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	worker, err := s.res.Repos.Workers.GetByID(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if err := s.res.Repos.Workers.Delete(r.Context(), id); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	s.res.Cache.Delete(r.Context(), cache.WorkerStatusKey(id))
	w.WriteHeader(http.StatusNoContent)
}

// handleWorkerStatus serves the hot status view, cache first.
func (s *Server) handleWorkerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	var cached model.WorkerStatus
	if err := s.res.Cache.Get(r.Context(), cache.WorkerStatusKey(id), &cached); err == nil {
		writeJSON(w, http.StatusOK, &cached)
		return
	}
	status, err := s.res.Repos.Workers.GetStatus(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	_ = s.res.Cache.Put(r.Context(), cache.WorkerStatusKey(id), status, s.res.Cache.GetDefaultTTL())
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleListWorkerStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := s.res.Repos.Workers.ListStatuses(r.Context())
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}

// handlePatchWorkerStatus applies a field-patch state transition, used
// by operators to drain or fail a worker.
func (s *Server) handlePatchWorkerStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	var patch struct {
		State     model.WorkerState `json:"state"`
		LastError *string           `json:"lastError,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		apperrors.WriteJSON(w, apperrors.Validation("body", "invalid JSON"))
		return
	}
	if err := s.res.Repos.Workers.SetState(r.Context(), id, patch.State, patch.LastError); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	s.res.Cache.Delete(r.Context(), cache.WorkerStatusKey(id))
	status, err := s.res.Repos.Workers.GetStatus(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleWorkerAssignments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	assignments, err := s.res.Repos.Assignments.ListByWorker(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}
