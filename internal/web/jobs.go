package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/model"
)

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apperrors.WriteJSON(w, apperrors.Validation("body", "invalid JSON"))
		return
	}
	job, err := s.res.Repos.Jobs.Create(r.Context(), req)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	// Wake the scheduler so a fresh submission does not wait out a tick.
	select {
	case s.wakeQueued <- struct{}{}:
	default:
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if userParam := r.URL.Query().Get("userId"); userParam != "" {
		userID, err := strconv.ParseInt(userParam, 10, 64)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.Validation("userId", "numeric id required"))
			return
		}
		jobs, err := s.res.Repos.Jobs.ListByUser(r.Context(), userID)
		if err != nil {
			apperrors.WriteJSON(w, err)
			return
		}
		writeJSON(w, http.StatusOK, jobs)
		return
	}

	var beforeID int64
	if beforeParam := r.URL.Query().Get("before"); beforeParam != "" {
		id, err := strconv.ParseInt(beforeParam, 10, 64)
		if err != nil {
			apperrors.WriteJSON(w, apperrors.Validation("before", "numeric id required"))
			return
		}
		beforeID = id
	}
	jobs, err := s.res.Repos.Jobs.List(r.Context(), beforeID)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	job, err := s.res.Repos.Jobs.GetByID(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleUpdateJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	var job model.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		apperrors.WriteJSON(w, apperrors.Validation("body", "invalid JSON"))
		return
	}
	job.ID = id
	updated, err := s.res.Repos.Jobs.UpdateMeta(r.Context(), &job)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if err := s.res.Repos.Jobs.Delete(r.Context(), id); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handlePullArtifact streams an artifact from hot storage for
// pull-style retrieval.
func (s *Server) handlePullArtifact(w http.ResponseWriter, r *http.Request) {
	if _, err := pathID(r); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	key := chi.URLParam(r, "*")
	if key == "" {
		apperrors.WriteJSON(w, apperrors.Validation("key", "artifact key required"))
		return
	}
	data, err := s.res.Storage.Download(r.Context(), key)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
