package web

import (
	"net/http"
	"strconv"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
)

func (s *Server) handleJobAssignments(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	assignments, err := s.res.Repos.Assignments.ListByJob(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignments)
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	assignment, err := s.res.Repos.Assignments.GetByID(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

// handleJobResults lists a job's results, most recent first.
func (s *Server) handleJobResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	results, err := s.res.Repos.Results.ListByJob(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	result, err := s.res.Repos.Results.GetByID(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleJobMetrics lists a job's metric series in chronological order.
func (s *Server) handleJobMetrics(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	metrics, err := s.res.Repos.Metrics.ListByJob(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, metrics)
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	logs, err := s.res.Repos.Logs.ListByJob(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleRecentLogs serves the newest log rows, bounded by ?limit.
func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
		n, err := strconv.Atoi(limitParam)
		if err != nil || n <= 0 || n > 1000 {
			apperrors.WriteJSON(w, apperrors.Validation("limit", "limit must be 1-1000"))
			return
		}
		limit = n
	}
	logs, err := s.res.Repos.Logs.ListRecent(r.Context(), limit)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}
