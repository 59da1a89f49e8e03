package web

import (
	"encoding/json"
	"net/http"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/model"
)

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		apperrors.WriteJSON(w, apperrors.Validation("body", "invalid JSON"))
		return
	}
	created, err := s.res.Repos.Users.Create(r.Context(), &u)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if username := r.URL.Query().Get("username"); username != "" {
		u, err := s.res.Repos.Users.GetByUsername(r.Context(), username)
		if err != nil {
			apperrors.WriteJSON(w, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
		return
	}
	users, err := s.res.Repos.Users.List(r.Context())
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	u, err := s.res.Repos.Users.GetByID(r.Context(), id)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	var u model.User
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		apperrors.WriteJSON(w, apperrors.Validation("body", "invalid JSON"))
		return
	}
	u.ID = id
	updated, err := s.res.Repos.Users.Update(r.Context(), &u)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	if err := s.res.Repos.Users.Delete(r.Context(), id); err != nil {
		apperrors.WriteJSON(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
