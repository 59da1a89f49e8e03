package apperrors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Status maps an error kind to an HTTP status code.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrTimeoutExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

type errBody struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type errEnvelope struct {
	Error errBody `json:"error"`
}

// WriteJSON renders the canonical error envelope {"error":{kind,message}}.
func WriteJSON(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(Status(err))
	_ = json.NewEncoder(w).Encode(errEnvelope{
		Error: errBody{Kind: Kind(err), Message: err.Error()},
	})
}
