package apperrors

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindClassification(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{NotFound("job", 9), "NotFound"},
		{Conflict("worker", "claimed concurrently"), "Conflict"},
		{Validation("cronExpr", "five fields required"), "Validation"},
		{StoreUnavailable("jobs.List", errors.New("dial refused")), "StoreUnavailable"},
		{WorkerUnreachable(3, errors.New("timeout")), "WorkerUnreachable"},
		{StaleFrame(9), "StaleFrame"},
		{Integrity("worker_status.SetState", "illegal transition"), "IntegrityViolation"},
		{Internal("archive", errors.New("boom")), "Internal"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, Kind(tc.err), tc.err.Error())
	}
}

func TestSentinelUnwrapping(t *testing.T) {
	err := NotFound("job", 9)
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrConflict)
}

func TestStatusMapping(t *testing.T) {
	require.Equal(t, http.StatusNotFound, Status(NotFound("job", 9)))
	require.Equal(t, http.StatusConflict, Status(Conflict("worker", "busy")))
	require.Equal(t, http.StatusBadRequest, Status(Validation("id", "numeric")))
	require.Equal(t, http.StatusServiceUnavailable, Status(StoreUnavailable("op", errors.New("x"))))
	require.Equal(t, http.StatusInternalServerError, Status(errors.New("anything else")))
}

func TestWriteJSONEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, NotFound("job", 42))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t,
		`{"error":{"kind":"NotFound","message":"job 42 not found"}}`,
		rec.Body.String())
}
