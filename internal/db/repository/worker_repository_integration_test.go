//go:build integration
// +build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/model"
	infra "github.com/swarmgrid/swarm-core/tests/integration_test/infra/db/repository"
)

func TestWorkerRepository_RegisterAndPulse(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	workers := NewWorkerRepository(testDB)
	user := createUser(t, "judy")

	w, err := workers.Register(ctx, &model.Worker{
		AdminID:   user.ID,
		Label:     "node-1",
		IPAddress: "10.0.0.1",
	})
	require.NoError(t, err)

	// Registration leaves the worker Offline until its first pulse.
	status, err := workers.GetStatus(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkerOffline, status.State)

	_, err = workers.Register(ctx, &model.Worker{AdminID: user.ID, Label: "node-1"})
	require.ErrorIs(t, err, apperrors.ErrConflict)

	now := time.Now().UTC()
	status, err = workers.RecordPulse(ctx, model.Pulse{
		WorkerID:   w.ID,
		UptimeSecs: 120,
		LoadAvg:    0.25,
		ReceivedAt: now,
	})
	require.NoError(t, err)
	require.Equal(t, model.WorkerIdle, status.State)
	require.EqualValues(t, 120, status.UptimeSecs)

	_, err = workers.RecordPulse(ctx, model.Pulse{WorkerID: w.ID + 999, ReceivedAt: now})
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestWorkerRepository_Candidates(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	workers := NewWorkerRepository(testDB)
	user := createUser(t, "karen")

	light := registerIdleWorker(t, user.ID, "light")
	heavy := registerIdleWorker(t, user.ID, "heavy")

	now := time.Now().UTC()
	_, err := workers.RecordPulse(ctx, model.Pulse{WorkerID: light.ID, LoadAvg: 0.1, ReceivedAt: now})
	require.NoError(t, err)
	_, err = workers.RecordPulse(ctx, model.Pulse{WorkerID: heavy.ID, LoadAvg: 0.9, ReceivedAt: now})
	require.NoError(t, err)

	candidates, err := workers.ListCandidates(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.Equal(t, light.ID, candidates[0].WorkerID)
	require.Equal(t, heavy.ID, candidates[1].WorkerID)
	require.Equal(t, user.ID, candidates[0].AdminID)

	// A stale cutoff filters both.
	candidates, err = workers.ListCandidates(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, candidates)
}

func TestWorkerRepository_SetStateTransitions(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	workers := NewWorkerRepository(testDB)
	user := createUser(t, "leo")
	w := registerIdleWorker(t, user.ID, "node-1")

	require.NoError(t, workers.SetState(ctx, w.ID, model.WorkerDraining, nil))

	// Draining cannot go straight back to Busy.
	err := workers.SetState(ctx, w.ID, model.WorkerBusy, nil)
	require.ErrorIs(t, err, apperrors.ErrIntegrityViolation)

	require.NoError(t, workers.SetState(ctx, w.ID, model.WorkerOffline, nil))
}

func TestWorkerRepository_ParkIdleAndStale(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	workers := NewWorkerRepository(testDB)
	user := createUser(t, "mallory")
	w := registerIdleWorker(t, user.ID, "node-1")

	// Not idle long enough.
	parked, err := workers.ParkIdle(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, parked)

	parked, err = workers.ParkIdle(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, []int64{w.ID}, parked)

	status, err := workers.GetStatus(ctx, w.ID)
	require.NoError(t, err)
	require.Equal(t, model.WorkerOffline, status.State)

	// Parked workers are already Offline, so the stale sweep skips them.
	stale, err := workers.ListStale(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, stale)
}
