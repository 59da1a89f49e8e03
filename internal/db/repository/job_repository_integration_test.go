//go:build integration
// +build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/db"
	"github.com/swarmgrid/swarm-core/model"
	tdb "github.com/swarmgrid/swarm-core/tests/integration_test/infra/db"
	infra "github.com/swarmgrid/swarm-core/tests/integration_test/infra/db/repository"
)

var (
	testDB *db.DB
	pgPool *pgxpool.Pool
)

func TestMain(m *testing.M) {
	ctx := context.Background()
	d, _, err := tdb.Setup(ctx)
	if err != nil {
		fmt.Println("skipping repository integration tests:", err)
		os.Exit(0)
	}
	testDB = d
	pgPool = d.Pool
	infra.ApplySchema(ctx, pgPool)
	code := m.Run()
	d.Close()
	os.Exit(code)
}

func createUser(t *testing.T, username string) *model.User {
	t.Helper()
	u, err := NewUserRepository(testDB).Create(context.Background(), &model.User{
		Username: username,
		Email:    username + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func queuedJobRequest(userID int64) model.JobRequest {
	return model.JobRequest{
		UserID:       userID,
		Name:         "render",
		ImageRef:     "registry.local/render:1",
		ImageFormat:  model.ImageDockerRegistry,
		OutputType:   model.OutputStdout,
		FetchStyle:   model.FetchPull,
		ScheduleType: model.ScheduleOnce,
	}
}

func TestJobRepository_CreateAndGet(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	repo := NewJobRepository(testDB)
	user := createUser(t, "alice")

	job, err := repo.Create(ctx, queuedJobRequest(user.ID))
	require.NoError(t, err)
	require.Equal(t, model.JobQueued, job.State)
	require.False(t, job.Cold)
	require.Nil(t, job.Push)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, job.ID, got.ID)
	require.Equal(t, job.ImageRef, got.ImageRef)

	_, err = repo.GetByID(ctx, job.ID+1000)
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestJobRepository_CreateValidation(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	repo := NewJobRepository(testDB)
	user := createUser(t, "bob")

	tests := []struct {
		name   string
		mutate func(r *model.JobRequest)
	}{
		{"empty image ref", func(r *model.JobRequest) { r.ImageRef = "" }},
		{"cron without expression", func(r *model.JobRequest) { r.ScheduleType = model.ScheduleCron }},
		{"push without credentials", func(r *model.JobRequest) { r.FetchStyle = model.FetchPush }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := queuedJobRequest(user.ID)
			tt.mutate(&req)
			_, err := repo.Create(ctx, req)
			require.ErrorIs(t, err, apperrors.ErrValidation)
		})
	}
}

func TestJobRepository_PushCredentialsRoundTrip(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	repo := NewJobRepository(testDB)
	user := createUser(t, "carol")

	key := "secret"
	req := queuedJobRequest(user.ID)
	req.FetchStyle = model.FetchPush
	req.Push = &model.PushCredentials{
		Address:           "https://sink.example.com",
		User:              "carol",
		Key:               &key,
		DestinationPath:   "/results",
		MaxRetries:        5,
		RetryIntervalSecs: 30,
		MaxIntervalSecs:   600,
		Backoff:           model.BackoffExponential,
		UseChecksum:       true,
	}

	job, err := repo.Create(ctx, req)
	require.NoError(t, err)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Push)
	require.Equal(t, req.Push.Address, got.Push.Address)
	require.Equal(t, req.Push.MaxRetries, got.Push.MaxRetries)
	require.Equal(t, model.BackoffExponential, got.Push.Backoff)
	require.True(t, got.Push.UseChecksum)
	require.Nil(t, got.Push.NextAttemptAt)
}

func TestJobRepository_ListQueuedOrder(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	repo := NewJobRepository(testDB)
	user := createUser(t, "dave")

	low := queuedJobRequest(user.ID)
	low.Priority = 1
	high := queuedJobRequest(user.ID)
	high.Priority = 9

	first, err := repo.Create(ctx, low)
	require.NoError(t, err)
	second, err := repo.Create(ctx, high)
	require.NoError(t, err)

	queued, err := repo.ListQueued(ctx)
	require.NoError(t, err)
	require.Len(t, queued, 2)
	// Priority outranks submission order.
	require.Equal(t, second.ID, queued[0].ID)
	require.Equal(t, first.ID, queued[1].ID)
}

func TestJobRepository_TagColdAndPendingPush(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	repo := NewJobRepository(testDB)
	user := createUser(t, "erin")

	job, err := repo.Create(ctx, queuedJobRequest(user.ID))
	require.NoError(t, err)

	// Nothing is old enough yet.
	tagged, err := repo.TagCold(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	require.Zero(t, tagged)

	tagged, err = repo.TagCold(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	require.EqualValues(t, 1, tagged)

	got, err := repo.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, got.Cold)

	pending, err := repo.ListPendingPush(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestArchiveRepository_ArchiveEligible(t *testing.T) {
	infra.TruncateCoreTables(t, pgPool)
	ctx := context.Background()
	jobs := NewJobRepository(testDB)
	archive := NewArchiveRepository(testDB)
	user := createUser(t, "frank")

	terminal, err := jobs.Create(ctx, queuedJobRequest(user.ID))
	require.NoError(t, err)
	queued, err := jobs.Create(ctx, queuedJobRequest(user.ID))
	require.NoError(t, err)

	_, err = pgPool.Exec(ctx,
		`UPDATE jobs SET state = 'Completed', ended_at = now() WHERE id = $1`, terminal.ID)
	require.NoError(t, err)
	_, err = NewResultRepository(testDB).Create(ctx, &model.JobResult{
		JobID:       terminal.ID,
		OutputFiles: []string{"jobs/1/artifacts/out.bin"},
	})
	require.NoError(t, err)

	archived, err := archive.ArchiveEligible(ctx)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	require.Equal(t, terminal.ID, archived[0].JobID)
	require.Equal(t, []string{"jobs/1/artifacts/out.bin"}, archived[0].ArtifactKeys)

	got, err := jobs.GetByID(ctx, queued.ID)
	require.NoError(t, err)
	require.Nil(t, got.ArchivedAt)

	// A job with an open push schedule stays hot.
	pushed, err := jobs.Create(ctx, queuedJobRequest(user.ID))
	require.NoError(t, err)
	_, err = pgPool.Exec(ctx, `
		UPDATE jobs
		SET state = 'Completed', fetch_style = 'Push', push_next_attempt_at = now()
		WHERE id = $1`, pushed.ID)
	require.NoError(t, err)

	archived, err = archive.ArchiveEligible(ctx)
	require.NoError(t, err)
	require.Empty(t, archived)
}
