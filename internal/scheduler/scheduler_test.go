package scheduler

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/model"
)

type fakeJobs struct {
	queued []*model.Job
}

func (f *fakeJobs) ListQueued(context.Context) ([]*model.Job, error) {
	return f.queued, nil
}

type fakeWorkers struct {
	candidates []*model.WorkerCandidate
}

func (f *fakeWorkers) ListCandidates(context.Context, time.Time) ([]*model.WorkerCandidate, error) {
	return f.candidates, nil
}

type fakeClaims struct {
	nextID      int64
	claims      []model.Assigned
	conflictOn  map[int64]bool
	integrityOn map[int64]bool
}

func (f *fakeClaims) Claim(_ context.Context, jobID, workerID int64) (*model.JobAssignment, error) {
	if f.conflictOn[jobID] {
		return nil, apperrors.Conflict("job", "claimed concurrently")
	}
	if f.integrityOn[jobID] {
		return nil, apperrors.Integrity("assignments.Claim", "assignment rows inconsistent")
	}
	f.nextID++
	f.claims = append(f.claims, model.Assigned{AssignmentID: f.nextID, JobID: jobID, WorkerID: workerID})
	return &model.JobAssignment{ID: f.nextID, JobID: jobID, WorkerID: workerID}, nil
}

func queuedJob(id, userID int64, priority int, age time.Duration) *model.Job {
	return &model.Job{
		ID:           id,
		UserID:       userID,
		State:        model.JobQueued,
		ScheduleType: model.ScheduleOnce,
		Priority:     priority,
		CreatedAt:    time.Now().UTC().Add(-age),
	}
}

func newTestScheduler(jobs *fakeJobs, workers *fakeWorkers, claims *fakeClaims, dispatch chan model.Assigned) *Scheduler {
	return New(Options{
		Jobs:        jobs,
		Workers:     workers,
		Claims:      claims,
		Dispatch:    dispatch,
		StarveAfter: 5 * time.Minute,
		LiveWindow:  3 * time.Second,
	})
}

func drain(ch chan model.Assigned) []model.Assigned {
	var out []model.Assigned
	for {
		select {
		case a := <-ch:
			out = append(out, a)
		default:
			return out
		}
	}
}

func TestPassAssignsInStoreOrder(t *testing.T) {
	jobs := &fakeJobs{queued: []*model.Job{
		queuedJob(1, 10, 9, time.Minute),
		queuedJob(2, 10, 5, time.Minute),
	}}
	workers := &fakeWorkers{candidates: []*model.WorkerCandidate{
		{WorkerID: 100, AdminID: 10, LoadAvg: 0.1},
		{WorkerID: 101, AdminID: 10, LoadAvg: 0.9},
	}}
	claims := &fakeClaims{}
	dispatch := make(chan model.Assigned, 8)

	s := newTestScheduler(jobs, workers, claims, dispatch)
	s.pass(context.Background())

	assigned := drain(dispatch)
	require.Len(t, assigned, 2)
	require.Equal(t, int64(1), assigned[0].JobID)
	require.Equal(t, int64(100), assigned[0].WorkerID) // lowest load first
	require.Equal(t, int64(2), assigned[1].JobID)
	require.Equal(t, int64(101), assigned[1].WorkerID)
}

func TestPassHonorsAdminScope(t *testing.T) {
	jobs := &fakeJobs{queued: []*model.Job{
		queuedJob(1, 10, 5, time.Minute),
		queuedJob(2, 20, 5, time.Minute),
	}}
	workers := &fakeWorkers{candidates: []*model.WorkerCandidate{
		{WorkerID: 200, AdminID: 20, LoadAvg: 0.2},
	}}
	claims := &fakeClaims{}
	dispatch := make(chan model.Assigned, 8)

	s := newTestScheduler(jobs, workers, claims, dispatch)
	s.pass(context.Background())

	assigned := drain(dispatch)
	require.Len(t, assigned, 1)
	require.Equal(t, int64(2), assigned[0].JobID)
	require.Equal(t, int64(200), assigned[0].WorkerID)
}

func TestPassPromotesStarvedJob(t *testing.T) {
	// Store order is priority DESC; the old low-priority job comes last.
	jobs := &fakeJobs{queued: []*model.Job{
		queuedJob(1, 10, 9, time.Minute),
		queuedJob(2, 10, 9, time.Minute),
		queuedJob(3, 10, 0, 6*time.Minute),
	}}
	workers := &fakeWorkers{candidates: []*model.WorkerCandidate{
		{WorkerID: 100, AdminID: 10, LoadAvg: 0.1},
	}}
	claims := &fakeClaims{}
	dispatch := make(chan model.Assigned, 8)

	s := newTestScheduler(jobs, workers, claims, dispatch)
	s.pass(context.Background())

	assigned := drain(dispatch)
	require.Len(t, assigned, 1)
	require.Equal(t, int64(3), assigned[0].JobID)
}

func TestPassReleasesOnConflict(t *testing.T) {
	jobs := &fakeJobs{queued: []*model.Job{
		queuedJob(1, 10, 9, time.Minute),
		queuedJob(2, 10, 5, time.Minute),
	}}
	workers := &fakeWorkers{candidates: []*model.WorkerCandidate{
		{WorkerID: 100, AdminID: 10, LoadAvg: 0.1},
		{WorkerID: 101, AdminID: 10, LoadAvg: 0.5},
	}}
	claims := &fakeClaims{conflictOn: map[int64]bool{1: true}}
	dispatch := make(chan model.Assigned, 8)

	s := newTestScheduler(jobs, workers, claims, dispatch)
	s.pass(context.Background())

	// Job 1 stays queued for the next tick; job 2 still lands.
	assigned := drain(dispatch)
	require.Len(t, assigned, 1)
	require.Equal(t, int64(2), assigned[0].JobID)
}

func TestIntegrityFaultAbortsPassAndResetsGate(t *testing.T) {
	jobs := &fakeJobs{queued: []*model.Job{
		queuedJob(1, 10, 9, time.Minute),
		queuedJob(2, 10, 5, time.Minute),
	}}
	workers := &fakeWorkers{candidates: []*model.WorkerCandidate{
		{WorkerID: 100, AdminID: 10, LoadAvg: 0.1},
		{WorkerID: 101, AdminID: 10, LoadAvg: 0.5},
	}}
	claims := &fakeClaims{integrityOn: map[int64]bool{1: true}}
	dispatch := make(chan model.Assigned, 8)

	s := newTestScheduler(jobs, workers, claims, dispatch)
	gateBefore := s.cron
	s.pass(context.Background())

	// Unlike a conflict, an integrity fault ends the whole pass: job 2
	// is not attempted, and the cron gate is rebuilt from scratch.
	require.Empty(t, drain(dispatch))
	require.NotSame(t, gateBefore, s.cron)
}

type blockingJobs struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingJobs) ListQueued(context.Context) ([]*model.Job, error) {
	b.entered <- struct{}{}
	<-b.release
	return nil, nil
}

// The Restart ack is the scheduler's word that no pass is mid-flight;
// it must wait out a pass that was already running when Restart landed.
func TestRestartAckWaitsForPassInFlight(t *testing.T) {
	b := bus.New()
	jobs := &blockingJobs{entered: make(chan struct{}, 2), release: make(chan struct{})}
	acks := make(chan struct{}, 1)
	wake := make(chan struct{}, 1)
	s := New(Options{
		Jobs:        jobs,
		Workers:     &fakeWorkers{},
		Claims:      &fakeClaims{},
		Sub:         b.Subscribe(),
		Ack:         func() { acks <- struct{}{} },
		WakeQueued:  wake,
		Dispatch:    make(chan model.Assigned, 1),
		StarveAfter: 5 * time.Minute,
		LiveWindow:  3 * time.Second,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	b.Publish(model.EventStartup)
	wake <- struct{}{}
	<-jobs.entered // a pass is now mid-flight

	b.Publish(model.EventRestart)
	select {
	case <-acks:
		t.Fatal("ack landed while a pass was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(jobs.release)
	select {
	case <-acks:
	case <-time.After(2 * time.Second):
		t.Fatal("restart was never acknowledged")
	}
	b.Publish(model.EventShutdown)
}

func TestPassSkipsCronNotDue(t *testing.T) {
	// Fires half an hour from now, so never inside the miss grace.
	future := time.Now().UTC().Add(30 * time.Minute)
	expr := fmt.Sprintf("%d %d * * *", future.Minute(), future.Hour())
	cronJob := queuedJob(1, 10, 5, time.Minute)
	cronJob.ScheduleType = model.ScheduleCron
	cronJob.CronExpr = &expr

	jobs := &fakeJobs{queued: []*model.Job{cronJob}}
	workers := &fakeWorkers{candidates: []*model.WorkerCandidate{
		{WorkerID: 100, AdminID: 10, LoadAvg: 0.1},
	}}
	claims := &fakeClaims{}
	dispatch := make(chan model.Assigned, 8)

	s := newTestScheduler(jobs, workers, claims, dispatch)
	s.pass(context.Background())

	require.Empty(t, drain(dispatch))
}
