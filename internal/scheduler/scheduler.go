// Package scheduler matches queued jobs against idle workers and claims
// assignments atomically through the store.
package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/pulse"
	"github.com/swarmgrid/swarm-core/internal/retry"
	"github.com/swarmgrid/swarm-core/model"
)

type jobStore interface {
	ListQueued(ctx context.Context) ([]*model.Job, error)
}

type workerStore interface {
	ListCandidates(ctx context.Context, liveSince time.Time) ([]*model.WorkerCandidate, error)
}

type claimStore interface {
	Claim(ctx context.Context, jobID, workerID int64) (*model.JobAssignment, error)
}

// Scheduler assigns queued jobs to eligible idle workers. A pass runs
// on the medium tick cadence and on job-queued / worker-idle wake-ups.
type Scheduler struct {
	jobs        jobStore
	workers     workerStore
	claims      claimStore
	sub         *bus.Subscription
	ack         func()
	ticks       <-chan pulse.Tick
	wakeQueued  <-chan struct{}
	wakeIdle    <-chan struct{}
	dispatch    chan<- model.Assigned
	starveAfter time.Duration
	liveWindow  time.Duration
	cron        *cronGate
	log         zerolog.Logger

	// passMu is held for the whole of a pass; the Restart ack takes it
	// so the ack never races a pass in flight.
	passMu sync.Mutex
}

type Options struct {
	Jobs        jobStore
	Workers     workerStore
	Claims      claimStore
	Sub         *bus.Subscription
	Ack         func()
	Ticks       <-chan pulse.Tick
	WakeQueued  <-chan struct{}
	WakeIdle    <-chan struct{}
	Dispatch    chan<- model.Assigned
	StarveAfter time.Duration
	LiveWindow  time.Duration
	Log         zerolog.Logger
}

func New(opts Options) *Scheduler {
	return &Scheduler{
		jobs:        opts.Jobs,
		workers:     opts.Workers,
		claims:      opts.Claims,
		sub:         opts.Sub,
		ack:         opts.Ack,
		ticks:       opts.Ticks,
		wakeQueued:  opts.WakeQueued,
		wakeIdle:    opts.WakeIdle,
		dispatch:    opts.Dispatch,
		starveAfter: opts.StarveAfter,
		liveWindow:  opts.LiveWindow,
		cron:        newCronGate(),
		log:         opts.Log,
	}
}

// Run drives the scheduler off the event bus. Startup begins the tick
// loop; Restart quiesces between passes and acknowledges; Shutdown
// stops scheduling for good.
func (s *Scheduler) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var running bool

	for {
		event, err := s.sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			s.log.Warn().Msg("lagged behind the event bus, resyncing")
			continue
		}
		if err != nil {
			return
		}
		switch event {
		case model.EventStartup:
			if !running {
				running = true
				go s.loop(loopCtx)
			}
		case model.EventRestart:
			// A pass in flight completes against a consistent store
			// before the ack lands.
			s.passMu.Lock()
			s.passMu.Unlock()
			if s.ack != nil {
				s.ack()
			}
		case model.EventShutdown:
			cancel()
			return
		}
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ticks:
		case <-s.wakeQueued:
		case <-s.wakeIdle:
		}
		s.pass(ctx)
	}
}

// pass runs one scheduling round: order the queued view, order the
// candidate workers, claim greedily, emit Assigned per claim.
func (s *Scheduler) pass(ctx context.Context) {
	s.passMu.Lock()
	defer s.passMu.Unlock()
	now := time.Now().UTC()

	queued, err := s.jobs.ListQueued(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("queued view unavailable, retrying next tick")
		return
	}
	if len(queued) == 0 {
		return
	}
	eligible := s.filterEligible(queued, now)
	promoteStarved(eligible, now.Add(-s.starveAfter))

	candidates, err := s.workers.ListCandidates(ctx, now.Add(-s.liveWindow))
	if err != nil {
		s.log.Error().Err(err).Msg("candidate view unavailable, retrying next tick")
		return
	}
	if len(candidates) == 0 {
		return
	}

	for _, job := range eligible {
		idx := s.pickWorker(candidates, job)
		if idx < 0 {
			continue
		}
		worker := candidates[idx]

		err := retry.OnConflict(ctx, func() error {
			assignment, err := s.claims.Claim(ctx, job.ID, worker.WorkerID)
			if err != nil {
				return err
			}
			s.emit(ctx, model.Assigned{
				AssignmentID: assignment.ID,
				JobID:        job.ID,
				WorkerID:     worker.WorkerID,
			})
			return nil
		})
		if err != nil {
			if errors.Is(err, apperrors.ErrIntegrityViolation) {
				// An integrity fault invalidates everything this pass
				// decided. Abort it and rebuild the cron gate; the next
				// tick starts from a clean store view.
				s.log.Error().Err(err).
					Int64("job_id", job.ID).
					Msg("integrity violation, scheduler state reset")
				s.cron = newCronGate()
				return
			}
			// Claim rolled back; the job stays Queued for the next tick.
			s.log.Debug().Err(err).
				Int64("job_id", job.ID).
				Int64("worker_id", worker.WorkerID).
				Msg("claim lost, job retried next tick")
			continue
		}

		if job.ScheduleType == model.ScheduleCron && job.CronExpr != nil {
			if fireAt, ok, _ := s.cron.due(job.ID, *job.CronExpr, now); ok {
				s.cron.mark(job.ID, fireAt)
			}
		}
		candidates = append(candidates[:idx], candidates[idx+1:]...)
		if len(candidates) == 0 {
			return
		}
	}
}

// filterEligible keeps Once jobs and cron jobs whose fire-time is due.
func (s *Scheduler) filterEligible(queued []*model.Job, now time.Time) []*model.Job {
	eligible := queued[:0:0]
	for _, job := range queued {
		if job.ScheduleType == model.ScheduleCron {
			if job.CronExpr == nil {
				continue
			}
			_, ok, err := s.cron.due(job.ID, *job.CronExpr, now)
			if err != nil {
				s.log.Warn().Err(err).Int64("job_id", job.ID).Msg("unparseable cron expression, job skipped")
				continue
			}
			if !ok {
				continue
			}
		}
		eligible = append(eligible, job)
	}
	return eligible
}

// promoteStarved lifts jobs created before the cutoff above all younger
// jobs regardless of priority, keeping created_at order among them.
func promoteStarved(jobs []*model.Job, cutoff time.Time) {
	sort.SliceStable(jobs, func(i, j int) bool {
		si, sj := jobs[i].CreatedAt.Before(cutoff), jobs[j].CreatedAt.Before(cutoff)
		if si != sj {
			return si
		}
		if si {
			if !jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
				return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
			}
			return jobs[i].ID < jobs[j].ID
		}
		// Both young: the store's ordering is already correct.
		return false
	})
}

// pickWorker returns the first candidate whose admin scope covers the
// job's submitter. Workers serve the users their admin administers;
// with self-administered accounts that is the submitting user itself.
func (s *Scheduler) pickWorker(candidates []*model.WorkerCandidate, job *model.Job) int {
	for i, c := range candidates {
		if c.AdminID == job.UserID {
			return i
		}
	}
	return -1
}

func (s *Scheduler) emit(ctx context.Context, a model.Assigned) {
	select {
	case s.dispatch <- a:
	case <-ctx.Done():
	}
}
