// Package delivery drives push-style result delivery: it consumes
// delivery events off the broker and walks each job's retry schedule
// until the push lands or the policy downgrades to Pull.
package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/queue"
	"github.com/swarmgrid/swarm-core/model"
)

type jobStore interface {
	GetByID(ctx context.Context, id int64) (*model.Job, error)
	UpdatePushState(ctx context.Context, jobID int64, currentTry int, intervalSecs int64, nextAttempt *time.Time) error
	DowngradeToPull(ctx context.Context, jobID int64) error
}

type resultStore interface {
	ListByJob(ctx context.Context, jobID int64) ([]*model.JobResult, error)
}

// Worker owns the push attempt schedule. Retry progress is persisted on
// the job row, so a restart resumes the back-off instead of resetting it.
type Worker struct {
	jobs    jobStore
	results resultStore
	pusher  Pusher
	broker  queue.Queue
	sub     *bus.Subscription
	ack     func()
	log     zerolog.Logger

	mu      sync.Mutex
	pending map[int64]struct{}
}

type Options struct {
	Jobs    jobStore
	Results resultStore
	Pusher  Pusher
	Broker  queue.Queue
	Sub     *bus.Subscription
	Ack     func()
	Log     zerolog.Logger
}

func NewWorker(opts Options) *Worker {
	return &Worker{
		jobs:    opts.Jobs,
		results: opts.Results,
		pusher:  opts.Pusher,
		broker:  opts.Broker,
		sub:     opts.Sub,
		ack:     opts.Ack,
		log:     opts.Log,
		pending: make(map[int64]struct{}),
	}
}

// Run drives the worker off the event bus.
func (w *Worker) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var running bool

	for {
		event, err := w.sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			w.log.Warn().Msg("lagged behind the event bus, resyncing")
			continue
		}
		if err != nil {
			return
		}
		switch event {
		case model.EventStartup:
			if !running {
				running = true
				if err := w.broker.SubscribeDelivery(w.enqueue); err != nil {
					w.log.Error().Err(err).Msg("delivery subscription failed")
				}
				go w.loop(loopCtx)
			}
		case model.EventRestart:
			if w.ack != nil {
				w.ack()
			}
		case model.EventShutdown:
			cancel()
			return
		}
	}
}

// enqueue registers a job for push handling. The broker message is
// acked on registration; attempt timing lives here and on the job row.
func (w *Worker) enqueue(_ context.Context, jobID int64) error {
	w.mu.Lock()
	w.pending[jobID] = struct{}{}
	w.mu.Unlock()
	return nil
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for _, jobID := range w.snapshot() {
			w.attempt(ctx, jobID)
		}
	}
}

func (w *Worker) snapshot() []int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]int64, 0, len(w.pending))
	for id := range w.pending {
		ids = append(ids, id)
	}
	return ids
}

func (w *Worker) drop(jobID int64) {
	w.mu.Lock()
	delete(w.pending, jobID)
	w.mu.Unlock()
}

// attempt runs at most one push try for the job if its schedule is due.
func (w *Worker) attempt(ctx context.Context, jobID int64) {
	job, err := w.jobs.GetByID(ctx, jobID)
	if err != nil {
		w.log.Error().Err(err).Int64("job_id", jobID).Msg("push job unreadable")
		w.drop(jobID)
		return
	}
	if job.FetchStyle != model.FetchPush || job.Push == nil {
		// Downgraded or mis-published; nothing to deliver.
		w.drop(jobID)
		return
	}
	now := time.Now().UTC()
	if job.Push.NextAttemptAt != nil && now.Before(*job.Push.NextAttemptAt) {
		return
	}

	results, err := w.results.ListByJob(ctx, jobID)
	if err != nil || len(results) == 0 {
		w.log.Error().Err(err).Int64("job_id", jobID).Msg("no result to push")
		w.drop(jobID)
		return
	}

	if err := w.pusher.Push(ctx, job, results[0]); err != nil {
		w.recordFailure(ctx, job, err, now)
		return
	}

	if err := w.jobs.UpdatePushState(ctx, jobID, job.Push.CurrentTry, job.Push.RetryIntervalSecs, nil); err != nil {
		w.log.Error().Err(err).Int64("job_id", jobID).Msg("push state update failed")
	}
	w.log.Info().Int64("job_id", jobID).Msg("push delivered")
	w.drop(jobID)
}

// recordFailure advances the retry schedule; hitting the retry bound
// downgrades the delivery policy to Pull in place.
func (w *Worker) recordFailure(ctx context.Context, job *model.Job, cause error, now time.Time) {
	try := job.Push.CurrentTry + 1
	if try >= job.Push.MaxRetries {
		w.log.Warn().Err(cause).
			Int64("job_id", job.ID).
			Int("tries", try).
			Msg("push retries exhausted, policy downgraded to pull")
		if err := w.jobs.DowngradeToPull(ctx, job.ID); err != nil {
			w.log.Error().Err(err).Int64("job_id", job.ID).Msg("downgrade failed")
		}
		w.drop(job.ID)
		return
	}

	interval := NextInterval(job.Push.Backoff, job.Push.RetryIntervalSecs, job.Push.MaxIntervalSecs, try)
	next := now.Add(interval)
	w.log.Warn().Err(cause).
		Int64("job_id", job.ID).
		Int("try", try).
		Dur("next_in", interval).
		Msg("push attempt failed")
	if err := w.jobs.UpdatePushState(ctx, job.ID, try, int64(interval.Seconds()), &next); err != nil {
		w.log.Error().Err(err).Int64("job_id", job.ID).Msg("push state update failed")
	}
}
