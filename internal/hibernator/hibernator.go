// Package hibernator runs the slow housekeeping sweep: parking idle
// workers, tagging stale queued jobs cold, and resuming interrupted
// push deliveries.
package hibernator

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/queue"
	"github.com/swarmgrid/swarm-core/model"
)

type workerStore interface {
	ParkIdle(ctx context.Context, cutoff time.Time) ([]int64, error)
}

type jobStore interface {
	TagCold(ctx context.Context, cutoff time.Time) (int64, error)
	ListPendingPush(ctx context.Context) ([]int64, error)
}

type assignmentStore interface {
	ExpireForWorker(ctx context.Context, workerID int64) (int, error)
}

// Hibernator sweeps every T_sweep. Workers idle past T_park go Offline
// with any leftover assignments requeued; Queued jobs older than T_cold
// are tagged cold and the archive is signalled.
type Hibernator struct {
	workers       workerStore
	jobs          jobStore
	events        assignmentStore
	broker        queue.Queue
	sub           *bus.Subscription
	ack           func()
	sweepInterval time.Duration
	parkAfter     time.Duration
	coldAfter     time.Duration
	archiveSignal chan<- struct{}
	log           zerolog.Logger
}

type Options struct {
	Workers       workerStore
	Jobs          jobStore
	Assignments   assignmentStore
	Broker        queue.Queue
	Sub           *bus.Subscription
	Ack           func()
	SweepInterval time.Duration
	ParkAfter     time.Duration
	ColdAfter     time.Duration
	ArchiveSignal chan<- struct{}
	Log           zerolog.Logger
}

func New(opts Options) *Hibernator {
	return &Hibernator{
		workers:       opts.Workers,
		jobs:          opts.Jobs,
		events:        opts.Assignments,
		broker:        opts.Broker,
		sub:           opts.Sub,
		ack:           opts.Ack,
		sweepInterval: opts.SweepInterval,
		parkAfter:     opts.ParkAfter,
		coldAfter:     opts.ColdAfter,
		archiveSignal: opts.ArchiveSignal,
		log:           opts.Log,
	}
}

// Run drives the hibernator off the event bus.
func (h *Hibernator) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var running bool

	for {
		event, err := h.sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			h.log.Warn().Msg("lagged behind the event bus, resyncing")
			continue
		}
		if err != nil {
			return
		}
		switch event {
		case model.EventStartup:
			if !running {
				running = true
				go h.loop(loopCtx)
			}
		case model.EventRestart:
			if h.ack != nil {
				h.ack()
			}
		case model.EventShutdown:
			cancel()
			return
		}
	}
}

func (h *Hibernator) loop(ctx context.Context) {
	ticker := time.NewTicker(h.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		h.sweep(ctx)
	}
}

func (h *Hibernator) sweep(ctx context.Context) {
	now := time.Now().UTC()

	parked, err := h.workers.ParkIdle(ctx, now.Add(-h.parkAfter))
	if err != nil {
		h.log.Error().Err(err).Msg("park sweep failed")
	}
	for _, workerID := range parked {
		// An assignment that raced the park is requeued here.
		if _, err := h.events.ExpireForWorker(ctx, workerID); err != nil {
			if errors.Is(err, apperrors.ErrIntegrityViolation) {
				// Fatal for this sweep; the next tick starts clean.
				h.log.Error().Err(err).Int64("worker_id", workerID).Msg("integrity violation, sweep aborted")
				return
			}
			h.log.Error().Err(err).Int64("worker_id", workerID).Msg("requeue after park failed")
		}
		h.log.Info().Int64("worker_id", workerID).Msg("idle worker parked")
	}

	tagged, err := h.jobs.TagCold(ctx, now.Add(-h.coldAfter))
	if err != nil {
		h.log.Error().Err(err).Msg("cold tagging failed")
	} else if tagged > 0 {
		h.log.Info().Int64("jobs", tagged).Msg("stale queued jobs tagged cold")
		select {
		case h.archiveSignal <- struct{}{}:
		default:
		}
	}

	pending, err := h.jobs.ListPendingPush(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("pending push scan failed")
		return
	}
	for _, jobID := range pending {
		if err := h.broker.PublishDelivery(ctx, jobID); err != nil {
			h.log.Error().Err(err).Int64("job_id", jobID).Msg("delivery republish failed")
		}
	}
}
