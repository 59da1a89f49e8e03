// Package harvester ingests worker-origin frames: interim metric and
// log samples and the final result that closes a job out.
package harvester

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/queue"
	"github.com/swarmgrid/swarm-core/internal/retry"
	"github.com/swarmgrid/swarm-core/internal/storage"
	"github.com/swarmgrid/swarm-core/internal/util"
	"github.com/swarmgrid/swarm-core/model"
)

type jobStore interface {
	GetByID(ctx context.Context, id int64) (*model.Job, error)
}

type assignmentStore interface {
	Complete(ctx context.Context, jobID int64, state model.JobState, failureReason *string) error
}

type resultStore interface {
	Create(ctx context.Context, res *model.JobResult) (*model.JobResult, error)
}

type metricStore interface {
	CreateBatch(ctx context.Context, metrics []*model.JobMetric) error
}

type logStore interface {
	Create(ctx context.Context, e *model.LogEntry) error
}

// ResultFrame is a worker's final word on a job.
type ResultFrame struct {
	JobID         int64
	WorkerID      int64
	Stdout        *string
	OutputFiles   []string
	Succeeded     bool
	FailureReason *string
}

// Harvester applies incoming frames to the store. Frames for a job that
// is not Running are stale and dropped. A terminal result on a Push job
// enqueues a delivery event.
type Harvester struct {
	jobs      jobStore
	events    assignmentStore
	results   resultStore
	metrics   metricStore
	logs      logStore
	objects   storage.Storage
	deliverQ  queue.Queue
	sub       *bus.Subscription
	ack       func()
	accepting atomic.Bool
	log       zerolog.Logger
}

type Options struct {
	Jobs        jobStore
	Assignments assignmentStore
	Results     resultStore
	Metrics     metricStore
	Logs        logStore
	Objects     storage.Storage
	Queue       queue.Queue
	Sub         *bus.Subscription
	Ack         func()
	Log         zerolog.Logger
}

func New(opts Options) *Harvester {
	return &Harvester{
		jobs:     opts.Jobs,
		events:   opts.Assignments,
		results:  opts.Results,
		metrics:  opts.Metrics,
		logs:     opts.Logs,
		objects:  opts.Objects,
		deliverQ: opts.Queue,
		sub:      opts.Sub,
		ack:      opts.Ack,
		log:      opts.Log,
	}
}

// Run gates frame intake on the lifecycle. Intake opens at Startup and
// stays open through the shutdown drain: running jobs are still allowed
// to land their final result while the sync streams wind down, so
// Shutdown only ends the loop.
func (h *Harvester) Run(ctx context.Context) {
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
			h.accepting.Store(true)
		case model.EventRestart:
			if h.ack != nil {
				h.ack()
			}
		case model.EventShutdown:
			return
		}
	}
}

// HandleResult persists the final output set and closes the job out.
func (h *Harvester) HandleResult(ctx context.Context, frame ResultFrame) error {
	if !h.accepting.Load() {
		return apperrors.StaleFrame(frame.JobID)
	}
	job, err := h.jobs.GetByID(ctx, frame.JobID)
	if err != nil {
		return err
	}
	if job.State != model.JobRunning {
		h.log.Warn().Int64("job_id", frame.JobID).
			Str("state", string(job.State)).
			Msg("result frame for non-running job dropped")
		return apperrors.StaleFrame(frame.JobID)
	}

	outputFiles := frame.OutputFiles
	if frame.Stdout != nil && job.OutputType == model.OutputStdout && h.objects != nil {
		// Captured stdout lands in hot storage too, so pull retrieval
		// and archival treat it like any other artifact.
		key := util.StdoutKey(job.ID)
		if err := h.objects.Upload(ctx, key, []byte(*frame.Stdout)); err != nil {
			h.log.Error().Err(err).Int64("job_id", frame.JobID).Msg("stdout upload failed")
		} else {
			outputFiles = append(outputFiles, key)
		}
	}

	if _, err := h.results.Create(ctx, &model.JobResult{
		JobID:       frame.JobID,
		Stdout:      frame.Stdout,
		OutputFiles: outputFiles,
	}); err != nil {
		return err
	}

	final := model.JobCompleted
	if !frame.Succeeded {
		final = model.JobFailed
	}
	err = retry.OnConflict(ctx, func() error {
		return h.events.Complete(ctx, frame.JobID, final, frame.FailureReason)
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrStaleFrame) {
			h.log.Warn().Int64("job_id", frame.JobID).Msg("no active assignment for result frame")
		}
		return err
	}
	h.log.Info().Int64("job_id", frame.JobID).
		Str("state", string(final)).
		Msg("job closed out")

	if job.FetchStyle == model.FetchPush && h.deliverQ != nil {
		if err := h.deliverQ.PublishDelivery(ctx, frame.JobID); err != nil {
			// Delivery is retried by the hibernator's sweep pass; the
			// result itself is already durable.
			h.log.Error().Err(err).Int64("job_id", frame.JobID).Msg("delivery enqueue failed")
		}
	}
	return nil
}

// HandleMetrics persists one batch of metric samples for a running job.
func (h *Harvester) HandleMetrics(ctx context.Context, jobID int64, batch []*model.JobMetric) error {
	if !h.accepting.Load() {
		return apperrors.StaleFrame(jobID)
	}
	if len(batch) == 0 {
		return nil
	}
	job, err := h.jobs.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.State != model.JobRunning {
		h.log.Warn().Int64("job_id", jobID).Msg("metric frame for non-running job dropped")
		return apperrors.StaleFrame(jobID)
	}
	return h.metrics.CreateBatch(ctx, batch)
}

// HandleLog persists one worker log line. Log frames are attributable
// to a job but tolerated for terminal ones, since workers flush logs
// after the final result.
func (h *Harvester) HandleLog(ctx context.Context, entry *model.LogEntry) error {
	if !h.accepting.Load() {
		jobID := int64(0)
		if entry.JobID != nil {
			jobID = *entry.JobID
		}
		return apperrors.StaleFrame(jobID)
	}
	return h.logs.Create(ctx, entry)
}
