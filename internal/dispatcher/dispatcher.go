// Package dispatcher transmits claimed assignments to their workers and
// enforces the acknowledgement deadline.
package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/model"
)

// Transport carries a dispatch payload to one worker. The gRPC sync
// stream provides the production implementation.
type Transport interface {
	Dispatch(ctx context.Context, workerID int64, job *model.Job, assignmentID int64) error
}

type jobStore interface {
	GetByID(ctx context.Context, id int64) (*model.Job, error)
}

type assignmentStore interface {
	Expire(ctx context.Context, assignmentID int64) error
	ExpireForWorker(ctx context.Context, workerID int64) (int, error)
}

// Dispatcher consumes Assigned signals, pushes the payload over the
// worker transport and expires assignments that miss the ack deadline.
type Dispatcher struct {
	jobs       jobStore
	events     assignmentStore
	transport  Transport
	sub        *bus.Subscription
	ack        func()
	assigned   <-chan model.Assigned
	ackTimeout time.Duration
	log        zerolog.Logger

	mu      sync.Mutex
	waiters map[int64]chan struct{} // assignment id -> closed on worker ack
}

type Options struct {
	Jobs        jobStore
	Assignments assignmentStore
	Transport   Transport
	Sub         *bus.Subscription
	Ack         func()
	Assigned    <-chan model.Assigned
	AckTimeout  time.Duration
	Log         zerolog.Logger
}

func New(opts Options) *Dispatcher {
	return &Dispatcher{
		jobs:       opts.Jobs,
		events:     opts.Assignments,
		transport:  opts.Transport,
		sub:        opts.Sub,
		ack:        opts.Ack,
		assigned:   opts.Assigned,
		ackTimeout: opts.AckTimeout,
		log:        opts.Log,
	}
}

// AckReceived releases the deadline waiter for an assignment. Called by
// the sync stream when the worker's ack frame arrives.
func (d *Dispatcher) AckReceived(assignmentID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if ch, ok := d.waiters[assignmentID]; ok {
		close(ch)
		delete(d.waiters, assignmentID)
	}
}

// Run drives the dispatcher off the event bus.
func (d *Dispatcher) Run(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var running bool

	for {
		event, err := d.sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			d.log.Warn().Msg("lagged behind the event bus, resyncing")
			continue
		}
		if err != nil {
			return
		}
		switch event {
		case model.EventStartup:
			if !running {
				running = true
				go d.loop(loopCtx)
			}
		case model.EventRestart:
			if d.ack != nil {
				d.ack()
			}
		case model.EventShutdown:
			cancel()
			return
		}
	}
}

func (d *Dispatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-d.assigned:
			d.deliver(ctx, a)
		}
	}
}

// deliver pushes one assignment and holds it to the ack deadline. Any
// failure path reverts the claim so the job is schedulable again.
func (d *Dispatcher) deliver(ctx context.Context, a model.Assigned) {
	job, err := d.jobs.GetByID(ctx, a.JobID)
	if err != nil {
		d.log.Error().Err(err).Int64("job_id", a.JobID).Msg("claimed job unreadable, reverting")
		d.revert(a)
		return
	}

	wait := make(chan struct{})
	d.mu.Lock()
	if d.waiters == nil {
		d.waiters = make(map[int64]chan struct{})
	}
	d.waiters[a.AssignmentID] = wait
	d.mu.Unlock()

	if err := d.transport.Dispatch(ctx, a.WorkerID, job, a.AssignmentID); err != nil {
		d.forget(a.AssignmentID)
		d.log.Warn().Err(err).
			Int64("job_id", a.JobID).
			Int64("worker_id", a.WorkerID).
			Msg("worker unreachable, reverting claim")
		// Unreachable worker goes Offline with its work requeued.
		if _, err := d.events.ExpireForWorker(context.WithoutCancel(ctx), a.WorkerID); err != nil {
			d.log.Error().Err(err).Int64("worker_id", a.WorkerID).Msg("revert failed")
		}
		return
	}

	deadline := time.NewTimer(d.ackTimeout)
	defer deadline.Stop()
	select {
	case <-wait:
		d.log.Info().
			Int64("job_id", a.JobID).
			Int64("worker_id", a.WorkerID).
			Msg("dispatch acknowledged")
	case <-deadline.C:
		d.forget(a.AssignmentID)
		d.log.Warn().
			Int64("job_id", a.JobID).
			Int64("worker_id", a.WorkerID).
			Msg("ack deadline missed, assignment expired")
		d.revert(a)
	case <-ctx.Done():
		// Shutdown mid-dispatch: abort and requeue.
		d.forget(a.AssignmentID)
		d.revert(a)
	}
}

func (d *Dispatcher) revert(a model.Assigned) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.events.Expire(ctx, a.AssignmentID); err != nil {
		d.log.Error().Err(err).Int64("assignment_id", a.AssignmentID).Msg("expire failed")
	}
}

func (d *Dispatcher) forget(assignmentID int64) {
	d.mu.Lock()
	delete(d.waiters, assignmentID)
	d.mu.Unlock()
}

// SetTransport installs the worker transport after construction. The
// sync stream server and the dispatcher reference each other, so one
// side is wired late.
func (d *Dispatcher) SetTransport(t Transport) {
	d.transport = t
}
