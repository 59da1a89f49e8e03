// Package receiver accepts worker-origin traffic: liveness datagrams on
// the pulse port and status flushes around lifecycle transitions.
package receiver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/cache"
	"github.com/swarmgrid/swarm-core/model"
)

const shutdownGrace = 5 * time.Second

// statusStore is the slice of the worker repository the receiver needs.
type statusStore interface {
	RecordPulse(ctx context.Context, p model.Pulse) (*model.WorkerStatus, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// assignmentStore expires a dead worker's active assignments.
type assignmentStore interface {
	ExpireForWorker(ctx context.Context, workerID int64) (int, error)
}

// Receiver listens for worker pulses, keeps worker liveness current and
// reschedules work held by workers that stop pulsing.
type Receiver struct {
	port     int
	interval time.Duration
	statuses statusStore
	events   assignmentStore
	cache    cache.Cache
	sub      *bus.Subscription
	ack      func()
	wakeIdle chan<- struct{}
	log      zerolog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Options struct {
	Port              int
	HeartbeatInterval time.Duration
	Statuses          statusStore
	Assignments       assignmentStore
	Cache             cache.Cache
	Sub               *bus.Subscription
	Ack               func() // barrier acknowledgement
	WakeIdle          chan<- struct{}
	Log               zerolog.Logger
}

func New(opts Options) *Receiver {
	return &Receiver{
		port:     opts.Port,
		interval: opts.HeartbeatInterval,
		statuses: opts.Statuses,
		events:   opts.Assignments,
		cache:    opts.Cache,
		sub:      opts.Sub,
		ack:      opts.Ack,
		wakeIdle: opts.WakeIdle,
		log:      opts.Log,
	}
}

// Run advances the receiver's state machine off the event bus. Startup
// opens the pulse socket; Restart closes every inbound stream, flushes,
// and re-accepts; Shutdown stops accepting and waits out in-flight
// handlers with a five second grace.
func (r *Receiver) Run(ctx context.Context) {
	for {
		event, err := r.sub.Recv(ctx)
		if errors.Is(err, bus.ErrLagged) {
			r.log.Warn().Msg("lagged behind the event bus, resyncing")
			continue
		}
		if err != nil {
			r.stop()
			return
		}
		switch event {
		case model.EventStartup:
			if err := r.open(ctx); err != nil {
				r.log.Error().Err(err).Msg("cannot open pulse socket")
			}
		case model.EventRestart:
			r.stop()
			if err := r.open(ctx); err != nil {
				r.log.Error().Err(err).Msg("cannot reopen pulse socket after restart")
			}
			if r.ack != nil {
				r.ack()
			}
		case model.EventShutdown:
			r.stop()
			return
		}
	}
}

// open starts one serve generation. The generation owns its own context
// so stop() can end the sweep loop without touching the caller's.
func (r *Receiver) open(ctx context.Context) error {
	addr := &net.UDPAddr{Port: r.port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen udp :%d: %w", r.port, err)
	}
	openCtx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	r.conn = conn
	r.cancel = cancel
	r.mu.Unlock()
	r.log.Info().Int("port", r.port).Msg("pulse socket open")

	r.wg.Add(2)
	go r.serve(openCtx, conn)
	go r.sweep(openCtx)
	return nil
}

// stop ends the current serve generation and waits for its handlers,
// bounded by the grace.
func (r *Receiver) stop() {
	r.mu.Lock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		r.log.Warn().Msg("in-flight pulse handlers exceeded the shutdown grace")
	}
}

func (r *Receiver) serve(ctx context.Context, conn *net.UDPConn) {
	defer r.wg.Done()
	buf := make([]byte, 64)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			// Socket closed by stop(); the loop's work is done.
			return
		}
		pulse, err := ParsePulse(buf[:n], time.Now().UTC())
		if err != nil {
			r.log.Warn().Err(err).Msg("dropping malformed pulse")
			continue
		}
		r.handlePulse(ctx, pulse)
	}
}

func (r *Receiver) handlePulse(ctx context.Context, p model.Pulse) {
	status, err := r.statuses.RecordPulse(ctx, p)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			// Unknown workers are rejected: registration must come first.
			r.log.Warn().Int64("worker_id", p.WorkerID).Msg("pulse from unregistered worker rejected")
			return
		}
		r.log.Error().Err(err).Int64("worker_id", p.WorkerID).Msg("pulse update failed")
		return
	}

	if r.cache != nil {
		key := cache.WorkerStatusKey(status.WorkerID)
		_ = r.cache.Put(ctx, key, status, r.cache.GetDefaultTTL())
	}
	if status.State == model.WorkerIdle && r.wakeIdle != nil {
		select {
		case r.wakeIdle <- struct{}{}:
		default:
		}
	}
}

// sweep applies the missed-heartbeat policy: a worker silent for three
// intervals goes Offline and its active assignments are expired and
// rescheduled.
func (r *Receiver) sweep(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-3 * r.interval)
		stale, err := r.statuses.ListStale(ctx, cutoff)
		if err != nil {
			r.log.Error().Err(err).Msg("stale worker scan failed")
			continue
		}
		for _, workerID := range stale {
			requeued, err := r.events.ExpireForWorker(ctx, workerID)
			if err != nil {
				if errors.Is(err, apperrors.ErrIntegrityViolation) {
					// Fatal for this sweep pass; the next tick starts clean.
					r.log.Error().Err(err).Int64("worker_id", workerID).Msg("integrity violation, sweep aborted")
					break
				}
				r.log.Error().Err(err).Int64("worker_id", workerID).Msg("expiring assignments failed")
				continue
			}
			if r.cache != nil {
				r.cache.Delete(ctx, cache.WorkerStatusKey(workerID))
			}
			r.log.Warn().
				Int64("worker_id", workerID).
				Int("requeued", requeued).
				Msg("worker missed heartbeats, marked offline")
		}
	}
}
