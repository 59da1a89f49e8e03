// Package rpc exposes the Core's gRPC surface: the operator control
// service and the bidirectional worker sync stream, both carried over
// the JSON codec with the checked-in message structs.
package rpc

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	swarmsyncv1 "github.com/swarmgrid/swarm-core/gen/proto/swarmsync/v1"
	"github.com/swarmgrid/swarm-core/internal/apperrors"
	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/model"
)

type jobCounter interface {
	CountByState(ctx context.Context, state model.JobState) (int64, error)
}

type workerCounter interface {
	CountOnline(ctx context.Context) (int64, error)
}

// ControlServer serves ExecuteCommand and StreamStatusUpdates.
type ControlServer struct {
	bus       *bus.Bus
	jobs      jobCounter
	workers   workerCounter
	startedAt time.Time
	log       zerolog.Logger
}

func NewControlServer(b *bus.Bus, jobs jobCounter, workers workerCounter, log zerolog.Logger) *ControlServer {
	return &ControlServer{
		bus:       b,
		jobs:      jobs,
		workers:   workers,
		startedAt: time.Now().UTC(),
		log:       log,
	}
}

// ExecuteCommand relays a lifecycle request through the manipulation
// inbox, or reports a status snapshot.
func (s *ControlServer) ExecuteCommand(ctx context.Context, req *swarmsyncv1.CommandRequest) (*swarmsyncv1.Ack, error) {
	switch strings.ToUpper(req.Command) {
	case "RESTART":
		s.bus.Request(model.EventRestart)
		return &swarmsyncv1.Ack{Code: 0, Message: "restart requested"}, nil
	case "SHUTDOWN":
		s.bus.Request(model.EventShutdown)
		return &swarmsyncv1.Ack{Code: 0, Message: "shutdown requested"}, nil
	case "STATUS":
		update, err := s.snapshot(ctx, "running")
		if err != nil {
			return nil, toGRPC(err)
		}
		return &swarmsyncv1.Ack{Code: 0, Message: statusLine(update)}, nil
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown command %q", req.Command)
	}
}

// StreamStatusUpdates sends one update per lifecycle transition plus a
// synthetic heartbeat every five seconds.
func (s *ControlServer) StreamStatusUpdates(_ *swarmsyncv1.StatusRequest, stream grpc.ServerStream) error {
	sub := s.bus.Subscribe()
	defer sub.Unsubscribe()

	ctx := stream.Context()
	heartbeat := time.NewTicker(5 * time.Second)
	defer heartbeat.Stop()

	events := make(chan model.CoreEvent)
	go func() {
		defer close(events)
		for {
			event, err := sub.Recv(ctx)
			if errors.Is(err, bus.ErrLagged) {
				continue
			}
			if err != nil {
				return
			}
			// Stream subscribers count toward the restart barrier.
			if event == model.EventRestart {
				s.bus.Ack()
			}
			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		var state string
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeat.C:
			state = "heartbeat"
		case event, ok := <-events:
			if !ok {
				return nil
			}
			state = event.String()
		}
		update, err := s.snapshot(ctx, state)
		if err != nil {
			s.log.Warn().Err(err).Msg("status snapshot unavailable")
			update = &swarmsyncv1.StatusUpdate{State: state}
		}
		if err := stream.SendMsg(update); err != nil {
			return err
		}
	}
}

func (s *ControlServer) snapshot(ctx context.Context, state string) (*swarmsyncv1.StatusUpdate, error) {
	queued, err := s.jobs.CountByState(ctx, model.JobQueued)
	if err != nil {
		return nil, err
	}
	running, err := s.jobs.CountByState(ctx, model.JobRunning)
	if err != nil {
		return nil, err
	}
	online, err := s.workers.CountOnline(ctx)
	if err != nil {
		return nil, err
	}
	return &swarmsyncv1.StatusUpdate{
		State:         state,
		UptimeSecs:    int64(time.Since(s.startedAt).Seconds()),
		QueuedJobs:    queued,
		RunningJobs:   running,
		OnlineWorkers: online,
	}, nil
}

func statusLine(u *swarmsyncv1.StatusUpdate) string {
	b, _ := jsonCodec{}.Marshal(u)
	return string(b)
}

// toGRPC maps application error kinds onto gRPC status codes.
func toGRPC(err error) error {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, apperrors.ErrConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, apperrors.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, apperrors.ErrTimeoutExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, apperrors.ErrStoreUnavailable):
		return status.Error(codes.Unavailable, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
