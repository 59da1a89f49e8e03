package rpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	swarmsyncv1 "github.com/swarmgrid/swarm-core/gen/proto/swarmsync/v1"
	"github.com/swarmgrid/swarm-core/internal/harvester"
	"github.com/swarmgrid/swarm-core/model"
)

type ackRecorder interface {
	Acknowledge(ctx context.Context, assignmentID int64) error
}

type frameSink interface {
	HandleResult(ctx context.Context, frame harvester.ResultFrame) error
	HandleMetrics(ctx context.Context, jobID int64, batch []*model.JobMetric) error
	HandleLog(ctx context.Context, entry *model.LogEntry) error
}

type ackNotifier interface {
	AckReceived(assignmentID int64)
}

type session struct {
	workerID int64
	stream   grpc.ServerStream
	sendMu   sync.Mutex
}

func (s *session) send(frame *swarmsyncv1.DispatchFrame) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.stream.SendMsg(frame)
}

// SyncServer owns the worker sync streams. It is the dispatcher's
// transport and the harvester's frame source.
type SyncServer struct {
	events   ackRecorder
	frames   frameSink
	notifier ackNotifier
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[int64]*session
}

func NewSyncServer(events ackRecorder, frames frameSink, notifier ackNotifier, log zerolog.Logger) *SyncServer {
	return &SyncServer{
		events:   events,
		frames:   frames,
		notifier: notifier,
		log:      log,
		sessions: make(map[int64]*session),
	}
}

// Dispatch sends one assignment payload down a worker's sync stream.
func (s *SyncServer) Dispatch(ctx context.Context, workerID int64, job *model.Job, assignmentID int64) error {
	s.mu.Lock()
	sess, ok := s.sessions[workerID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %d has no sync stream", workerID)
	}

	frame := &swarmsyncv1.DispatchFrame{
		AssignmentID: assignmentID,
		JobID:        job.ID,
		Name:         job.Name,
		ImageRef:     job.ImageRef,
		ImageFormat:  string(job.ImageFormat),
		RuntimeFlags: job.RuntimeFlags,
		OutputType:   string(job.OutputType),
		OutputPaths:  job.OutputPaths,
	}
	if job.Checksum != nil {
		frame.Checksum = *job.Checksum
	}
	return sess.send(frame)
}

// Sync is the bidirectional worker stream. The first inbound frame must
// register the worker; after that the stream carries ack, result,
// metric and log frames up and dispatch frames down.
func (s *SyncServer) Sync(stream grpc.ServerStream) error {
	ctx := stream.Context()

	var first swarmsyncv1.SyncFrame
	if err := stream.RecvMsg(&first); err != nil {
		return err
	}
	if first.Register == nil || first.Register.WorkerID <= 0 {
		return status.Error(codes.FailedPrecondition, "first frame must register the worker")
	}
	workerID := first.Register.WorkerID

	sess := &session{workerID: workerID, stream: stream}
	s.mu.Lock()
	if prev, ok := s.sessions[workerID]; ok && prev != nil {
		s.log.Warn().Int64("worker_id", workerID).Msg("replacing existing sync stream")
	}
	s.sessions[workerID] = sess
	s.mu.Unlock()
	defer s.detach(workerID, sess)

	s.log.Info().Int64("worker_id", workerID).Msg("worker sync stream open")
	for {
		var frame swarmsyncv1.SyncFrame
		if err := stream.RecvMsg(&frame); err != nil {
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return err
		}
		if err := s.apply(ctx, workerID, &frame); err != nil {
			s.log.Warn().Err(err).Int64("worker_id", workerID).Msg("sync frame rejected")
		}
	}
}

func (s *SyncServer) apply(ctx context.Context, workerID int64, frame *swarmsyncv1.SyncFrame) error {
	switch {
	case frame.Ack != nil:
		if err := s.events.Acknowledge(ctx, frame.Ack.AssignmentID); err != nil {
			return err
		}
		s.notifier.AckReceived(frame.Ack.AssignmentID)
		return nil

	case frame.Result != nil:
		f := frame.Result
		rf := harvester.ResultFrame{
			JobID:       f.JobID,
			WorkerID:    workerID,
			OutputFiles: f.OutputFiles,
			Succeeded:   f.Succeeded,
		}
		if f.Stdout != "" {
			rf.Stdout = &f.Stdout
		}
		if f.FailureReason != "" {
			rf.FailureReason = &f.FailureReason
		}
		return s.frames.HandleResult(ctx, rf)

	case frame.Metrics != nil:
		f := frame.Metrics
		batch := make([]*model.JobMetric, 0, len(f.Samples))
		for _, sample := range f.Samples {
			batch = append(batch, &model.JobMetric{
				JobID:      f.JobID,
				WorkerID:   workerID,
				RecordedAt: time.Unix(sample.RecordedAtUnix, 0).UTC(),
				Key:        sample.Key,
				Value:      sample.Value,
			})
		}
		return s.frames.HandleMetrics(ctx, f.JobID, batch)

	case frame.Log != nil:
		f := frame.Log
		entry := &model.LogEntry{
			Subsystem: "worker",
			Severity:  model.LogLevel(f.Severity),
			Payload:   f.Payload,
		}
		if f.JobID != 0 {
			entry.JobID = &f.JobID
		}
		return s.frames.HandleLog(ctx, entry)

	case frame.Register != nil:
		return fmt.Errorf("duplicate register frame")

	default:
		return fmt.Errorf("empty sync frame")
	}
}

func (s *SyncServer) detach(workerID int64, sess *session) {
	s.mu.Lock()
	if s.sessions[workerID] == sess {
		delete(s.sessions, workerID)
	}
	s.mu.Unlock()
	s.log.Info().Int64("worker_id", workerID).Msg("worker sync stream closed")
}
