package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/model"
)

type fakeJobs struct {
	job *model.Job
}

func (f *fakeJobs) GetByID(context.Context, int64) (*model.Job, error) {
	return f.job, nil
}

type fakeAssignments struct {
	mu             sync.Mutex
	expired        []int64
	expiredWorkers []int64
}

func (f *fakeAssignments) Expire(_ context.Context, assignmentID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, assignmentID)
	return nil
}

func (f *fakeAssignments) ExpireForWorker(_ context.Context, workerID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expiredWorkers = append(f.expiredWorkers, workerID)
	return 1, nil
}

func (f *fakeAssignments) expiredIDs() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.expired...)
}

type fakeTransport struct {
	err    error
	sent   []int64
	onSend func()
}

func (f *fakeTransport) Dispatch(_ context.Context, workerID int64, _ *model.Job, _ int64) error {
	f.sent = append(f.sent, workerID)
	if f.onSend != nil {
		f.onSend()
	}
	return f.err
}

func newTestDispatcher(events *fakeAssignments, transport Transport, ackTimeout time.Duration) *Dispatcher {
	return New(Options{
		Jobs:        &fakeJobs{job: &model.Job{ID: 1, State: model.JobRunning}},
		Assignments: events,
		Transport:   transport,
		AckTimeout:  ackTimeout,
	})
}

func TestDeliverAcknowledged(t *testing.T) {
	events := &fakeAssignments{}
	d := newTestDispatcher(events, &fakeTransport{}, time.Second)

	done := make(chan struct{})
	go func() {
		d.deliver(context.Background(), model.Assigned{AssignmentID: 5, JobID: 1, WorkerID: 2})
		close(done)
	}()

	// Ack arrives well before the deadline.
	require.Eventually(t, func() bool {
		d.AckReceived(5)
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	require.Empty(t, events.expiredIDs())
	require.Empty(t, events.expiredWorkers)
}

func TestDeliverAckDeadlineExpires(t *testing.T) {
	events := &fakeAssignments{}
	d := newTestDispatcher(events, &fakeTransport{}, 30*time.Millisecond)

	d.deliver(context.Background(), model.Assigned{AssignmentID: 5, JobID: 1, WorkerID: 2})

	require.Equal(t, []int64{5}, events.expiredIDs())
	require.Empty(t, events.expiredWorkers)
}

func TestDeliverUnreachableWorker(t *testing.T) {
	events := &fakeAssignments{}
	transport := &fakeTransport{err: errors.New("connection refused")}
	d := newTestDispatcher(events, transport, time.Second)

	d.deliver(context.Background(), model.Assigned{AssignmentID: 5, JobID: 1, WorkerID: 2})

	require.Empty(t, events.expiredIDs())
	require.Equal(t, []int64{2}, events.expiredWorkers)
}

func TestDeliverAbortsOnCancel(t *testing.T) {
	events := &fakeAssignments{}
	ctx, cancel := context.WithCancel(context.Background())
	transport := &fakeTransport{onSend: cancel}
	d := newTestDispatcher(events, transport, time.Minute)

	d.deliver(ctx, model.Assigned{AssignmentID: 5, JobID: 1, WorkerID: 2})

	// Shutdown mid-dispatch requeues the claim.
	require.Equal(t, []int64{5}, events.expiredIDs())
}
