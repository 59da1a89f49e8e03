package receiver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/model"
)

type fakeStatuses struct{}

func (f *fakeStatuses) RecordPulse(_ context.Context, p model.Pulse) (*model.WorkerStatus, error) {
	return &model.WorkerStatus{WorkerID: p.WorkerID, State: model.WorkerIdle}, nil
}

func (f *fakeStatuses) ListStale(context.Context, time.Time) ([]int64, error) {
	return nil, nil
}

type fakeExpirer struct{}

func (f *fakeExpirer) ExpireForWorker(context.Context, int64) (int, error) {
	return 0, nil
}

func (r *Receiver) listening() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// A restart must tear down the old socket generation and come back up
// well inside the shutdown grace; the sweep loop from the previous
// generation may not hold the ack hostage.
func TestRestartReopensWithinGrace(t *testing.T) {
	b := bus.New()
	acks := make(chan struct{}, 4)
	r := New(Options{
		Port:              0,
		HeartbeatInterval: 20 * time.Millisecond,
		Statuses:          &fakeStatuses{},
		Assignments:       &fakeExpirer{},
		Sub:               b.Subscribe(),
		Ack:               func() { acks <- struct{}{} },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	b.Publish(model.EventStartup)
	require.Eventually(t, r.listening, time.Second, 5*time.Millisecond)

	start := time.Now()
	b.Publish(model.EventRestart)
	select {
	case <-acks:
		require.Less(t, time.Since(start), time.Second,
			"restart ack waited out the handler grace")
	case <-time.After(2 * time.Second):
		t.Fatal("restart was never acknowledged")
	}
	require.True(t, r.listening(), "socket not reopened after restart")

	b.Publish(model.EventShutdown)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not stop on shutdown")
	}
	require.False(t, r.listening())
}
