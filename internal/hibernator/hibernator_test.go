package hibernator

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/apperrors"
)

type fakeWorkers struct {
	parked    []int64
	gotCutoff time.Time
}

func (f *fakeWorkers) ParkIdle(_ context.Context, cutoff time.Time) ([]int64, error) {
	f.gotCutoff = cutoff
	return f.parked, nil
}

type fakeJobs struct {
	tagged  int64
	pending []int64
}

func (f *fakeJobs) TagCold(context.Context, time.Time) (int64, error) {
	return f.tagged, nil
}

func (f *fakeJobs) ListPendingPush(context.Context) ([]int64, error) {
	return f.pending, nil
}

type fakeAssignments struct {
	expiredWorkers []int64
	errOn          map[int64]error
}

func (f *fakeAssignments) ExpireForWorker(_ context.Context, workerID int64) (int, error) {
	if err := f.errOn[workerID]; err != nil {
		return 0, err
	}
	f.expiredWorkers = append(f.expiredWorkers, workerID)
	return 1, nil
}

type fakeBroker struct {
	published []int64
}

func (f *fakeBroker) PublishDelivery(_ context.Context, jobID int64) error {
	f.published = append(f.published, jobID)
	return nil
}

func (f *fakeBroker) SubscribeDelivery(func(ctx context.Context, jobID int64) error) error {
	return nil
}

func (f *fakeBroker) Shutdown() {}

func TestSweepParksIdleWorkers(t *testing.T) {
	workers := &fakeWorkers{parked: []int64{3, 9}}
	events := &fakeAssignments{}
	h := New(Options{
		Workers:     workers,
		Jobs:        &fakeJobs{},
		Assignments: events,
		Broker:      &fakeBroker{},
		ParkAfter:   10 * time.Minute,
		ColdAfter:   24 * time.Hour,
		Log:         zerolog.Nop(),
	})

	h.sweep(context.Background())

	require.Equal(t, []int64{3, 9}, events.expiredWorkers)
	require.WithinDuration(t, time.Now().UTC().Add(-10*time.Minute), workers.gotCutoff, time.Second)
}

func TestSweepAbortsOnIntegrityViolation(t *testing.T) {
	workers := &fakeWorkers{parked: []int64{3, 9}}
	events := &fakeAssignments{errOn: map[int64]error{
		3: apperrors.Integrity("assignments.ExpireForWorker", "assignment rows inconsistent"),
	}}
	broker := &fakeBroker{}
	h := New(Options{
		Workers:     workers,
		Jobs:        &fakeJobs{pending: []int64{42}},
		Assignments: events,
		Broker:      broker,
		ParkAfter:   10 * time.Minute,
		ColdAfter:   24 * time.Hour,
		Log:         zerolog.Nop(),
	})

	h.sweep(context.Background())

	// The pass ends at the fault: worker 9 and the push resume scan
	// wait for the next sweep.
	require.Empty(t, events.expiredWorkers)
	require.Empty(t, broker.published)
}

func TestSweepSignalsArchiveOnColdTag(t *testing.T) {
	signal := make(chan struct{}, 1)
	h := New(Options{
		Workers:       &fakeWorkers{},
		Jobs:          &fakeJobs{tagged: 4},
		Assignments:   &fakeAssignments{},
		Broker:        &fakeBroker{},
		ArchiveSignal: signal,
		Log:           zerolog.Nop(),
	})

	h.sweep(context.Background())

	select {
	case <-signal:
	default:
		t.Fatal("archive signal not raised")
	}

	// A second sweep with the signal still pending must not block.
	h2 := New(Options{
		Workers:       &fakeWorkers{},
		Jobs:          &fakeJobs{tagged: 1},
		Assignments:   &fakeAssignments{},
		Broker:        &fakeBroker{},
		ArchiveSignal: signal,
		Log:           zerolog.Nop(),
	})
	signal <- struct{}{}
	h2.sweep(context.Background())
}

func TestSweepResumesPendingPushes(t *testing.T) {
	broker := &fakeBroker{}
	h := New(Options{
		Workers:     &fakeWorkers{},
		Jobs:        &fakeJobs{pending: []int64{11, 12}},
		Assignments: &fakeAssignments{},
		Broker:      broker,
		Log:         zerolog.Nop(),
	})

	h.sweep(context.Background())

	require.Equal(t, []int64{11, 12}, broker.published)
}

func TestSweepNoColdNoSignal(t *testing.T) {
	signal := make(chan struct{}, 1)
	h := New(Options{
		Workers:       &fakeWorkers{},
		Jobs:          &fakeJobs{},
		Assignments:   &fakeAssignments{},
		Broker:        &fakeBroker{},
		ArchiveSignal: signal,
		Log:           zerolog.Nop(),
	})

	h.sweep(context.Background())

	select {
	case <-signal:
		t.Fatal("archive signal raised with nothing tagged")
	default:
	}
}
