package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/model"
)

func recvWithTimeout(t *testing.T, sub *Subscription) (model.CoreEvent, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return sub.Recv(ctx)
}

func TestPublishDeliversInOrder(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	b.Publish(model.EventStartup)
	b.Publish(model.EventRestart)

	event, err := recvWithTimeout(t, sub)
	require.NoError(t, err)
	require.Equal(t, model.EventStartup, event)

	event, err = recvWithTimeout(t, sub)
	require.NoError(t, err)
	require.Equal(t, model.EventRestart, event)
}

func TestLateSubscriberSeesNoPriorSends(t *testing.T) {
	b := New()
	b.Publish(model.EventStartup)

	sub := b.Subscribe()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNothingAfterClose(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	b.Publish(model.EventShutdown)
	b.Close()
	b.Publish(model.EventStartup) // ignored

	event, err := recvWithTimeout(t, sub)
	require.NoError(t, err)
	require.Equal(t, model.EventShutdown, event)

	_, err = recvWithTimeout(t, sub)
	require.ErrorIs(t, err, ErrClosed)
}

func TestSlowSubscriberLags(t *testing.T) {
	b := New()
	sub := b.Subscribe()

	for i := 0; i < Backlog+4; i++ {
		b.Publish(model.EventRestart)
	}

	_, err := recvWithTimeout(t, sub)
	require.ErrorIs(t, err, ErrLagged)

	// After the lag signal the subscriber reads normally again.
	event, err := recvWithTimeout(t, sub)
	require.NoError(t, err)
	require.Equal(t, model.EventRestart, event)
}

func TestInboxOrderAndBlocking(t *testing.T) {
	b := New()
	b.Request(model.EventRestart)
	b.Request(model.EventShutdown)

	ctx := context.Background()
	event, err := b.NextRequest(ctx)
	require.NoError(t, err)
	require.Equal(t, model.EventRestart, event)

	event, err = b.NextRequest(ctx)
	require.NoError(t, err)
	require.Equal(t, model.EventShutdown, event)

	timeoutCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.NextRequest(timeoutCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBarrierCountFixedAtOpen(t *testing.T) {
	b := New()
	b.Subscribe()
	b.Subscribe()

	bar := b.OpenBarrier()
	b.Subscribe() // late, excluded

	require.False(t, bar.Completed())
	b.Ack()
	require.False(t, bar.Completed())
	b.Ack()
	require.True(t, bar.Completed())

	// Extra acks are ignored.
	b.Ack()
	require.NoError(t, bar.Wait(context.Background()))
}

func TestBarrierWithNoSubscribers(t *testing.T) {
	b := New()
	bar := b.OpenBarrier()
	require.True(t, bar.Completed())
}

func TestAckWithoutBarrierIsNoop(t *testing.T) {
	b := New()
	b.Subscribe()
	b.Ack() // must not panic
}
