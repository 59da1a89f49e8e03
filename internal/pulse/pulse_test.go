package pulse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/model"
)

func recvEvent(t *testing.T, sub *bus.Subscription) model.CoreEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	event, err := sub.Recv(ctx)
	require.NoError(t, err)
	return event
}

func TestStartupBroadcastFirst(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe()
	p := New(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	require.Equal(t, model.EventStartup, recvEvent(t, sub))

	b.Request(model.EventShutdown)
	require.Equal(t, model.EventShutdown, recvEvent(t, sub))
}

func TestShutdownIsFinal(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe()
	p := New(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	require.Equal(t, model.EventStartup, recvEvent(t, sub))
	b.Request(model.EventShutdown)
	require.Equal(t, model.EventShutdown, recvEvent(t, sub))

	// Nothing follows Shutdown; the bus is closed under the subscriber.
	_, err := sub.Recv(context.Background())
	require.ErrorIs(t, err, bus.ErrClosed)

	// A second Shutdown is absorbed without panicking on the closed bus.
	p.Shutdown()
}

func TestRestartAbsorbedWhileInFlight(t *testing.T) {
	b := bus.New()
	sub := b.Subscribe()
	p := New(b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	require.Equal(t, model.EventStartup, recvEvent(t, sub))

	b.Request(model.EventRestart)
	require.Equal(t, model.EventRestart, recvEvent(t, sub))

	// The subscriber has not acknowledged yet, so a second restart
	// request lands inside the barrier window and is absorbed.
	b.Request(model.EventRestart)
	quiet, quietCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer quietCancel()
	_, err := sub.Recv(quiet)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Once the barrier completes, restart requests flow again.
	b.Ack()
	b.Request(model.EventRestart)
	require.Equal(t, model.EventRestart, recvEvent(t, sub))

	b.Request(model.EventShutdown)
	require.Equal(t, model.EventShutdown, recvEvent(t, sub))
}

func TestTickFanOut(t *testing.T) {
	b := bus.New()
	p := New(b)
	fast := p.SubscribeTicks(Fast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	select {
	case tick := <-fast:
		require.Equal(t, Fast, tick)
	case <-time.After(2 * time.Second):
		t.Fatal("no fast tick within two seconds")
	}
}
