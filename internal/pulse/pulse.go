// Package pulse drives the event bus: it owns the lifecycle transitions
// and the periodic tick channels the other subsystems wait on.
package pulse

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/swarmgrid/swarm-core/internal/bus"
	"github.com/swarmgrid/swarm-core/internal/service/logger"
	"github.com/swarmgrid/swarm-core/model"
)

// Tick cadences. Slow paces the sweep-style subsystems, Medium the
// scheduler wake-up, Fast the dispatch loop.
type Tick int

const (
	Slow Tick = iota // 10s
	Medium           // 1s
	Fast             // 50ms
)

// Broadcaster emits Startup on start, relays requested transitions from
// the manipulation inbox, and guarantees Shutdown is the final event.
type Broadcaster struct {
	bus *bus.Bus
	log zerolog.Logger

	mu       sync.Mutex
	slowSubs []chan Tick
	medSubs  []chan Tick
	fastSubs []chan Tick

	shutdownOnce sync.Once

	restartBarrier *bus.Barrier
}

func New(b *bus.Bus) *Broadcaster {
	return &Broadcaster{
		bus: b,
		log: logger.Module("pulse_broadcaster"),
	}
}

// SubscribeTicks returns a tick channel at the requested cadence.
func (p *Broadcaster) SubscribeTicks(t Tick) <-chan Tick {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan Tick, 1)
	switch t {
	case Slow:
		p.slowSubs = append(p.slowSubs, ch)
	case Medium:
		p.medSubs = append(p.medSubs, ch)
	default:
		p.fastSubs = append(p.fastSubs, ch)
	}
	return ch
}

// Start emits Startup, then runs until ctx is cancelled, fanning out
// ticks and relaying inbox requests onto the broadcast channel. On exit
// it emits the final Shutdown and closes the bus; no event follows.
func (p *Broadcaster) Start(ctx context.Context) {
	p.bus.Publish(model.EventStartup)
	p.log.Info().Msg("startup broadcast")

	slow := time.NewTicker(10 * time.Second)
	medium := time.NewTicker(time.Second)
	fast := time.NewTicker(50 * time.Millisecond)
	defer slow.Stop()
	defer medium.Stop()
	defer fast.Stop()

	requests := make(chan model.CoreEvent)
	go func() {
		defer close(requests)
		for {
			event, err := p.bus.NextRequest(ctx)
			if err != nil {
				return
			}
			select {
			case requests <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-slow.C:
			p.fanTick(Slow)
		case <-medium.C:
			p.fanTick(Medium)
		case <-fast.C:
			p.fanTick(Fast)
		case event, ok := <-requests:
			if !ok {
				p.Shutdown()
				return
			}
			switch event {
			case model.EventRestart:
				if p.restartBarrier != nil && !p.restartBarrier.Completed() {
					// A restart cycle is already in flight; a second
					// request inside the barrier window is absorbed.
					p.log.Info().Msg("restart already in progress, request absorbed")
					continue
				}
				p.log.Info().Msg("restart requested")
				p.restartBarrier = p.bus.OpenBarrier()
				p.bus.Publish(model.EventRestart)
			case model.EventShutdown:
				p.Shutdown()
				return
			case model.EventStartup:
				// Startup is emitted once by Start itself.
			}
		case <-ctx.Done():
			p.Shutdown()
			return
		}
	}
}

// Shutdown emits the final event and closes the bus. Idempotent.
func (p *Broadcaster) Shutdown() {
	p.shutdownOnce.Do(func() {
		p.log.Info().Msg("shutdown broadcast")
		p.bus.Publish(model.EventShutdown)
		p.bus.Close()
	})
}

func (p *Broadcaster) fanTick(t Tick) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var subs []chan Tick
	switch t {
	case Slow:
		subs = p.slowSubs
	case Medium:
		subs = p.medSubs
	default:
		subs = p.fastSubs
	}
	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}
