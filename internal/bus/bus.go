// Package bus implements the process-wide lifecycle event fan-out.
//
// Every Core subsystem owns one Subscription. Fan-out is best-effort: a
// subscriber that attaches after a send does not observe prior sends,
// and a subscriber whose backlog overflows is handed ErrLagged instead
// of the events it missed.
package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/swarmgrid/swarm-core/internal/service/logger"
	"github.com/swarmgrid/swarm-core/model"
)

// Backlog is the per-subscriber buffered event count.
const Backlog = 16

var (
	// ErrLagged tells a slow subscriber it missed events and must
	// resync its view of the world before continuing.
	ErrLagged = errors.New("bus: subscriber lagged, events dropped")
	// ErrClosed terminates the subscriber loop.
	ErrClosed = errors.New("bus: closed")
)

type subscriber struct {
	ch     chan model.CoreEvent
	lagged bool
}

// Bus is the broadcast channel for CoreEvents plus the manipulation
// inbox through which administrative callers request transitions.
type Bus struct {
	mu      sync.Mutex
	subs    map[int]*subscriber
	nextID  int
	closed  bool
	barrier *Barrier

	inboxMu  sync.Mutex
	inbox    []model.CoreEvent
	inboxSig chan struct{}
}

func New() *Bus {
	return &Bus{
		subs:     make(map[int]*subscriber),
		inboxSig: make(chan struct{}, 1),
	}
}

// Subscription is one subsystem's private receiver.
type Subscription struct {
	bus *Bus
	id  int
}

// Subscribe attaches a new receiver. Attaching after a send does not
// replay prior sends.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = &subscriber{ch: make(chan model.CoreEvent, Backlog)}
	return &Subscription{bus: b, id: id}
}

// Publish fans the event out to every live subscriber. A full backlog
// drops the subscriber's oldest pending event and flags it lagged; no
// event is held for a slow receiver. Publishing on a closed bus is
// logged and ignored.
func (b *Bus) Publish(event model.CoreEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		logger.Log.Warn().Stringer("event", event).Msg("publish on closed bus ignored")
		return
	}
	for _, s := range b.subs {
		select {
		case s.ch <- event:
		default:
			select {
			case <-s.ch:
			default:
			}
			s.lagged = true
			s.ch <- event
		}
	}
}

// Close ends every subscriber loop. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, s := range b.subs {
		close(s.ch)
	}
}

// SubscriberCount reports how many receivers are attached.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Recv blocks for the next event. It returns ErrLagged exactly once
// after an overflow, ErrClosed once the bus shuts down, or the context
// error.
func (s *Subscription) Recv(ctx context.Context) (model.CoreEvent, error) {
	s.bus.mu.Lock()
	sub, ok := s.bus.subs[s.id]
	if ok && sub.lagged {
		sub.lagged = false
		s.bus.mu.Unlock()
		return 0, ErrLagged
	}
	s.bus.mu.Unlock()
	if !ok {
		return 0, ErrClosed
	}

	select {
	case event, open := <-sub.ch:
		if !open {
			return 0, ErrClosed
		}
		return event, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Unsubscribe detaches the receiver. Pending events are discarded.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
}

// Request enqueues a lifecycle transition on the manipulation inbox.
// The inbox is unbounded; Request never blocks.
func (b *Bus) Request(event model.CoreEvent) {
	b.inboxMu.Lock()
	b.inbox = append(b.inbox, event)
	b.inboxMu.Unlock()
	select {
	case b.inboxSig <- struct{}{}:
	default:
	}
}

// NextRequest blocks until an administrative caller has requested a
// transition, then dequeues it. Only the initializer calls this.
func (b *Bus) NextRequest(ctx context.Context) (model.CoreEvent, error) {
	for {
		b.inboxMu.Lock()
		if len(b.inbox) > 0 {
			event := b.inbox[0]
			b.inbox = b.inbox[1:]
			b.inboxMu.Unlock()
			return event, nil
		}
		b.inboxMu.Unlock()

		select {
		case <-b.inboxSig:
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}
