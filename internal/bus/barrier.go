package bus

import (
	"context"
	"sync"
)

// Barrier is the restart acknowledgement point. Its count is fixed when
// the barrier opens; subscribers that attach later are excluded.
type Barrier struct {
	mu   sync.Mutex
	need int
	got  int
	done chan struct{}
}

// OpenBarrier snapshots the current subscriber count and installs the
// barrier as the target for Ack calls.
func (b *Bus) OpenBarrier() *Barrier {
	b.mu.Lock()
	defer b.mu.Unlock()
	bar := &Barrier{need: len(b.subs), done: make(chan struct{})}
	if bar.need == 0 {
		close(bar.done)
	}
	b.barrier = bar
	return bar
}

// Ack records one subsystem's acknowledgement of the in-flight
// lifecycle transition. Ack without an open barrier is a no-op.
func (b *Bus) Ack() {
	b.mu.Lock()
	bar := b.barrier
	b.mu.Unlock()
	if bar == nil {
		return
	}
	bar.mu.Lock()
	defer bar.mu.Unlock()
	if bar.got >= bar.need {
		return
	}
	bar.got++
	if bar.got == bar.need {
		close(bar.done)
	}
}

// Wait blocks until every counted subscriber has acknowledged, or the
// context expires.
func (bar *Barrier) Wait(ctx context.Context) error {
	select {
	case <-bar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Completed reports whether every counted subscriber has acknowledged.
func (bar *Barrier) Completed() bool {
	select {
	case <-bar.done:
		return true
	default:
		return false
	}
}
