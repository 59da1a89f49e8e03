package scheduler

import (
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// missGrace bounds how long after its fire-time a cron tick may still
// fire. A miss older than the grace is skipped, never replayed.
const missGrace = 2 * time.Minute

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronGate tracks per-job fire-times so each cron tick fires at most
// once. Expressions are five-field and evaluated in UTC; DST shifts
// are not honored.
type cronGate struct {
	mu    sync.Mutex
	fired map[int64]time.Time // job id -> last fire-time dispatched
}

func newCronGate() *cronGate {
	return &cronGate{fired: make(map[int64]time.Time)}
}

// due reports whether the expression has a fire-time within
// (now-grace, now] that has not been dispatched yet, and returns it.
func (g *cronGate) due(jobID int64, expr string, now time.Time) (time.Time, bool, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, false, err
	}
	now = now.UTC()

	// The earliest fire-time after the grace horizon is the only
	// candidate that may still fire.
	fireAt := sched.Next(now.Add(-missGrace))
	if fireAt.After(now) {
		return time.Time{}, false, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.fired[jobID]; ok && !fireAt.After(last) {
		return time.Time{}, false, nil
	}
	return fireAt, true, nil
}

// mark records a dispatched fire-time.
func (g *cronGate) mark(jobID int64, fireAt time.Time) {
	g.mu.Lock()
	g.fired[jobID] = fireAt
	g.mu.Unlock()
}
