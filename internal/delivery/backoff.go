package delivery

import (
	"math"
	"time"

	"github.com/swarmgrid/swarm-core/model"
)

// NextInterval computes the wait before push attempt n (1-based) from
// the job's base interval, capped at the ceiling. The sequence is
// non-decreasing for every kind.
func NextInterval(kind model.BackoffKind, baseSecs, maxSecs int64, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(baseSecs)
	var secs float64
	switch kind {
	case model.BackoffLinear:
		secs = base * float64(attempt)
	case model.BackoffLogarithmic:
		secs = base * (1 + math.Log2(float64(attempt)))
	case model.BackoffExponential:
		secs = base * math.Pow(2, float64(attempt-1))
	default:
		secs = base
	}
	if maxSecs > 0 && secs > float64(maxSecs) {
		secs = float64(maxSecs)
	}
	return time.Duration(secs * float64(time.Second))
}
