package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/model"
)

func TestNextIntervalLinear(t *testing.T) {
	require.Equal(t, 10*time.Second, NextInterval(model.BackoffLinear, 10, 60, 1))
	require.Equal(t, 20*time.Second, NextInterval(model.BackoffLinear, 10, 60, 2))
	require.Equal(t, 50*time.Second, NextInterval(model.BackoffLinear, 10, 60, 5))
	require.Equal(t, 60*time.Second, NextInterval(model.BackoffLinear, 10, 60, 9)) // ceiling
}

func TestNextIntervalExponential(t *testing.T) {
	require.Equal(t, 10*time.Second, NextInterval(model.BackoffExponential, 10, 60, 1))
	require.Equal(t, 20*time.Second, NextInterval(model.BackoffExponential, 10, 60, 2))
	require.Equal(t, 40*time.Second, NextInterval(model.BackoffExponential, 10, 60, 3))
	require.Equal(t, 60*time.Second, NextInterval(model.BackoffExponential, 10, 60, 4)) // ceiling
}

func TestNextIntervalLogarithmic(t *testing.T) {
	require.Equal(t, 10*time.Second, NextInterval(model.BackoffLogarithmic, 10, 60, 1))
	require.Equal(t, 20*time.Second, NextInterval(model.BackoffLogarithmic, 10, 60, 2))
	require.Equal(t, 30*time.Second, NextInterval(model.BackoffLogarithmic, 10, 60, 4))
}

// The schedule must never shrink between consecutive attempts.
func TestNextIntervalMonotone(t *testing.T) {
	for _, kind := range []model.BackoffKind{
		model.BackoffLinear, model.BackoffLogarithmic, model.BackoffExponential,
	} {
		prev := time.Duration(0)
		for attempt := 1; attempt <= 20; attempt++ {
			cur := NextInterval(kind, 10, 300, attempt)
			require.GreaterOrEqual(t, cur, prev, "kind %s attempt %d", kind, attempt)
			require.LessOrEqual(t, cur, 300*time.Second, "kind %s attempt %d", kind, attempt)
			prev = cur
		}
	}
}

func TestNextIntervalClampsBadAttempt(t *testing.T) {
	require.Equal(t, NextInterval(model.BackoffLinear, 10, 60, 1),
		NextInterval(model.BackoffLinear, 10, 60, 0))
}
