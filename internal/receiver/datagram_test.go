package receiver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/swarmgrid/swarm-core/model"
)

func TestPulseRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := model.Pulse{
		WorkerID:    42,
		UptimeSecs:  3600,
		LoadAvg:     1.25,
		ActiveJobID: 7,
	}

	buf := AppendPulse(nil, in)
	require.Len(t, buf, DatagramSize)

	out, err := ParsePulse(buf, at)
	require.NoError(t, err)
	require.Equal(t, in.WorkerID, out.WorkerID)
	require.Equal(t, in.UptimeSecs, out.UptimeSecs)
	require.Equal(t, in.LoadAvg, out.LoadAvg)
	require.Equal(t, in.ActiveJobID, out.ActiveJobID)
	require.Equal(t, at, out.ReceivedAt)
}

func TestPulseWireOrderIsLittleEndian(t *testing.T) {
	buf := AppendPulse(nil, model.Pulse{WorkerID: 1, ActiveJobID: 0x0102})
	require.Equal(t, byte(0x01), buf[0])
	require.Equal(t, byte(0x02), buf[20])
	require.Equal(t, byte(0x01), buf[21])
}

func TestParsePulseRejectsWrongSize(t *testing.T) {
	for _, n := range []int{0, 27, 29, 64} {
		_, err := ParsePulse(make([]byte, n), time.Now())
		require.Error(t, err, "size %d", n)
	}
}

func TestParsePulseRejectsZeroWorker(t *testing.T) {
	buf := AppendPulse(nil, model.Pulse{WorkerID: 0, UptimeSecs: 1})
	_, err := ParsePulse(buf, time.Now())
	require.Error(t, err)
}

func TestIdlePulseHasZeroJob(t *testing.T) {
	buf := AppendPulse(nil, model.Pulse{WorkerID: 9})
	p, err := ParsePulse(buf, time.Now())
	require.NoError(t, err)
	require.Zero(t, p.ActiveJobID)
}
