package receiver

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/swarmgrid/swarm-core/model"
)

// DatagramSize is the fixed length of a worker pulse:
// worker_id u64, uptime u64, load_avg f32, active_job_id u64,
// little-endian.
const DatagramSize = 28

// ParsePulse decodes one liveness datagram.
func ParsePulse(buf []byte, at time.Time) (model.Pulse, error) {
	if len(buf) != DatagramSize {
		return model.Pulse{}, fmt.Errorf("pulse datagram must be %d bytes, got %d", DatagramSize, len(buf))
	}
	p := model.Pulse{
		WorkerID:    int64(binary.LittleEndian.Uint64(buf[0:8])),
		UptimeSecs:  int64(binary.LittleEndian.Uint64(buf[8:16])),
		LoadAvg:     math.Float32frombits(binary.LittleEndian.Uint32(buf[16:20])),
		ActiveJobID: int64(binary.LittleEndian.Uint64(buf[20:28])),
		ReceivedAt:  at,
	}
	if p.WorkerID <= 0 {
		return model.Pulse{}, fmt.Errorf("pulse datagram carries invalid worker id %d", p.WorkerID)
	}
	return p, nil
}

// AppendPulse encodes a pulse in wire order. Used by tests and by the
// worker-side client.
func AppendPulse(buf []byte, p model.Pulse) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.WorkerID))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.UptimeSecs))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(p.LoadAvg))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(p.ActiveJobID))
	return buf
}
