package store

import (
	"fmt"
	"time"
)

// Detection is a persisted species detection. Chunk times are elapsed
// pipeline seconds; TimestampUTC is the wall-clock time the chunk was sealed.
type Detection struct {
	TimestampUTC  time.Time `json:"timestamp_utc" msgpack:"timestamp_utc"`
	ChunkStartSec float64   `json:"chunk_start_sec" msgpack:"chunk_start_sec"`
	ChunkEndSec   float64   `json:"chunk_end_sec" msgpack:"chunk_end_sec"`
	Species       string    `json:"species" msgpack:"species"`
	Confidence    float64   `json:"confidence" msgpack:"confidence"`
	ChunkSeq      uint64    `json:"chunk_seq" msgpack:"chunk_seq"`
}

// String returns a human-readable representation of the detection
func (d Detection) String() string {
	return fmt.Sprintf("Detection{species=%q, confidence=%.2f, interval=[%.1f, %.1f], time=%s}",
		d.Species, d.Confidence, d.ChunkStartSec, d.ChunkEndSec, d.TimestampUTC.Format(time.RFC3339))
}
