package audio

import "time"

// SampleBlock is one capture callback's worth of interleaved float32 samples.
// Blocks are immutable once produced; the capture stage copies device memory
// before building one.
type SampleBlock struct {
	Seq       uint64    // monotonically increasing per source
	Samples   []float32 // interleaved, len = Frames * channels
	Frames    int
	ArrivedAt time.Time
}

// AudioChunk is a sealed span of concatenated blocks handed to inference.
// A chunk has exactly one owner at a time: assembler, queue, then dispatcher.
type AudioChunk struct {
	Seq        uint64    // chunk index since start, starting at 0
	Samples    []float32 // interleaved
	Frames     int
	Channels   int
	SampleRate int
	StartSec   float64   // elapsed pipeline time of the first frame
	EndSec     float64   // elapsed pipeline time after the last frame
	SealedAt   time.Time // wall clock at seal
	Gaps       int       // capture blocks known missing inside this chunk
	Partial    bool      // flushed at shutdown below the configured duration
}

// Duration returns the audio duration carried by the chunk's samples.
func (c *AudioChunk) Duration() float64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return float64(c.Frames) / float64(c.SampleRate)
}
