package audio

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
)

// Assembler accumulates sample blocks into chunks of a fixed frame count and
// pushes each sealed chunk onto the queue.
//
// Chunks are cut at exactly ChunkFrames; the remainder of a block that crosses
// the boundary starts the next chunk, so every delivered frame lands in exactly
// one chunk. Elapsed time is counted in frames from the first block and
// advanced over sequence gaps left by blocks dropped at capture.
type Assembler struct {
	sampleRate  int
	channels    int
	blockSize   int
	chunkFrames int

	queue   *ChunkQueue
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// in-progress chunk, owned by the Run goroutine
	samples    []float32
	frames     int
	startFrame uint64
	cursor     uint64
	gaps       int
	nextSeq    uint64
	started    bool
	chunkSeq   uint64

	// counters readable from other goroutines
	sealed        atomic.Uint64
	gapBlocks     atomic.Uint64
	framesIn      atomic.Uint64
	pendingFrames atomic.Int64
}

// NewAssembler creates an assembler for the given pipeline parameters.
func NewAssembler(cfg config.PipelineConfig, queue *ChunkQueue, logger *slog.Logger, m *metrics.Metrics) *Assembler {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Assembler{
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		blockSize:   cfg.BlockSize,
		chunkFrames: cfg.ChunkFrames(),
		queue:       queue,
		logger:      logger.With("component", "assembler"),
		metrics:     m,
		now:         time.Now,
	}
	a.samples = a.newBuffer()
	return a
}

func (a *Assembler) newBuffer() []float32 {
	return make([]float32, 0, a.chunkFrames*a.channels)
}

// Run consumes blocks until in is closed, then seals any partial chunk and
// closes the queue. Cancelling ctx aborts the same way without waiting for in.
func (a *Assembler) Run(ctx context.Context, in <-chan SampleBlock) error {
	defer a.queue.Close()

	a.logger.Info("Assembler started",
		"chunk_frames", a.chunkFrames,
		"sample_rate", a.sampleRate,
		"channels", a.channels)

	for {
		select {
		case block, ok := <-in:
			if !ok {
				a.Flush()
				a.logger.Info("Assembler stopped", "chunks_sealed", a.sealed.Load())
				return nil
			}
			a.Add(block)

		case <-ctx.Done():
			a.Flush()
			a.logger.Warn("Assembler aborted", "chunks_sealed", a.sealed.Load())
			return nil
		}
	}
}

// Add appends one block, sealing as many chunks as it completes.
func (a *Assembler) Add(block SampleBlock) {
	frames := block.Frames
	if frames == 0 || frames*a.channels > len(block.Samples) {
		frames = len(block.Samples) / a.channels
	}
	if frames == 0 {
		return
	}

	if a.started && block.Seq > a.nextSeq {
		missing := block.Seq - a.nextSeq
		a.cursor += missing * uint64(a.blockSize)
		a.gaps += int(missing)
		a.gapBlocks.Add(missing)
		a.logger.Debug("Capture gap detected",
			"expected_seq", a.nextSeq,
			"block_seq", block.Seq,
			"missing_blocks", missing)
	}
	a.started = true
	a.nextSeq = block.Seq + 1
	a.framesIn.Add(uint64(frames))

	offset := 0
	for offset < frames {
		if a.frames == 0 {
			a.startFrame = a.cursor
		}

		n := frames - offset
		if room := a.chunkFrames - a.frames; n > room {
			n = room
		}

		a.samples = append(a.samples, block.Samples[offset*a.channels:(offset+n)*a.channels]...)
		a.frames += n
		a.cursor += uint64(n)
		offset += n

		if a.frames >= a.chunkFrames {
			a.seal(false)
		}
	}

	a.pendingFrames.Store(int64(a.frames))
}

// Flush seals the in-progress chunk as a partial chunk if it holds any frames.
func (a *Assembler) Flush() {
	if a.frames == 0 {
		return
	}
	a.seal(true)
	a.pendingFrames.Store(0)
}

func (a *Assembler) seal(partial bool) {
	chunk := &AudioChunk{
		Seq:        a.chunkSeq,
		Samples:    a.samples,
		Frames:     a.frames,
		Channels:   a.channels,
		SampleRate: a.sampleRate,
		StartSec:   float64(a.startFrame) / float64(a.sampleRate),
		EndSec:     float64(a.cursor) / float64(a.sampleRate),
		SealedAt:   a.now().UTC(),
		Gaps:       a.gaps,
		Partial:    partial,
	}

	a.chunkSeq++
	a.samples = a.newBuffer()
	a.frames = 0
	a.gaps = 0
	a.sealed.Add(1)
	a.metrics.RecordChunkSealed(chunk.Duration(), chunk.Gaps)

	a.logger.Info("Chunk sealed",
		"chunk_seq", chunk.Seq,
		"start_sec", chunk.StartSec,
		"end_sec", chunk.EndSec,
		"frames", chunk.Frames,
		"gaps", chunk.Gaps,
		"partial", partial)

	evicted, err := a.queue.Push(chunk)
	if err != nil {
		if errors.Is(err, ErrQueueClosed) {
			a.logger.Error("Chunk lost, queue already closed", "chunk_seq", chunk.Seq)
			return
		}
		a.logger.Error("Failed to queue chunk", "chunk_seq", chunk.Seq, "error", err)
		return
	}
	if evicted != nil {
		a.metrics.RecordChunkEvicted()
		a.logger.Warn("Chunk queue full, evicted oldest chunk",
			"evicted_seq", evicted.Seq,
			"evicted_start_sec", evicted.StartSec,
			"total_evicted", a.queue.Evicted())
	}
	a.metrics.SetQueueDepth(a.queue.Len())
}

// Sealed returns the number of chunks sealed so far.
func (a *Assembler) Sealed() uint64 {
	return a.sealed.Load()
}

// GapBlocks returns the number of missing capture blocks observed.
func (a *Assembler) GapBlocks() uint64 {
	return a.gapBlocks.Load()
}

// FramesIn returns the number of frames consumed from the intake.
func (a *Assembler) FramesIn() uint64 {
	return a.framesIn.Load()
}

// PendingFrames returns the frame count of the in-progress chunk.
func (a *Assembler) PendingFrames() int {
	return int(a.pendingFrames.Load())
}
