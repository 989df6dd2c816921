package inference

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/bburnak/BirdListener/internal/audio"
	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/store"
)

// Dispatcher runs inference on one chunk at a time and forwards detections
// whose confidence reaches the threshold.
//
// Detections carry the chunk's elapsed start and end, not the model's
// sub-window offsets, and the wall-clock time the chunk was sealed. A model
// error discards that chunk only.
type Dispatcher struct {
	model     Model
	threshold float64
	modelRate int
	queue     *audio.ChunkQueue
	out       chan store.Detection
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	processed  atomic.Uint64
	failed     atomic.Uint64
	created    atomic.Uint64
	rejected   atomic.Uint64
	inFlightAt atomic.Int64  // unix nanos of the running call, 0 when idle
	inFlightSq atomic.Uint64 // chunk seq of the running call
}

// DispatcherStats is a snapshot of dispatcher counters
type DispatcherStats struct {
	ChunksProcessed   uint64 `json:"chunks_processed"`
	ChunksFailed      uint64 `json:"chunks_failed"`
	DetectionsCreated uint64 `json:"detections_created"`
	BelowThreshold    uint64 `json:"below_threshold"`
	OutputDepth       int    `json:"output_depth"`
	OutputCapacity    int    `json:"output_capacity"`
	InFlight          bool   `json:"in_flight"`
}

// NewDispatcher creates a dispatcher reading from queue. Detections are
// delivered on Detections(), which is closed when Run returns.
func NewDispatcher(cfg *config.Config, model Model, queue *audio.ChunkQueue, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		model:     model,
		threshold: cfg.Pipeline.DetectionThreshold,
		modelRate: cfg.Model.SampleRate,
		queue:     queue,
		out:       make(chan store.Detection, cfg.Queue.DetectionCapacity),
		logger:    logger.With("component", "dispatcher", "model", model.Name()),
		metrics:   m,
		now:       time.Now,
	}
}

// Detections returns the output channel
func (d *Dispatcher) Detections() <-chan store.Detection {
	return d.out
}

// Run processes chunks until the queue is closed and drained. Cancelling ctx
// aborts: Run returns after the current chunk and queued chunks are dropped.
func (d *Dispatcher) Run(ctx context.Context) error {
	defer close(d.out)

	stop := context.AfterFunc(ctx, d.queue.Close)
	defer stop()

	d.logger.Info("Dispatcher started", "threshold", d.threshold)

	for {
		chunk, ok := d.queue.Pop()
		if !ok {
			d.logger.Info("Dispatcher stopped",
				"chunks_processed", d.processed.Load(),
				"chunks_failed", d.failed.Load(),
				"detections_created", d.created.Load())
			return nil
		}
		d.metrics.SetQueueDepth(d.queue.Len())

		if ctx.Err() != nil {
			d.logger.Warn("Dispatcher aborted, discarding queued chunks",
				"discarded", d.queue.Len()+1)
			return nil
		}

		if err := d.Process(ctx, chunk); err != nil {
			// Bad chunks are never fatal
			d.logger.Warn("Chunk discarded after inference failure",
				"chunk_seq", chunk.Seq,
				"start_sec", chunk.StartSec,
				"error", err)
		}
	}
}

// Process runs the model on one chunk and forwards qualifying detections.
func (d *Dispatcher) Process(ctx context.Context, chunk *audio.AudioChunk) error {
	if chunk.Frames == 0 || chunk.Channels < 1 || len(chunk.Samples) != chunk.Frames*chunk.Channels {
		d.failed.Add(1)
		d.metrics.RecordInference(0, true)
		return fmt.Errorf("malformed chunk: %d frames, %d channels, %d samples", chunk.Frames, chunk.Channels, len(chunk.Samples))
	}

	samples, rate := chunk.Samples, chunk.SampleRate
	if d.modelRate > 0 && d.modelRate != rate {
		resampled, err := audio.Resample(samples, rate, d.modelRate, chunk.Channels)
		if err != nil {
			d.failed.Add(1)
			d.metrics.RecordInference(0, true)
			return fmt.Errorf("resample to %d Hz: %w", d.modelRate, err)
		}
		samples, rate = resampled, d.modelRate
	}

	d.logger.Info("Identifying species", "chunk_seq", chunk.Seq, "start_sec", chunk.StartSec, "end_sec", chunk.EndSec)

	start := d.now()
	d.inFlightSq.Store(chunk.Seq)
	d.inFlightAt.Store(start.UnixNano())
	raws, err := d.model.Analyze(ctx, samples, rate, chunk.Channels)
	d.inFlightAt.Store(0)
	elapsed := d.now().Sub(start)

	d.metrics.RecordInference(elapsed.Seconds(), err != nil)
	if err != nil {
		d.failed.Add(1)
		return fmt.Errorf("model %s: %w", d.model.Name(), err)
	}
	d.processed.Add(1)

	created, rejected := 0, 0
	for _, raw := range raws {
		if math.IsNaN(raw.Confidence) || raw.Confidence < 0 || raw.Confidence > 1 {
			d.logger.Warn("Ignoring detection with invalid confidence",
				"chunk_seq", chunk.Seq, "species", raw.Species, "confidence", raw.Confidence)
			rejected++
			continue
		}

		d.logger.Debug("Predicted species",
			"chunk_seq", chunk.Seq,
			"species", raw.Species,
			"confidence", raw.Confidence,
			"window_start", raw.StartSec,
			"window_end", raw.EndSec)

		// Negated so a NaN threshold keeps nothing
		if !(raw.Confidence >= d.threshold) {
			rejected++
			continue
		}

		det := store.Detection{
			TimestampUTC:  chunk.SealedAt,
			ChunkStartSec: chunk.StartSec,
			ChunkEndSec:   chunk.EndSec,
			Species:       raw.Species,
			Confidence:    raw.Confidence,
			ChunkSeq:      chunk.Seq,
		}

		select {
		case d.out <- det:
			created++
		case <-ctx.Done():
			d.logger.Error("Dispatcher aborted with undelivered detections", "chunk_seq", chunk.Seq)
			d.created.Add(uint64(created))
			d.rejected.Add(uint64(rejected))
			return ctx.Err()
		}
	}

	d.created.Add(uint64(created))
	d.rejected.Add(uint64(rejected))
	d.metrics.RecordDetections(created, rejected)

	if created == 0 {
		d.logger.Info("No strong predictions for chunk", "chunk_seq", chunk.Seq, "duration", elapsed)
	} else {
		d.logger.Info("Detections created", "chunk_seq", chunk.Seq, "count", created, "duration", elapsed)
	}

	return nil
}

// InFlight reports how long the current model call has been running.
func (d *Dispatcher) InFlight() (time.Duration, uint64, bool) {
	at := d.inFlightAt.Load()
	if at == 0 {
		return 0, 0, false
	}
	return d.now().Sub(time.Unix(0, at)), d.inFlightSq.Load(), true
}

// Stats returns dispatcher counters
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		ChunksProcessed:   d.processed.Load(),
		ChunksFailed:      d.failed.Load(),
		DetectionsCreated: d.created.Load(),
		BelowThreshold:    d.rejected.Load(),
		OutputDepth:       len(d.out),
		OutputCapacity:    cap(d.out),
		InFlight:          d.inFlightAt.Load() != 0,
	}
}
