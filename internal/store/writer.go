package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
)

// ErrRetriesExhausted reports a batch discarded after its retry budget ran out.
var ErrRetriesExhausted = errors.New("detection batch discarded after retries were exhausted")

// BatchWriter buffers detections and writes them to a Sink in batches.
//
// A flush is triggered when the buffer reaches the batch size or when the
// flush interval elapses, whichever comes first. A failed batch is kept and
// retried on the next trigger; new detections keep accumulating behind it so
// write order follows arrival order. After MaxRetries failed retries the batch
// is discarded and the loss is reported. The writer keeps consuming input
// afterwards so upstream stages never block on it.
type BatchWriter struct {
	sink          Sink
	batchSize     int
	flushInterval time.Duration
	maxRetries    int
	retryBackoff  time.Duration
	notifier      Notifier
	report        func(error)
	logger        *slog.Logger
	metrics       *metrics.Metrics

	// owned by the Run goroutine
	buffer   []Detection
	pending  []Detection
	failures int

	buffered  atomic.Int64
	written   atomic.Uint64
	discarded atomic.Uint64
	flushes   atomic.Uint64
	failed    atomic.Uint64
}

// WriterStats is a snapshot of writer counters
type WriterStats struct {
	Buffered      int    `json:"buffered"`
	Written       uint64 `json:"written"`
	Discarded     uint64 `json:"discarded"`
	Flushes       uint64 `json:"flushes"`
	FailedFlushes uint64 `json:"failed_flushes"`
}

// NewBatchWriter creates a writer for sink. report receives ErrRetriesExhausted
// when a batch is discarded while running; it must not block.
func NewBatchWriter(cfg config.WriterConfig, sink Sink, notifier Notifier, report func(error), logger *slog.Logger, m *metrics.Metrics) *BatchWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if report == nil {
		report = func(error) {}
	}
	return &BatchWriter{
		sink:          sink,
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.GetFlushInterval(),
		maxRetries:    cfg.MaxRetries,
		retryBackoff:  cfg.GetRetryBackoff(),
		notifier:      notifier,
		report:        report,
		logger:        logger.With("component", "writer", "sink", sink.Name()),
		metrics:       m,
	}
}

// Run consumes detections until in is closed, then performs a final
// synchronous flush. If ctx is cancelled first, Run stops reading and flushes
// what it holds. The returned error is non-nil only when the final flush had
// to discard detections.
func (w *BatchWriter) Run(ctx context.Context, in <-chan Detection) error {
	w.logger.Info("Writer started",
		"batch_size", w.batchSize,
		"flush_interval", w.flushInterval,
		"max_retries", w.maxRetries)

	timer := time.NewTimer(w.flushInterval)
	defer timer.Stop()

	for {
		select {
		case det, ok := <-in:
			if !ok {
				return w.finalFlush(ctx)
			}
			w.buffer = append(w.buffer, det)
			w.updateBuffered()

			if len(w.buffer) >= w.batchSize {
				w.flush(ctx)
				timer.Reset(w.flushInterval)
			}

		case <-timer.C:
			if w.held() > 0 {
				w.flush(ctx)
			}
			timer.Reset(w.flushInterval)

		case <-ctx.Done():
			w.logger.Warn("Writer aborted, flushing buffered detections", "buffered", w.held())
			return w.finalFlush(ctx)
		}
	}
}

// flush makes one write attempt for the pending batch, promoting the buffer
// to pending first when nothing is outstanding.
func (w *BatchWriter) flush(ctx context.Context) {
	if w.pending == nil {
		if len(w.buffer) == 0 {
			return
		}
		w.pending, w.buffer = w.buffer, nil
	}

	if w.attempt(ctx) {
		// a backlog built up behind a retried batch goes out right away
		if len(w.buffer) >= w.batchSize {
			w.flush(ctx)
		}
		return
	}

	if w.failures > w.maxRetries {
		err := w.discard()
		w.report(err)
	}
}

// attempt writes the pending batch once and reports whether it succeeded.
func (w *BatchWriter) attempt(ctx context.Context) bool {
	batch := w.pending
	start := time.Now()
	err := w.sink.WriteBatch(ctx, batch)
	elapsed := time.Since(start)

	w.flushes.Add(1)
	w.metrics.RecordFlush(len(batch), elapsed.Seconds(), err)

	if err != nil {
		w.failures++
		w.failed.Add(1)
		w.logger.Error("Failed to write batch",
			"count", len(batch),
			"attempt", w.failures,
			"max_retries", w.maxRetries,
			"error", err)
		return false
	}

	w.logger.Info("Wrote detections", "count", len(batch), "duration", elapsed)
	w.written.Add(uint64(len(batch)))
	w.pending = nil
	w.failures = 0
	w.updateBuffered()

	if w.notifier != nil {
		for _, det := range batch {
			w.notifier.Notify(det)
		}
	}
	return true
}

// discard drops the pending batch, logging every record so nothing is lost
// silently.
func (w *BatchWriter) discard() error {
	batch := w.pending
	for _, det := range batch {
		w.logger.Error("Discarding detection", "detection", det.String())
	}

	w.discarded.Add(uint64(len(batch)))
	w.metrics.RecordDiscarded(len(batch))
	w.pending = nil
	w.failures = 0
	w.updateBuffered()

	return fmt.Errorf("%w: %d detections after %d attempts", ErrRetriesExhausted, len(batch), w.maxRetries+1)
}

// finalFlush writes everything still held, retrying each batch with the
// configured backoff. It ignores cancellation of ctx so an abort still gets
// a best-effort write.
func (w *BatchWriter) finalFlush(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)

	w.logger.Info("Final flush", "buffered", w.held())

	var errs []error
	for w.held() > 0 {
		if w.pending == nil {
			w.pending, w.buffer = w.buffer, nil
		}

		for w.pending != nil && !w.attempt(ctx) {
			if w.failures > w.maxRetries {
				errs = append(errs, w.discard())
				break
			}
			time.Sleep(w.retryBackoff)
		}
	}

	w.logger.Info("Writer stopped",
		"written", w.written.Load(),
		"discarded", w.discarded.Load())
	return errors.Join(errs...)
}

func (w *BatchWriter) held() int {
	return len(w.pending) + len(w.buffer)
}

func (w *BatchWriter) updateBuffered() {
	n := w.held()
	w.buffered.Store(int64(n))
	w.metrics.SetWriterBuffered(n)
}

// Buffered returns the number of detections not yet durably written
func (w *BatchWriter) Buffered() int {
	return int(w.buffered.Load())
}

// Stats returns writer counters
func (w *BatchWriter) Stats() WriterStats {
	return WriterStats{
		Buffered:      w.Buffered(),
		Written:       w.written.Load(),
		Discarded:     w.discarded.Load(),
		Flushes:       w.flushes.Load(),
		FailedFlushes: w.failed.Load(),
	}
}
