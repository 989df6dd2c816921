package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the bird listener.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Capture metrics
	BlocksCaptured prometheus.Counter
	BlocksDropped  prometheus.Counter
	PacketErrors   prometheus.Counter
	IntakeDepth    prometheus.Gauge

	// Chunk metrics
	ChunksSealed   prometheus.Counter
	ChunksEvicted  prometheus.Counter
	ChunkDuration  prometheus.Histogram
	ChunkGapBlocks prometheus.Counter
	QueueDepth     prometheus.Gauge

	// Inference metrics
	InferenceRequests  prometheus.Counter
	InferenceFailures  prometheus.Counter
	InferenceRetries   prometheus.Counter
	InferenceDuration  prometheus.Histogram
	DetectionsCreated  prometheus.Counter
	DetectionsRejected prometheus.Counter

	// Writer metrics
	DetectionsWritten   prometheus.Counter
	DetectionsDiscarded prometheus.Counter
	WriterFlushes       prometheus.Counter
	WriterFailures      prometheus.Counter
	WriterFlushDuration prometheus.Histogram
	WriterBuffered      prometheus.Gauge

	// Notification metrics
	NotificationsSent    prometheus.Counter
	NotificationsDropped prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Capture metrics
		BlocksCaptured: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_blocks_captured_total",
			Help: "Total number of sample blocks delivered by the capture device",
		}),
		BlocksDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_blocks_dropped_total",
			Help: "Total number of sample blocks dropped because the intake was full",
		}),
		PacketErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_packet_errors_total",
			Help: "Total number of malformed network microphone packets",
		}),
		IntakeDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "birdlistener_intake_depth",
			Help: "Current number of blocks waiting for the assembler",
		}),

		// Chunk metrics
		ChunksSealed: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_chunks_sealed_total",
			Help: "Total number of audio chunks sealed by the assembler",
		}),
		ChunksEvicted: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_chunks_evicted_total",
			Help: "Total number of queued chunks evicted on overflow",
		}),
		ChunkDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "birdlistener_chunk_duration_seconds",
			Help:    "Audio duration of sealed chunks",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 minutes
		}),
		ChunkGapBlocks: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_chunk_gap_blocks_total",
			Help: "Total number of missing capture blocks observed by the assembler",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "birdlistener_chunk_queue_depth",
			Help: "Current number of chunks awaiting inference",
		}),

		// Inference metrics
		InferenceRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_inference_requests_total",
			Help: "Total number of chunks submitted to the model",
		}),
		InferenceFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_inference_failures_total",
			Help: "Total number of chunks discarded after a model error",
		}),
		InferenceRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_inference_retries_total",
			Help: "Total number of remote model request retries",
		}),
		InferenceDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "birdlistener_inference_duration_seconds",
			Help:    "Duration of model invocations",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}),
		DetectionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_detections_created_total",
			Help: "Total number of detections at or above the threshold",
		}),
		DetectionsRejected: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_detections_rejected_total",
			Help: "Total number of raw detections below the threshold",
		}),

		// Writer metrics
		DetectionsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_detections_written_total",
			Help: "Total number of detections durably written",
		}),
		DetectionsDiscarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_detections_discarded_total",
			Help: "Total number of detections discarded after exhausting write retries",
		}),
		WriterFlushes: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_writer_flushes_total",
			Help: "Total number of successful batch writes",
		}),
		WriterFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_writer_failures_total",
			Help: "Total number of failed batch writes",
		}),
		WriterFlushDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "birdlistener_writer_flush_duration_seconds",
			Help:    "Duration of batch writes",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		}),
		WriterBuffered: factory.NewGauge(prometheus.GaugeOpts{
			Name: "birdlistener_writer_buffered",
			Help: "Current number of detections held by the writer",
		}),

		// Notification metrics
		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_notifications_sent_total",
			Help: "Total number of detection notifications published",
		}),
		NotificationsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "birdlistener_notifications_dropped_total",
			Help: "Total number of detection notifications dropped",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "birdlistener_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "birdlistener_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "birdlistener_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordBlockCaptured increments the captured blocks counter
func (m *Metrics) RecordBlockCaptured() {
	if m == nil {
		return
	}
	m.BlocksCaptured.Inc()
}

// RecordBlockDropped increments the dropped blocks counter
func (m *Metrics) RecordBlockDropped() {
	if m == nil {
		return
	}
	m.BlocksDropped.Inc()
}

// RecordPacketError increments the malformed packet counter
func (m *Metrics) RecordPacketError() {
	if m == nil {
		return
	}
	m.PacketErrors.Inc()
}

// SetIntakeDepth sets the current intake depth
func (m *Metrics) SetIntakeDepth(depth int) {
	if m == nil {
		return
	}
	m.IntakeDepth.Set(float64(depth))
}

// RecordChunkSealed records a sealed chunk and the capture gaps inside it
func (m *Metrics) RecordChunkSealed(durationSeconds float64, gaps int) {
	if m == nil {
		return
	}
	m.ChunksSealed.Inc()
	m.ChunkDuration.Observe(durationSeconds)
	if gaps > 0 {
		m.ChunkGapBlocks.Add(float64(gaps))
	}
}

// RecordChunkEvicted increments the evicted chunks counter
func (m *Metrics) RecordChunkEvicted() {
	if m == nil {
		return
	}
	m.ChunksEvicted.Inc()
}

// SetQueueDepth sets the current chunk queue depth
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// RecordInference records one model invocation
func (m *Metrics) RecordInference(durationSeconds float64, failed bool) {
	if m == nil {
		return
	}
	m.InferenceRequests.Inc()
	m.InferenceDuration.Observe(durationSeconds)
	if failed {
		m.InferenceFailures.Inc()
	}
}

// RecordInferenceRetry increments the remote model retry counter
func (m *Metrics) RecordInferenceRetry() {
	if m == nil {
		return
	}
	m.InferenceRetries.Inc()
}

// RecordDetections records the threshold outcome of one chunk's raw detections
func (m *Metrics) RecordDetections(created, rejected int) {
	if m == nil {
		return
	}
	m.DetectionsCreated.Add(float64(created))
	m.DetectionsRejected.Add(float64(rejected))
}

// RecordFlush records a batch write attempt
func (m *Metrics) RecordFlush(count int, durationSeconds float64, err error) {
	if m == nil {
		return
	}
	m.WriterFlushDuration.Observe(durationSeconds)
	if err != nil {
		m.WriterFailures.Inc()
		return
	}
	m.WriterFlushes.Inc()
	m.DetectionsWritten.Add(float64(count))
}

// RecordDiscarded records detections dropped after exhausting write retries
func (m *Metrics) RecordDiscarded(count int) {
	if m == nil {
		return
	}
	m.DetectionsDiscarded.Add(float64(count))
}

// SetWriterBuffered sets the number of detections held by the writer
func (m *Metrics) SetWriterBuffered(count int) {
	if m == nil {
		return
	}
	m.WriterBuffered.Set(float64(count))
}

// RecordNotification records a notification outcome
func (m *Metrics) RecordNotification(sent bool) {
	if m == nil {
		return
	}
	if sent {
		m.NotificationsSent.Inc()
		return
	}
	m.NotificationsDropped.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
