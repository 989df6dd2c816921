package pipeline

import (
	"time"

	"github.com/bburnak/BirdListener/internal/notify"
)

// Status is a point-in-time view of queue depths and loss counters.
type Status struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`

	IntakeDepth       int `json:"intake_depth"`
	IntakeCapacity    int `json:"intake_capacity"`
	QueueDepth        int `json:"queue_depth"`
	QueueCapacity     int `json:"queue_capacity"`
	DetectionDepth    int `json:"detection_depth"`
	DetectionCapacity int `json:"detection_capacity"`
	WriterBuffered    int `json:"writer_buffered"`

	BlocksCaptured uint64 `json:"blocks_captured"`
	BlocksDropped  uint64 `json:"blocks_dropped"`
	GapBlocks      uint64 `json:"gap_blocks"`
	ChunksSealed   uint64 `json:"chunks_sealed"`
	ChunksEvicted  uint64 `json:"chunks_evicted"`

	ChunksProcessed   uint64  `json:"chunks_processed"`
	ChunksFailed      uint64  `json:"chunks_failed"`
	DetectionsCreated uint64  `json:"detections_created"`
	BelowThreshold    uint64  `json:"below_threshold"`
	InferenceInFlight bool    `json:"inference_in_flight"`
	InferenceSeconds  float64 `json:"inference_seconds,omitempty"`

	DetectionsWritten   uint64 `json:"detections_written"`
	DetectionsDiscarded uint64 `json:"detections_discarded"`
	FailedFlushes       uint64 `json:"failed_flushes"`

	Notify *notify.Stats `json:"notify,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// Status returns the current status. Safe to call from any goroutine.
func (s *Supervisor) Status() Status {
	capture := s.source.Stats()
	dispatch := s.dispatcher.Stats()
	writer := s.writer.Stats()
	inFlight, _, busy := s.dispatcher.InFlight()

	st := Status{
		RunID:     s.runID,
		State:     s.State().String(),
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.createdAt).Round(time.Second).String(),

		IntakeDepth:       capture.IntakeDepth,
		IntakeCapacity:    capture.IntakeCap,
		QueueDepth:        s.queue.Len(),
		QueueCapacity:     s.queue.Cap(),
		DetectionDepth:    dispatch.OutputDepth,
		DetectionCapacity: dispatch.OutputCapacity,
		WriterBuffered:    writer.Buffered,

		BlocksCaptured: capture.Captured,
		BlocksDropped:  capture.Dropped,
		GapBlocks:      s.assembler.GapBlocks(),
		ChunksSealed:   s.assembler.Sealed(),
		ChunksEvicted:  s.queue.Evicted(),

		ChunksProcessed:   dispatch.ChunksProcessed,
		ChunksFailed:      dispatch.ChunksFailed,
		DetectionsCreated: dispatch.DetectionsCreated,
		BelowThreshold:    dispatch.BelowThreshold,
		InferenceInFlight: busy,
		InferenceSeconds:  inFlight.Seconds(),

		DetectionsWritten:   writer.Written,
		DetectionsDiscarded: writer.Discarded,
		FailedFlushes:       writer.FailedFlushes,
	}

	if n, ok := s.notifier.(*notify.MQTTNotifier); ok && n != nil {
		ns := n.Stats()
		st.Notify = &ns
	}
	if err := s.Err(); err != nil {
		st.Error = err.Error()
	}
	return st
}

// logStatus writes the status as one structured log line.
func (s *Supervisor) logStatus() {
	st := s.Status()
	s.logger.Info("Pipeline status",
		"state", st.State,
		"uptime", st.Uptime,
		"intake_depth", st.IntakeDepth,
		"queue_depth", st.QueueDepth,
		"writer_buffered", st.WriterBuffered,
		"blocks_captured", st.BlocksCaptured,
		"blocks_dropped", st.BlocksDropped,
		"chunks_sealed", st.ChunksSealed,
		"chunks_evicted", st.ChunksEvicted,
		"chunks_processed", st.ChunksProcessed,
		"detections_written", st.DetectionsWritten,
		"detections_discarded", st.DetectionsDiscarded)
}
