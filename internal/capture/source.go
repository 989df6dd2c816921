package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bburnak/BirdListener/internal/audio"
	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
)

// ErrDeviceStopped is reported when a device stops delivering audio on its own.
var ErrDeviceStopped = errors.New("capture device stopped")

// Handler receives device callbacks.
//
// OnSamples is called with interleaved samples; the slice is only valid for the
// duration of the call. OnError reports a condition that ends capture (io.EOF
// for a finished recording, anything else is a device failure).
type Handler interface {
	OnSamples(samples []float32)
	OnError(err error)
}

// Device is an audio input. Start begins invoking h from the device's own
// goroutine. After Stop returns no further callbacks are made.
type Device interface {
	Name() string
	Start(h Handler) error
	Stop() error
	// Live reports whether the device is clocked by real hardware or the
	// network. A non-live device (file replay) may wait for intake space.
	Live() bool
}

// Stats is a snapshot of capture counters
type Stats struct {
	Captured    uint64 `json:"blocks_captured"`
	Dropped     uint64 `json:"blocks_dropped"`
	IntakeDepth int    `json:"intake_depth"`
	IntakeCap   int    `json:"intake_capacity"`
}

// Source wraps a Device and feeds the assembler intake.
type Source struct {
	device   Device
	channels int
	intake   chan audio.SampleBlock
	logger   *slog.Logger
	metrics  *metrics.Metrics

	onError func(error)
	now     func() time.Time

	// seq is only touched from the device callback context
	seq uint64

	captured atomic.Uint64
	dropped  atomic.Uint64
	stopped  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewSource creates a source delivering blocks into an intake of the given capacity.
func NewSource(cfg config.PipelineConfig, intakeCapacity int, device Device, logger *slog.Logger, m *metrics.Metrics) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if intakeCapacity < 1 {
		intakeCapacity = 1
	}
	return &Source{
		device:   device,
		channels: cfg.Channels,
		intake:   make(chan audio.SampleBlock, intakeCapacity),
		logger:   logger.With("component", "capture", "device", device.Name()),
		metrics:  m,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
}

// Blocks returns the intake channel. It is closed by Stop.
func (s *Source) Blocks() <-chan audio.SampleBlock {
	return s.intake
}

// Start begins capture. onError receives device errors; it must not block.
func (s *Source) Start(onError func(error)) error {
	s.onError = onError
	if err := s.device.Start(s); err != nil {
		return fmt.Errorf("failed to start %s device: %w", s.device.Name(), err)
	}
	s.logger.Info("Capture started", "live", s.device.Live(), "intake_capacity", cap(s.intake))
	return nil
}

// Stop stops the device and closes the intake. Idempotent.
func (s *Source) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		close(s.stopCh)
		s.stopErr = s.device.Stop()
		close(s.intake)

		s.logger.Info("Capture stopped",
			"blocks_captured", s.captured.Load(),
			"blocks_dropped", s.dropped.Load())
	})
	return s.stopErr
}

// OnSamples implements Handler. It never blocks for a live device.
func (s *Source) OnSamples(samples []float32) {
	if s.stopped.Load() || len(samples) == 0 {
		return
	}

	block := audio.SampleBlock{
		Seq:       s.seq,
		Samples:   make([]float32, len(samples)),
		Frames:    len(samples) / s.channels,
		ArrivedAt: s.now(),
	}
	copy(block.Samples, samples)
	s.seq++
	s.captured.Add(1)
	s.metrics.RecordBlockCaptured()

	if !s.device.Live() {
		select {
		case s.intake <- block:
		case <-s.stopCh:
		}
		return
	}

	select {
	case s.intake <- block:
	default:
		n := s.dropped.Add(1)
		s.metrics.RecordBlockDropped()
		// Rate-limit the log line; the counter carries the exact figure
		if n == 1 || n%100 == 0 {
			s.logger.Warn("Intake full, dropping block", "block_seq", block.Seq, "blocks_dropped", n)
		}
	}
}

// OnError implements Handler.
func (s *Source) OnError(err error) {
	if s.stopped.Load() {
		return
	}
	if s.onError != nil {
		s.onError(err)
	}
}

// Stats returns the capture counters.
func (s *Source) Stats() Stats {
	return Stats{
		Captured:    s.captured.Load(),
		Dropped:     s.dropped.Load(),
		IntakeDepth: len(s.intake),
		IntakeCap:   cap(s.intake),
	}
}

// New builds the device selected by cfg.Capture.Device.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (Device, error) {
	switch cfg.Capture.Device {
	case config.DeviceWAV:
		return NewWAVDevice(cfg.Capture, cfg.Pipeline, logger), nil
	case config.DeviceUDP:
		return NewUDPDevice(cfg.Capture, cfg.Pipeline, logger, m), nil
	default:
		return nil, fmt.Errorf("unknown capture device %q", cfg.Capture.Device)
	}
}
