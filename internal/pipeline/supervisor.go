package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/bburnak/BirdListener/internal/audio"
	"github.com/bburnak/BirdListener/internal/capture"
	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/inference"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/store"
)

// abortGrace bounds the wait for stages after an aborted drain.
const abortGrace = 5 * time.Second

// Components are the external collaborators of a pipeline.
type Components struct {
	Device capture.Device
	Model  inference.Model
	Sink   store.Sink
	// Notifier is optional. If it implements io.Closer it is closed after the
	// writer's final flush.
	Notifier store.Notifier
	// RunID identifies this run in logs, status and notifications. A new one
	// is generated when empty.
	RunID string

	logger *slog.Logger
}

// Supervisor owns the pipeline stages and their lifecycle.
type Supervisor struct {
	cfg       *config.Config
	runID     string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	createdAt time.Time

	sink     store.Sink
	notifier store.Notifier

	source     *capture.Source
	assembler  *audio.Assembler
	queue      *audio.ChunkQueue
	dispatcher *inference.Dispatcher
	writer     *store.BatchWriter

	state atomic.Int32

	shutdown     chan struct{}
	shutdownOnce sync.Once
	ran          atomic.Bool

	errMu sync.Mutex
	err   error
}

// New validates cfg and constructs the stages downstream first: writer,
// dispatcher, assembler, source. Nothing runs until Run.
func New(cfg *config.Config, comps Components, logger *slog.Logger, m *metrics.Metrics) (*Supervisor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if comps.Device == nil || comps.Model == nil || comps.Sink == nil {
		return nil, errors.New("device, model and sink are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	runID := comps.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With("run_id", runID)

	s := &Supervisor{
		cfg:       cfg,
		runID:     runID,
		logger:    logger.With("component", "supervisor"),
		metrics:   m,
		createdAt: time.Now(),
		sink:      comps.Sink,
		notifier:  comps.Notifier,
		shutdown:  make(chan struct{}),
	}
	s.state.Store(int32(StateInitializing))

	s.queue = audio.NewChunkQueue(cfg.Queue.Capacity)
	s.writer = store.NewBatchWriter(cfg.Writer, comps.Sink, comps.Notifier, s.reporter("writer"), logger, m)
	s.dispatcher = inference.NewDispatcher(cfg, comps.Model, s.queue, logger, m)
	s.assembler = audio.NewAssembler(cfg.Pipeline, s.queue, logger, m)
	s.source = capture.NewSource(cfg.Pipeline, cfg.Capture.IntakeCapacity, comps.Device, logger, m)

	s.logger.Info("Pipeline initialized",
		"device", comps.Device.Name(),
		"model", comps.Model.Name(),
		"sink", comps.Sink.Name(),
		"sample_rate", cfg.Pipeline.SampleRate,
		"channels", cfg.Pipeline.Channels,
		"chunk_seconds", cfg.Pipeline.ChunkSeconds,
		"detection_threshold", cfg.Pipeline.DetectionThreshold)

	return s, nil
}

// RunID returns the unique identifier of this pipeline run
func (s *Supervisor) RunID() string {
	return s.runID
}

// State returns the current lifecycle state
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Info("Pipeline state changed", "from", prev.String(), "to", st.String())
	}
}

// Shutdown requests a graceful drain. It never blocks and may be called any
// number of times from any goroutine.
func (s *Supervisor) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
	})
}

// Err returns the first fatal error reported, if any
func (s *Supervisor) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// fail records a fatal error and starts draining. Only the first error is kept.
func (s *Supervisor) fail(component string, err error) {
	fatal := &FatalError{Component: component, Err: err}

	s.errMu.Lock()
	first := s.err == nil
	if first {
		s.err = fatal
	}
	s.errMu.Unlock()

	s.logger.Error("Fatal pipeline error", "source", component, "error", err, "first", first)
	s.Shutdown()
}

// reporter returns a non-blocking fatal report function for a component.
func (s *Supervisor) reporter(component string) func(error) {
	return func(err error) {
		s.fail(component, err)
	}
}

// onDeviceError handles errors from the capture device goroutine.
func (s *Supervisor) onDeviceError(err error) {
	if errors.Is(err, io.EOF) {
		s.logger.Info("Input exhausted, shutting down")
		s.Shutdown()
		return
	}
	s.fail("capture", err)
}

// Run starts the stages and blocks until the pipeline has stopped. Cancelling
// ctx is an external shutdown signal. Run returns the first fatal error, or
// nil after a clean drain. Run may only be called once.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return errors.New("pipeline already started")
	}

	stageCtx, abort := context.WithCancel(context.Background())
	defer abort()

	g, gctx := errgroup.WithContext(stageCtx)

	// Downstream first so nothing is captured before it can be consumed
	g.Go(func() error {
		if err := s.writer.Run(gctx, s.dispatcher.Detections()); err != nil {
			return &FatalError{Component: "writer", Err: err}
		}
		return nil
	})
	s.logger.Debug("Stage started", "stage", "writer")

	g.Go(func() error {
		if err := s.dispatcher.Run(gctx); err != nil {
			return &FatalError{Component: "dispatcher", Err: err}
		}
		return nil
	})
	s.logger.Debug("Stage started", "stage", "dispatcher")

	g.Go(func() error {
		if err := s.assembler.Run(gctx, s.source.Blocks()); err != nil {
			return &FatalError{Component: "assembler", Err: err}
		}
		return nil
	})
	s.logger.Debug("Stage started", "stage", "assembler")

	if err := s.source.Start(s.onDeviceError); err != nil {
		s.setState(StateDraining)
		s.fail("capture", err)
		// Stages drain immediately through the closed intake
		s.source.Stop()
		return s.finish(g.Wait())
	}
	s.logger.Debug("Stage started", "stage", "capture")

	stagesDone := make(chan error, 1)
	go func() { stagesDone <- g.Wait() }()

	s.setState(StateRunning)

	monitorCtx, stopMonitors := context.WithCancel(context.Background())
	defer stopMonitors()
	go s.statusLoop(monitorCtx)
	go s.watchdog(monitorCtx)

	select {
	case <-ctx.Done():
		s.logger.Info("Shutdown signal received")
	case <-s.shutdown:
	case err := <-stagesDone:
		// Stages only finish on their own after an internal failure
		stagesDone <- err
	}

	s.setState(StateDraining)
	s.Shutdown()

	if err := s.source.Stop(); err != nil {
		s.logger.Warn("Capture device stop failed", "error", err)
	}

	var timeout <-chan time.Time
	if d := s.cfg.Supervisor.GetDrainTimeout(); d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		timeout = timer.C
	}

	var stageErr error
	select {
	case stageErr = <-stagesDone:
	case <-timeout:
		s.fail("supervisor", ErrDrainTimeout)
		abort()
		select {
		case stageErr = <-stagesDone:
		case <-time.After(abortGrace):
			s.logger.Error("Stages did not stop after abort")
		}
	}

	stopMonitors()
	return s.finish(stageErr)
}

// finish records the stage result, releases collaborators and moves to
// Stopped.
func (s *Supervisor) finish(stageErr error) error {
	if stageErr != nil {
		s.failWith(stageErr)
	}

	if closer, ok := s.notifier.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			s.logger.Warn("Notifier close failed", "error", err)
		}
	}
	if err := s.sink.Close(); err != nil {
		s.logger.Warn("Sink close failed", "error", err)
	}

	s.logStatus()
	s.setState(StateStopped)

	if err := s.Err(); err != nil {
		s.logger.Error("Pipeline stopped with error", "error", err)
		return err
	}
	s.logger.Info("Pipeline stopped")
	return nil
}

// failWith records a stage error, keeping its component when it carries one.
func (s *Supervisor) failWith(err error) {
	var fatal *FatalError
	if errors.As(err, &fatal) {
		s.fail(fatal.Component, fatal.Err)
		return
	}
	s.fail("pipeline", err)
}

// statusLoop logs the status every status interval while running.
func (s *Supervisor) statusLoop(ctx context.Context) {
	interval := s.cfg.Supervisor.GetStatusInterval()
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.logStatus()
		case <-ctx.Done():
			return
		}
	}
}

// watchdog reports a single inference call running longer than the stall
// timeout. The call itself has no deadline.
func (s *Supervisor) watchdog(ctx context.Context) {
	limit := s.cfg.Supervisor.GetStallTimeout()
	if limit <= 0 {
		return
	}

	tick := limit / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if elapsed, seq, busy := s.dispatcher.InFlight(); busy && elapsed > limit {
				s.fail("dispatcher", fmt.Errorf("%w: chunk %d running for %s", ErrInferenceStalled, seq, elapsed.Round(time.Millisecond)))
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
