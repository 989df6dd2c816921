package inference

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// StubConfig configures the deterministic model.
type StubConfig struct {
	// Species reported for every call unless Labels overrides it
	Species string
	// Confidence reported with each detection
	Confidence float64
	// Delay simulates model latency per call
	Delay time.Duration
	// Labels maps call indices to species; an empty label yields no detection
	Labels map[int]string
	// WindowSec is the analysis window length, 3s when zero
	WindowSec float64
}

// StubModel returns one detection per analysis window, deterministically.
// It is used for field tests without a model and for CI.
type StubModel struct {
	config StubConfig

	mu    sync.Mutex
	calls int
}

// NewStubModel creates a stub model
func NewStubModel(cfg StubConfig) *StubModel {
	if cfg.WindowSec <= 0 {
		cfg.WindowSec = 3
	}
	return &StubModel{config: cfg}
}

// Name implements Model
func (s *StubModel) Name() string {
	return "stub"
}

// Analyze implements Model
func (s *StubModel) Analyze(ctx context.Context, samples []float32, sampleRate, channels int) ([]RawDetection, error) {
	if sampleRate <= 0 || channels < 1 {
		return nil, fmt.Errorf("invalid audio format: %d Hz, %d channels", sampleRate, channels)
	}
	if len(samples) == 0 || len(samples)%channels != 0 {
		return nil, fmt.Errorf("malformed buffer: %d samples for %d channels", len(samples), channels)
	}

	s.mu.Lock()
	index := s.calls
	s.calls++
	s.mu.Unlock()

	if s.config.Delay > 0 {
		select {
		case <-time.After(s.config.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	species := s.config.Species
	if label, ok := s.config.Labels[index]; ok {
		species = label
	}
	if species == "" {
		return nil, nil
	}

	duration := float64(len(samples)/channels) / float64(sampleRate)
	windows := int(math.Ceil(duration / s.config.WindowSec))

	out := make([]RawDetection, 0, windows)
	for w := 0; w < windows; w++ {
		start := float64(w) * s.config.WindowSec
		end := math.Min(start+s.config.WindowSec, duration)
		out = append(out, RawDetection{
			Species:    species,
			Confidence: s.config.Confidence,
			StartSec:   start,
			EndSec:     end,
		})
	}
	return out, nil
}

// Calls returns the number of Analyze invocations
func (s *StubModel) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
