package inference

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/metrics"
)

// RawDetection is one model output: a species label, its confidence and the
// analysis window inside the submitted audio.
type RawDetection struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
	StartSec   float64 `json:"start"`
	EndSec     float64 `json:"end"`
}

// Model identifies species in a buffer of interleaved samples. Calls are never
// concurrent. Analyze may take time proportional to the buffer length.
type Model interface {
	Name() string
	Analyze(ctx context.Context, samples []float32, sampleRate, channels int) ([]RawDetection, error)
}

// New builds the model selected by pipeline.model_backend.
func New(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (Model, error) {
	switch cfg.Pipeline.ModelBackend {
	case config.BackendStub:
		return NewStubModel(StubConfig{
			Species:    cfg.Model.StubSpecies,
			Confidence: cfg.Model.StubConfidence,
			Delay:      msDuration(cfg.Model.StubDelayMS),
			Labels:     cfg.Model.StubLabels,
		}), nil
	case config.BackendHTTP:
		return NewHTTPModel(cfg.Model, logger, m)
	default:
		return nil, fmt.Errorf("unknown model backend %q", cfg.Pipeline.ModelBackend)
	}
}
