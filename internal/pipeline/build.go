package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bburnak/BirdListener/internal/capture"
	"github.com/bburnak/BirdListener/internal/config"
	"github.com/bburnak/BirdListener/internal/inference"
	"github.com/bburnak/BirdListener/internal/metrics"
	"github.com/bburnak/BirdListener/internal/notify"
	"github.com/bburnak/BirdListener/internal/store"
)

// Build creates the collaborators selected by cfg: capture device, model
// backend, storage sink and, when enabled, the MQTT notifier. A notifier that
// cannot reach its broker yet is kept; it reconnects in the background.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (Components, error) {
	comps := Components{RunID: uuid.NewString(), logger: logger}

	device, err := capture.New(cfg, logger, m)
	if err != nil {
		return comps, fmt.Errorf("capture: %w", err)
	}
	comps.Device = device

	model, err := inference.New(cfg, logger, m)
	if err != nil {
		return comps, fmt.Errorf("model: %w", err)
	}
	comps.Model = model

	sink, err := store.New(ctx, cfg.Storage, logger)
	if err != nil {
		return comps, fmt.Errorf("storage: %w", err)
	}
	comps.Sink = sink

	if cfg.Notify.Enabled {
		n := notify.NewMQTTNotifier(cfg.Notify, comps.RunID, logger, m)
		if err := n.Connect(ctx); err != nil {
			logger.Warn("MQTT broker not reachable, notifications will resume once connected",
				"broker", cfg.Notify.Broker,
				"error", err)
		}
		n.Start()
		comps.Notifier = n
	}

	return comps, nil
}

// Close releases collaborators that were built but never handed to a running
// Supervisor.
func (c Components) Close() error {
	logger := c.logger
	if logger == nil {
		logger = slog.Default()
	}
	if closer, ok := c.Notifier.(io.Closer); ok && closer != nil {
		if err := closer.Close(); err != nil {
			logger.Warn("Notifier close failed", "error", err)
		}
	}
	if c.Sink != nil {
		return c.Sink.Close()
	}
	return nil
}
