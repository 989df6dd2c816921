package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bburnak/BirdListener/internal/config"
)

// Sink is an append-only durable destination for detections. WriteBatch is
// atomic: either every detection in the batch is stored or none is.
type Sink interface {
	Name() string
	WriteBatch(ctx context.Context, batch []Detection) error
	Close() error
}

// Reader is implemented by sinks that can return stored detections,
// newest first.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Detection, error)
}

// Notifier receives detections after they are durably written. Notify must
// not block.
type Notifier interface {
	Notify(det Detection)
}

// New opens the sink selected by storage.backend.
func New(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case config.StorageSQLite:
		return OpenSQLite(ctx, cfg.Path, logger)
	case config.StoragePostgres:
		return OpenPostgres(ctx, cfg.DSN, logger)
	case config.StorageBadger:
		return OpenBadger(BadgerOptions{Dir: cfg.Path}, logger)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
