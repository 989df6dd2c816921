package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS detections (
    id              BIGSERIAL        PRIMARY KEY,
    timestamp_utc   TIMESTAMPTZ      NOT NULL,
    chunk_start_sec DOUBLE PRECISION NOT NULL,
    chunk_end_sec   DOUBLE PRECISION NOT NULL,
    species         TEXT             NOT NULL,
    confidence      DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_timestamp
    ON detections (timestamp_utc);

CREATE INDEX IF NOT EXISTS idx_detections_species
    ON detections (species);
`

var detectionColumns = []string{"timestamp_utc", "chunk_start_sec", "chunk_end_sec", "species", "confidence"}

// PostgresSink stores detections in PostgreSQL through a connection pool.
// All methods are safe for concurrent use.
type PostgresSink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// OpenPostgres connects to dsn, verifies the connection and creates the
// detections table if it does not exist.
func OpenPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*PostgresSink, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: migrate: %w", err)
	}

	logger.Info("Database initialized", "component", "store", "backend", "postgres")
	return &PostgresSink{pool: pool, logger: logger}, nil
}

// Name implements Sink
func (s *PostgresSink) Name() string {
	return "postgres"
}

// WriteBatch implements Sink using COPY inside a transaction.
func (s *PostgresSink) WriteBatch(ctx context.Context, batch []Detection) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rows := pgx.CopyFromSlice(len(batch), func(i int) ([]any, error) {
		d := batch[i]
		return []any{d.TimestampUTC.UTC(), d.ChunkStartSec, d.ChunkEndSec, d.Species, d.Confidence}, nil
	})

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"detections"}, detectionColumns, rows)
	if err != nil {
		return fmt.Errorf("postgres: copy: %w", err)
	}
	if int(n) != len(batch) {
		return fmt.Errorf("postgres: copied %d of %d rows", n, len(batch))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Recent implements Reader
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Detection, error) {
	const q = `
		SELECT timestamp_utc, chunk_start_sec, chunk_end_sec, species, confidence
		FROM   detections
		ORDER  BY id DESC
		LIMIT  $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: query recent: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Detection, error) {
		var d Detection
		err := row.Scan(&d.TimestampUTC, &d.ChunkStartSec, &d.ChunkEndSec, &d.Species, &d.Confidence)
		return d, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scan: %w", err)
	}
	return out, nil
}

// Close implements Sink
func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
