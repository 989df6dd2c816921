package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS detections (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp_utc   TEXT    NOT NULL,
    chunk_start_sec REAL    NOT NULL,
    chunk_end_sec   REAL    NOT NULL,
    species         TEXT    NOT NULL,
    confidence      REAL    NOT NULL
)`

// SQLiteSink stores detections in a single-file SQLite database.
type SQLiteSink struct {
	db     *sql.DB
	path   string
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) the database at path and ensures the
// detections table exists.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteSink, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// One writer at a time; the batch writer is the only caller anyway.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 10000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: set busy timeout: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}

	logger.Info("Database initialized", "component", "store", "backend", "sqlite", "path", path)
	return &SQLiteSink{db: db, path: path, logger: logger}, nil
}

// Name implements Sink
func (s *SQLiteSink) Name() string {
	return "sqlite"
}

// WriteBatch implements Sink. The batch is inserted in one transaction.
func (s *SQLiteSink) WriteBatch(ctx context.Context, batch []Detection) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO detections (timestamp_utc, chunk_start_sec, chunk_end_sec, species, confidence) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range batch {
		if _, err := stmt.ExecContext(ctx,
			d.TimestampUTC.UTC().Format(time.RFC3339Nano),
			d.ChunkStartSec,
			d.ChunkEndSec,
			d.Species,
			d.Confidence,
		); err != nil {
			return fmt.Errorf("sqlite: insert: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Recent implements Reader
func (s *SQLiteSink) Recent(ctx context.Context, limit int) ([]Detection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp_utc, chunk_start_sec, chunk_end_sec, species, confidence
		FROM   detections
		ORDER  BY id DESC
		LIMIT  ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query recent: %w", err)
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var (
			d  Detection
			ts string
		)
		if err := rows.Scan(&ts, &d.ChunkStartSec, &d.ChunkEndSec, &d.Species, &d.Confidence); err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}
		if d.TimestampUTC, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("sqlite: parse timestamp %q: %w", ts, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Close implements Sink
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
