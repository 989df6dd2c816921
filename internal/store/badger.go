package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"
)

const badgerPrefix = "det/"

// BadgerOptions configures the embedded key-value sink.
type BadgerOptions struct {
	// Dir holds the badger data files. Required unless InMemory is set.
	Dir string

	// InMemory runs badger without disk persistence, for tests.
	InMemory bool
}

// BadgerSink stores detections as msgpack values keyed by
// det/<timestamp-nanos>/<seq>, so key order is capture order.
type BadgerSink struct {
	db     *badger.DB
	logger *slog.Logger
	seq    uint64
}

// OpenBadger opens the badger store described by opts.
func OpenBadger(opts BadgerOptions, logger *slog.Logger) (*BadgerSink, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger: directory is required for on-disk mode")
	}

	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{logger: logger})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}

	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", opts.Dir, err)
	}

	logger.Info("Database initialized", "component", "store", "backend", "badger", "dir", opts.Dir)
	return &BadgerSink{db: db, logger: logger}, nil
}

// Name implements Sink
func (s *BadgerSink) Name() string {
	return "badger"
}

// WriteBatch implements Sink. The batch is committed in one transaction.
func (s *BadgerSink) WriteBatch(_ context.Context, batch []Detection) error {
	if len(batch) == 0 {
		return nil
	}

	seq := s.seq
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, d := range batch {
			value, err := msgpack.Marshal(&d)
			if err != nil {
				return fmt.Errorf("encode detection: %w", err)
			}
			seq++
			if err := txn.Set(detectionKey(d, seq), value); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("badger: write batch: %w", err)
	}

	s.seq = seq
	return nil
}

// Recent implements Reader
func (s *BadgerSink) Recent(_ context.Context, limit int) ([]Detection, error) {
	var out []Detection

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(badgerPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past every key with the prefix when iterating in reverse
		for it.Seek([]byte(badgerPrefix + "\xff")); it.ValidForPrefix(opts.Prefix) && len(out) < limit; it.Next() {
			var d Detection
			if err := it.Item().Value(func(val []byte) error {
				return msgpack.Unmarshal(val, &d)
			}); err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			out = append(out, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: read recent: %w", err)
	}
	return out, nil
}

// Close implements Sink
func (s *BadgerSink) Close() error {
	return s.db.Close()
}

// detectionKey builds a key that sorts by capture time, then write order.
func detectionKey(d Detection, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d/%020d", badgerPrefix, d.TimestampUTC.UnixNano(), seq))
}

// badgerLogger routes badger warnings and errors to slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(f, v...), "component", "badger")
}

func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.logger.Warn(fmt.Sprintf(f, v...), "component", "badger")
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
