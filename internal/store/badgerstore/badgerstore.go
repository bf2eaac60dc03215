// Package badgerstore persists the incr dependency store in BadgerDB.
//
// Keys are laid out as:
//
//	meta/format_version          → ir.FormatVersion
//	task/<def_id> 0x00 <id>      → codec-encoded store.Record
//
// Every Save is one badger read-write transaction, so a sync is applied
// completely or not at all.
package badgerstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/store"
)

var (
	taskPrefix       = []byte("task/")
	formatVersionKey = []byte("meta/format_version")
)

// Config configures a Store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Required for persistent databases.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger is the logger for BadgerDB operations.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger

	// Codec encodes records. Default: store.GobCodec
	Codec store.Codec
}

// DefaultConfig returns the configuration for an on-disk store at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: true,
	}
}

// InMemoryConfig returns the configuration for an in-memory store.
func InMemoryConfig() Config {
	return Config{
		InMemory:   true,
		SyncWrites: false,
	}
}

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a store.Persister backed by BadgerDB.
type Store struct {
	db     *badger.DB
	codec  store.Codec
	logger *slog.Logger
}

var _ store.Persister = (*Store)(nil)

// Open opens or creates a store.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	// Records are replaced on every sync; older versions are never read.
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}

	codec := cfg.Codec
	if codec == nil {
		codec = store.GobCodec{}
	}

	s := &Store{db: db, codec: codec, logger: logger}
	if err := s.initFormatVersion(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close implements store.Persister.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load implements store.Persister.
func (s *Store) Load(ctx context.Context) (store.Snapshot, error) {
	snap := store.Snapshot{Records: make(map[ir.TaskKey]store.Record)}

	version, err := s.formatVersion()
	if err != nil {
		return snap, fmt.Errorf("load: %w", err)
	}
	if version != ir.FormatVersion {
		s.logger.Warn("discarding store written with another format",
			"found", version,
			"expected", ir.FormatVersion,
		)
		if err := s.reset(); err != nil {
			return snap, fmt.Errorf("load: %w", err)
		}
		return snap, nil
	}

	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = taskPrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			key, err := decodeKey(item.Key())
			if err != nil {
				return err
			}
			blob, err := item.ValueCopy(nil)
			if err != nil {
				return fmt.Errorf("read %s: %w", key, err)
			}
			rec, err := s.codec.Decode(blob)
			if err != nil {
				return fmt.Errorf("load %s: %w", key, err)
			}
			snap.Records[key] = rec
		}
		return nil
	})
	if err != nil {
		return store.Snapshot{}, fmt.Errorf("load: %w", err)
	}
	return snap, nil
}

// Save implements store.Persister.
func (s *Store) Save(ctx context.Context, changes store.Changeset) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if changes.Drop {
			if err := deletePrefix(txn, taskPrefix); err != nil {
				return fmt.Errorf("drop: %w", err)
			}
		}
		for _, e := range changes.Upserts {
			if err := ctx.Err(); err != nil {
				return err
			}
			blob, err := s.codec.Encode(e.Record)
			if err != nil {
				return fmt.Errorf("save %s: %w", e.Key, err)
			}
			if err := txn.Set(encodeKey(e.Key), blob); err != nil {
				return fmt.Errorf("save %s: %w", e.Key, err)
			}
		}
		for _, key := range changes.Deletes {
			if err := txn.Delete(encodeKey(key)); err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

func (s *Store) initFormatVersion() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(formatVersionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return txn.Set(formatVersionKey, []byte(ir.FormatVersion))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("record format version: %w", err)
	}
	return nil
}

func (s *Store) formatVersion() (string, error) {
	var version string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(formatVersionKey)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			version = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("read format version: %w", err)
	}
	return version, nil
}

func (s *Store) reset() error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deletePrefix(txn, taskPrefix); err != nil {
			return err
		}
		return txn.Set(formatVersionKey, []byte(ir.FormatVersion))
	})
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return nil
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func encodeKey(key ir.TaskKey) []byte {
	buf := make([]byte, 0, len(taskPrefix)+len(key.DefID)+1+len(key.ID))
	buf = append(buf, taskPrefix...)
	buf = append(buf, key.DefID...)
	buf = append(buf, 0x00)
	buf = append(buf, key.ID...)
	return buf
}

func decodeKey(raw []byte) (ir.TaskKey, error) {
	rest, ok := bytes.CutPrefix(raw, taskPrefix)
	if !ok {
		return ir.TaskKey{}, fmt.Errorf("malformed task key %q", raw)
	}
	def, id, ok := bytes.Cut(rest, []byte{0x00})
	if !ok {
		return ir.TaskKey{}, fmt.Errorf("malformed task key %q", raw)
	}
	return ir.NewTaskKey(string(def), string(id)), nil
}
