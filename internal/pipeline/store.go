package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/roach88/incr/internal/store"
	"github.com/roach88/incr/internal/store/badgerstore"
	"github.com/roach88/incr/internal/store/sqlitestore"
)

// OpenStore opens the store the configuration selects and loads its
// persisted tasks. The caller owns the returned store and must Sync it to
// persist changes before closing.
func OpenStore(ctx context.Context, cfg *Config, logger *slog.Logger) (*store.MemoryStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var p store.Persister
	switch cfg.Store.Backend {
	case BackendMemory:
		return store.NewMemoryStore(store.WithLogger(logger)), nil
	case BackendSQLite, "":
		path := cfg.Abs(cfg.Store.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
		s, err := sqlitestore.Open(path, sqlitestore.WithLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("open sqlite store %s: %w", path, err)
		}
		p = s
	case BackendBadger:
		bcfg := badgerstore.DefaultConfig(cfg.Abs(cfg.Store.Path))
		bcfg.Logger = logger
		s, err := badgerstore.Open(bcfg)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		p = s
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}

	s, err := store.Load(ctx, p, store.WithLogger(logger))
	if err != nil {
		p.Close()
		return nil, err
	}
	logger.Debug("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)
	return s, nil
}
