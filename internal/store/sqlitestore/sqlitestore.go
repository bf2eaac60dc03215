// Package sqlitestore persists the incr dependency store in SQLite.
//
// Each task is one row of the tasks table keyed by (def_id, id) and holding
// the codec-encoded store.Record. The deferred flag is mirrored into its own
// column so it can be counted without decoding records.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//
// Every Save runs in a single SQL transaction, so a crash leaves the
// database at the state of the last completed sync.
package sqlitestore

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added partial index on tasks.deferred
const currentSchemaVersion = 1

const metaFormatVersion = "format_version"

// Store is a store.Persister backed by SQLite.
type Store struct {
	db     *sql.DB
	codec  store.Codec
	logger *slog.Logger
}

var _ store.Persister = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithCodec sets the record codec. Default: store.GobCodec
func WithCodec(c store.Codec) Option {
	return func(s *Store) {
		s.codec = c
	}
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// This function is idempotent - safe to call multiple times.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	// A new database takes the current format; an existing one keeps
	// whatever it was written with until Load checks it.
	if _, err := db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, metaFormatVersion, ir.FormatVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to record format version: %w", err)
	}

	s := &Store{db: db, codec: store.GobCodec{}, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Load implements store.Persister.
//
// A database written with another ir.FormatVersion is cleared and stamped
// with the current version; every task then executes again.
func (s *Store) Load(ctx context.Context) (store.Snapshot, error) {
	snap := store.Snapshot{Records: make(map[ir.TaskKey]store.Record)}

	version, err := s.formatVersion(ctx)
	if err != nil {
		return snap, fmt.Errorf("load: %w", err)
	}
	if version != ir.FormatVersion {
		s.logger.Warn("discarding store written with another format",
			"found", version,
			"expected", ir.FormatVersion,
		)
		if err := s.reset(ctx); err != nil {
			return snap, fmt.Errorf("load: %w", err)
		}
		return snap, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT def_id, id, record, deferred
		FROM tasks
		ORDER BY def_id COLLATE BINARY ASC, id COLLATE BINARY ASC
	`)
	if err != nil {
		return snap, fmt.Errorf("load: query tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key      ir.TaskKey
			blob     []byte
			deferred bool
		)
		if err := rows.Scan(&key.DefID, &key.ID, &blob, &deferred); err != nil {
			return snap, fmt.Errorf("load: scan task: %w", err)
		}
		rec, err := s.codec.Decode(blob)
		if err != nil {
			return snap, fmt.Errorf("load %s: %w", key, err)
		}
		rec.Deferred = deferred
		snap.Records[key] = rec
	}
	if err := rows.Err(); err != nil {
		return snap, fmt.Errorf("load: iterate tasks: %w", err)
	}

	return snap, nil
}

// Save implements store.Persister.
func (s *Store) Save(ctx context.Context, changes store.Changeset) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if changes.Drop {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
			return fmt.Errorf("save: drop: %w", err)
		}
	}

	upsert, err := tx.PrepareContext(ctx, `
		INSERT INTO tasks (def_id, id, record, deferred)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(def_id, id) DO UPDATE SET
			record = excluded.record,
			deferred = excluded.deferred
	`)
	if err != nil {
		return fmt.Errorf("save: prepare upsert: %w", err)
	}
	defer upsert.Close()

	for _, e := range changes.Upserts {
		blob, err := s.codec.Encode(e.Record)
		if err != nil {
			return fmt.Errorf("save %s: %w", e.Key, err)
		}
		if _, err := upsert.ExecContext(ctx, e.Key.DefID, e.Key.ID, blob, e.Record.Deferred); err != nil {
			return fmt.Errorf("save %s: %w", e.Key, err)
		}
	}

	for _, key := range changes.Deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE def_id = ? AND id = ?`, key.DefID, key.ID); err != nil {
			return fmt.Errorf("save: delete %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save: commit: %w", err)
	}
	return nil
}

// CountDeferred returns the number of persisted deferred tasks.
func (s *Store) CountDeferred(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE deferred = 1`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count deferred: %w", err)
	}
	return n, nil
}

func (s *Store) formatVersion(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, metaFormatVersion).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read format version: %w", err)
	}
	return version, nil
}

func (s *Store) reset(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("reset: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks`); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, metaFormatVersion, ir.FormatVersion); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return tx.Commit()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds a partial index over deferred tasks, which bottom-up
// seeding and CountDeferred scan.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_tasks_deferred
		ON tasks(def_id, id) WHERE deferred = 1
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
