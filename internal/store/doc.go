// Package store provides the transactional dependency store of the incr
// engine.
//
// The store owns one TaskData per task key plus the indices the engine
// queries while it schedules work:
//   - callers of a task (reverse task-require edges)
//   - requirees of a resource (reverse resource-require edges)
//   - providers of a resource (reverse resource-provide edges)
//   - the deferred task set
//   - a per-task internal object tasks may use as scratch state
//
// # Transactions
//
// All access goes through a ReadTxn or a WriteTxn. Write transactions are
// exclusive, so a session serializes every mutation through one active
// transaction. Callers release a transaction with a deferred Close:
//
//	tx := s.WriteTxn()
//	defer tx.Close()
//
// # Deterministic Results
//
// Every list view is sorted by task key (ir.SortTaskKeys). Two runs over the
// same graph observe the same iteration order, which keeps scheduling and
// golden traces reproducible.
//
// # Persistence
//
// MemoryStore keeps the graph in memory and tracks which keys changed. Sync
// hands those changes to a Persister as a Changeset; Load rebuilds a store
// from a Persister's Snapshot. Records are encoded by a Codec (GobCodec by
// default). Backends live in sub-packages:
//   - sqlitestore: SQLite with WAL mode (github.com/mattn/go-sqlite3)
//   - badgerstore: BadgerDB (github.com/dgraph-io/badger/v4)
//
// Persisted data carries ir.FormatVersion. Data written with another format
// version is discarded on load.
package store
