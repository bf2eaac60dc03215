package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

type keySet map[ir.TaskKey]struct{}

func (s keySet) sorted() []ir.TaskKey {
	keys := make([]ir.TaskKey, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	ir.SortTaskKeys(keys)
	return keys
}

type entry struct {
	data        ir.TaskData
	internal    any
	hasInternal bool
}

// MemoryStore is an in-memory Store with optional persistence.
//
// Thread-safety: transactions are guarded by a sync.RWMutex. WriteTxn holds
// the write lock until Close, ReadTxn holds the read lock until Close.
type MemoryStore struct {
	mu sync.RWMutex

	tasks     map[ir.TaskKey]*entry
	callers   map[ir.TaskKey]keySet
	requirees map[resource.Key]keySet
	providers map[resource.Key]keySet
	deferred  keySet

	dirty     keySet
	dropped   bool
	persister Persister
	logger    *slog.Logger
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithPersister makes Sync write changes to p. Close closes p.
func WithPersister(p Persister) Option {
	return func(s *MemoryStore) {
		s.persister = p
	}
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) Option {
	return func(s *MemoryStore) {
		s.logger = logger
	}
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		tasks:     make(map[ir.TaskKey]*entry),
		callers:   make(map[ir.TaskKey]keySet),
		requirees: make(map[resource.Key]keySet),
		providers: make(map[resource.Key]keySet),
		deferred:  make(keySet),
		dirty:     make(keySet),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load creates a store from the persisted snapshot of p. The returned store
// syncs to p.
func Load(ctx context.Context, p Persister, opts ...Option) (*MemoryStore, error) {
	snapshot, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	s := NewMemoryStore(append(opts, WithPersister(p))...)
	for key, rec := range snapshot.Records {
		s.setData(key, rec.Data)
		if rec.Internal != nil {
			s.tasks[key].internal = rec.Internal
			s.tasks[key].hasInternal = true
		}
		if rec.Deferred {
			s.deferred[key] = struct{}{}
		}
	}
	clear(s.dirty)

	s.logger.Debug("store loaded", "tasks", len(s.tasks), "deferred", len(s.deferred))
	return s, nil
}

// ReadTxn implements Store.
func (s *MemoryStore) ReadTxn() ReadTxn {
	s.mu.RLock()
	return &readTxn{s: s, release: s.mu.RUnlock}
}

// WriteTxn implements Store.
func (s *MemoryStore) WriteTxn() WriteTxn {
	s.mu.Lock()
	return &writeTxn{readTxn{s: s, release: s.mu.Unlock}}
}

// Sync implements Store.
func (s *MemoryStore) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	changes := s.changeset()
	if s.persister == nil || changes.IsEmpty() {
		s.resetDirty()
		return nil
	}
	if err := s.persister.Save(ctx, changes); err != nil {
		return fmt.Errorf("sync store: %w", err)
	}
	s.logger.Debug("store synced",
		"upserts", len(changes.Upserts),
		"deletes", len(changes.Deletes),
		"drop", changes.Drop,
	)
	s.resetDirty()
	return nil
}

// Close implements Store. It does not sync.
func (s *MemoryStore) Close() error {
	if s.persister == nil {
		return nil
	}
	return s.persister.Close()
}

func (s *MemoryStore) changeset() Changeset {
	changes := Changeset{Drop: s.dropped}
	for _, key := range s.dirty.sorted() {
		e, ok := s.tasks[key]
		if !ok {
			if !s.dropped {
				changes.Deletes = append(changes.Deletes, key)
			}
			continue
		}
		rec := Record{Data: e.data.Clone(), Deferred: s.isDeferred(key)}
		if e.hasInternal {
			rec.Internal = e.internal
		}
		changes.Upserts = append(changes.Upserts, Entry{Key: key, Record: rec})
	}
	return changes
}

func (s *MemoryStore) resetDirty() {
	clear(s.dirty)
	s.dropped = false
}

func (s *MemoryStore) isDeferred(key ir.TaskKey) bool {
	_, ok := s.deferred[key]
	return ok
}

// entry returns the entry for key, creating an empty one when absent.
func (s *MemoryStore) entry(key ir.TaskKey) *entry {
	e, ok := s.tasks[key]
	if !ok {
		e = &entry{}
		s.tasks[key] = e
	}
	s.dirty[key] = struct{}{}
	return e
}

func (s *MemoryStore) setData(key ir.TaskKey, data ir.TaskData) {
	e := s.entry(key)
	s.unindexTaskRequires(key, e.data.TaskRequires)
	s.unindexResourceRequires(key, e.data.ResourceRequires)
	s.unindexResourceProvides(key, e.data.ResourceProvides)

	e.data = data.Clone()

	s.indexTaskRequires(key, e.data.TaskRequires)
	s.indexResourceRequires(key, e.data.ResourceRequires)
	s.indexResourceProvides(key, e.data.ResourceProvides)
}

func (s *MemoryStore) indexTaskRequires(caller ir.TaskKey, deps []ir.TaskRequireDep) {
	for _, dep := range deps {
		addTo(s.callers, dep.Callee, caller)
	}
}

func (s *MemoryStore) unindexTaskRequires(caller ir.TaskKey, deps []ir.TaskRequireDep) {
	for _, dep := range deps {
		removeFrom(s.callers, dep.Callee, caller)
	}
}

func (s *MemoryStore) indexResourceRequires(key ir.TaskKey, deps []ir.ResourceRequireDep) {
	for _, dep := range deps {
		addTo(s.requirees, dep.Key, key)
	}
}

func (s *MemoryStore) unindexResourceRequires(key ir.TaskKey, deps []ir.ResourceRequireDep) {
	for _, dep := range deps {
		removeFrom(s.requirees, dep.Key, key)
	}
}

func (s *MemoryStore) indexResourceProvides(key ir.TaskKey, deps []ir.ResourceProvideDep) {
	for _, dep := range deps {
		addTo(s.providers, dep.Key, key)
	}
}

func (s *MemoryStore) unindexResourceProvides(key ir.TaskKey, deps []ir.ResourceProvideDep) {
	for _, dep := range deps {
		removeFrom(s.providers, dep.Key, key)
	}
}

func addTo[K comparable](index map[K]keySet, k K, v ir.TaskKey) {
	set, ok := index[k]
	if !ok {
		set = make(keySet)
		index[k] = set
	}
	set[v] = struct{}{}
}

func removeFrom[K comparable](index map[K]keySet, k K, v ir.TaskKey) {
	set, ok := index[k]
	if !ok {
		return
	}
	delete(set, v)
	if len(set) == 0 {
		delete(index, k)
	}
}
