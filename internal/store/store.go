package store

import (
	"context"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// ReadTxn is a read view of the store.
//
// Absent keys are never errors: lookups return (zero, false), list queries
// return empty slices and Observability returns ir.Unobserved. Every list
// result is sorted (ir.SortTaskKeys order) so callers iterate
// deterministically.
type ReadTxn interface {
	// Data returns a copy of the stored TaskData for key.
	Data(key ir.TaskKey) (ir.TaskData, bool)
	Input(key ir.TaskKey) (any, bool)
	Output(key ir.TaskKey) (any, bool)
	Observability(key ir.TaskKey) ir.Observability
	TaskRequires(key ir.TaskKey) []ir.TaskRequireDep
	ResourceRequires(key ir.TaskKey) []ir.ResourceRequireDep
	ResourceProvides(key ir.TaskKey) []ir.ResourceProvideDep
	Internal(key ir.TaskKey) (any, bool)

	// CallersOf returns the tasks whose task requires include callee.
	CallersOf(callee ir.TaskKey) []ir.TaskKey

	// RequireesOf returns the tasks that require the resource.
	RequireesOf(key resource.Key) []ir.TaskKey

	// ProviderOf returns the task that provides the resource. When several
	// tasks provide it (a hidden dependency the validator reports), the
	// least key is returned.
	ProviderOf(key resource.Key) (ir.TaskKey, bool)

	// ProvidersOf returns every task that provides the resource.
	ProvidersOf(key resource.Key) []ir.TaskKey

	// RequiresTransitively reports whether caller reaches callee through one
	// or more task-require edges. A key does not require itself.
	RequiresTransitively(caller, callee ir.TaskKey) bool

	// Tasks returns every stored task.
	Tasks() []ir.TaskKey

	// TasksWithoutCallers returns the stored tasks no stored task requires.
	TasksWithoutCallers() []ir.TaskKey

	DeferredTasks() []ir.TaskKey
	IsDeferred(key ir.TaskKey) bool

	// NumTasks returns the number of stored tasks.
	NumTasks() int

	// NumSourceFiles returns the number of required resources that no task
	// provides.
	NumSourceFiles() int

	// Close releases the transaction. Close is idempotent.
	Close() error
}

// WriteTxn is an exclusive read-write view of the store.
//
// Setters on a key without data create an empty entry. Index maintenance
// (callers, requirees, providers) is part of every setter, so the indices
// always agree with the stored dependencies.
type WriteTxn interface {
	ReadTxn

	SetInput(key ir.TaskKey, input any)
	SetOutput(key ir.TaskKey, output any)
	SetObservability(key ir.TaskKey, o ir.Observability)
	SetTaskRequires(key ir.TaskKey, deps []ir.TaskRequireDep)
	SetResourceRequires(key ir.TaskKey, deps []ir.ResourceRequireDep)
	SetResourceProvides(key ir.TaskKey, deps []ir.ResourceProvideDep)

	// SetData replaces all data of key at once.
	SetData(key ir.TaskKey, data ir.TaskData)

	// DeleteData removes key with its internal object and deferred flag, and
	// returns the removed data.
	DeleteData(key ir.TaskKey) (ir.TaskData, bool)

	SetInternal(key ir.TaskKey, v any)
	ClearInternal(key ir.TaskKey)

	AddDeferredTask(key ir.TaskKey)
	RemoveDeferredTask(key ir.TaskKey)

	// Drop removes every task. The next Sync clears the persisted state.
	Drop()
}

// Store is the transactional dependency store.
//
// At most one WriteTxn is open at a time; read transactions may run
// concurrently with each other but not with a write. A goroutine holding a
// transaction must not open a second one: reads during a write go through
// the WriteTxn.
type Store interface {
	ReadTxn() ReadTxn
	WriteTxn() WriteTxn

	// Sync flushes every change since the last Sync to the persister.
	// Sync must not be called while the calling goroutine holds a txn.
	Sync(ctx context.Context) error

	Close() error
}

// View runs fn inside a read transaction.
func View(s Store, fn func(tx ReadTxn) error) error {
	tx := s.ReadTxn()
	defer tx.Close()
	return fn(tx)
}

// Update runs fn inside a write transaction.
func Update(s Store, fn func(tx WriteTxn) error) error {
	tx := s.WriteTxn()
	defer tx.Close()
	return fn(tx)
}
