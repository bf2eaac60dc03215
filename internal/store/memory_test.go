package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/stamp"
)

var (
	keyA = ir.NewTaskKey("t", "a")
	keyB = ir.NewTaskKey("t", "b")
	keyC = ir.NewTaskKey("t", "c")
	keyD = ir.NewTaskKey("t", "d")

	fileIn  = resource.NewKey("file", "/in.txt")
	fileOut = resource.NewKey("file", "/out.txt")
)

func requires(callees ...ir.TaskKey) []ir.TaskRequireDep {
	deps := make([]ir.TaskRequireDep, 0, len(callees))
	for _, c := range callees {
		deps = append(deps, ir.TaskRequireDep{Callee: c, Stamp: stamp.InconsequentialStamp{}})
	}
	return deps
}

// chain stores a -> b -> c, with c reading fileIn and b providing fileOut.
func chain(t *testing.T, s *MemoryStore) {
	t.Helper()
	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.SetData(keyA, ir.TaskData{Input: "a", Output: "A", Observability: ir.ExplicitObserved, TaskRequires: requires(keyB)})
		tx.SetData(keyB, ir.TaskData{
			Input: "b", Output: "B", Observability: ir.ImplicitObserved,
			TaskRequires:     requires(keyC),
			ResourceProvides: []ir.ResourceProvideDep{{Key: fileOut, Stamp: stamp.ExistsStamp{Exists: true}}},
		})
		tx.SetData(keyC, ir.TaskData{
			Input: "c", Output: "C", Observability: ir.ImplicitObserved,
			ResourceRequires: []ir.ResourceRequireDep{{Key: fileIn, Stamp: stamp.ExistsStamp{Exists: true}}},
		})
		return nil
	}))
}

func TestMemoryStore_AbsentKeys(t *testing.T) {
	s := NewMemoryStore()

	require.NoError(t, View(s, func(tx ReadTxn) error {
		_, ok := tx.Data(keyA)
		assert.False(t, ok)
		_, ok = tx.Output(keyA)
		assert.False(t, ok)
		_, ok = tx.Internal(keyA)
		assert.False(t, ok)
		assert.Equal(t, ir.Unobserved, tx.Observability(keyA))
		assert.Empty(t, tx.TaskRequires(keyA))
		assert.Empty(t, tx.CallersOf(keyA))
		_, ok = tx.ProviderOf(fileIn)
		assert.False(t, ok)
		assert.Equal(t, 0, tx.NumTasks())
		return nil
	}))
}

func TestMemoryStore_Indices(t *testing.T) {
	s := NewMemoryStore()
	chain(t, s)

	tx := s.ReadTxn()
	defer tx.Close()

	assert.Equal(t, []ir.TaskKey{keyA}, tx.CallersOf(keyB))
	assert.Equal(t, []ir.TaskKey{keyB}, tx.CallersOf(keyC))
	assert.Equal(t, []ir.TaskKey{keyC}, tx.RequireesOf(fileIn))
	provider, ok := tx.ProviderOf(fileOut)
	require.True(t, ok)
	assert.Equal(t, keyB, provider)
	assert.Equal(t, []ir.TaskKey{keyA}, tx.TasksWithoutCallers())
	assert.Equal(t, []ir.TaskKey{keyA, keyB, keyC}, tx.Tasks())
	assert.Equal(t, 3, tx.NumTasks())
	assert.Equal(t, 1, tx.NumSourceFiles(), "fileIn has no provider")
}

func TestMemoryStore_RequiresTransitively(t *testing.T) {
	s := NewMemoryStore()
	chain(t, s)

	tx := s.ReadTxn()
	defer tx.Close()

	assert.True(t, tx.RequiresTransitively(keyA, keyB))
	assert.True(t, tx.RequiresTransitively(keyA, keyC))
	assert.False(t, tx.RequiresTransitively(keyC, keyA))
	assert.False(t, tx.RequiresTransitively(keyA, keyA))
	assert.False(t, tx.RequiresTransitively(keyD, keyA))
}

func TestMemoryStore_SettersReindex(t *testing.T) {
	s := NewMemoryStore()
	chain(t, s)

	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.SetTaskRequires(keyA, requires(keyC))
		tx.SetResourceProvides(keyB, nil)
		tx.SetResourceRequires(keyC, nil)
		return nil
	}))

	tx := s.ReadTxn()
	defer tx.Close()
	assert.Empty(t, tx.CallersOf(keyB))
	assert.Equal(t, []ir.TaskKey{keyA, keyB}, tx.CallersOf(keyC))
	assert.Empty(t, tx.ProvidersOf(fileOut))
	assert.Empty(t, tx.RequireesOf(fileIn))
	assert.Equal(t, []ir.TaskKey{keyA, keyB}, tx.TasksWithoutCallers())
}

func TestMemoryStore_DataIsCopied(t *testing.T) {
	s := NewMemoryStore()
	chain(t, s)

	tx := s.WriteTxn()
	data, ok := tx.Data(keyA)
	require.True(t, ok)
	data.TaskRequires[0].Callee = keyD
	deps := tx.TaskRequires(keyA)
	require.NoError(t, tx.Close())

	assert.Equal(t, keyB, deps[0].Callee)
}

func TestMemoryStore_DeleteData(t *testing.T) {
	s := NewMemoryStore()
	chain(t, s)

	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.AddDeferredTask(keyB)
		tx.SetInternal(keyB, "scratch")

		removed, ok := tx.DeleteData(keyB)
		require.True(t, ok)
		assert.Equal(t, "B", removed.Output)

		_, ok = tx.DeleteData(keyB)
		assert.False(t, ok)

		assert.False(t, tx.IsDeferred(keyB))
		_, ok = tx.Internal(keyB)
		assert.False(t, ok)
		assert.Empty(t, tx.CallersOf(keyC), "b's edges are gone")
		assert.Empty(t, tx.ProvidersOf(fileOut))
		assert.Equal(t, []ir.TaskKey{keyA}, tx.CallersOf(keyB), "a still requires b")
		return nil
	}))
}

func TestMemoryStore_DeferredAndInternal(t *testing.T) {
	s := NewMemoryStore()
	chain(t, s)

	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.AddDeferredTask(keyC)
		tx.AddDeferredTask(keyA)
		tx.AddDeferredTask(keyA)
		tx.SetInternal(keyA, 42)
		return nil
	}))

	require.NoError(t, View(s, func(tx ReadTxn) error {
		assert.Equal(t, []ir.TaskKey{keyA, keyC}, tx.DeferredTasks())
		v, ok := tx.Internal(keyA)
		require.True(t, ok)
		assert.Equal(t, 42, v)
		return nil
	}))

	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.RemoveDeferredTask(keyA)
		tx.ClearInternal(keyA)
		return nil
	}))

	require.NoError(t, View(s, func(tx ReadTxn) error {
		assert.Equal(t, []ir.TaskKey{keyC}, tx.DeferredTasks())
		_, ok := tx.Internal(keyA)
		assert.False(t, ok)
		return nil
	}))
}

func TestMemoryStore_ClosedTxnPanics(t *testing.T) {
	s := NewMemoryStore()
	tx := s.ReadTxn()
	require.NoError(t, tx.Close())
	require.NoError(t, tx.Close(), "Close is idempotent")

	assert.Panics(t, func() { tx.NumTasks() })

	// The lock was released exactly once, so a writer can proceed.
	w := s.WriteTxn()
	require.NoError(t, w.Close())
}

type recordingPersister struct {
	snapshot Snapshot
	saved    []Changeset
	closed   bool
}

func (p *recordingPersister) Load(context.Context) (Snapshot, error) { return p.snapshot, nil }

func (p *recordingPersister) Save(_ context.Context, c Changeset) error {
	p.saved = append(p.saved, c)
	return nil
}

func (p *recordingPersister) Close() error {
	p.closed = true
	return nil
}

func TestMemoryStore_SyncSendsChangeset(t *testing.T) {
	p := &recordingPersister{}
	s := NewMemoryStore(WithPersister(p))
	chain(t, s)
	ctx := context.Background()

	require.NoError(t, s.Sync(ctx))
	require.Len(t, p.saved, 1)
	first := p.saved[0]
	assert.False(t, first.Drop)
	require.Len(t, first.Upserts, 3)
	assert.Equal(t, keyA, first.Upserts[0].Key)
	assert.Empty(t, first.Deletes)

	require.NoError(t, s.Sync(ctx))
	assert.Len(t, p.saved, 1, "nothing changed, nothing saved")

	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.DeleteData(keyC)
		tx.AddDeferredTask(keyB)
		return nil
	}))
	require.NoError(t, s.Sync(ctx))
	require.Len(t, p.saved, 2)
	assert.Equal(t, []ir.TaskKey{keyC}, p.saved[1].Deletes)
	require.Len(t, p.saved[1].Upserts, 1)
	assert.True(t, p.saved[1].Upserts[0].Record.Deferred)

	require.NoError(t, s.Close())
	assert.True(t, p.closed)
}

func TestMemoryStore_DropSyncsDrop(t *testing.T) {
	p := &recordingPersister{}
	s := NewMemoryStore(WithPersister(p))
	chain(t, s)
	ctx := context.Background()
	require.NoError(t, s.Sync(ctx))

	require.NoError(t, Update(s, func(tx WriteTxn) error {
		tx.Drop()
		tx.SetData(keyD, ir.TaskData{Input: "d"})
		return nil
	}))
	require.NoError(t, s.Sync(ctx))

	last := p.saved[len(p.saved)-1]
	assert.True(t, last.Drop)
	assert.Empty(t, last.Deletes)
	require.Len(t, last.Upserts, 1)
	assert.Equal(t, keyD, last.Upserts[0].Key)

	require.NoError(t, View(s, func(tx ReadTxn) error {
		assert.Equal(t, 1, tx.NumTasks())
		assert.Empty(t, tx.CallersOf(keyB))
		return nil
	}))
}

func TestLoad_RebuildsIndices(t *testing.T) {
	p := &recordingPersister{snapshot: Snapshot{Records: map[ir.TaskKey]Record{
		keyA: {Data: ir.TaskData{Output: "A", Observability: ir.ExplicitObserved, TaskRequires: requires(keyB)}},
		keyB: {
			Data:     ir.TaskData{Output: "B", ResourceRequires: []ir.ResourceRequireDep{{Key: fileIn}}},
			Internal: "scratch",
			Deferred: true,
		},
	}}}

	s, err := Load(context.Background(), p)
	require.NoError(t, err)

	require.NoError(t, View(s, func(tx ReadTxn) error {
		assert.Equal(t, []ir.TaskKey{keyA}, tx.CallersOf(keyB))
		assert.Equal(t, []ir.TaskKey{keyB}, tx.RequireesOf(fileIn))
		assert.Equal(t, []ir.TaskKey{keyB}, tx.DeferredTasks())
		v, ok := tx.Internal(keyB)
		require.True(t, ok)
		assert.Equal(t, "scratch", v)
		return nil
	}))

	require.NoError(t, s.Sync(context.Background()))
	assert.Empty(t, p.saved, "loaded data is not dirty")
}
