// Package storetest provides a conformance suite for store.Persister
// implementations.
package storetest

import (
	"context"
	"encoding/gob"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/stamp"
	"github.com/roach88/incr/internal/store"
)

// Output is a structured task output used by the suite.
type Output struct {
	Text  string
	Lines int
}

func init() {
	gob.Register(Output{})
}

var (
	keyRead   = ir.NewTaskKey("read", "/src/a.txt")
	keyConcat = ir.NewTaskKey("concat", "bundle")
	keyOther  = ir.NewTaskKey("concat", "other")
	srcFile   = resource.NewKey("file", "/src/a.txt")
	outFile   = resource.NewKey("file", "/out/bundle.txt")
)

func sampleRecords() []store.Entry {
	return []store.Entry{
		{Key: keyConcat, Record: store.Record{
			Data: ir.TaskData{
				Input:            "bundle",
				Output:           Output{Text: "a\n", Lines: 1},
				Observability:    ir.ExplicitObserved,
				TaskRequires:     []ir.TaskRequireDep{{Callee: keyRead, Stamp: stamp.EqualsStamp{Value: "a\n"}}},
				ResourceProvides: []ir.ResourceProvideDep{{Key: outFile, Stamp: stamp.ResourceHashStamp{Exists: true, Digest: "00"}}},
			},
			Internal: "scratch",
		}},
		{Key: keyRead, Record: store.Record{
			Data: ir.TaskData{
				Input:            "/src/a.txt",
				Output:           "a\n",
				Observability:    ir.ImplicitObserved,
				ResourceRequires: []ir.ResourceRequireDep{{Key: srcFile, Stamp: stamp.ExistsStamp{Exists: true}}},
			},
		}},
	}
}

// Opener returns a fresh persister. Persisters returned for the same test
// must share their backing data, so that closing one and opening another
// observes what the first saved.
type Opener func(t *testing.T) store.Persister

// Run runs the conformance suite. newOpener is called once per subtest and
// must return an opener over fresh backing data.
func Run(t *testing.T, newOpener func(t *testing.T) Opener) {
	t.Run("EmptyLoad", func(t *testing.T) {
		p := newOpener(t)(t)
		defer p.Close()

		snap, err := p.Load(context.Background())
		require.NoError(t, err)
		assert.Empty(t, snap.Records)
	})

	t.Run("SaveAndReload", func(t *testing.T) {
		open := newOpener(t)
		ctx := context.Background()

		p := open(t)
		require.NoError(t, p.Save(ctx, store.Changeset{Upserts: sampleRecords()}))
		require.NoError(t, p.Close())

		p = open(t)
		defer p.Close()
		snap, err := p.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Records, 2)
		for _, e := range sampleRecords() {
			assert.Equal(t, e.Record, snap.Records[e.Key], "record %s", e.Key)
		}
	})

	t.Run("UpsertReplacesAndDeleteRemoves", func(t *testing.T) {
		p := newOpener(t)(t)
		defer p.Close()
		ctx := context.Background()

		require.NoError(t, p.Save(ctx, store.Changeset{Upserts: sampleRecords()}))
		updated := store.Record{Data: ir.TaskData{Input: "/src/a.txt", Output: "b\n"}, Deferred: true}
		require.NoError(t, p.Save(ctx, store.Changeset{
			Upserts: []store.Entry{{Key: keyRead, Record: updated}},
			Deletes: []ir.TaskKey{keyConcat, keyOther},
		}))

		snap, err := p.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Records, 1)
		assert.Equal(t, updated, snap.Records[keyRead])
	})

	t.Run("DropClearsBeforeUpserts", func(t *testing.T) {
		p := newOpener(t)(t)
		defer p.Close()
		ctx := context.Background()

		require.NoError(t, p.Save(ctx, store.Changeset{Upserts: sampleRecords()}))
		fresh := store.Record{Data: ir.TaskData{Input: "other"}}
		require.NoError(t, p.Save(ctx, store.Changeset{
			Drop:    true,
			Upserts: []store.Entry{{Key: keyOther, Record: fresh}},
		}))

		snap, err := p.Load(ctx)
		require.NoError(t, err)
		require.Len(t, snap.Records, 1)
		assert.Equal(t, fresh, snap.Records[keyOther])
	})

	t.Run("MemoryStoreRoundTrip", func(t *testing.T) {
		open := newOpener(t)
		ctx := context.Background()

		s, err := store.Load(ctx, open(t))
		require.NoError(t, err)
		require.NoError(t, store.Update(s, func(tx store.WriteTxn) error {
			for _, e := range sampleRecords() {
				tx.SetData(e.Key, e.Record.Data)
			}
			tx.AddDeferredTask(keyRead)
			return nil
		}))
		require.NoError(t, s.Sync(ctx))
		require.NoError(t, s.Close())

		reopened, err := store.Load(ctx, open(t))
		require.NoError(t, err)
		defer reopened.Close()
		require.NoError(t, store.View(reopened, func(tx store.ReadTxn) error {
			assert.Equal(t, 2, tx.NumTasks())
			assert.Equal(t, []ir.TaskKey{keyConcat}, tx.CallersOf(keyRead))
			assert.Equal(t, []ir.TaskKey{keyRead}, tx.DeferredTasks())
			provider, ok := tx.ProviderOf(outFile)
			require.True(t, ok)
			assert.Equal(t, keyConcat, provider)
			out, ok := tx.Output(keyConcat)
			require.True(t, ok)
			assert.Equal(t, Output{Text: "a\n", Lines: 1}, out)
			return nil
		}))
	})
}
