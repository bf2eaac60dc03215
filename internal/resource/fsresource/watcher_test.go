package fsresource

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/testutil"
)

type batchCollector struct {
	mu      sync.Mutex
	batches [][]resource.Key
}

func (c *batchCollector) handle(keys []resource.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, keys)
}

func (c *batchCollector) all() []resource.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []resource.Key
	for _, b := range c.batches {
		keys = append(keys, b...)
	}
	return keys
}

func TestWatcherDebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	collector := &batchCollector{}
	opts := DefaultWatcherOptions()
	opts.DebounceWindow = 50 * time.Millisecond

	w, err := NewWatcher(dir, collector.handle, &opts)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := testutil.WriteFile(t, dir, "a.txt", "1")
	testutil.WriteFile(t, dir, "a.txt", "2")
	testutil.WriteFile(t, dir, "b.swp", "ignored")

	require.Eventually(t, func() bool {
		return len(collector.all()) > 0
	}, 5*time.Second, 10*time.Millisecond)

	keys := collector.all()
	assert.Contains(t, keys, Key(path))
	assert.NotContains(t, keys, Key(filepath.Join(dir, "b.swp")))
}

func TestWatcherIgnoresStoreDirectory(t *testing.T) {
	dir := t.TempDir()
	collector := &batchCollector{}
	opts := DefaultWatcherOptions()
	opts.DebounceWindow = 20 * time.Millisecond
	testutil.WriteFile(t, dir, ".incr/store.db", "x")

	w, err := NewWatcher(dir, collector.handle, &opts)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))

	testutil.WriteFile(t, dir, ".incr/store.db", "y")
	visible := testutil.WriteFile(t, dir, "visible.txt", "v")

	require.Eventually(t, func() bool {
		return len(collector.all()) > 0
	}, 5*time.Second, 10*time.Millisecond)
	w.Stop()

	for _, key := range collector.all() {
		assert.NotContains(t, key.ID, ".incr")
	}
	assert.Contains(t, collector.all(), Key(visible))
}

func TestWatcherStartIsIdempotent(t *testing.T) {
	w, err := NewWatcher(t.TempDir(), nil, nil)
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Start(context.Background()))
	w.Stop()
	w.Stop()
}
