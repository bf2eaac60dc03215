package testutil

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fileClockEpoch is the first modification time handed out by FileClock.
var fileClockEpoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// FileClock hands out strictly increasing file modification times.
//
// Tests that rely on the Modified resource stamper cannot trust the wall
// clock: two writes within the file system's timestamp granularity leave
// the same mtime. FileClock sets mtimes explicitly, one second apart, so
// every Touch is observable and runs are reproducible.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type FileClock struct {
	mu  sync.Mutex
	seq int64
}

// NewFileClock creates a clock whose first Next() is one second after
// the epoch.
func NewFileClock() *FileClock {
	return &FileClock{}
}

// Next advances the clock and returns the new time.
func (c *FileClock) Next() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return fileClockEpoch.Add(time.Duration(c.seq) * time.Second)
}

// Current returns the last time handed out (the epoch before any Next).
func (c *FileClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fileClockEpoch.Add(time.Duration(c.seq) * time.Second)
}

// Touch sets the modification time of path to the next clock value.
func (c *FileClock) Touch(t testing.TB, path string) time.Time {
	t.Helper()
	mod := c.Next()
	require.NoError(t, os.Chtimes(path, mod, mod))
	return mod
}
