package engine

import (
	"sync"

	"github.com/roach88/incr/internal/ir"
)

// Callbacks looks up the function to call with a task's output.
type Callbacks interface {
	Get(key ir.TaskKey) (func(output any), bool)
}

// CallbackMap is a Callbacks keyed by TaskKey.
//
// A callback runs whenever its task executes successfully, and when a
// require finds the task's stored output up to date. It runs inside the
// session's write transaction and must not call back into the session.
//
// Thread-safety: CallbackMap is safe for concurrent use.
type CallbackMap struct {
	mu  sync.RWMutex
	fns map[ir.TaskKey]func(any)
}

var _ Callbacks = (*CallbackMap)(nil)

// NewCallbackMap creates an empty map.
func NewCallbackMap() *CallbackMap {
	return &CallbackMap{fns: make(map[ir.TaskKey]func(any))}
}

// Set registers fn for key, replacing any previous callback.
func (m *CallbackMap) Set(key ir.TaskKey, fn func(output any)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fns[key] = fn
}

// Remove unregisters the callback for key.
func (m *CallbackMap) Remove(key ir.TaskKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.fns, key)
}

// Clear unregisters every callback.
func (m *CallbackMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.fns)
}

// Get implements Callbacks.
func (m *CallbackMap) Get(key ir.TaskKey) (func(any), bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.fns[key]
	return fn, ok
}

// Len returns the number of registered callbacks.
func (m *CallbackMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.fns)
}
