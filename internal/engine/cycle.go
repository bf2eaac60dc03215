package engine

import (
	"slices"

	"github.com/roach88/incr/internal/ir"
)

// cycleDetector tracks the tasks executing in a session, outermost first.
//
// A task that is required while it is executing can never finish: its
// output would depend on itself. Stored data does not help either, since
// reusing it would record a dependency edge back into the executing task.
// So the check runs on every require, before visited or stored data is
// consulted.
type cycleDetector struct {
	stack []ir.TaskKey
	index map[ir.TaskKey]int
}

func newCycleDetector() *cycleDetector {
	return &cycleDetector{index: make(map[ir.TaskKey]int)}
}

// WouldCycle reports whether requiring key now would create a cycle.
func (c *cycleDetector) WouldCycle(key ir.TaskKey) bool {
	_, ok := c.index[key]
	return ok
}

// Check returns a *CycleError if requiring key would create a cycle.
func (c *cycleDetector) Check(key ir.TaskKey) error {
	i, ok := c.index[key]
	if !ok {
		return nil
	}
	path := slices.Clone(c.stack[i:])
	path = append(path, key)
	return &CycleError{Key: key, Path: path}
}

// Push records that key started executing.
func (c *cycleDetector) Push(key ir.TaskKey) {
	c.index[key] = len(c.stack)
	c.stack = append(c.stack, key)
}

// Pop records that key finished. Executions nest, so key is the top.
func (c *cycleDetector) Pop(key ir.TaskKey) {
	n := len(c.stack)
	if n == 0 || c.stack[n-1] != key {
		return
	}
	c.stack = c.stack[:n-1]
	delete(c.index, key)
}

// Depth returns the number of executing tasks.
func (c *cycleDetector) Depth() int {
	return len(c.stack)
}
