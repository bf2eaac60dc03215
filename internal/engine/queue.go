package engine

import (
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/store"
)

// DependencyComparator orders tasks by the dependency graph of a store.
//
// Compare(a, b) is 0 when a == b, +1 when a transitively requires b and -1
// otherwise. It is not a total order: two unrelated tasks compare -1 both
// ways. The graph changes while a bottom-up pass executes tasks, so nothing
// is cached; every comparison reads the live transaction.
type DependencyComparator struct {
	tx store.ReadTxn
}

// NewDependencyComparator creates a comparator over tx.
func NewDependencyComparator(tx store.ReadTxn) DependencyComparator {
	return DependencyComparator{tx: tx}
}

// Compare orders a and b.
func (c DependencyComparator) Compare(a, b ir.TaskKey) int {
	if a == b {
		return 0
	}
	if c.tx.RequiresTransitively(a, b) {
		return 1
	}
	return -1
}

// taskQueue is the work queue of one bottom-up pass.
//
// It is a set with insertion order: adding a queued key is a no-op. Polling
// never returns a task while a task it transitively requires is still
// queued, so dependencies always execute first. Among candidates, the
// earliest inserted wins, which keeps passes deterministic.
//
// Not safe for concurrent use; a pass owns its queue.
type taskQueue struct {
	cmp     DependencyComparator
	keys    []ir.TaskKey
	members map[ir.TaskKey]struct{}
}

func newTaskQueue(cmp DependencyComparator) *taskQueue {
	return &taskQueue{
		cmp:     cmp,
		keys:    make([]ir.TaskKey, 0, 16),
		members: make(map[ir.TaskKey]struct{}),
	}
}

// Add enqueues key. Returns false if it was already queued.
func (q *taskQueue) Add(key ir.TaskKey) bool {
	if _, ok := q.members[key]; ok {
		return false
	}
	q.members[key] = struct{}{}
	q.keys = append(q.keys, key)
	return true
}

// Contains reports whether key is queued.
func (q *taskQueue) Contains(key ir.TaskKey) bool {
	_, ok := q.members[key]
	return ok
}

// Len returns the number of queued keys.
func (q *taskQueue) Len() int {
	return len(q.keys)
}

// Poll removes and returns the least queued key: the first one that
// transitively requires no other queued key.
func (q *taskQueue) Poll() (ir.TaskKey, bool) {
	return q.pollLeast(q.keys)
}

// PollLeastTaskWithDepTo removes and returns the least queued key among
// target itself and the queued keys target transitively requires. These
// are exactly the queued tasks whose execution can change what target
// observes. Returns false when there are none.
func (q *taskQueue) PollLeastTaskWithDepTo(target ir.TaskKey) (ir.TaskKey, bool) {
	var candidates []ir.TaskKey
	for _, k := range q.keys {
		if k == target || q.cmp.Compare(target, k) > 0 {
			candidates = append(candidates, k)
		}
	}
	return q.pollLeast(candidates)
}

// pollLeast removes the first of candidates that requires no other
// candidate. A candidate's own dependencies that are queued are candidates
// too (requires is transitive), so checking within candidates suffices.
func (q *taskQueue) pollLeast(candidates []ir.TaskKey) (ir.TaskKey, bool) {
	if len(candidates) == 0 {
		return ir.TaskKey{}, false
	}
	least := candidates[0]
	for _, k := range candidates {
		if !q.requiresAny(k, candidates) {
			least = k
			break
		}
	}
	q.remove(least)
	return least, true
}

func (q *taskQueue) requiresAny(key ir.TaskKey, others []ir.TaskKey) bool {
	for _, o := range others {
		if q.cmp.Compare(key, o) > 0 {
			return true
		}
	}
	return false
}

func (q *taskQueue) remove(key ir.TaskKey) {
	delete(q.members, key)
	for i, k := range q.keys {
		if k == key {
			copy(q.keys[i:], q.keys[i+1:])
			q.keys[len(q.keys)-1] = ir.TaskKey{}
			q.keys = q.keys[:len(q.keys)-1]
			return
		}
	}
}
