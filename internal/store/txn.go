package store

import (
	"slices"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

type readTxn struct {
	s       *MemoryStore
	release func()
	closed  bool
}

func (tx *readTxn) check() {
	if tx.closed {
		panic("store: use of closed transaction")
	}
}

func (tx *readTxn) Close() error {
	if tx.closed {
		return nil
	}
	tx.closed = true
	tx.release()
	return nil
}

func (tx *readTxn) Data(key ir.TaskKey) (ir.TaskData, bool) {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return ir.TaskData{}, false
	}
	return e.data.Clone(), true
}

func (tx *readTxn) Input(key ir.TaskKey) (any, bool) {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return nil, false
	}
	return e.data.Input, true
}

func (tx *readTxn) Output(key ir.TaskKey) (any, bool) {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return nil, false
	}
	return e.data.Output, true
}

func (tx *readTxn) Observability(key ir.TaskKey) ir.Observability {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return ir.Unobserved
	}
	return e.data.Observability
}

func (tx *readTxn) TaskRequires(key ir.TaskKey) []ir.TaskRequireDep {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return []ir.TaskRequireDep{}
	}
	return slices.Clone(e.data.TaskRequires)
}

func (tx *readTxn) ResourceRequires(key ir.TaskKey) []ir.ResourceRequireDep {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return []ir.ResourceRequireDep{}
	}
	return slices.Clone(e.data.ResourceRequires)
}

func (tx *readTxn) ResourceProvides(key ir.TaskKey) []ir.ResourceProvideDep {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return []ir.ResourceProvideDep{}
	}
	return slices.Clone(e.data.ResourceProvides)
}

func (tx *readTxn) Internal(key ir.TaskKey) (any, bool) {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok || !e.hasInternal {
		return nil, false
	}
	return e.internal, true
}

func (tx *readTxn) CallersOf(callee ir.TaskKey) []ir.TaskKey {
	tx.check()
	return tx.s.callers[callee].sorted()
}

func (tx *readTxn) RequireesOf(key resource.Key) []ir.TaskKey {
	tx.check()
	return tx.s.requirees[key].sorted()
}

func (tx *readTxn) ProviderOf(key resource.Key) (ir.TaskKey, bool) {
	tx.check()
	providers := tx.s.providers[key].sorted()
	if len(providers) == 0 {
		return ir.TaskKey{}, false
	}
	return providers[0], true
}

func (tx *readTxn) ProvidersOf(key resource.Key) []ir.TaskKey {
	tx.check()
	return tx.s.providers[key].sorted()
}

func (tx *readTxn) RequiresTransitively(caller, callee ir.TaskKey) bool {
	tx.check()
	seen := map[ir.TaskKey]bool{caller: true}
	stack := []ir.TaskKey{caller}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		e, ok := tx.s.tasks[current]
		if !ok {
			continue
		}
		for _, dep := range e.data.TaskRequires {
			if dep.Callee == callee {
				return true
			}
			if !seen[dep.Callee] {
				seen[dep.Callee] = true
				stack = append(stack, dep.Callee)
			}
		}
	}
	return false
}

func (tx *readTxn) Tasks() []ir.TaskKey {
	tx.check()
	keys := make([]ir.TaskKey, 0, len(tx.s.tasks))
	for k := range tx.s.tasks {
		keys = append(keys, k)
	}
	ir.SortTaskKeys(keys)
	return keys
}

func (tx *readTxn) TasksWithoutCallers() []ir.TaskKey {
	tx.check()
	var keys []ir.TaskKey
	for k := range tx.s.tasks {
		if len(tx.s.callers[k]) == 0 {
			keys = append(keys, k)
		}
	}
	ir.SortTaskKeys(keys)
	if keys == nil {
		keys = []ir.TaskKey{}
	}
	return keys
}

func (tx *readTxn) DeferredTasks() []ir.TaskKey {
	tx.check()
	return tx.s.deferred.sorted()
}

func (tx *readTxn) IsDeferred(key ir.TaskKey) bool {
	tx.check()
	return tx.s.isDeferred(key)
}

func (tx *readTxn) NumTasks() int {
	tx.check()
	return len(tx.s.tasks)
}

func (tx *readTxn) NumSourceFiles() int {
	tx.check()
	n := 0
	for key := range tx.s.requirees {
		if len(tx.s.providers[key]) == 0 {
			n++
		}
	}
	return n
}

type writeTxn struct {
	readTxn
}

func (tx *writeTxn) SetInput(key ir.TaskKey, input any) {
	tx.check()
	tx.s.entry(key).data.Input = input
}

func (tx *writeTxn) SetOutput(key ir.TaskKey, output any) {
	tx.check()
	tx.s.entry(key).data.Output = output
}

func (tx *writeTxn) SetObservability(key ir.TaskKey, o ir.Observability) {
	tx.check()
	tx.s.entry(key).data.Observability = o
}

func (tx *writeTxn) SetTaskRequires(key ir.TaskKey, deps []ir.TaskRequireDep) {
	tx.check()
	e := tx.s.entry(key)
	tx.s.unindexTaskRequires(key, e.data.TaskRequires)
	e.data.TaskRequires = slices.Clone(deps)
	tx.s.indexTaskRequires(key, e.data.TaskRequires)
}

func (tx *writeTxn) SetResourceRequires(key ir.TaskKey, deps []ir.ResourceRequireDep) {
	tx.check()
	e := tx.s.entry(key)
	tx.s.unindexResourceRequires(key, e.data.ResourceRequires)
	e.data.ResourceRequires = slices.Clone(deps)
	tx.s.indexResourceRequires(key, e.data.ResourceRequires)
}

func (tx *writeTxn) SetResourceProvides(key ir.TaskKey, deps []ir.ResourceProvideDep) {
	tx.check()
	e := tx.s.entry(key)
	tx.s.unindexResourceProvides(key, e.data.ResourceProvides)
	e.data.ResourceProvides = slices.Clone(deps)
	tx.s.indexResourceProvides(key, e.data.ResourceProvides)
}

func (tx *writeTxn) SetData(key ir.TaskKey, data ir.TaskData) {
	tx.check()
	tx.s.setData(key, data)
}

func (tx *writeTxn) DeleteData(key ir.TaskKey) (ir.TaskData, bool) {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok {
		return ir.TaskData{}, false
	}
	tx.s.unindexTaskRequires(key, e.data.TaskRequires)
	tx.s.unindexResourceRequires(key, e.data.ResourceRequires)
	tx.s.unindexResourceProvides(key, e.data.ResourceProvides)
	delete(tx.s.tasks, key)
	delete(tx.s.deferred, key)
	tx.s.dirty[key] = struct{}{}
	return e.data, true
}

func (tx *writeTxn) SetInternal(key ir.TaskKey, v any) {
	tx.check()
	e := tx.s.entry(key)
	e.internal = v
	e.hasInternal = true
}

func (tx *writeTxn) ClearInternal(key ir.TaskKey) {
	tx.check()
	e, ok := tx.s.tasks[key]
	if !ok || !e.hasInternal {
		return
	}
	e.internal = nil
	e.hasInternal = false
	tx.s.dirty[key] = struct{}{}
}

func (tx *writeTxn) AddDeferredTask(key ir.TaskKey) {
	tx.check()
	if tx.s.isDeferred(key) {
		return
	}
	tx.s.deferred[key] = struct{}{}
	tx.s.dirty[key] = struct{}{}
}

func (tx *writeTxn) RemoveDeferredTask(key ir.TaskKey) {
	tx.check()
	if !tx.s.isDeferred(key) {
		return
	}
	delete(tx.s.deferred, key)
	tx.s.dirty[key] = struct{}{}
}

func (tx *writeTxn) Drop() {
	tx.check()
	clear(tx.s.tasks)
	clear(tx.s.callers)
	clear(tx.s.requirees)
	clear(tx.s.providers)
	clear(tx.s.deferred)
	clear(tx.s.dirty)
	tx.s.dropped = true
}
