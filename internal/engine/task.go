package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/incr/internal/ir"
)

// TaskDef defines a kind of task.
//
// ID must be unique among the definitions registered with one engine and
// stable across sessions, since it is part of every stored TaskKey. Key
// derives the instance ID from an input; equal inputs must yield equal IDs.
// Exec computes the output, recording dependencies through ec.
type TaskDef interface {
	ID() string
	Key(input any) string
	Exec(ctx context.Context, ec ExecContext, input any) (any, error)
}

// AffectedFilter is an optional TaskDef extension. When a bottom-up pass
// reaches a task whose definition reports false for the active tags, the
// task is deferred instead of executed, and is reconsidered in later
// passes until it executes.
type AffectedFilter interface {
	ShouldExecWhenAffected(input any, tags []string) bool
}

// Task is a definition applied to an input.
type Task struct {
	Def   TaskDef
	Input any
}

// NewTask creates a task.
func NewTask(def TaskDef, input any) Task {
	return Task{Def: def, Input: input}
}

// Key returns the task's key.
func (t Task) Key() ir.TaskKey {
	return ir.NewTaskKey(t.Def.ID(), t.Def.Key(t.Input))
}

// String returns the task key in "def:id" form.
func (t Task) String() string {
	return t.Key().String()
}

func (t Task) shouldExecWhenAffected(tags []string) bool {
	f, ok := t.Def.(AffectedFilter)
	if !ok {
		return true
	}
	return f.ShouldExecWhenAffected(t.Input, tags)
}

// Func is a TaskDef built from typed functions.
//
// Example:
//
//	double := engine.NewFunc("double",
//		func(n int) string { return strconv.Itoa(n) },
//		func(ctx context.Context, ec engine.ExecContext, n int) (int, error) {
//			return n * 2, nil
//		})
//	out, err := session.Require(ctx, double.Task(21))
type Func[I, O any] struct {
	id       string
	key      func(I) string
	exec     func(context.Context, ExecContext, I) (O, error)
	affected func(I, []string) bool
}

// NewFunc creates a typed task definition.
func NewFunc[I, O any](
	id string,
	key func(I) string,
	exec func(context.Context, ExecContext, I) (O, error),
) *Func[I, O] {
	return &Func[I, O]{id: id, key: key, exec: exec}
}

// WithAffectedFilter sets the function consulted by bottom-up passes, see
// AffectedFilter. Returns f for chaining.
func (f *Func[I, O]) WithAffectedFilter(fn func(input I, tags []string) bool) *Func[I, O] {
	f.affected = fn
	return f
}

// ID implements TaskDef.
func (f *Func[I, O]) ID() string {
	return f.id
}

// Key implements TaskDef.
func (f *Func[I, O]) Key(input any) string {
	in, ok := input.(I)
	if !ok {
		panic(fmt.Sprintf("task %s: input has type %T", f.id, input))
	}
	return f.key(in)
}

// Exec implements TaskDef.
func (f *Func[I, O]) Exec(ctx context.Context, ec ExecContext, input any) (any, error) {
	in, ok := input.(I)
	if !ok {
		return nil, fmt.Errorf("task %s: input has type %T", f.id, input)
	}
	return f.exec(ctx, ec, in)
}

// ShouldExecWhenAffected implements AffectedFilter. Without a filter every
// affected task executes.
func (f *Func[I, O]) ShouldExecWhenAffected(input any, tags []string) bool {
	if f.affected == nil {
		return true
	}
	in, ok := input.(I)
	if !ok {
		return true
	}
	return f.affected(in, tags)
}

// Task applies f to input.
func (f *Func[I, O]) Task(input I) Task {
	return Task{Def: f, Input: input}
}

// RequireAs requires task and asserts its output type.
func RequireAs[O any](ctx context.Context, ec ExecContext, task Task) (O, error) {
	var zero O
	out, err := ec.Require(ctx, task)
	if err != nil {
		return zero, err
	}
	if out == nil {
		return zero, nil
	}
	typed, ok := out.(O)
	if !ok {
		return zero, fmt.Errorf("require %s: output has type %T, want %T", task, out, zero)
	}
	return typed, nil
}

// TaskDefs maps definition IDs to definitions. The engine needs it to
// rebuild tasks from stored keys when bottom-up passes and dependency
// checks reach tasks no caller named in this session.
//
// Thread-safety: TaskDefs is safe for concurrent use.
type TaskDefs struct {
	mu   sync.RWMutex
	defs map[string]TaskDef
}

// NewTaskDefs creates a registry holding defs.
func NewTaskDefs(defs ...TaskDef) *TaskDefs {
	d := &TaskDefs{defs: make(map[string]TaskDef, len(defs))}
	for _, def := range defs {
		d.defs[def.ID()] = def
	}
	return d
}

// Add registers def, replacing any definition with the same ID.
func (d *TaskDefs) Add(def TaskDef) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.defs[def.ID()] = def
}

// Get returns the definition with the given ID.
func (d *TaskDefs) Get(id string) (TaskDef, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	def, ok := d.defs[id]
	return def, ok
}

// IDs returns the registered definition IDs in sorted order.
func (d *TaskDefs) IDs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ids := make([]string, 0, len(d.defs))
	for id := range d.defs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
