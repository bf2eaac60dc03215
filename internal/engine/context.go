package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// ExecContext is handed to a task body. Every dependency the body records
// through it becomes part of the task's stored data when the body returns
// successfully; nothing is recorded when it fails.
//
// An ExecContext is only valid during the Exec call it was passed to and is
// not safe for concurrent use.
type ExecContext interface {
	// Key returns the key of the executing task.
	Key() ir.TaskKey

	// Require returns the up-to-date output of task, executing it if
	// needed, and records a dependency on it using the engine's default
	// output stamper.
	Require(ctx context.Context, task Task) (any, error)

	// RequireWith is Require with an explicit output stamper.
	RequireWith(ctx context.Context, task Task, stamper ir.OutputStamper) (any, error)

	// RequireResource resolves key and records that the task reads it,
	// stamped with the engine's default require stamper. Call it before
	// reading.
	RequireResource(key resource.Key) (resource.Resource, error)

	// RequireResourceWith is RequireResource with an explicit stamper.
	RequireResourceWith(key resource.Key, stamper ir.ResourceStamper) (resource.Resource, error)

	// ProvideResource records that the task wrote key, stamped with the
	// engine's default provide stamper. Call it after writing.
	ProvideResource(key resource.Key) error

	// ProvideResourceWith is ProvideResource with an explicit stamper.
	ProvideResourceWith(key resource.Key, stamper ir.ResourceStamper) error

	// Internal returns the task's internal object as of the last
	// successful execution.
	Internal() (any, bool)

	// SetInternal replaces the internal object. The change is stored only
	// if the execution succeeds.
	SetInternal(v any)

	// ClearInternal removes the internal object on success.
	ClearInternal()

	// Previous returns the data stored before this execution, if any.
	Previous() (ir.TaskData, bool)

	// Logger returns a logger tagged with the task key and session ID.
	Logger() *slog.Logger
}

// taskRequirer resolves the up-to-date data of a task. The top-down and
// bottom-up runners implement it differently; the executor and checker
// take it as a parameter so nested requires go through the active runner.
type taskRequirer interface {
	require(ctx context.Context, key ir.TaskKey, task Task, modifyObservability bool) (ir.TaskData, error)
}

type internalChange int

const (
	internalKept internalChange = iota
	internalSet
	internalCleared
)

type execContext struct {
	r        *run
	key      ir.TaskKey
	requirer taskRequirer
	logger   *slog.Logger

	previous    ir.TaskData
	hasPrevious bool

	// modifyObservability is passed on to requires: callees of an observed
	// task become observed, callees of an unobserved one stay as they are.
	modifyObservability bool

	taskRequires     []ir.TaskRequireDep
	resourceRequires []ir.ResourceRequireDep
	resourceProvides []ir.ResourceProvideDep

	internal       any
	hasInternal    bool
	internalChange internalChange
}

var _ ExecContext = (*execContext)(nil)

func newExecContext(r *run, key ir.TaskKey, requirer taskRequirer, snap execSnapshot, modifyObservability bool) *execContext {
	return &execContext{
		r:                   r,
		key:                 key,
		requirer:            requirer,
		logger:              r.s.logger.With("task", key.String()),
		previous:            snap.data,
		hasPrevious:         snap.hasData,
		modifyObservability: modifyObservability,
		internal:            snap.internal,
		hasInternal:         snap.hasInternal,
	}
}

func (ec *execContext) Key() ir.TaskKey {
	return ec.key
}

func (ec *execContext) Require(ctx context.Context, task Task) (any, error) {
	return ec.RequireWith(ctx, task, ec.r.s.engine.outputStamper)
}

func (ec *execContext) RequireWith(ctx context.Context, task Task, stamper ir.OutputStamper) (any, error) {
	key := task.Key()
	data, err := ec.requirer.require(ctx, key, task, ec.modifyObservability)
	if err != nil {
		return nil, err
	}
	stamp, err := stamper.Stamp(data.Output)
	if err != nil {
		return nil, fmt.Errorf("stamp output of %s: %w", key, err)
	}
	if _, ok := ec.taskRequireIndex(key); !ok {
		ec.taskRequires = append(ec.taskRequires, ir.TaskRequireDep{Callee: key, Stamp: stamp})
	}
	return data.Output, nil
}

func (ec *execContext) RequireResource(key resource.Key) (resource.Resource, error) {
	return ec.RequireResourceWith(key, ec.r.s.engine.requireStamper)
}

func (ec *execContext) RequireResourceWith(key resource.Key, stamper ir.ResourceStamper) (resource.Resource, error) {
	res, err := ec.r.s.engine.resolver.Resource(key)
	if err != nil {
		return nil, fmt.Errorf("require %s: %w", key, err)
	}
	stamp, err := stamper.Stamp(res)
	if err != nil {
		return nil, fmt.Errorf("require %s: %w", key, err)
	}
	for _, dep := range ec.resourceRequires {
		if dep.Key == key {
			return res, nil
		}
	}
	ec.resourceRequires = append(ec.resourceRequires, ir.ResourceRequireDep{Key: key, Stamp: stamp})
	return res, nil
}

func (ec *execContext) ProvideResource(key resource.Key) error {
	return ec.ProvideResourceWith(key, ec.r.s.engine.provideStamper)
}

func (ec *execContext) ProvideResourceWith(key resource.Key, stamper ir.ResourceStamper) error {
	res, err := ec.r.s.engine.resolver.Resource(key)
	if err != nil {
		return fmt.Errorf("provide %s: %w", key, err)
	}
	stamp, err := stamper.Stamp(res)
	if err != nil {
		return fmt.Errorf("provide %s: %w", key, err)
	}
	// A second provide of the same resource restamps it.
	for i, dep := range ec.resourceProvides {
		if dep.Key == key {
			ec.resourceProvides[i].Stamp = stamp
			return nil
		}
	}
	ec.resourceProvides = append(ec.resourceProvides, ir.ResourceProvideDep{Key: key, Stamp: stamp})
	return nil
}

func (ec *execContext) Internal() (any, bool) {
	return ec.internal, ec.hasInternal
}

func (ec *execContext) SetInternal(v any) {
	ec.internal, ec.hasInternal = v, true
	ec.internalChange = internalSet
}

func (ec *execContext) ClearInternal() {
	ec.internal, ec.hasInternal = nil, false
	ec.internalChange = internalCleared
}

func (ec *execContext) Previous() (ir.TaskData, bool) {
	if !ec.hasPrevious {
		return ir.TaskData{}, false
	}
	return ec.previous.Clone(), true
}

func (ec *execContext) Logger() *slog.Logger {
	return ec.logger
}

func (ec *execContext) taskRequireIndex(key ir.TaskKey) (int, bool) {
	for i, dep := range ec.taskRequires {
		if dep.Callee == key {
			return i, true
		}
	}
	return 0, false
}

// data assembles the TaskData of a successful execution.
func (ec *execContext) data(input, output any, o ir.Observability) ir.TaskData {
	return ir.TaskData{
		Input:            input,
		Output:           output,
		Observability:    o,
		TaskRequires:     ec.taskRequires,
		ResourceRequires: ec.resourceRequires,
		ResourceProvides: ec.resourceProvides,
	}
}
