package engine

import (
	"context"

	"github.com/roach88/incr/internal/ir"
)

// topDownRunner brings a task up to date by validating its stored
// dependencies recursively and executing whatever is inconsistent.
type topDownRunner struct {
	r *run
}

var _ taskRequirer = (*topDownRunner)(nil)

// requireInitial requires a root task and marks it explicitly observed.
func (t *topDownRunner) requireInitial(ctx context.Context, task Task) (ir.TaskData, error) {
	key := task.Key()
	data, err := t.require(ctx, key, task, true)
	if err != nil {
		return ir.TaskData{}, err
	}
	if data.Observability != ir.ExplicitObserved {
		t.r.setObservability(key, data.Observability, ir.ExplicitObserved)
		data = data.WithObservability(ir.ExplicitObserved)
	}
	return data, nil
}

func (t *topDownRunner) require(ctx context.Context, key ir.TaskKey, task Task, modifyObservability bool) (data ir.TaskData, err error) {
	if err := ctx.Err(); err != nil {
		return ir.TaskData{}, err
	}
	if err := t.r.s.checkCycle(key); err != nil {
		return ir.TaskData{}, err
	}

	tracer := t.r.s.engine.tracer
	tracer.RequireStart(key)
	defer func() { tracer.RequireEnd(key, err) }()

	if data, ok := t.r.s.visited[key]; ok {
		return t.r.requireVisited(key, task, data, modifyObservability)
	}

	stored, ok := t.r.tx.Data(key)
	if !ok {
		return t.r.exec(ctx, key, task, ReasonNoData, modifyObservability, t)
	}
	return t.r.requireStored(ctx, key, task, stored, modifyObservability, t,
		func(reason ExecReason) (ir.TaskData, error) {
			return t.r.exec(ctx, key, task, reason, modifyObservability, t)
		})
}

// requireVisited returns the data of a task that already executed or was
// checked in this session.
func (r *run) requireVisited(key ir.TaskKey, task Task, data ir.TaskData, modifyObservability bool) (ir.TaskData, error) {
	if err := r.s.engine.validator.ValidateVisited(key, task, data, r.tx); err != nil {
		return ir.TaskData{}, asValidationError(key, err)
	}
	if modifyObservability {
		data = r.promote(key, data)
	}
	return data, nil
}

// requireStored checks the stored data of key and either reuses it or
// hands the first inconsistency to execute.
func (r *run) requireStored(
	ctx context.Context,
	key ir.TaskKey,
	task Task,
	stored ir.TaskData,
	modifyObservability bool,
	requirer taskRequirer,
	execute func(ExecReason) (ir.TaskData, error),
) (ir.TaskData, error) {
	inc, err := r.check(ctx, key, task, stored, modifyObservability, requirer)
	if err != nil {
		return ir.TaskData{}, err
	}
	if inc != nil {
		r.s.engine.tracer.Inconsistent(key, *inc)
		r.s.logger.Debug("task inconsistent", "task", key.String(), "reason", inc.String())
		return execute(inc.Reason)
	}

	// Checking callees may have changed the stored observability.
	stored.Observability = r.tx.Observability(key)
	if modifyObservability {
		stored = r.promote(key, stored)
	}
	r.s.visited[key] = stored
	r.s.engine.tracer.UpToDate(key)
	r.s.invokeCallback(key, stored.Output)
	return stored, nil
}
