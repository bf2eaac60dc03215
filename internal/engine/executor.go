package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/roach88/incr/internal/ir"
)

// execSnapshot is everything about a key an execution may change, taken
// before the body runs so a failure can restore it.
type execSnapshot struct {
	data        ir.TaskData
	hasData     bool
	internal    any
	hasInternal bool
	deferred    bool
}

func (r *run) snapshot(key ir.TaskKey) execSnapshot {
	var snap execSnapshot
	snap.data, snap.hasData = r.tx.Data(key)
	snap.internal, snap.hasInternal = r.tx.Internal(key)
	snap.deferred = r.tx.IsDeferred(key)
	return snap
}

// rollback restores key to snap.
func (r *run) rollback(key ir.TaskKey, snap execSnapshot) {
	if !snap.hasData {
		r.tx.DeleteData(key)
		return
	}
	r.tx.SetData(key, snap.data)
	if snap.hasInternal {
		r.tx.SetInternal(key, snap.internal)
	} else {
		r.tx.ClearInternal(key)
	}
	if snap.deferred {
		r.tx.AddDeferredTask(key)
	} else {
		r.tx.RemoveDeferredTask(key)
	}
}

// exec executes task and commits its data, or leaves the store as it was.
//
// Protocol:
//  1. Snapshot the stored state of key.
//  2. Run the body with a fresh ExecContext, after a cancellation check.
//  3. On success write the new data, validate it, unobserve callees that
//     are no longer required, clear the deferred flag, record the task as
//     visited and run its callback.
//  4. On any failure restore the snapshot. Body errors are wrapped in
//     *ExecError unless they already carry an engine error; context errors
//     and panics pass through unchanged.
func (r *run) exec(
	ctx context.Context,
	key ir.TaskKey,
	task Task,
	reason ExecReason,
	modifyObservability bool,
	requirer taskRequirer,
) (ir.TaskData, error) {
	if err := r.s.checkCycle(key); err != nil {
		return ir.TaskData{}, err
	}
	if err := r.s.quota.Check(r.s.id); err != nil {
		return ir.TaskData{}, err
	}
	return r.s.engine.share.Share(ctx, key, func() (ir.TaskData, error) {
		return r.execBody(ctx, key, task, reason, modifyObservability, requirer)
	})
}

func (r *run) execBody(
	ctx context.Context,
	key ir.TaskKey,
	task Task,
	reason ExecReason,
	modifyObservability bool,
	requirer taskRequirer,
) (ir.TaskData, error) {
	tracer := r.s.engine.tracer
	snap := r.snapshot(key)
	observability := newObservability(snap.data.Observability, modifyObservability)
	ec := newExecContext(r, key, requirer, snap, observability.IsObserved())

	tracer.ExecStart(key, reason)
	r.s.logger.Debug("executing task", "task", key.String(), "reason", reason.String())

	if err := ctx.Err(); err != nil {
		tracer.ExecEnd(key, reason, nil, err)
		return ir.TaskData{}, err
	}

	r.s.pushExecuting(key)
	committed := false
	defer func() {
		r.s.popExecuting(key)
		if p := recover(); p != nil {
			if !committed {
				r.rollback(key, snap)
			}
			r.s.logger.Error("task panicked", "task", key.String(), "panic", p)
			panic(p)
		}
	}()

	output, err := task.Def.Exec(ctx, ec, task.Input)
	if err != nil {
		r.rollback(key, snap)
		err = r.classifyBodyError(key, err)
		tracer.ExecEnd(key, reason, nil, err)
		return ir.TaskData{}, err
	}

	data := ec.data(task.Input, output, observability)
	r.tx.SetData(key, data)
	switch ec.internalChange {
	case internalSet:
		r.tx.SetInternal(key, ec.internal)
	case internalCleared:
		r.tx.ClearInternal(key)
	}

	if err := r.s.engine.validator.ValidateExecuted(key, task, data, r.tx); err != nil {
		r.rollback(key, snap)
		verr := asValidationError(key, err)
		tracer.ExecEnd(key, reason, nil, verr)
		r.s.logger.Error("validation failed", "task", key.String(), "error", verr)
		return ir.TaskData{}, verr
	}
	committed = true

	if snap.hasData {
		for _, callee := range snap.data.Callees() {
			if !slices.Contains(data.Callees(), callee) {
				r.implicitUnobserve(callee)
			}
		}
	}
	r.tx.RemoveDeferredTask(key)
	if observability != snap.data.Observability {
		tracer.ObservabilityChanged(key, snap.data.Observability, observability)
	}

	// Pruning may have changed observabilities; reread so visited agrees
	// with the store.
	data.Observability = r.tx.Observability(key)
	r.s.visited[key] = data
	r.s.invokeCallback(key, output)

	tracer.ExecEnd(key, reason, output, nil)
	r.s.logger.Debug("executed task", "task", key.String(), "reason", reason.String())
	return data, nil
}

// classifyBodyError decides how a body error crosses the task boundary.
// Cancellation is reported as the bare context error, engine errors from
// nested tasks pass through, anything else becomes an *ExecError for key.
func (r *run) classifyBodyError(key ir.TaskKey, err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return context.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return context.DeadlineExceeded
	}
	var execErr *ExecError
	if errors.As(err, &execErr) || isFatal(err) {
		return err
	}
	r.s.logger.Warn("task failed", "task", key.String(), slog.Any("error", err))
	return &ExecError{Key: key, Cause: err}
}
