package engine

import (
	"context"
	"fmt"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// bottomUpRunner executes the observed tasks affected by a set of changed
// resources, dependencies first, and everything that becomes inconsistent
// as a consequence.
//
// Tasks that are required while the pass runs are served in one of three
// ways: new tasks execute immediately; unobserved tasks are validated top
// down without being scheduled; observed tasks first drain whatever is
// scheduled below them (requireScheduledNow) and are then validated.
type bottomUpRunner struct {
	r     *run
	queue *taskQueue
	tags  []string
}

var _ taskRequirer = (*bottomUpRunner)(nil)

func newBottomUpRunner(r *run, tags []string) *bottomUpRunner {
	return &bottomUpRunner{
		r:     r,
		queue: newTaskQueue(NewDependencyComparator(r.tx)),
		tags:  tags,
	}
}

// requireInitial runs one pass over changed.
func (b *bottomUpRunner) requireInitial(ctx context.Context, changed []resource.Key) error {
	if err := b.scheduleDeferred(); err != nil {
		return err
	}
	if err := b.scheduleAffectedByResources(changed); err != nil {
		return err
	}
	return b.drain(ctx)
}

// scheduleDeferred queues the observed deferred tasks that the active tags
// now let through.
func (b *bottomUpRunner) scheduleDeferred() error {
	for _, key := range b.r.tx.DeferredTasks() {
		if !b.r.tx.Observability(key).IsObserved() {
			continue
		}
		task, ok, err := b.r.storedTask(key)
		if err != nil {
			return err
		}
		if ok && task.shouldExecWhenAffected(b.tags) {
			b.schedule(key)
		}
	}
	return nil
}

// scheduleAffectedByResources queues the observed tasks whose require or
// provide stamp of a changed resource no longer holds.
func (b *bottomUpRunner) scheduleAffectedByResources(changed []resource.Key) error {
	keys := append([]resource.Key(nil), changed...)
	resource.SortKeys(keys)

	var prev resource.Key
	for i, key := range keys {
		if i > 0 && key == prev {
			continue
		}
		prev = key
		b.r.s.engine.tracer.ResourceChanged(key)

		for _, provider := range b.r.tx.ProvidersOf(key) {
			if !b.r.tx.Observability(provider).IsObserved() {
				continue
			}
			data, _ := b.r.tx.Data(provider)
			dep, ok := data.ResourceProvideOn(key)
			if !ok {
				continue
			}
			holds, err := b.r.resourceStampHolds(key, dep.Stamp)
			if err != nil {
				return fmt.Errorf("restamp %s provided by %s: %w", key, provider, err)
			}
			if !holds {
				b.schedule(provider)
			}
		}
		if err := b.scheduleAffectedRequirees(key, ir.TaskKey{}); err != nil {
			return err
		}
	}
	return nil
}

// scheduleAffectedRequirees queues the observed requirees of a resource
// whose require stamp no longer holds, except skip.
func (b *bottomUpRunner) scheduleAffectedRequirees(key resource.Key, skip ir.TaskKey) error {
	for _, requiree := range b.r.tx.RequireesOf(key) {
		if requiree == skip || !b.r.tx.Observability(requiree).IsObserved() {
			continue
		}
		data, _ := b.r.tx.Data(requiree)
		dep, ok := data.ResourceRequireOn(key)
		if !ok {
			continue
		}
		holds, err := b.r.resourceStampHolds(key, dep.Stamp)
		if err != nil {
			return fmt.Errorf("restamp %s required by %s: %w", key, requiree, err)
		}
		if !holds {
			b.schedule(requiree)
		}
	}
	return nil
}

// scheduleAffectedCallers queues the observed callers of callee whose
// stamp of its output no longer holds.
func (b *bottomUpRunner) scheduleAffectedCallers(callee ir.TaskKey, output any) error {
	for _, caller := range b.r.tx.CallersOf(callee) {
		if !b.r.tx.Observability(caller).IsObserved() {
			continue
		}
		if _, done := b.r.s.visited[caller]; done {
			continue
		}
		data, _ := b.r.tx.Data(caller)
		dep, ok := data.TaskRequireTo(callee)
		if !ok {
			continue
		}
		holds, err := outputStampHolds(dep.Stamp, output)
		if err != nil {
			return fmt.Errorf("restamp output of %s for %s: %w", callee, caller, err)
		}
		if !holds {
			b.schedule(caller)
		}
	}
	return nil
}

func (b *bottomUpRunner) schedule(key ir.TaskKey) {
	if b.queue.Add(key) {
		b.r.s.engine.tracer.Scheduled(key)
	}
}

// drain executes queued tasks, least first, until the queue is empty.
func (b *bottomUpRunner) drain(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		key, ok := b.queue.Poll()
		if !ok {
			return nil
		}
		if _, done := b.r.s.visited[key]; done {
			continue
		}
		task, ok, err := b.r.storedTask(key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !task.shouldExecWhenAffected(b.tags) {
			b.r.tx.AddDeferredTask(key)
			b.r.s.engine.tracer.Deferred(key)
			continue
		}
		if _, err := b.execAndSchedule(ctx, key, task, ReasonAffected, true); err != nil {
			return err
		}
	}
}

// execAndSchedule executes a task and queues what its new output and
// provided resources make inconsistent.
func (b *bottomUpRunner) execAndSchedule(
	ctx context.Context,
	key ir.TaskKey,
	task Task,
	reason ExecReason,
	modifyObservability bool,
) (ir.TaskData, error) {
	data, err := b.r.exec(ctx, key, task, reason, modifyObservability, b)
	if err != nil {
		return ir.TaskData{}, err
	}
	if err := b.scheduleAffectedCallers(key, data.Output); err != nil {
		return ir.TaskData{}, err
	}
	for _, dep := range data.ResourceProvides {
		if err := b.scheduleAffectedRequirees(dep.Key, key); err != nil {
			return ir.TaskData{}, err
		}
	}
	return data, nil
}

func (b *bottomUpRunner) require(ctx context.Context, key ir.TaskKey, task Task, modifyObservability bool) (data ir.TaskData, err error) {
	if err := ctx.Err(); err != nil {
		return ir.TaskData{}, err
	}
	if err := b.r.s.checkCycle(key); err != nil {
		return ir.TaskData{}, err
	}

	tracer := b.r.s.engine.tracer
	tracer.RequireStart(key)
	defer func() { tracer.RequireEnd(key, err) }()

	if data, ok := b.r.s.visited[key]; ok {
		return b.r.requireVisited(key, task, data, modifyObservability)
	}

	stored, ok := b.r.tx.Data(key)
	if !ok {
		return b.execAndSchedule(ctx, key, task, ReasonNoData, modifyObservability)
	}

	if stored.Observability.IsUnobserved() {
		// Unobserved tasks are not kept up to date by passes, so they are
		// validated on demand and never scheduled.
		return b.r.requireStored(ctx, key, task, stored, modifyObservability, b,
			func(reason ExecReason) (ir.TaskData, error) {
				return b.r.exec(ctx, key, task, reason, modifyObservability, b)
			})
	}

	data, executed, err := b.requireScheduledNow(ctx, key, task)
	if err != nil || executed {
		return data, err
	}
	stored, ok = b.r.tx.Data(key)
	if !ok {
		return b.execAndSchedule(ctx, key, task, ReasonNoData, modifyObservability)
	}
	return b.r.requireStored(ctx, key, task, stored, modifyObservability, b,
		func(reason ExecReason) (ir.TaskData, error) {
			return b.execAndSchedule(ctx, key, task, reason, modifyObservability)
		})
}

// requireScheduledNow executes, least first, the queued tasks that key
// depends on, and key itself if it is queued. Returns executed == true with
// key's data once key ran.
func (b *bottomUpRunner) requireScheduledNow(ctx context.Context, key ir.TaskKey, keyTask Task) (ir.TaskData, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return ir.TaskData{}, false, err
		}
		next, ok := b.queue.PollLeastTaskWithDepTo(key)
		if !ok {
			return ir.TaskData{}, false, nil
		}
		if _, done := b.r.s.visited[next]; done {
			continue
		}
		if next == key {
			data, err := b.execAndSchedule(ctx, key, keyTask, ReasonAffected, true)
			return data, err == nil, err
		}
		task, ok, err := b.r.storedTask(next)
		if err != nil {
			return ir.TaskData{}, false, err
		}
		if !ok {
			continue
		}
		if !task.shouldExecWhenAffected(b.tags) {
			b.r.tx.AddDeferredTask(next)
			b.r.s.engine.tracer.Deferred(next)
			continue
		}
		if _, err := b.execAndSchedule(ctx, next, task, ReasonAffected, true); err != nil {
			return ir.TaskData{}, false, err
		}
	}
}
