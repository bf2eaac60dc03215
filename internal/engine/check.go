package engine

import (
	"context"
	"fmt"
	"reflect"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// check runs the consistency checks of a stored task in order: input,
// transient output, resource requires, resource provides, task requires.
// It returns the first inconsistency, or nil when the stored data can be
// reused. Task require checks bring each callee up to date through
// requirer first, which may execute it.
func (r *run) check(
	ctx context.Context,
	key ir.TaskKey,
	task Task,
	data ir.TaskData,
	modifyObservability bool,
	requirer taskRequirer,
) (*Inconsistency, error) {
	if inc := checkInput(task, data); inc != nil {
		return inc, nil
	}
	if inc := checkTransientOutput(data); inc != nil {
		return inc, nil
	}
	if inc, err := r.checkResourceRequires(data); inc != nil || err != nil {
		return inc, err
	}
	if inc, err := r.checkResourceProvides(data); inc != nil || err != nil {
		return inc, err
	}
	return r.checkTaskRequires(ctx, key, data, modifyObservability, requirer)
}

func checkInput(task Task, data ir.TaskData) *Inconsistency {
	if reflect.DeepEqual(task.Input, data.Input) {
		return nil
	}
	return &Inconsistency{Reason: ReasonInconsistentInput}
}

func checkTransientOutput(data ir.TaskData) *Inconsistency {
	t, ok := data.Output.(ir.TransientOutput)
	if !ok || t.Consistent() {
		return nil
	}
	return &Inconsistency{Reason: ReasonInconsistentTransientOutput}
}

func (r *run) checkResourceRequires(data ir.TaskData) (*Inconsistency, error) {
	for _, dep := range data.ResourceRequires {
		ok, err := r.resourceStampHolds(dep.Key, dep.Stamp)
		if err != nil {
			return nil, fmt.Errorf("check require of %s: %w", dep.Key, err)
		}
		if !ok {
			return &Inconsistency{Reason: ReasonInconsistentResourceRequire, Resource: dep.Key}, nil
		}
	}
	return nil, nil
}

func (r *run) checkResourceProvides(data ir.TaskData) (*Inconsistency, error) {
	for _, dep := range data.ResourceProvides {
		ok, err := r.resourceStampHolds(dep.Key, dep.Stamp)
		if err != nil {
			return nil, fmt.Errorf("check provide of %s: %w", dep.Key, err)
		}
		if !ok {
			return &Inconsistency{Reason: ReasonInconsistentResourceProvide, Resource: dep.Key}, nil
		}
	}
	return nil, nil
}

func (r *run) checkTaskRequires(
	ctx context.Context,
	key ir.TaskKey,
	data ir.TaskData,
	modifyObservability bool,
	requirer taskRequirer,
) (*Inconsistency, error) {
	for _, dep := range data.TaskRequires {
		callee, ok, err := r.storedTask(dep.Callee)
		if err != nil {
			return nil, err
		}
		if !ok {
			return &Inconsistency{Reason: ReasonInconsistentTaskRequire, Callee: dep.Callee}, nil
		}
		calleeData, err := requirer.require(ctx, dep.Callee, callee, modifyObservability)
		if err != nil {
			return nil, err
		}
		holds, err := outputStampHolds(dep.Stamp, calleeData.Output)
		if err != nil {
			return nil, fmt.Errorf("check %s requiring %s: %w", key, dep.Callee, err)
		}
		if !holds {
			return &Inconsistency{Reason: ReasonInconsistentTaskRequire, Callee: dep.Callee}, nil
		}
	}
	return nil, nil
}

// resourceStampHolds restamps the resource with the stamper that produced
// stamp and compares.
func (r *run) resourceStampHolds(key resource.Key, stamp ir.ResourceStamp) (bool, error) {
	if stamp == nil {
		return false, nil
	}
	res, err := r.s.engine.resolver.Resource(key)
	if err != nil {
		return false, err
	}
	current, err := stamp.Stamper().Stamp(res)
	if err != nil {
		return false, err
	}
	return stamp.Equal(current), nil
}

// outputStampHolds restamps output with the stamper that produced stamp
// and compares.
func outputStampHolds(stamp ir.OutputStamp, output any) (bool, error) {
	if stamp == nil {
		return false, nil
	}
	current, err := stamp.Stamper().Stamp(output)
	if err != nil {
		return false, err
	}
	return stamp.Equal(current), nil
}

// storedTask rebuilds the task stored under key from its definition and
// stored input. Returns false when the store has no data for key.
func (r *run) storedTask(key ir.TaskKey) (Task, bool, error) {
	input, ok := r.tx.Input(key)
	if !ok {
		return Task{}, false, nil
	}
	def, ok := r.s.engine.defs.Get(key.DefID)
	if !ok {
		return Task{}, false, fmt.Errorf("task %s: %w", key, ErrUnknownTaskDef)
	}
	return Task{Def: def, Input: input}, true, nil
}
