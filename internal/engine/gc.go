package engine

import (
	"context"
	"fmt"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// DeleteUnobservedTasks garbage-collects unobserved tasks.
//
// Collection starts from the tasks no stored task requires. An unobserved
// task accepted by shouldDeleteTask is deleted together with its internal
// object; each resource it provided is deleted too when it is
// resource.Deletable and shouldDeleteProvided accepts it. Callees that lose
// their last caller this way are considered next. Nil predicates accept
// everything and delete no resources, respectively.
//
// Returns the deleted keys in deletion order. Allowed in both phases.
func (s *Session) DeleteUnobservedTasks(
	ctx context.Context,
	shouldDeleteTask func(key ir.TaskKey, data ir.TaskData) bool,
	shouldDeleteProvided func(key ir.TaskKey, res resource.Resource) bool,
) ([]ir.TaskKey, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var deleted []ir.TaskKey
	err := s.update(func(r *run) error {
		var err error
		deleted, err = r.deleteUnobserved(ctx, shouldDeleteTask, shouldDeleteProvided)
		return err
	})
	if err != nil {
		return deleted, err
	}
	if len(deleted) > 0 {
		s.logger.Info("deleted unobserved tasks", "count", len(deleted))
	}
	return deleted, nil
}

func (r *run) deleteUnobserved(
	ctx context.Context,
	shouldDeleteTask func(ir.TaskKey, ir.TaskData) bool,
	shouldDeleteProvided func(ir.TaskKey, resource.Resource) bool,
) ([]ir.TaskKey, error) {
	var deleted []ir.TaskKey

	// Reverse the roots so the least key is popped first.
	roots := r.tx.TasksWithoutCallers()
	stack := make([]ir.TaskKey, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, roots[i])
	}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		key := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		data, ok := r.tx.Data(key)
		if !ok || !data.Observability.IsUnobserved() {
			continue
		}
		if len(r.tx.CallersOf(key)) > 0 {
			continue
		}
		if shouldDeleteTask != nil && !shouldDeleteTask(key, data) {
			continue
		}

		if shouldDeleteProvided != nil {
			for _, dep := range data.ResourceProvides {
				if err := r.deleteProvided(key, dep.Key, shouldDeleteProvided); err != nil {
					return deleted, err
				}
			}
		}

		r.tx.DeleteData(key)
		delete(r.s.visited, key)
		deleted = append(deleted, key)
		r.s.logger.Debug("deleted unobserved task", "task", key.String())

		callees := data.Callees()
		for i := len(callees) - 1; i >= 0; i-- {
			if len(r.tx.CallersOf(callees[i])) == 0 {
				stack = append(stack, callees[i])
			}
		}
	}
	return deleted, nil
}

func (r *run) deleteProvided(
	task ir.TaskKey,
	key resource.Key,
	shouldDelete func(ir.TaskKey, resource.Resource) bool,
) error {
	res, err := r.s.engine.resolver.Resource(key)
	if err != nil {
		return fmt.Errorf("resolve %s provided by %s: %w", key, task, err)
	}
	d, ok := res.(resource.Deletable)
	if !ok || !shouldDelete(task, res) {
		return nil
	}
	if err := d.Delete(); err != nil {
		return fmt.Errorf("delete %s provided by %s: %w", key, task, err)
	}
	return nil
}
