package engine

import (
	"fmt"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/store"
)

// Validator checks the store for soundness violations as the engine goes.
// Any error is fatal: the engine rolls the executed task back and returns
// the error as a *ValidationError.
type Validator interface {
	// ValidateVisited runs when a require returns a task that already ran
	// or was checked in this session.
	ValidateVisited(key ir.TaskKey, task Task, data ir.TaskData, tx store.ReadTxn) error

	// ValidateExecuted runs after an execution's data is written and before
	// it is committed.
	ValidateExecuted(key ir.TaskKey, task Task, data ir.TaskData, tx store.ReadTxn) error
}

// NoopValidator accepts everything. It is the default.
type NoopValidator struct{}

// ValidateVisited implements Validator.
func (NoopValidator) ValidateVisited(ir.TaskKey, Task, ir.TaskData, store.ReadTxn) error {
	return nil
}

// ValidateExecuted implements Validator.
func (NoopValidator) ValidateExecuted(ir.TaskKey, Task, ir.TaskData, store.ReadTxn) error {
	return nil
}

// HiddenDependencyValidator rejects resource dependencies the engine cannot
// order:
//
//   - two tasks providing the same resource;
//   - a task requiring a resource whose provider it does not transitively
//     require;
//   - a task providing a resource that another task requires without
//     transitively requiring the provider.
//
// In each case a bottom-up pass could run the reader before the writer and
// leave a stale output in the store.
type HiddenDependencyValidator struct{}

var _ Validator = HiddenDependencyValidator{}

// ValidateVisited implements Validator.
func (HiddenDependencyValidator) ValidateVisited(ir.TaskKey, Task, ir.TaskData, store.ReadTxn) error {
	return nil
}

// ValidateExecuted implements Validator.
func (HiddenDependencyValidator) ValidateExecuted(key ir.TaskKey, _ Task, data ir.TaskData, tx store.ReadTxn) error {
	for _, dep := range data.ResourceProvides {
		for _, other := range tx.ProvidersOf(dep.Key) {
			if other != key {
				return &ValidationError{
					Kind:    ValidationOverlappingProvide,
					Key:     key,
					Message: fmt.Sprintf("%s is also provided by %s", dep.Key, other),
				}
			}
		}
		for _, requiree := range tx.RequireesOf(dep.Key) {
			if requiree == key || tx.RequiresTransitively(requiree, key) {
				continue
			}
			return &ValidationError{
				Kind: ValidationHiddenProvide,
				Key:  key,
				Message: fmt.Sprintf("%s provides %s, which %s requires without requiring %s",
					key, dep.Key, requiree, key),
			}
		}
	}

	for _, dep := range data.ResourceRequires {
		provider, ok := tx.ProviderOf(dep.Key)
		if !ok || provider == key || tx.RequiresTransitively(key, provider) {
			continue
		}
		return &ValidationError{
			Kind: ValidationHiddenRequire,
			Key:  key,
			Message: fmt.Sprintf("%s requires %s, which is provided by %s, without requiring %s",
				key, dep.Key, provider, provider),
		}
	}
	return nil
}
