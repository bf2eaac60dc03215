package ir

import (
	"slices"

	"github.com/roach88/incr/internal/resource"
)

// TaskRequireDep records that a task required another task (the callee) and
// the stamp of the callee's output at that moment.
type TaskRequireDep struct {
	Callee TaskKey
	Stamp  OutputStamp
}

// ResourceRequireDep records that a task read a resource.
type ResourceRequireDep struct {
	Key   resource.Key
	Stamp ResourceStamp
}

// ResourceProvideDep records that a task wrote a resource.
type ResourceProvideDep struct {
	Key   resource.Key
	Stamp ResourceStamp
}

// TaskData is the stored state of one task.
//
// TaskData is replaced as a whole each time the task executes. The store
// hands out copies: mutating the dependency slices of a returned TaskData
// never changes the store.
type TaskData struct {
	Input            any
	Output           any
	Observability    Observability
	TaskRequires     []TaskRequireDep
	ResourceRequires []ResourceRequireDep
	ResourceProvides []ResourceProvideDep
}

// Clone returns a copy with its own dependency slices. Input and output
// values are shared; tasks must treat them as immutable.
func (d TaskData) Clone() TaskData {
	d.TaskRequires = slices.Clone(d.TaskRequires)
	d.ResourceRequires = slices.Clone(d.ResourceRequires)
	d.ResourceProvides = slices.Clone(d.ResourceProvides)
	return d
}

// WithObservability returns a copy of d with a different observability.
func (d TaskData) WithObservability(o Observability) TaskData {
	d.Observability = o
	return d
}

// Callees returns the keys of all required tasks, in recording order.
func (d TaskData) Callees() []TaskKey {
	keys := make([]TaskKey, 0, len(d.TaskRequires))
	for _, dep := range d.TaskRequires {
		keys = append(keys, dep.Callee)
	}
	return keys
}

// TaskRequireTo returns the dependency on callee, if any.
func (d TaskData) TaskRequireTo(callee TaskKey) (TaskRequireDep, bool) {
	for _, dep := range d.TaskRequires {
		if dep.Callee == callee {
			return dep, true
		}
	}
	return TaskRequireDep{}, false
}

// ResourceRequireOn returns the require dependency on key, if any.
func (d TaskData) ResourceRequireOn(key resource.Key) (ResourceRequireDep, bool) {
	for _, dep := range d.ResourceRequires {
		if dep.Key == key {
			return dep, true
		}
	}
	return ResourceRequireDep{}, false
}

// ResourceProvideOn returns the provide dependency on key, if any.
func (d TaskData) ResourceProvideOn(key resource.Key) (ResourceProvideDep, bool) {
	for _, dep := range d.ResourceProvides {
		if dep.Key == key {
			return dep, true
		}
	}
	return ResourceProvideDep{}, false
}
