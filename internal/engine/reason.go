package engine

import (
	"fmt"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// ExecReason is why a task executed. It is diagnostic only.
type ExecReason int

const (
	// ReasonNoData means the store had no data for the task.
	ReasonNoData ExecReason = iota + 1

	// ReasonAffected means a bottom-up pass scheduled the task.
	ReasonAffected

	// ReasonInconsistentInput means the task's input differs from the
	// stored input.
	ReasonInconsistentInput

	// ReasonInconsistentTransientOutput means the stored output lost its
	// in-memory value.
	ReasonInconsistentTransientOutput

	// ReasonInconsistentResourceRequire means a read resource changed.
	ReasonInconsistentResourceRequire

	// ReasonInconsistentResourceProvide means a written resource changed.
	ReasonInconsistentResourceProvide

	// ReasonInconsistentTaskRequire means a required task's output changed.
	ReasonInconsistentTaskRequire
)

// String returns the reason in kebab case, as used in traces.
func (r ExecReason) String() string {
	switch r {
	case ReasonNoData:
		return "no-data"
	case ReasonAffected:
		return "affected"
	case ReasonInconsistentInput:
		return "inconsistent-input"
	case ReasonInconsistentTransientOutput:
		return "inconsistent-transient-output"
	case ReasonInconsistentResourceRequire:
		return "inconsistent-resource-require"
	case ReasonInconsistentResourceProvide:
		return "inconsistent-resource-provide"
	case ReasonInconsistentTaskRequire:
		return "inconsistent-task-require"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// Inconsistency is the first dependency check a stored task failed.
type Inconsistency struct {
	Reason ExecReason

	// Resource is set for resource require and provide inconsistencies.
	Resource resource.Key

	// Callee is set for task require inconsistencies.
	Callee ir.TaskKey
}

// String describes the inconsistency.
func (i Inconsistency) String() string {
	switch i.Reason {
	case ReasonInconsistentResourceRequire, ReasonInconsistentResourceProvide:
		return fmt.Sprintf("%s %s", i.Reason, i.Resource)
	case ReasonInconsistentTaskRequire:
		return fmt.Sprintf("%s %s", i.Reason, i.Callee)
	default:
		return i.Reason.String()
	}
}
