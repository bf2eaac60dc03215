package engine

import (
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// BuildKind distinguishes the two traversal strategies.
type BuildKind string

const (
	// BuildTopDown is a Session.Require or GetOutput call.
	BuildTopDown BuildKind = "top-down"

	// BuildBottomUp is a Session.UpdateAffectedBy pass.
	BuildBottomUp BuildKind = "bottom-up"
)

// Tracer receives fire-and-forget events at each engine decision point.
// Implementations must not call back into the session. Sinks live in
// package tracing; embed NoopTracer to implement a subset.
type Tracer interface {
	BuildStart(kind BuildKind)
	BuildEnd(kind BuildKind, err error)

	// RequireStart and RequireEnd bracket every require of a task,
	// whether or not it executes.
	RequireStart(key ir.TaskKey)
	RequireEnd(key ir.TaskKey, err error)

	// Inconsistent reports the dependency check that forced key to run.
	Inconsistent(key ir.TaskKey, inc Inconsistency)

	// UpToDate reports a stored task that passed every check.
	UpToDate(key ir.TaskKey)

	ExecStart(key ir.TaskKey, reason ExecReason)
	ExecEnd(key ir.TaskKey, reason ExecReason, output any, err error)

	// ResourceChanged reports a changed resource handed to a bottom-up pass.
	ResourceChanged(key resource.Key)

	// Scheduled reports a task added to the bottom-up queue.
	Scheduled(key ir.TaskKey)

	// Deferred reports a task skipped by its AffectedFilter.
	Deferred(key ir.TaskKey)

	ObservabilityChanged(key ir.TaskKey, from, to ir.Observability)
}

// NoopTracer ignores every event.
type NoopTracer struct{}

var _ Tracer = NoopTracer{}

func (NoopTracer) BuildStart(BuildKind) {}
func (NoopTracer) BuildEnd(BuildKind, error) {}
func (NoopTracer) RequireStart(ir.TaskKey) {}
func (NoopTracer) RequireEnd(ir.TaskKey, error) {}
func (NoopTracer) Inconsistent(ir.TaskKey, Inconsistency) {}
func (NoopTracer) UpToDate(ir.TaskKey) {}
func (NoopTracer) ExecStart(ir.TaskKey, ExecReason) {}
func (NoopTracer) ExecEnd(ir.TaskKey, ExecReason, any, error) {}
func (NoopTracer) ResourceChanged(resource.Key) {}
func (NoopTracer) Scheduled(ir.TaskKey) {}
func (NoopTracer) Deferred(ir.TaskKey) {}
func (NoopTracer) ObservabilityChanged(ir.TaskKey, ir.Observability, ir.Observability) {}
