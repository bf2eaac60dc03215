package engine

import (
	"github.com/roach88/incr/internal/ir"
)

// Observability transitions.
//
//	              require (root)                 require (by observed)
//	Unobserved ───────────────► Explicit   Unobserved ───────────────► Implicit
//	Explicit ──unobserve──► Implicit   if an observed caller remains
//	Explicit ──unobserve──► Unobserved otherwise, cascading to callees
//	Implicit ──last observed caller gone──► Unobserved, cascading to callees
//
// Only observed tasks are kept up to date by bottom-up passes.

// setObservability stores o for key and reports the transition. The key
// must have data.
func (r *run) setObservability(key ir.TaskKey, from, to ir.Observability) {
	if from == to {
		return
	}
	r.tx.SetObservability(key, to)
	if data, ok := r.s.visited[key]; ok {
		r.s.visited[key] = data.WithObservability(to)
	}
	r.s.engine.tracer.ObservabilityChanged(key, from, to)
}

// explicitUnobserve drops a root. A root that an observed task still
// requires stays observed, implicitly.
func (r *run) explicitUnobserve(key ir.TaskKey) {
	from := r.tx.Observability(key)
	if from.IsUnobserved() {
		return
	}
	if r.hasObservedCaller(key) {
		if from == ir.ExplicitObserved {
			r.setObservability(key, from, ir.ImplicitObserved)
		}
		return
	}
	r.setObservability(key, from, ir.Unobserved)
	for _, callee := range r.tx.TaskRequires(key) {
		r.implicitUnobserve(callee.Callee)
	}
}

// implicitUnobserve runs when key may have lost its last observed caller.
// Roots are left alone.
func (r *run) implicitUnobserve(key ir.TaskKey) {
	from := r.tx.Observability(key)
	if from != ir.ImplicitObserved {
		return
	}
	if r.hasObservedCaller(key) {
		return
	}
	r.setObservability(key, from, ir.Unobserved)
	for _, callee := range r.tx.TaskRequires(key) {
		r.implicitUnobserve(callee.Callee)
	}
}

// promote makes an unobserved task implicitly observed.
func (r *run) promote(key ir.TaskKey, data ir.TaskData) ir.TaskData {
	if !data.Observability.IsUnobserved() {
		return data
	}
	r.setObservability(key, data.Observability, ir.ImplicitObserved)
	return data.WithObservability(ir.ImplicitObserved)
}

func (r *run) hasObservedCaller(key ir.TaskKey) bool {
	for _, caller := range r.tx.CallersOf(key) {
		if r.tx.Observability(caller).IsObserved() {
			return true
		}
	}
	return false
}

// newObservability is the observability an execution commits: unobserved
// tasks required with modifyObservability become implicitly observed,
// everything else keeps its state.
func newObservability(previous ir.Observability, modifyObservability bool) ir.Observability {
	if previous.IsUnobserved() && modifyObservability {
		return ir.ImplicitObserved
	}
	return previous
}
