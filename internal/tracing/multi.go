package tracing

import (
	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// multi fans every event out to several tracers, in order.
type multi []engine.Tracer

// Multi combines tracers. Nil tracers are skipped; with none left it
// returns engine.NoopTracer, with one it returns that tracer.
func Multi(tracers ...engine.Tracer) engine.Tracer {
	var m multi
	for _, t := range tracers {
		if t != nil {
			m = append(m, t)
		}
	}
	switch len(m) {
	case 0:
		return engine.NoopTracer{}
	case 1:
		return m[0]
	}
	return m
}

func (m multi) BuildStart(kind engine.BuildKind) {
	for _, t := range m {
		t.BuildStart(kind)
	}
}

func (m multi) BuildEnd(kind engine.BuildKind, err error) {
	for _, t := range m {
		t.BuildEnd(kind, err)
	}
}

func (m multi) RequireStart(key ir.TaskKey) {
	for _, t := range m {
		t.RequireStart(key)
	}
}

func (m multi) RequireEnd(key ir.TaskKey, err error) {
	for _, t := range m {
		t.RequireEnd(key, err)
	}
}

func (m multi) Inconsistent(key ir.TaskKey, inc engine.Inconsistency) {
	for _, t := range m {
		t.Inconsistent(key, inc)
	}
}

func (m multi) UpToDate(key ir.TaskKey) {
	for _, t := range m {
		t.UpToDate(key)
	}
}

func (m multi) ExecStart(key ir.TaskKey, reason engine.ExecReason) {
	for _, t := range m {
		t.ExecStart(key, reason)
	}
}

func (m multi) ExecEnd(key ir.TaskKey, reason engine.ExecReason, output any, err error) {
	for _, t := range m {
		t.ExecEnd(key, reason, output, err)
	}
}

func (m multi) ResourceChanged(key resource.Key) {
	for _, t := range m {
		t.ResourceChanged(key)
	}
}

func (m multi) Scheduled(key ir.TaskKey) {
	for _, t := range m {
		t.Scheduled(key)
	}
}

func (m multi) Deferred(key ir.TaskKey) {
	for _, t := range m {
		t.Deferred(key)
	}
}

func (m multi) ObservabilityChanged(key ir.TaskKey, from, to ir.Observability) {
	for _, t := range m {
		t.ObservabilityChanged(key, from, to)
	}
}
