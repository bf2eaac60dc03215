package tracing

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// EventKind names a recorded tracer event.
type EventKind string

const (
	EventBuildStart      EventKind = "build-start"
	EventBuildEnd        EventKind = "build-end"
	EventRequireStart    EventKind = "require-start"
	EventRequireEnd      EventKind = "require-end"
	EventInconsistent    EventKind = "inconsistent"
	EventUpToDate        EventKind = "up-to-date"
	EventExecStart       EventKind = "exec-start"
	EventExecEnd         EventKind = "exec-end"
	EventResourceChanged EventKind = "resource-changed"
	EventScheduled       EventKind = "scheduled"
	EventDeferred        EventKind = "deferred"
	EventObservability   EventKind = "observability"
)

// DefaultEventKinds are the kinds a Recorder keeps when none are given:
// everything but the require brackets, which double the trace without
// adding decisions.
var DefaultEventKinds = []EventKind{
	EventBuildStart,
	EventBuildEnd,
	EventInconsistent,
	EventUpToDate,
	EventExecStart,
	EventExecEnd,
	EventResourceChanged,
	EventScheduled,
	EventDeferred,
	EventObservability,
}

// Event is one recorded tracer call.
type Event struct {
	// Seq orders events within a Recorder, starting at 1.
	Seq  int64
	Kind EventKind

	// Task is set for task events, Resource for resource events.
	Task     ir.TaskKey
	Resource resource.Key

	// Detail is the build kind, exec reason, inconsistency or
	// observability transition, depending on Kind.
	Detail string

	// Err is the error text of failed builds, requires and executions.
	Err string
}

// String renders the event on one line, without its sequence number.
func (e Event) String() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	switch {
	case !e.Task.IsZero():
		b.WriteString(" " + e.Task.String())
	case e.Resource != (resource.Key{}):
		b.WriteString(" " + e.Resource.String())
	}
	if e.Detail != "" {
		b.WriteString(" (" + e.Detail + ")")
	}
	if e.Err != "" {
		b.WriteString(" error=" + e.Err)
	}
	return b.String()
}

// Recorder keeps tracer events in memory, stamped by a logical Clock.
//
// Thread-safety: Recorder is safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	clock  *Clock
	kinds  map[EventKind]bool
	events []Event
}

var _ engine.Tracer = (*Recorder)(nil)

// NewRecorder creates a Recorder keeping the given kinds, or
// DefaultEventKinds when none are given.
func NewRecorder(kinds ...EventKind) *Recorder {
	if len(kinds) == 0 {
		kinds = DefaultEventKinds
	}
	r := &Recorder{clock: NewClock(), kinds: make(map[EventKind]bool, len(kinds))}
	for _, k := range kinds {
		r.kinds[k] = true
	}
	return r
}

func (r *Recorder) record(e Event) {
	if !r.kinds[e.Kind] {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e.Seq = r.clock.Next()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events in order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// Executed returns the keys of executed tasks in execution start order.
func (r *Recorder) Executed() []ir.TaskKey {
	var keys []ir.TaskKey
	for _, e := range r.Events() {
		if e.Kind == EventExecStart {
			keys = append(keys, e.Task)
		}
	}
	return keys
}

// Count returns the number of recorded events of kind.
func (r *Recorder) Count(kind EventKind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Reset drops the recorded events and restarts the clock.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.clock.Reset()
}

// WriteTo writes one line per event: the sequence number and the event.
func (r *Recorder) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, e := range r.Events() {
		n, err := fmt.Fprintf(w, "%04d %s\n", e.Seq, e)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// String renders the trace as WriteTo does.
func (r *Recorder) String() string {
	var b strings.Builder
	_, _ = r.WriteTo(&b)
	return b.String()
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (r *Recorder) BuildStart(kind engine.BuildKind) {
	r.record(Event{Kind: EventBuildStart, Detail: string(kind)})
}

func (r *Recorder) BuildEnd(kind engine.BuildKind, err error) {
	r.record(Event{Kind: EventBuildEnd, Detail: string(kind), Err: errText(err)})
}

func (r *Recorder) RequireStart(key ir.TaskKey) {
	r.record(Event{Kind: EventRequireStart, Task: key})
}

func (r *Recorder) RequireEnd(key ir.TaskKey, err error) {
	r.record(Event{Kind: EventRequireEnd, Task: key, Err: errText(err)})
}

func (r *Recorder) Inconsistent(key ir.TaskKey, inc engine.Inconsistency) {
	r.record(Event{Kind: EventInconsistent, Task: key, Detail: inc.String()})
}

func (r *Recorder) UpToDate(key ir.TaskKey) {
	r.record(Event{Kind: EventUpToDate, Task: key})
}

func (r *Recorder) ExecStart(key ir.TaskKey, reason engine.ExecReason) {
	r.record(Event{Kind: EventExecStart, Task: key, Detail: reason.String()})
}

func (r *Recorder) ExecEnd(key ir.TaskKey, reason engine.ExecReason, _ any, err error) {
	r.record(Event{Kind: EventExecEnd, Task: key, Detail: reason.String(), Err: errText(err)})
}

func (r *Recorder) ResourceChanged(key resource.Key) {
	r.record(Event{Kind: EventResourceChanged, Resource: key})
}

func (r *Recorder) Scheduled(key ir.TaskKey) {
	r.record(Event{Kind: EventScheduled, Task: key})
}

func (r *Recorder) Deferred(key ir.TaskKey) {
	r.record(Event{Kind: EventDeferred, Task: key})
}

func (r *Recorder) ObservabilityChanged(key ir.TaskKey, from, to ir.Observability) {
	r.record(Event{Kind: EventObservability, Task: key, Detail: from.String() + " -> " + to.String()})
}
