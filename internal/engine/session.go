package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/store"
)

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("session closed")

// Phase is the stage of a session.
type Phase int

const (
	// PhaseBeforeBottomUp allows top-down requires and one bottom-up pass.
	PhaseBeforeBottomUp Phase = iota

	// PhaseAfterBottomUp follows UpdateAffectedBy. Observed outputs are up
	// to date and can be read with GetOutput.
	PhaseAfterBottomUp
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseBeforeBottomUp:
		return "before-bottom-up"
	case PhaseAfterBottomUp:
		return "after-bottom-up"
	default:
		return "unknown"
	}
}

// Session is one build. Within a session every task executes at most once:
// the first require brings it up to date, later requires reuse the result.
// Start a new session to pick up later changes.
//
// A session must be used by one goroutine at a time.
type Session struct {
	engine  *Engine
	id      string
	phase   Phase
	visited map[ir.TaskKey]ir.TaskData
	cycles  *cycleDetector
	quota   *executionQuota
	logger  *slog.Logger
	closed  bool
}

// run is the state of one session call: the session and the write
// transaction held for the whole call.
type run struct {
	s  *Session
	tx store.WriteTxn
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	return s.phase
}

// Executions returns the number of tasks executed so far.
func (s *Session) Executions() int {
	return s.quota.Current()
}

// Require returns the up-to-date output of task, executing whatever is
// needed, and marks task explicitly observed.
//
// A failing task body yields an *ExecError; the failed task's stored data
// is left as it was. Cancellation returns the context's error.
func (s *Session) Require(ctx context.Context, task Task) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out any
	err := s.build(BuildTopDown, func(r *run) error {
		data, err := (&topDownRunner{r: r}).requireInitial(ctx, task)
		out = data.Output
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateAffectedBy runs a bottom-up pass: every observed task affected,
// directly or transitively, by the changed resources executes, and so does
// every deferred task the tags let through. Tasks whose AffectedFilter
// rejects the tags are deferred.
//
// Allowed once, before any other bottom-up pass of the session. The session
// moves to PhaseAfterBottomUp even when the pass fails.
func (s *Session) UpdateAffectedBy(ctx context.Context, changed []resource.Key, tags ...string) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if s.phase != PhaseBeforeBottomUp {
		return ErrWrongPhase
	}
	s.phase = PhaseAfterBottomUp
	return s.build(BuildBottomUp, func(r *run) error {
		return newBottomUpRunner(r, tags).requireInitial(ctx, changed)
	})
}

// GetOutput returns the output of task after a bottom-up pass. Observed
// tasks are up to date after the pass, so their stored output is returned
// as is; other tasks are required top down.
func (s *Session) GetOutput(ctx context.Context, task Task) (any, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	if s.phase != PhaseAfterBottomUp {
		return nil, ErrWrongPhase
	}
	key := task.Key()
	if data, ok := s.visited[key]; ok {
		return data.Output, nil
	}

	var out any
	err := s.build(BuildTopDown, func(r *run) error {
		if data, ok := r.tx.Data(key); ok && data.Observability.IsObserved() && checkInput(task, data) == nil {
			out = data.Output
			return nil
		}
		data, err := (&topDownRunner{r: r}).requireInitial(ctx, task)
		out = data.Output
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Unobserve drops task as a root. It stays implicitly observed while an
// observed task requires it; otherwise it and the callees only it kept
// observed become unobserved, and later passes leave them alone.
func (s *Session) Unobserve(ctx context.Context, task Task) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	key := task.Key()
	return s.update(func(r *run) error {
		r.explicitUnobserve(key)
		return nil
	})
}

// SetCallback registers fn to be called with task's output, see
// CallbackMap.
func (s *Session) SetCallback(task Task, fn func(output any)) {
	s.engine.callbacks.Set(task.Key(), fn)
}

// RemoveCallback unregisters the callback of task.
func (s *Session) RemoveCallback(task Task) {
	s.engine.callbacks.Remove(task.Key())
}

// Close ends the session. Closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.visited = nil
	return nil
}

func (s *Session) checkOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	return nil
}

// update runs fn in a write transaction.
func (s *Session) update(fn func(r *run) error) error {
	tx := s.engine.store.WriteTxn()
	defer tx.Close()
	return fn(&run{s: s, tx: tx})
}

// build runs fn as a traced build.
func (s *Session) build(kind BuildKind, fn func(r *run) error) (err error) {
	tracer := s.engine.tracer
	tracer.BuildStart(kind)
	start := time.Now()
	before := s.quota.Current()
	defer func() {
		tracer.BuildEnd(kind, err)
		attrs := []any{
			"kind", string(kind),
			"executed", s.quota.Current() - before,
			"duration", time.Since(start),
		}
		if err != nil {
			s.logger.Info("build failed", append(attrs, "error", err)...)
			return
		}
		s.logger.Info("build finished", attrs...)
	}()
	return s.update(fn)
}

func (s *Session) checkCycle(key ir.TaskKey) error {
	return s.cycles.Check(key)
}

func (s *Session) pushExecuting(key ir.TaskKey) {
	s.cycles.Push(key)
}

func (s *Session) popExecuting(key ir.TaskKey) {
	s.cycles.Pop(key)
}

func (s *Session) invokeCallback(key ir.TaskKey, output any) {
	if fn, ok := s.engine.callbacks.Get(key); ok {
		fn(output)
	}
}
