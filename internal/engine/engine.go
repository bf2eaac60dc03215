package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/stamp"
	"github.com/roach88/incr/internal/store"
)

// Engine keeps task outputs in a store up to date.
//
// The engine itself holds configuration only; all work happens in sessions
// (NewSession). Every session call runs inside one write transaction of the
// store, so calls from different sessions serialize.
//
// Thread-safety model:
//   - NewSession(), Callbacks(), Sync(): safe from any goroutine
//   - a Session: one goroutine at a time
type Engine struct {
	store     store.Store
	defs      *TaskDefs
	resolver  resource.Resolver
	tracer    Tracer
	validator Validator
	share     Share
	callbacks *CallbackMap
	idGen     SessionIDGenerator
	logger    *slog.Logger

	outputStamper  ir.OutputStamper
	requireStamper ir.ResourceStamper
	provideStamper ir.ResourceStamper

	// maxExecutions bounds executions per session. 0 means unlimited.
	maxExecutions int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithTracer sets the tracer. Default: NoopTracer
func WithTracer(t Tracer) EngineOption {
	return func(e *Engine) {
		e.tracer = t
	}
}

// WithValidator sets the validator. Default: NoopValidator
//
// Use HiddenDependencyValidator during development to catch resource
// dependencies the engine cannot order.
func WithValidator(v Validator) EngineOption {
	return func(e *Engine) {
		e.validator = v
	}
}

// WithShare sets how executions are run. Default: NoShare
func WithShare(s Share) EngineOption {
	return func(e *Engine) {
		e.share = s
	}
}

// WithLogger sets the logger. Default: slog.Default()
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSessionIDGenerator sets the session ID generator.
// Default: UUIDv7Generator
func WithSessionIDGenerator(g SessionIDGenerator) EngineOption {
	return func(e *Engine) {
		e.idGen = g
	}
}

// WithDefaultStampers sets the stampers ExecContext.Require,
// RequireResource and ProvideResource use. Nil arguments keep the current
// stamper. Defaults: stamp.Equals, stamp.Modified, stamp.Modified
func WithDefaultStampers(output ir.OutputStamper, require, provide ir.ResourceStamper) EngineOption {
	return func(e *Engine) {
		if output != nil {
			e.outputStamper = output
		}
		if require != nil {
			e.requireStamper = require
		}
		if provide != nil {
			e.provideStamper = provide
		}
	}
}

// WithMaxExecutions bounds the number of task executions in one session.
//
// Default: 0 (unlimited). Exceeding the limit returns an
// *ExecutionsExceededError.
func WithMaxExecutions(n int) EngineOption {
	return func(e *Engine) {
		e.maxExecutions = n
	}
}

// New creates an engine over s. defs must hold every definition whose
// tasks are in s; resolver resolves every resource key tasks use.
func New(s store.Store, defs *TaskDefs, resolver resource.Resolver, opts ...EngineOption) *Engine {
	e := &Engine{
		store:          s,
		defs:           defs,
		resolver:       resolver,
		tracer:         NoopTracer{},
		validator:      NoopValidator{},
		share:          NoShare{},
		callbacks:      NewCallbackMap(),
		idGen:          UUIDv7Generator{},
		logger:         slog.Default(),
		outputStamper:  stamp.Equals,
		requireStamper: stamp.Modified,
		provideStamper: stamp.Modified,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// NewSession starts a session.
func (e *Engine) NewSession() *Session {
	id := e.idGen.Generate()
	return &Session{
		engine:  e,
		id:      id,
		phase:   PhaseBeforeBottomUp,
		visited: make(map[ir.TaskKey]ir.TaskData),
		cycles:  newCycleDetector(),
		quota:   newExecutionQuota(e.maxExecutions),
		logger:  e.logger.With("session", id),
	}
}

// Callbacks returns the engine's callback map.
func (e *Engine) Callbacks() *CallbackMap {
	return e.callbacks
}

// Store returns the engine's store.
func (e *Engine) Store() store.Store {
	return e.store
}

// Defs returns the engine's task definitions.
func (e *Engine) Defs() *TaskDefs {
	return e.defs
}

// Sync flushes the store to its persister. It must not be called while a
// session call is in progress on the same goroutine.
func (e *Engine) Sync(ctx context.Context) error {
	return e.store.Sync(ctx)
}
