package tracing

import (
	"log/slog"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
)

// Logging writes engine decisions as structured log lines. Executions and
// deferrals log at Info, failures at Warn, everything else at Debug.
// Requires are not logged.
type Logging struct {
	engine.NoopTracer
	logger *slog.Logger
}

var _ engine.Tracer = (*Logging)(nil)

// NewLogging creates a Logging tracer. A nil logger uses slog.Default().
func NewLogging(logger *slog.Logger) *Logging {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logging{logger: logger}
}

func (l *Logging) BuildStart(kind engine.BuildKind) {
	l.logger.Debug("build started", "kind", string(kind))
}

func (l *Logging) BuildEnd(kind engine.BuildKind, err error) {
	if err != nil {
		l.logger.Debug("build ended", "kind", string(kind), "error", err)
		return
	}
	l.logger.Debug("build ended", "kind", string(kind))
}

func (l *Logging) Inconsistent(key ir.TaskKey, inc engine.Inconsistency) {
	l.logger.Debug("task inconsistent", "task", key.String(), "reason", inc.String())
}

func (l *Logging) UpToDate(key ir.TaskKey) {
	l.logger.Debug("task up to date", "task", key.String())
}

func (l *Logging) ExecStart(key ir.TaskKey, reason engine.ExecReason) {
	l.logger.Info("executing", "task", key.String(), "reason", reason.String())
}

func (l *Logging) ExecEnd(key ir.TaskKey, reason engine.ExecReason, _ any, err error) {
	if err != nil {
		l.logger.Warn("execution failed", "task", key.String(), "reason", reason.String(), "error", err)
		return
	}
	l.logger.Debug("executed", "task", key.String())
}

func (l *Logging) ResourceChanged(key resource.Key) {
	l.logger.Debug("resource changed", "resource", key.String())
}

func (l *Logging) Scheduled(key ir.TaskKey) {
	l.logger.Debug("scheduled", "task", key.String())
}

func (l *Logging) Deferred(key ir.TaskKey) {
	l.logger.Info("deferred", "task", key.String())
}

func (l *Logging) ObservabilityChanged(key ir.TaskKey, from, to ir.Observability) {
	l.logger.Debug("observability changed", "task", key.String(), "from", from.String(), "to", to.String())
}
