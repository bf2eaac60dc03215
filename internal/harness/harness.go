package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/pipeline"
	"github.com/roach88/incr/internal/store"
	"github.com/roach88/incr/internal/tracing"
)

// Harness runs the steps of one scenario against a project directory.
type Harness struct {
	root     string
	name     string
	store    *store.MemoryStore
	pipeline *pipeline.Pipeline
	engine   *engine.Engine
	recorder *tracing.Recorder
	logger   *slog.Logger
}

// Run executes a scenario in a fresh temporary project and returns the
// result. A scenario that runs but fails its expectations returns a result
// with Pass false; errors are reserved for scenarios that cannot run.
func Run(scenario *Scenario) (*Result, error) {
	root, err := os.MkdirTemp("", "incr-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create project directory: %w", err)
	}
	defer os.RemoveAll(root)

	// Temporary directories can sit behind symlinks; resolving keeps file
	// keys and the root prefix that errors are scrubbed of in agreement.
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}

	h := &Harness{
		root:     root,
		name:     scenario.Name,
		store:    store.NewMemoryStore(store.WithLogger(discard)),
		recorder: tracing.NewRecorder(tracing.EventExecStart, tracing.EventDeferred),
		logger:   discard,
	}
	if err := h.writeFiles(scenario.Files); err != nil {
		return nil, err
	}
	if err := h.configure(scenario.Targets); err != nil {
		return nil, fmt.Errorf("failed to configure targets: %w", err)
	}

	ctx := context.Background()
	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.runStep(ctx, i+1, step, result)
		if err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, step.Action, err)
		}
		result.Steps = append(result.Steps, sr)
	}

	if err := h.snapshot(result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// configure swaps in a pipeline for targets over the existing store.
func (h *Harness) configure(targets []pipeline.Target) error {
	cfg, err := pipeline.NewConfig(h.root, pipeline.StoreConfig{Backend: pipeline.BackendMemory}, targets)
	if err != nil {
		return err
	}
	h.pipeline = pipeline.New(cfg)
	h.engine = h.pipeline.NewEngine(h.store,
		engine.WithTracer(h.recorder),
		engine.WithLogger(h.logger),
		engine.WithSessionIDGenerator(engine.NewSequenceGenerator(h.name)),
	)
	return nil
}

// runStep performs one step in its own session and checks its
// expectations. The returned error means the step could not be performed
// at all; failed expectations are added to result.
func (h *Harness) runStep(ctx context.Context, index int, step Step, result *Result) (StepResult, error) {
	h.recorder.Reset()
	sr := StepResult{Step: index, Action: step.Action}

	var stepErr error
	switch step.Action {
	case ActionWrite:
		if err := h.writeFiles(step.Files); err != nil {
			return sr, err
		}
	case ActionRemove:
		for _, p := range step.Paths {
			if err := os.Remove(h.abs(p)); err != nil {
				return sr, fmt.Errorf("failed to remove %s: %w", p, err)
			}
		}
	case ActionConfigure:
		if err := h.configure(step.Targets); err != nil {
			return sr, err
		}
	case ActionBuild, ActionUpdate, ActionGC:
		stepErr = h.session(func(s *engine.Session) error {
			switch step.Action {
			case ActionBuild:
				if step.Target != "" {
					_, err := h.pipeline.BuildTarget(ctx, s, step.Target)
					return err
				}
				_, err := h.pipeline.Build(ctx, s)
				return err
			case ActionUpdate:
				return s.UpdateAffectedBy(ctx, h.pipeline.ChangedKeys(step.Paths), step.Tags...)
			default:
				deleted, err := h.pipeline.Collect(ctx, s, step.DeleteOutputs)
				for _, key := range deleted {
					sr.Deleted = append(sr.Deleted, key.String())
				}
				return err
			}
		})
	default:
		return sr, fmt.Errorf("unknown action %q", step.Action)
	}

	for _, ev := range h.recorder.Events() {
		switch ev.Kind {
		case tracing.EventExecStart:
			sr.keys = append(sr.keys, ev.Task.String())
			sr.Executed = append(sr.Executed, fmt.Sprintf("%s (%s)", ev.Task, ev.Detail))
		case tracing.EventDeferred:
			sr.Deferred = append(sr.Deferred, ev.Task.String())
		}
	}
	if producesExecutions(step.Action) && sr.Executed == nil {
		sr.Executed = []string{}
	}
	if stepErr != nil {
		sr.Error = strings.ReplaceAll(stepErr.Error(), h.root, ".")
	}

	h.checkStep(step, sr, result)
	return sr, nil
}

func (h *Harness) checkStep(step Step, sr StepResult, result *Result) {
	prefix := fmt.Sprintf("step %d (%s)", sr.Step, step.Action)

	switch {
	case step.ExpectError == "" && sr.Error != "":
		result.AddError(fmt.Sprintf("%s: unexpected error: %s", prefix, sr.Error))
	case step.ExpectError != "" && sr.Error == "":
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got none", prefix, step.ExpectError))
	case step.ExpectError != "" && !strings.Contains(sr.Error, step.ExpectError):
		result.AddError(fmt.Sprintf("%s: expected error containing %q, got %q", prefix, step.ExpectError, sr.Error))
	}

	if step.ExpectExecuted != nil && !slices.Equal(step.ExpectExecuted, sr.keys) {
		result.AddError(fmt.Sprintf("%s: executed %v, want %v", prefix, sr.keys, step.ExpectExecuted))
	}

	paths := make([]string, 0, len(step.ExpectFiles))
	for p := range step.ExpectFiles {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		data, err := os.ReadFile(h.abs(p))
		switch {
		case err != nil:
			result.AddError(fmt.Sprintf("%s: file %s: %v", prefix, p, errors.Unwrap(err)))
		case string(data) != step.ExpectFiles[p]:
			result.AddError(fmt.Sprintf("%s: file %s is %q, want %q", prefix, p, data, step.ExpectFiles[p]))
		}
	}
}

func (h *Harness) session(fn func(s *engine.Session) error) error {
	s := h.engine.NewSession()
	defer s.Close()
	return fn(s)
}

func (h *Harness) abs(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

func (h *Harness) writeFiles(files map[string]string) error {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		abs := h.abs(p)
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
		if err := os.WriteFile(abs, []byte(files[p]), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", p, err)
		}
	}
	return nil
}

// snapshot records the final files and task states.
func (h *Harness) snapshot(result *Result) error {
	err := filepath.WalkDir(h.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".incr" {
				return filepath.SkipDir
			}
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(h.root, path)
		if err != nil {
			return err
		}
		result.Files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to snapshot files: %w", err)
	}

	return store.View(h.store, func(tx store.ReadTxn) error {
		for _, key := range tx.Tasks() {
			result.Observability[key.String()] = tx.Observability(key).String()
		}
		return nil
	})
}
