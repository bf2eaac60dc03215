package pipeline

import (
	"bytes"
	"context"
	"encoding/gob"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/ir"
	"github.com/roach88/incr/internal/resource"
	"github.com/roach88/incr/internal/resource/fsresource"
	"github.com/roach88/incr/internal/stamp"
	"github.com/roach88/incr/internal/store"
)

// Task definition IDs.
const (
	ReadDefID   = "pipeline.read"
	ConcatDefID = "pipeline.concat"
	BuildDefID  = "pipeline.build"
)

// buildKey is the ID of the single build task.
const buildKey = "all"

func init() {
	gob.Register(Source{})
	gob.Register(Target{})
	gob.Register(Artifact{})
	gob.Register([]Artifact{})
	gob.Register(BuildInput{})
}

// Source is the input of a read task. Producer is the target that writes
// Path, or the zero Target for plain source files.
type Source struct {
	Path     string
	Producer Target
}

// Artifact is the output of a target.
type Artifact struct {
	Target string
	Path   string
	Size   int
	Digest string
}

// BuildInput is the input of the build task: every configured target.
type BuildInput struct {
	Targets []Target
}

// Pipeline holds the task definitions of one project configuration.
type Pipeline struct {
	cfg       *Config
	producers map[string]Target

	read   *engine.Func[Source, string]
	concat *engine.Func[Target, Artifact]
	build  *engine.Func[BuildInput, []Artifact]
}

// New creates the task definitions for cfg.
func New(cfg *Config) *Pipeline {
	p := &Pipeline{cfg: cfg, producers: cfg.producers()}

	p.read = engine.NewFunc(ReadDefID, func(s Source) string { return s.Path }, p.execRead)
	p.concat = engine.NewFunc(ConcatDefID, func(t Target) string { return t.Name }, p.execConcat).
		WithAffectedFilter(func(t Target, tags []string) bool {
			return len(t.Tags) == 0 || t.HasAnyTag(tags)
		})
	p.build = engine.NewFunc(BuildDefID, func(BuildInput) string { return buildKey }, p.execBuild)
	return p
}

// Config returns the configuration the pipeline was built from.
func (p *Pipeline) Config() *Config {
	return p.cfg
}

// Defs returns the pipeline's task definitions.
func (p *Pipeline) Defs() *engine.TaskDefs {
	return engine.NewTaskDefs(p.read, p.concat, p.build)
}

// NewEngine creates an engine over s that resolves file resources and
// rejects hidden dependencies. opts are applied after the pipeline's own.
func (p *Pipeline) NewEngine(s store.Store, opts ...engine.EngineOption) *engine.Engine {
	registry := resource.NewRegistry()
	fsresource.Register(registry)
	base := []engine.EngineOption{
		engine.WithValidator(engine.HiddenDependencyValidator{}),
		engine.WithDefaultStampers(stamp.Equals, stamp.ResourceHash, stamp.ResourceHash),
	}
	return engine.New(s, p.Defs(), registry, append(base, opts...)...)
}

// BuildTask returns the task that builds every target.
func (p *Pipeline) BuildTask() engine.Task {
	targets := make([]Target, len(p.cfg.Targets))
	copy(targets, p.cfg.Targets)
	return p.build.Task(BuildInput{Targets: targets})
}

// TargetTask returns the task that builds the named target.
func (p *Pipeline) TargetTask(name string) (engine.Task, error) {
	t, ok := p.cfg.Target(name)
	if !ok {
		return engine.Task{}, fmt.Errorf("unknown target %q", name)
	}
	return p.concat.Task(t), nil
}

// ReadTask returns the task that reads the project-relative path rel.
func (p *Pipeline) ReadTask(rel string) engine.Task {
	return p.read.Task(p.source(rel))
}

func (p *Pipeline) source(rel string) Source {
	return Source{Path: rel, Producer: p.producers[rel]}
}

// Build brings every target up to date in s.
func (p *Pipeline) Build(ctx context.Context, s *engine.Session) ([]Artifact, error) {
	out, err := s.Require(ctx, p.BuildTask())
	if err != nil {
		return nil, err
	}
	artifacts, _ := out.([]Artifact)
	return artifacts, nil
}

// BuildTarget brings the named target up to date in s.
func (p *Pipeline) BuildTarget(ctx context.Context, s *engine.Session, name string) (Artifact, error) {
	task, err := p.TargetTask(name)
	if err != nil {
		return Artifact{}, err
	}
	out, err := s.Require(ctx, task)
	if err != nil {
		return Artifact{}, err
	}
	a, _ := out.(Artifact)
	return a, nil
}

// ChangedKeys converts project-relative or absolute paths to the resource
// keys an update pass takes.
func (p *Pipeline) ChangedKeys(paths []string) []resource.Key {
	keys := make([]resource.Key, 0, len(paths))
	for _, path := range paths {
		if !filepath.IsAbs(path) {
			path = p.cfg.Abs(path)
		}
		keys = append(keys, fsresource.Key(path))
	}
	return keys
}

func (p *Pipeline) execRead(ctx context.Context, ec engine.ExecContext, src Source) (string, error) {
	if src.Producer.Name != "" {
		if _, err := ec.Require(ctx, p.concat.Task(src.Producer)); err != nil {
			return "", err
		}
	}
	res, err := ec.RequireResourceWith(fsresource.Key(p.cfg.Abs(src.Path)), stamp.ResourceHash)
	if err != nil {
		return "", err
	}
	file, ok := res.(*fsresource.File)
	if !ok {
		return "", fmt.Errorf("read %s: resource has type %T", src.Path, res)
	}
	data, err := file.ReadAll()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", src.Path, err)
	}
	return string(data), nil
}

func (p *Pipeline) execConcat(ctx context.Context, ec engine.ExecContext, t Target) (Artifact, error) {
	var buf bytes.Buffer
	for _, in := range t.Inputs {
		out, err := ec.RequireWith(ctx, p.read.Task(p.source(in)), stamp.OutputHash)
		if err != nil {
			return Artifact{}, err
		}
		content, _ := out.(string)
		buf.WriteString(content)
	}

	file := fsresource.NewFile(p.cfg.Abs(t.Output))
	if err := file.WriteAll(buf.Bytes()); err != nil {
		return Artifact{}, err
	}
	if err := ec.ProvideResourceWith(file.Key(), stamp.ResourceHash); err != nil {
		return Artifact{}, err
	}

	h := ir.NewDomainHash(ir.DomainResource)
	h.Write(buf.Bytes())
	a := Artifact{
		Target: t.Name,
		Path:   t.Output,
		Size:   buf.Len(),
		Digest: hex.EncodeToString(h.Sum(nil)),
	}
	ec.Logger().Debug("wrote target", slog.String("output", t.Output), slog.Int("bytes", a.Size))
	return a, nil
}

func (p *Pipeline) execBuild(ctx context.Context, ec engine.ExecContext, in BuildInput) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(in.Targets))
	for _, t := range in.Targets {
		a, err := engine.RequireAs[Artifact](ctx, ec, p.concat.Task(t))
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return artifacts, nil
}
