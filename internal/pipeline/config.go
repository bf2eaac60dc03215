package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the configuration file looked up in the project root.
const DefaultConfigFile = "incr.yaml"

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Default store locations, relative to the project root.
const (
	DefaultSQLitePath = ".incr/store.db"
	DefaultBadgerPath = ".incr/badger"
)

// Config is the parsed incr.yaml of one project.
type Config struct {
	Store   StoreConfig `yaml:"store"`
	Targets []Target    `yaml:"targets" validate:"required,min=1,unique=Name,unique=Output,dive"`

	// Root is the directory relative paths are resolved against. Load sets
	// it to the directory of the configuration file.
	Root string `yaml:"-"`
}

// StoreConfig selects where task data is persisted.
type StoreConfig struct {
	Backend string `yaml:"backend" validate:"omitempty,oneof=sqlite badger memory"`
	Path    string `yaml:"path" validate:"omitempty,relpath"`
}

// Target concatenates its inputs, in order, into its output file.
//
// An input may be the output of another target; that target is built first.
// A target with tags is deferred by update passes unless one of its tags is
// active. Top-down builds always build it.
type Target struct {
	Name   string   `yaml:"name" validate:"required,excludesall=/"`
	Output string   `yaml:"output" validate:"required,relpath"`
	Inputs []string `yaml:"inputs" validate:"required,min=1,dive,required,relpath"`
	Tags   []string `yaml:"tags,omitempty" validate:"dive,required"`
}

// HasAnyTag reports whether t has one of tags.
func (t Target) HasAnyTag(tags []string) bool {
	for _, tag := range tags {
		if slices.Contains(t.Tags, tag) {
			return true
		}
	}
	return false
}

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("relpath", validateRelPath)
}

// validateRelPath accepts relative paths that stay inside the project root.
func validateRelPath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" || filepath.IsAbs(p) {
		return false
	}
	clean := filepath.Clean(p)
	return clean != ".." && !strings.HasPrefix(clean, ".."+string(filepath.Separator))
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolve project root: %w", err)
	}
	cfg, err := Parse(data, root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes and validates a configuration rooted at root. Unknown fields
// are rejected.
func Parse(data []byte, root string) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("parse config: empty document")
		}
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return NewConfig(root, cfg.Store, cfg.Targets)
}

// NewConfig builds a validated configuration rooted at root.
func NewConfig(root string, sc StoreConfig, targets []Target) (*Config, error) {
	cfg := &Config{Store: sc, Targets: slices.Clone(targets), Root: root}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// normalize cleans paths and fills in store defaults. Empty tag lists become
// nil so inputs compare equal after a round trip through the store.
func (c *Config) normalize() {
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Store.Path == "" {
		switch c.Store.Backend {
		case BackendSQLite:
			c.Store.Path = DefaultSQLitePath
		case BackendBadger:
			c.Store.Path = DefaultBadgerPath
		}
	}
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Output != "" {
			t.Output = filepath.ToSlash(filepath.Clean(t.Output))
		}
		t.Inputs = slices.Clone(t.Inputs)
		for j, in := range t.Inputs {
			if in != "" {
				t.Inputs[j] = filepath.ToSlash(filepath.Clean(in))
			}
		}
		if len(t.Tags) == 0 {
			t.Tags = nil
		}
	}
}

// ErrTargetCycle is returned when targets consume each other's outputs in a
// loop.
var ErrTargetCycle = errors.New("target cycle")

// Validate checks field constraints, then that no target reads its own
// output and that targets do not form a cycle.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	producers := c.producers()
	for _, t := range c.Targets {
		if slices.Contains(t.Inputs, t.Output) {
			return fmt.Errorf("invalid config: target %s reads its own output %s", t.Name, t.Output)
		}
	}

	const (
		_ = iota
		visiting
		done
	)
	state := make(map[string]int, len(c.Targets))
	var visit func(t Target, path []string) error
	visit = func(t Target, path []string) error {
		switch state[t.Name] {
		case visiting:
			return fmt.Errorf("invalid config: %w: %s", ErrTargetCycle, strings.Join(append(path, t.Name), " -> "))
		case done:
			return nil
		}
		state[t.Name] = visiting
		for _, in := range t.Inputs {
			if dep, ok := producers[in]; ok {
				if err := visit(dep, append(path, t.Name)); err != nil {
					return err
				}
			}
		}
		state[t.Name] = done
		return nil
	}
	for _, t := range c.Targets {
		if err := visit(t, nil); err != nil {
			return err
		}
	}
	return nil
}

// producers maps each output path to the target that writes it.
func (c *Config) producers() map[string]Target {
	m := make(map[string]Target, len(c.Targets))
	for _, t := range c.Targets {
		m[t.Output] = t
	}
	return m
}

// Target returns the target named name.
func (c *Config) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// Abs resolves a project-relative path against Root.
func (c *Config) Abs(rel string) string {
	return filepath.Join(c.Root, filepath.FromSlash(rel))
}

// Rel converts an absolute path under Root to the project-relative form used
// in the configuration. Paths outside Root are returned unchanged.
func (c *Config) Rel(abs string) string {
	rel, err := filepath.Rel(c.Root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}
