package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/incr/internal/pipeline"
)

// Scenario is a conformance scenario.
type Scenario struct {
	// Name uniquely identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario validates.
	Description string `yaml:"description"`

	// Files is the initial project content by project-relative path.
	Files map[string]string `yaml:"files,omitempty"`

	// Targets is the initial pipeline configuration.
	Targets []pipeline.Target `yaml:"targets"`

	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one action against the project.
type Step struct {
	Action string `yaml:"action"`

	// Target restricts a build step to one target.
	Target string `yaml:"target,omitempty"`

	// Files are written by write steps.
	Files map[string]string `yaml:"files,omitempty"`

	// Paths are removed by remove steps and reported as changed by update
	// steps.
	Paths []string `yaml:"paths,omitempty"`

	// Tags are active during an update step.
	Tags []string `yaml:"tags,omitempty"`

	// Targets replace the configuration in configure steps.
	Targets []pipeline.Target `yaml:"targets,omitempty"`

	// DeleteOutputs makes a gc step delete the files deleted tasks wrote.
	DeleteOutputs bool `yaml:"delete_outputs,omitempty"`

	// ExpectExecuted is the exact list of task keys the step executes, in
	// order. Nil skips the check.
	ExpectExecuted []string `yaml:"expect_executed,omitempty"`

	// ExpectFiles are file contents that must hold after the step.
	ExpectFiles map[string]string `yaml:"expect_files,omitempty"`

	// ExpectError must be contained in the error the step returns. Without
	// it the step must succeed.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Step actions.
const (
	ActionBuild     = "build"
	ActionWrite     = "write"
	ActionRemove    = "remove"
	ActionUpdate    = "update"
	ActionConfigure = "configure"
	ActionGC        = "gc"
)

// Assertion validates the whole run after the last step.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Task is a task key such as "pipeline.concat:bundle".
	Task string `yaml:"task,omitempty"`

	// Tasks is the expected execution order (executed_order).
	Tasks []string `yaml:"tasks,omitempty"`

	// Count is the expected number of executions (executed_count).
	Count int `yaml:"count,omitempty"`

	// Path and Content select a file (file_content, file_absent).
	Path    string `yaml:"path,omitempty"`
	Content string `yaml:"content,omitempty"`

	// State is the expected observability (observability).
	State string `yaml:"state,omitempty"`
}

// Assertion types.
const (
	AssertExecutedCount = "executed_count"
	AssertExecutedOrder = "executed_order"
	AssertNeverExecuted = "never_executed"
	AssertFileContent   = "file_content"
	AssertFileAbsent    = "file_absent"
	AssertObservability = "observability"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos do not silently disable a check.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks the fields each step and assertion needs. Target
// configurations are validated when the scenario runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Targets) == 0 {
		return fmt.Errorf("targets list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s *Step) error {
	switch s.Action {
	case "":
		return fmt.Errorf("steps[%d]: action is required", index)
	case ActionBuild, ActionGC:
	case ActionWrite:
		if len(s.Files) == 0 {
			return fmt.Errorf("steps[%d]: files are required for write", index)
		}
	case ActionRemove:
		if len(s.Paths) == 0 {
			return fmt.Errorf("steps[%d]: paths are required for remove", index)
		}
	case ActionUpdate:
		if len(s.Paths) == 0 && len(s.Tags) == 0 {
			return fmt.Errorf("steps[%d]: paths or tags are required for update", index)
		}
	case ActionConfigure:
		if len(s.Targets) == 0 {
			return fmt.Errorf("steps[%d]: targets are required for configure", index)
		}
	default:
		return fmt.Errorf("steps[%d]: unknown action %q", index, s.Action)
	}

	if s.Target != "" && s.Action != ActionBuild {
		return fmt.Errorf("steps[%d]: target is only valid for build", index)
	}
	if s.ExpectExecuted != nil && !producesExecutions(s.Action) {
		return fmt.Errorf("steps[%d]: expect_executed is not valid for %s", index, s.Action)
	}
	return nil
}

// producesExecutions reports whether a step action runs tasks.
func producesExecutions(action string) bool {
	return action == ActionBuild || action == ActionUpdate
}

func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertExecutedCount:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for executed_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for executed_count", index)
		}
	case AssertNeverExecuted:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for never_executed", index)
		}
	case AssertExecutedOrder:
		if len(a.Tasks) < 2 {
			return fmt.Errorf("assertions[%d]: at least two tasks are required for executed_order", index)
		}
	case AssertFileContent, AssertFileAbsent:
		if a.Path == "" {
			return fmt.Errorf("assertions[%d]: path is required for %s", index, a.Type)
		}
	case AssertObservability:
		if a.Task == "" {
			return fmt.Errorf("assertions[%d]: task is required for observability", index)
		}
		switch a.State {
		case "unobserved", "implicit-observed", "explicit-observed":
		default:
			return fmt.Errorf("assertions[%d]: unknown observability state %q", index, a.State)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
