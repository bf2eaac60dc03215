package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/incr/internal/ir"
)

// TraceSnapshot is the part of a result that golden files pin down: what
// every step executed, deferred, deleted and failed with.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Steps        []StepResult `json:"steps"`
}

// toCanonicalMap converts the snapshot to the generic form
// ir.MarshalCanonical takes. Empty lists are left out, except the executed
// list of build and update steps, where an empty list is the point.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	steps := make([]any, len(s.Steps))
	for i, step := range s.Steps {
		m := map[string]any{
			"step":   step.Step,
			"action": step.Action,
		}
		if step.Executed != nil {
			m["executed"] = stringList(step.Executed)
		}
		if len(step.Deferred) > 0 {
			m["deferred"] = stringList(step.Deferred)
		}
		if len(step.Deleted) > 0 {
			m["deleted"] = stringList(step.Deleted)
		}
		if step.Error != "" {
			m["error"] = step.Error
		}
		steps[i] = m
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"steps":         steps,
	}
}

func stringList(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Render returns the canonical JSON golden form of a result.
func Render(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: name, Steps: result.Steps}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden runs a scenario, fails the test for failed expectations and
// compares the trace against testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	return AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Render(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
