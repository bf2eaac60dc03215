package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteOptions configures RunDir.
type SuiteOptions struct {
	// GoldenDir holds {name}.golden files. Empty disables golden checks.
	GoldenDir string

	// Update rewrites golden files instead of comparing them.
	Update bool
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Updated  int               `json:"updated,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure is a scenario that did not load, did not run or did not
// pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario,omitempty"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// ScenarioFiles returns the scenario files of dir in name order.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// RunDir runs every scenario in dir. Scenario failures are reported in the
// result; the error is reserved for a directory that cannot be read.
func RunDir(ctx context.Context, dir string, opts SuiteOptions) (*SuiteResult, error) {
	paths, err := ScenarioFiles(dir)
	if err != nil {
		return nil, err
	}

	result := &SuiteResult{}
	fail := func(name, path string, errs ...string) {
		result.Failed++
		result.Failures = append(result.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			fail("", path, fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}
		runResult, err := Run(scenario)
		if err != nil {
			fail(scenario.Name, path, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}

		errs := runResult.Errors
		if opts.GoldenDir != "" {
			updated, err := checkGolden(opts, scenario.Name, runResult)
			if err != nil {
				errs = append(errs, err.Error())
			}
			if updated {
				result.Updated++
			}
		}
		if len(errs) > 0 {
			fail(scenario.Name, path, errs...)
			continue
		}
		result.Passed++
	}
	return result, nil
}

// checkGolden compares a result with its golden file, or rewrites the file
// in update mode.
func checkGolden(opts SuiteOptions, name string, result *Result) (bool, error) {
	got, err := Render(name, result)
	if err != nil {
		return false, err
	}
	path := filepath.Join(opts.GoldenDir, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0o755); err != nil {
			return false, fmt.Errorf("failed to create golden directory: %w", err)
		}
		if err := os.WriteFile(path, got, 0o644); err != nil {
			return false, fmt.Errorf("failed to write golden file: %w", err)
		}
		return true, nil
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("golden file %s does not exist (run with --update)", path)
	}
	if err != nil {
		return false, fmt.Errorf("failed to read golden file: %w", err)
	}
	if !bytes.Equal(bytes.TrimSpace(want), got) {
		return false, fmt.Errorf("trace differs from %s:\n  want: %s\n  got:  %s",
			path, strings.TrimSpace(string(want)), got)
	}
	return false, nil
}
