package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	GoldenDir string // defaults to <scenarios-dir>/golden
	NoGolden  bool   // skip golden comparison
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run conformance scenarios",
		Long: `Run every scenario file in a directory against the engine.

Each scenario builds a throwaway project step by step and checks the tasks
every step executes, the files it leaves and the final assertions. The
executions of every step are compared against a golden file.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  incr test ./scenarios
  incr test ./scenarios --update
  incr test ./scenarios --golden ./testdata/golden --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory (default <scenarios-dir>/golden)")
	cmd.Flags().BoolVar(&opts.NoGolden, "no-golden", false, "check expectations and assertions only")

	return cmd
}

func runTests(ctx context.Context, opts *TestOptions, dir string, cmd *cobra.Command) error {
	ctx = contextOrBackground(ctx)
	out := formatter(opts.RootOptions, cmd)

	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return out.Fail(CodeConfig, NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir)), nil)
	}

	suite := harness.SuiteOptions{Update: opts.Update}
	if !opts.NoGolden {
		suite.GoldenDir = opts.GoldenDir
		if suite.GoldenDir == "" {
			suite.GoldenDir = filepath.Join(dir, "golden")
		}
	}

	result, err := harness.RunDir(ctx, dir, suite)
	if err != nil {
		return out.Fail(CodeScenario, WrapExitError(ExitCommandError, "failed to run scenarios", err), nil)
	}

	if err := out.Success(result, func(w io.Writer) { writeSuite(w, result) }); err != nil {
		return err
	}
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenario(s) failed", result.Failed, result.Total))
	}
	return nil
}

func writeSuite(w io.Writer, result *harness.SuiteResult) {
	if result.Total == 0 {
		fmt.Fprintln(w, "No scenarios found.")
		return
	}
	for _, f := range result.Failures {
		name := f.Scenario
		if name == "" {
			name = filepath.Base(f.Path)
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range f.Errors {
			fmt.Fprintf(w, "  %s\n", e)
		}
	}
	fmt.Fprintf(w, "\n%d passed, %d failed, %d total", result.Passed, result.Failed, result.Total)
	if result.Updated > 0 {
		fmt.Fprintf(w, " (%d golden file(s) updated)", result.Updated)
	}
	fmt.Fprintln(w)
}
