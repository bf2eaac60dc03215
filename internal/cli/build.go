package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/engine"
	"github.com/roach88/incr/internal/pipeline"
)

// BuildOptions holds flags for the build command.
type BuildOptions struct {
	*RootOptions
	Target string
}

// BuildResult is the output of build and update.
type BuildResult struct {
	Executed  []string            `json:"executed"`
	Deferred  []string            `json:"deferred,omitempty"`
	Artifacts []pipeline.Artifact `json:"artifacts,omitempty"`
}

// NewBuildCommand creates the build command.
func NewBuildCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BuildOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Bring targets up to date",
		Long: `Bring every target, or one target, up to date.

The build checks the recorded dependencies of each target top-down and
executes only the tasks whose inputs changed since the last build.

Exit codes:
  0 - Targets are up to date
  1 - A task failed
  2 - Command error (bad config, unreadable store)

Examples:
  incr build
  incr build --target bundle
  incr build --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "build only this target")

	return cmd
}

func runBuild(ctx context.Context, opts *BuildOptions, cmd *cobra.Command) (err error) {
	ctx = contextOrBackground(ctx)
	out := formatter(opts.RootOptions, cmd)

	p, err := openProject(ctx, opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}
	defer closeProject(ctx, p, &err)

	var artifacts []pipeline.Artifact
	buildErr := p.session(ctx, func(s *engine.Session) error {
		if opts.Target != "" {
			a, err := p.pipeline.BuildTarget(ctx, s, opts.Target)
			artifacts = []pipeline.Artifact{a}
			return err
		}
		var err error
		artifacts, err = p.pipeline.Build(ctx, s)
		return err
	})
	if buildErr != nil {
		return out.Fail(CodeBuild, WrapExitError(ExitFailure, "build failed", buildErr),
			BuildResult{Executed: p.executed()})
	}

	result := BuildResult{Executed: p.executed(), Deferred: p.deferred(), Artifacts: artifacts}
	return out.Success(result, func(w io.Writer) {
		writeExecuted(w, result.Executed)
		for _, a := range result.Artifacts {
			fmt.Fprintf(w, "%-16s %s (%d bytes, %s)\n", a.Target, a.Path, a.Size, shortDigest(a.Digest))
		}
	})
}

func writeExecuted(w io.Writer, executed []string) {
	if len(executed) == 0 {
		fmt.Fprintln(w, "Up to date.")
		return
	}
	fmt.Fprintf(w, "Executed %d task(s).\n", len(executed))
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// closeProject closes p and reports a close failure through err unless err
// is already set.
func closeProject(ctx context.Context, p *project, err *error) {
	if cerr := p.Close(ctx); cerr != nil {
		p.logger.Error("failed to close project", "error", cerr)
		if *err == nil {
			*err = WrapExitError(ExitCommandError, "failed to close store", cerr)
		}
	}
}
