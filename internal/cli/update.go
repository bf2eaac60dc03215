package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/engine"
)

// UpdateOptions holds flags for the update command.
type UpdateOptions struct {
	*RootOptions
	Changed []string
	Tags    []string
}

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &UpdateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Propagate changed files bottom-up",
		Long: `Execute the tasks affected by changed files, starting from the files.

Only tasks that a previous build recorded as reading a changed file are
considered; their dependents execute when their outputs change. Targets
with tags are deferred until an update names one of their tags.

Examples:
  incr update --changed src/a.txt
  incr update --changed src/a.txt,src/b.txt --tag release
  incr update --tag release`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Changed, "changed", nil, "changed files, relative to the project root or absolute")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "active tags; deferred targets with a matching tag execute")

	return cmd
}

func runUpdate(ctx context.Context, opts *UpdateOptions, cmd *cobra.Command) (err error) {
	ctx = contextOrBackground(ctx)
	out := formatter(opts.RootOptions, cmd)

	if len(opts.Changed) == 0 && len(opts.Tags) == 0 {
		return out.Fail(CodeConfig, NewExitError(ExitCommandError, "nothing to update: pass --changed or --tag"), nil)
	}

	p, err := openProject(ctx, opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}
	defer closeProject(ctx, p, &err)

	changed := p.pipeline.ChangedKeys(opts.Changed)
	updateErr := p.session(ctx, func(s *engine.Session) error {
		return s.UpdateAffectedBy(ctx, changed, opts.Tags...)
	})
	if updateErr != nil {
		return out.Fail(CodeBuild, WrapExitError(ExitFailure, "update failed", updateErr),
			BuildResult{Executed: p.executed()})
	}

	result := BuildResult{Executed: p.executed(), Deferred: p.deferred()}
	return out.Success(result, func(w io.Writer) {
		writeExecuted(w, result.Executed)
		for _, key := range result.Deferred {
			fmt.Fprintf(w, "deferred %s\n", key)
		}
	})
}
