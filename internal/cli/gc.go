package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/engine"
)

// GCOptions holds flags for the gc command.
type GCOptions struct {
	*RootOptions
	DeleteOutputs bool
}

// GCResult is the output of gc.
type GCResult struct {
	Deleted []string `json:"deleted"`
}

// NewGCCommand creates the gc command.
func NewGCCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GCOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gc",
		Short: "Delete tasks no build requires anymore",
		Long: `Delete the stored tasks that no longer take part in a build, such as the
tasks of a removed target. With --delete-outputs the files those tasks
wrote inside the project are deleted too.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGC(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.DeleteOutputs, "delete-outputs", false, "also delete the output files of deleted tasks")

	return cmd
}

func runGC(ctx context.Context, opts *GCOptions, cmd *cobra.Command) (err error) {
	ctx = contextOrBackground(ctx)
	out := formatter(opts.RootOptions, cmd)

	p, err := openProject(ctx, opts.RootOptions, cmd, out)
	if err != nil {
		return err
	}
	defer closeProject(ctx, p, &err)

	result := GCResult{Deleted: []string{}}
	gcErr := p.session(ctx, func(s *engine.Session) error {
		deleted, err := p.pipeline.Collect(ctx, s, opts.DeleteOutputs)
		result.Deleted = append(result.Deleted, keyStrings(deleted)...)
		return err
	})
	if gcErr != nil {
		return out.Fail(CodeStore, WrapExitError(ExitFailure, "gc failed", gcErr), result)
	}

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Deleted %d task(s).\n", len(result.Deleted))
		for _, key := range result.Deleted {
			out.VerboseLog("deleted %s", key)
		}
	})
}
