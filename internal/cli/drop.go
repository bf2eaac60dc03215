package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/store"
)

// DropResult is the output of drop.
type DropResult struct {
	Dropped int `json:"dropped"`
}

// NewDropCommand creates the drop command.
func NewDropCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "drop",
		Short: "Forget every recorded task",
		Long: `Delete every recorded task from the store. The next build executes
everything again. Output files are left alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrop(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runDrop(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (err error) {
	ctx = contextOrBackground(ctx)
	out := formatter(opts, cmd)

	p, err := openProject(ctx, opts, cmd, out)
	if err != nil {
		return err
	}
	defer closeProject(ctx, p, &err)

	var result DropResult
	_ = store.Update(p.store, func(tx store.WriteTxn) error {
		result.Dropped = tx.NumTasks()
		tx.Drop()
		return nil
	})
	if err := p.store.Sync(ctx); err != nil {
		return out.Fail(CodeStore, WrapExitError(ExitCommandError, "failed to save store", err), nil)
	}
	p.logger.Debug("store dropped", "tasks", result.Dropped)

	return out.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Dropped %d task(s).\n", result.Dropped)
	})
}
