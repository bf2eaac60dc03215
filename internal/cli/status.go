package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/incr/internal/pipeline"
)

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what the store knows about each target",
		Long: `Show the stored state of every configured target without building.

A target is "changed" when its configuration differs from the one it was
last built with. Targets that were built but are no longer configured are
listed as removed; "incr gc" deletes them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), rootOpts, cmd)
		},
	}
}

func runStatus(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (err error) {
	ctx = contextOrBackground(ctx)
	out := formatter(opts, cmd)

	p, err := openProject(ctx, opts, cmd, out)
	if err != nil {
		return err
	}
	defer closeProject(ctx, p, &err)

	st := p.pipeline.Status(p.store)
	return out.Success(st, func(w io.Writer) { writeStatus(w, st) })
}

func writeStatus(w io.Writer, st pipeline.Status) {
	fmt.Fprintf(w, "%d task(s), %d source file(s), %d deferred\n", st.Tasks, st.SourceFiles, st.Deferred)
	for _, t := range st.Targets {
		state := "not built"
		switch {
		case t.Built && t.Changed:
			state = "changed"
		case t.Built && t.Deferred:
			state = "deferred"
		case t.Built:
			state = "built"
		}
		output := t.Output
		if !t.OutputExists {
			output += " (missing)"
		}
		fmt.Fprintf(w, "  %-16s %-10s %-18s %s\n", t.Name, state, t.Observability, output)
	}
	for _, name := range st.Removed {
		fmt.Fprintf(w, "  %-16s removed\n", name)
	}
}
