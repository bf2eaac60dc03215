// Command incr builds the targets of an incr.yaml project incrementally.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/incr/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
