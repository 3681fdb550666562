// Command loopsched explores traced GPU loop schedules for tensor workloads.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/loopsched/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
