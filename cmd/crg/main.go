package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	exitPromote  = 0
	exitRollback = 1
	exitError    = 2
)

func main() {
	root := newRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitError)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "crg",
		Short: "Canary release guard",
		Long: `crg watches a canary deployment alongside its stable baseline,
compares error rates and latency over a trailing window, and decides
whether the release should be promoted or rolled back.`,
		SilenceUsage: true,
	}

	root.AddCommand(newMonitorCommand())
	root.AddCommand(newReportCommand())
	return root
}
