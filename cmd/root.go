// Package cmd wires the sentinel CLI.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sentinel",
		Short: "A scan service that flags weapons-trade risk in short posts.",
		Long: `sentinel ingests short text and media posts from configured sources,
scores them with a deterministic rule lexicon plus optional remote
classifiers, fuses the signals into one risk verdict, and streams live
progress over an HTTP API.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	cmd.AddCommand(newServeCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
