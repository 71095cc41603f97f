package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	logLevel string
	logFile  string
	store    string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	rootCmd := &cobra.Command{
		Use:           "storyloom",
		Short:         "storyloom runs an LLM-narrated interactive fiction game",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "override LOG_LEVEL")
	pf.StringVar(&flags.logFile, "log-file", "", "write logs to this file")
	pf.StringVar(&flags.store, "store", "", "override STORYLOOM_STORE (dir, sqlite, redis, memory)")

	rootCmd.AddCommand(
		newPlayCmd(flags),
		newServeCmd(flags),
		newSavesCmd(flags),
	)
	return rootCmd
}
