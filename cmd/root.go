package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	jsonLog bool
)

// RootCmd is the base command when warden is invoked without a subcommand.
var RootCmd = &cobra.Command{
	Use:   "warden",
	Short: "WASI-based sandbox runtime for agentic tasks",
	Long: `warden runs a single agentic task inside a WASI guest module, mediating
every filesystem, process, browser, and model access through an explicit
capability surface instead of ambient OS permissions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}

		var handler slog.Handler
		opts := &slog.HandlerOptions{Level: level}
		if jsonLog {
			handler = slog.NewJSONHandler(os.Stderr, opts)
		} else {
			handler = slog.NewTextHandler(os.Stderr, opts)
		}
		slog.SetDefault(slog.New(handler))
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLog, "json-log", false, "emit logs as JSON")
	RootCmd.AddCommand(stepCmd)
}
