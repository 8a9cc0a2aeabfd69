//go:build !tinygo

// Package cli is the host command line.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ember/internal/logging"
)

var (
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logLevel zerolog.Level
)

// NewRootCmd creates the root cobra command for the ember CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ember",
		Short: "ember: a preemptive priority scheduler on a simulated single-core machine",
		Long: "ember boots a priority round-robin thread scheduler on a deterministic " +
			"simulated CPU and runs scripted YAML workloads on it.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logLevel = logging.ParseLevel(flagLogLevel)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newValidateCmd(),
		newVersionCmd(),
	)

	return root
}
