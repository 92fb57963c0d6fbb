// Package commands provides the CLI commands for the agentd daemon.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/loopbackai/agentd/internal/logging"
)

var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	printLogs bool
	logLevel  string
	logFile   bool
)

var rootCmd = &cobra.Command{
	Use:   "agentd",
	Short: "agentd - local agent session daemon",
	Long: `agentd is a background daemon that manages agent sessions: queued
turns, streamed completions, tool dispatch, and background processes,
exposed over a loopback-only HTTP/WebSocket control plane.

Run 'agentd serve' to start the daemon in the foreground, or use
'agentd status'/'agentd stop' to manage an already-running instance.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.Config{
			Level:  logging.ParseLevel(logLevel),
			Output: os.Stderr,
			Pretty: printLogs,
		}
		if !printLogs && !logFile {
			logCfg.Level = logging.FatalLevel
		}
		logCfg.LogToFile = logFile
		logging.Init(logCfg)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to the daemon's state-dir log-lines file")

	rootCmd.SetVersionTemplate("agentd " + Version + " (" + BuildTime + ")\n")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(installServiceCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
