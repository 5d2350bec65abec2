// Package commands provides the CLI commands for sona.
package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/qent/sona-sub000/internal/config"
	"github.com/qent/sona-sub000/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var logFile io.Closer

var rootCmd = &cobra.Command{
	Use:   "sona",
	Short: "sona - a conversational agent with permission-gated tools",
	Long: `sona drives a chat with a language model that can call local tools
and tools served by MCP providers. Every tool call asks for permission
unless it was allowed before.

Run 'sona chat' for an interactive session, or 'sona serve' to expose
the session over HTTP.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: setupLogging,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			logFile.Close()
		}
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Working directory")

	rootCmd.SetVersionTemplate(fmt.Sprintf("sona %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(providersCmd)
	rootCmd.AddCommand(modelsCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// setupLogging sends logs to stderr with --print-logs and to the state
// log directory otherwise.
func setupLogging(cmd *cobra.Command, args []string) error {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(logLevel)

	if printLogs {
		cfg.Pretty = true
		logging.Init(cfg)
		return nil
	}

	f, err := logging.OpenFile(config.GetPaths().LogPath())
	if err != nil {
		return err
	}
	logFile = f
	cfg.Output = f
	logging.Init(cfg)
	return nil
}

func resolveWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}
