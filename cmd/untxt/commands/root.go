// Package commands implements the untxt CLI.
package commands

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// Error classes the CLI maps to exit codes.
var (
	// ErrConfig means the configuration failed to load or validate.
	ErrConfig = errors.New("configuration error")

	// ErrDependency means a required backing service was unreachable at
	// startup.
	ErrDependency = errors.New("dependency unavailable")

	// ErrInterrupted means a signal ended the process.
	ErrInterrupted = errors.New("interrupted")
)

// ExitCode maps an Execute error to the process exit code: 1 for
// configuration errors, 2 for unreachable dependencies, 130 when a signal
// interrupted the run.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInterrupted):
		return 130
	case errors.Is(err, ErrDependency):
		return 2
	default:
		return 1
	}
}

var rootCmd = &cobra.Command{
	Use:   "untxt",
	Short: "untxt - document OCR and collaborative editing platform",
	Long: `untxt turns uploaded documents into editable, versioned HTML.

Uploads land in an S3-compatible object store and queue through redis to an
OCR worker pool. Clients follow progress over a websocket gateway, edit the
output in sessions with immutable version history, and share access through
scoped edit permissions. Deletes are soft: objects are tagged and expire via
bucket lifecycle rules.

Use "untxt [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: environment only)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
