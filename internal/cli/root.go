// Package cli provides the autocoder command line.
package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:     "autocoder",
	Short:   "Chat with a coding assistant that can edit files and run code",
	Version: Version,
	Long: `autocoder is an interactive coding assistant.

The assistant can create, read and list files, and run code in a local
environment (a python virtualenv or a shell). Long-running code keeps
running in the background and can be checked or stopped by its job id.

Type 'automode [N]' in the chat to let the assistant work on a goal for up
to N steps without waiting for you. Press Ctrl+C to take control back.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.NoArgs,
	RunE:          runChat,
}

// exitError carries a process exit code out of a command without printing
// anything further.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return "exit status" }

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	rootCmd.PrintErrln("Error:", err)
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ./autocoder.toml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append JSON logs to this file")

	rootCmd.AddCommand(runCmd, configCmd, versionCmd)
}
