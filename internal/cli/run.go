package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/martinemde/autocoder/agent"
)

var (
	runTimeout time.Duration
	runRuntime string
	runKeep    bool
)

var runCmd = &cobra.Command{
	Use:   "run <file>",
	Short: "Run a source file in the execution environment",
	Long: `Run a source file the way the assistant runs code.

The file is executed in the configured environment (a python virtualenv or
a shell). If it is still running when the timeout expires it is stopped,
unless --keep is given. Use "-" to read the code from stdin.

The command exits with the program's exit code.`,
	Args: cobra.ExactArgs(1),
	RunE: runFile,
}

func init() {
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "how long to wait for the program (default from config)")
	runCmd.Flags().StringVar(&runRuntime, "runtime", "", "runtime to use: python or sh (default from config)")
	runCmd.Flags().BoolVar(&runKeep, "keep", false, "leave the program running after the timeout")
}

func runFile(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runRuntime != "" {
		cfg.Sandbox.Runtime = runRuntime
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	code, err := readSource(args[0], cmd.InOrStdin())
	if err != nil {
		return err
	}

	log, err := newLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer log.Close()

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}
	executor, err := newExecutor(cfg, log, workDir)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := executor.Execute(ctx, code, runTimeout)
	if err != nil && res == nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, agent.FormatResult(res))

	if res.Running {
		if runKeep {
			fmt.Fprintf(out, "Process %s left running.\n", res.JobID)
			return nil
		}
		fmt.Fprintln(out, executor.Stop(res.JobID))
		return &exitError{code: 124}
	}
	if res.ExitCode != 0 {
		return &exitError{code: res.ExitCode}
	}
	return nil
}

func readSource(path string, stdin io.Reader) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading source: %w", err)
	}
	return string(data), nil
}
