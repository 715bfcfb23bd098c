package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aleph-Alpha/smallrabbit/pkg/config"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// Exit codes of the smallrabbit commands.
const (
	ExitOK      = 0
	ExitFailure = 1

	// ExitHung is returned by consume when a handler ignored its deadline
	ExitHung = 124
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// options are shared by every command.
type options struct {
	configPath string
	registry   *rabbit.Registry
	stdin      io.Reader
	stdout     io.Writer
	loadConfig func(path string) (config.Config, error)
}

func (o *options) config() (config.Config, error) {
	return o.loadConfig(o.configPath)
}

// NewRootCmd returns the smallrabbit command tree. registry maps the
// queues the consume command can serve to their handlers.
func NewRootCmd(registry *rabbit.Registry, version string) *cobra.Command {
	return newRootCmd(&options{
		registry:   registry,
		stdin:      os.Stdin,
		stdout:     os.Stdout,
		loadConfig: config.Load,
	}, version)
}

func newRootCmd(opts *options, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "smallrabbit",
		Short:         "Resilient RabbitMQ worker",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to a YAML config file")

	rootCmd.AddCommand(
		newConsumeCmd(opts),
		newSuperviseCmd(opts),
		newDeadLetterCmd(opts),
		newSendCmd(opts),
	)
	return rootCmd
}

// Execute runs the command line and returns the process exit code.
func Execute(registry *rabbit.Registry, version string, args []string) int {
	cmd := NewRootCmd(registry, version)
	cmd.SetArgs(args)
	return exitCode(cmd.Execute())
}

func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.Err)
		}
		return exitErr.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return ExitFailure
}
