package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/config"
	"github.com/Aleph-Alpha/smallrabbit/pkg/deadletter"
	"github.com/Aleph-Alpha/smallrabbit/pkg/escalation"
	"github.com/Aleph-Alpha/smallrabbit/pkg/logger"
)

func newSuperviseCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "supervise [QUEUE] [-- WORKER COMMAND...]",
		Short: "Run a worker and record the delivery it was handling when it dies",
		Long: `Run a worker process, restart it whenever it exits, and save the
delivery it was processing as a not processed message when it dies
abnormally (exit code 124, a signal, or any other failure).

Without an explicit worker command, "consume QUEUE" of this binary is run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}

			queueArgs, workerArgs := args, []string(nil)
			if dash := cmd.ArgsLenAtDash(); dash >= 0 {
				queueArgs, workerArgs = args[:dash], args[dash:]
			}
			if len(queueArgs) > 1 {
				return fmt.Errorf("supervise accepts at most one queue, got %d", len(queueArgs))
			}

			if len(workerArgs) == 0 {
				workerArgs, err = selfConsumeCommand(opts.configPath, queueArgs)
				if err != nil {
					return err
				}
			}

			if cfg.Escalation.JournalPath == "" {
				cfg.Escalation.JournalPath = filepath.Join(os.TempDir(), fmt.Sprintf("smallrabbit-%d.json", os.Getpid()))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runSupervise(ctx, cfg, workerArgs)
		},
	}
	return cmd
}

func selfConsumeCommand(configPath string, queueArgs []string) ([]string, error) {
	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate worker binary: %w", err)
	}
	command := []string{self}
	if configPath != "" {
		command = append(command, "--config", configPath)
	}
	command = append(command, "consume")
	return append(command, queueArgs...), nil
}

func runSupervise(ctx context.Context, cfg config.Config, worker []string) error {
	var sink *deadletter.Sink
	var log *logger.Logger

	app := newApp(cfg, fx.Populate(&sink, &log))
	if err := app.Err(); err != nil {
		return err
	}
	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
		defer cancelStop()
		_ = app.Stop(stopCtx)
	}()

	var escalator escalation.Escalator = escalation.SinkEscalator{Sink: sink}
	if cfg.Escalation.Command != "" {
		cmdEscalator, err := escalation.NewCommandEscalator(cfg.Escalation.Command)
		if err != nil {
			return err
		}
		escalator = cmdEscalator
	}

	journal := escalation.NewFileJournal(cfg.Escalation.JournalPath)
	watchdog, err := escalation.NewWatchdog(escalation.WatchdogConfig{
		Command:         worker,
		Env:             []string{"SMALLRABBIT_JOURNAL=" + journal.Path()},
		StopTimeout:     cfg.Escalation.StopTimeout,
		MaxRestartDelay: cfg.Escalation.MaxRestartDelay,
	}, journal, escalator, log)
	if err != nil {
		return err
	}

	log.Info("supervising worker", nil, map[string]interface{}{
		"command": worker,
		"journal": journal.Path(),
	})
	return watchdog.Run(ctx)
}
