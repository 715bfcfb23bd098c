package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/config"
	"github.com/Aleph-Alpha/smallrabbit/pkg/logger"
	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

// Limits of the consume flags.
const (
	MaxTriesLimit   = 20
	MinMaxTime      = 1
	MaxMaxTime      = 3600
	defaultMaxTime  = 60
	initErrorPrefix = "Worker initialization error"
)

func newConsumeCmd(opts *options) *cobra.Command {
	var tries int
	var maxTime int

	cmd := &cobra.Command{
		Use:   "consume [QUEUE]",
		Short: "Consume a queue with its registered handler",
		Long: `Consume a queue with the handler registered for it.

Each delivery is handled up to --tries times, each attempt limited to
--max-time seconds. Deliveries that fail every attempt are saved as not
processed messages. A handler that ignores its deadline stops the worker
with exit code 124.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s: %w", initErrorPrefix, err)}
			}

			queue := cfg.Consumer.Queue
			if len(args) == 1 {
				queue = args[0]
			}

			consumerCfg, err := consumerConfig(cfg.Consumer.ConsumerConfig, tries, maxTime, cmd.Flags().Changed("max-time"))
			if err != nil {
				return initError(cfg, err)
			}

			if opts.registry == nil {
				return initError(cfg, fmt.Errorf("%w: %q", rabbit.ErrUnknownQueue, queue))
			}
			handler, err := opts.registry.Handler(queue)
			if err != nil {
				return initError(cfg, err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runConsume(ctx, cfg, queue, handler, consumerCfg)
		},
	}

	cmd.Flags().IntVar(&tries, "tries", 0, fmt.Sprintf("Attempts per delivery, 0 keeps the configured value (max %d)", MaxTriesLimit))
	cmd.Flags().IntVar(&maxTime, "max-time", defaultMaxTime, fmt.Sprintf("Seconds per attempt (%d-%d)", MinMaxTime, MaxMaxTime))

	return cmd
}

// consumerConfig applies the command line limits to the configured
// envelope.
func consumerConfig(base rabbit.ConsumerConfig, tries, maxTime int, maxTimeSet bool) (rabbit.ConsumerConfig, error) {
	if tries < 0 || tries > MaxTriesLimit {
		return base, fmt.Errorf("%w: tries must be between 0 and %d, got %d", rabbit.ErrInvalidConsumerConfig, MaxTriesLimit, tries)
	}
	if maxTime < MinMaxTime || maxTime > MaxMaxTime {
		return base, fmt.Errorf("%w: max-time must be between %d and %d seconds, got %d",
			rabbit.ErrInvalidConsumerConfig, MinMaxTime, MaxMaxTime, maxTime)
	}

	if tries > 0 {
		base.MaxTries = tries
	}
	if maxTimeSet {
		base.MaxExecution = time.Duration(maxTime) * time.Second
	}
	return base, base.Validate()
}

func runConsume(ctx context.Context, cfg config.Config, queue string, h rabbit.Handler, consumerCfg rabbit.ConsumerConfig) error {
	var client *rabbit.Rabbit
	var log *logger.Logger

	app := newApp(cfg, brokerModules, fx.Populate(&client, &log))
	if err := app.Err(); err != nil {
		return initError(cfg, err)
	}

	startCtx, cancel := context.WithTimeout(ctx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		return initError(cfg, err)
	}

	consumeErr := client.Consume(ctx, queue, h, consumerCfg)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		log.Warn("failed to stop worker cleanly", err, nil)
	}

	switch {
	case consumeErr == nil:
		return nil
	case errors.Is(consumeErr, rabbit.ErrHandlerHung):
		return &ExitError{Code: ExitHung, Err: consumeErr}
	default:
		return &ExitError{Code: ExitFailure, Err: consumeErr}
	}
}

// initError logs a startup failure the way workers report it and maps it
// to exit code 1.
func initError(cfg config.Config, err error) error {
	if log, lerr := logger.NewLogger(cfg.Logger); lerr == nil {
		log.Error(initErrorPrefix, err, nil)
		_ = log.Sync()
	}
	return &ExitError{Code: ExitFailure, Err: fmt.Errorf("%s: %w", initErrorPrefix, err)}
}
