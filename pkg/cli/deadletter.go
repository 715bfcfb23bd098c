package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/config"
	"github.com/Aleph-Alpha/smallrabbit/pkg/deadletter"
	"github.com/Aleph-Alpha/smallrabbit/pkg/escalation"
	"github.com/Aleph-Alpha/smallrabbit/pkg/logger"
)

func newDeadLetterCmd(opts *options) *cobra.Command {
	var data string

	cmd := &cobra.Command{
		Use:   "deadletter --data=BASE64",
		Short: "Save a not processed message passed by a watchdog",
		Long: `Save a not processed message. --data is the base64 encoded JSON
object {"error", "payload", "class"} produced by the escalation encoder.
Empty or invalid data is ignored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			return withSink(cmd.Context(), cfg, func(ctx context.Context, sink *deadletter.Sink, log *logger.Logger) error {
				return saveDeadLetter(ctx, sink, log, data)
			})
		},
	}
	cmd.Flags().StringVar(&data, "data", "", "Base64 encoded JSON record")

	cmd.AddCommand(newDeadLetterListCmd(opts))
	return cmd
}

// saveDeadLetter never fails on bad input: the caller is a watchdog that
// has nothing better to do with the record.
func saveDeadLetter(ctx context.Context, sink *deadletter.Sink, log *logger.Logger, data string) error {
	rec, err := escalation.Decode(data)
	if err != nil {
		log.Warn("ignoring invalid dead letter data", err, nil)
		return nil
	}
	return sink.Insert(ctx, rec.DeadLetter())
}

func newDeadLetterListCmd(opts *options) *cobra.Command {
	var limit int
	var queue string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the most recent not processed messages as JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.config()
			if err != nil {
				return err
			}
			if !cfg.DeadLetter.Enabled {
				return fmt.Errorf("saving not processed messages is disabled")
			}
			return withSink(cmd.Context(), cfg, func(ctx context.Context, sink *deadletter.Sink, _ *logger.Logger) error {
				total, err := sink.Count(ctx, queue)
				if err != nil {
					return err
				}
				rows, err := sink.Recent(ctx, queue, limit)
				if err != nil {
					return err
				}

				enc := json.NewEncoder(opts.stdout)
				for _, row := range rows {
					if err := enc.Encode(row); err != nil {
						return err
					}
				}
				_, err = fmt.Fprintf(opts.stdout, "# %d stored\n", total)
				return err
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of messages")
	cmd.Flags().StringVar(&queue, "queue", "", "Only messages of this queue")
	return cmd
}

func withSink(ctx context.Context, cfg config.Config, fn func(context.Context, *deadletter.Sink, *logger.Logger) error) error {
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

	return fn(ctx, sink, log)
}
