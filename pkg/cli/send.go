package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Aleph-Alpha/smallrabbit/pkg/rabbit"
)

func newSendCmd(opts *options) *cobra.Command {
	var req rabbit.SendRequest
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "send [MESSAGE]",
		Short: "Publish a message",
		Long: `Publish a message to a queue, an exchange, or both. Without MESSAGE the
body is read from stdin. With --json the body must be valid JSON and is
sent as application/json.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := messageBody(args, opts.stdin)
			if err != nil {
				return err
			}
			req.Message = body

			if asJSON {
				if !json.Valid(body) {
					return fmt.Errorf("%w: message is not valid JSON", rabbit.ErrConfiguration)
				}
				if req.ContentType == "" {
					req.ContentType = rabbit.JSONContentType
				}
			}

			// Nothing is started before the request is known to be valid.
			if err := req.Validate(); err != nil {
				return err
			}

			cfg, err := opts.config()
			if err != nil {
				return err
			}

			var client *rabbit.Rabbit
			app := newApp(cfg, brokerModules, fx.Populate(&client))
			if err := app.Err(); err != nil {
				return err
			}
			ctx := cmd.Context()
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

			return client.Send(ctx, req)
		},
	}

	cmd.Flags().StringVar(&req.QueueName, "queue", "", "Destination queue")
	cmd.Flags().StringVar(&req.ExchangeName, "exchange", "", "Destination exchange")
	cmd.Flags().StringVar(&req.RoutingKey, "routing-key", "", "Routing key")
	cmd.Flags().StringVar(&req.ExchangeType, "type", rabbit.ExchangeDirect, "Exchange type: direct, topic, fanout or headers")
	cmd.Flags().StringVar(&req.ContentType, "content-type", "", "Content type, the configured one when empty")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Send the body as JSON")

	return cmd
}

func messageBody(args []string, stdin io.Reader) ([]byte, error) {
	if len(args) == 1 && args[0] != "-" {
		return []byte(args[0]), nil
	}
	body, err := io.ReadAll(stdin)
	if err != nil {
		return nil, fmt.Errorf("read message from stdin: %w", err)
	}
	return body, nil
}
