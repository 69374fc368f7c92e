package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/internal/app"
	"github.com/nfrund/brokerlink/internal/listeners"
	"github.com/nfrund/brokerlink/internal/socket"
)

var (
	listenCount     int
	listenSubscribe bool
)

var listenCmd = &cobra.Command{
	Use:   "listen TOPICS",
	Short: "Print every message addressed to TOPICS",
	Long: `Print the contents of every message addressed to TOPICS, one JSON line each,
until interrupted or --count messages have arrived.

With --subscribe the broker is also asked to forward matching messages.
If the connection drops, brokerctl asks on the terminal whether to reconnect.

Examples:
  brokerctl listen '{"type":"motor","id":3}'
  brokerctl listen '{"type":"sensor"}' --subscribe --count 10`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		topicsArg, err := parseJSONArg("TOPICS", args[0])
		if err != nil {
			return err
		}

		prompter := newTerminalPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
		opts := []app.Option{app.WithConnectionOptions(socket.WithReconnectPrompt(prompter))}

		return withConnection(cmd, opts, func(ctx context.Context, conn *socket.Connection) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			received := make(chan any, 64)
			cb := func(contents any) {
				select {
				case received <- contents:
				case <-ctx.Done():
				}
			}

			var stopListening listeners.Deregister
			if listenSubscribe {
				stopListening, err = conn.Subscribe(topicsArg, cb)
			} else {
				stopListening, err = conn.OnMessage(topicsArg, cb)
			}
			if err != nil {
				return err
			}
			defer stopListening()
			slog.Info("Listening", "url", conn.URL(), "topics", args[0])

			for n := 0; listenCount <= 0 || n < listenCount; n++ {
				select {
				case contents := <-received:
					if err := printJSON(cmd, contents, false); err != nil {
						return err
					}
				case <-ctx.Done():
					return nil
				}
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)

	listenCmd.Flags().IntVarP(&listenCount, "count", "n", 0, "Exit after this many messages (0 means never)")
	listenCmd.Flags().BoolVar(&listenSubscribe, "subscribe", false, "Ask the broker to forward matching messages")
}
