package cmd

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/internal/socket"
)

var sendCmd = &cobra.Command{
	Use:   "send TOPICS [CONTENTS]",
	Short: "Send one message and disconnect",
	Long: `Send one message to the broker. TOPICS must be a JSON object; CONTENTS, when
given, must be a JSON object too.

Examples:
  brokerctl send '{"type":"motor","id":3}' '{"speed":2}'
  brokerctl --mock send '{"type":"motor"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		topicsArg, contents, err := messageArgs(args)
		if err != nil {
			return err
		}
		return withConnection(cmd, nil, func(ctx context.Context, conn *socket.Connection) error {
			if _, err := conn.SendMessage(topicsArg, contents, nil, nil); err != nil {
				return err
			}
			slog.Info("Message sent", "url", conn.URL())
			return conn.Close().Wait(ctx)
		})
	},
}

// messageArgs parses TOPICS and the optional CONTENTS argument.
func messageArgs(args []string) (topicsArg, contents any, err error) {
	if topicsArg, err = parseJSONArg("TOPICS", args[0]); err != nil {
		return nil, nil, err
	}
	if len(args) > 1 {
		if contents, err = parseJSONArg("CONTENTS", args[1]); err != nil {
			return nil, nil, err
		}
	}
	return topicsArg, contents, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)
}
