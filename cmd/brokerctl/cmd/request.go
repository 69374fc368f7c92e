package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/internal/socket"
	"github.com/nfrund/brokerlink/internal/topics"
)

var (
	requestResponse string
	requestTimeout  time.Duration
)

var requestCmd = &cobra.Command{
	Use:   "request TOPICS [CONTENTS]",
	Short: "Send a message and print the first reply",
	Long: `Send a message and wait for the first message on the response topics, which is
printed as JSON.

The response topics default to the catalog response of TOPICS, so built-in broker
requests need no --response:

Examples:
  brokerctl request '{"type":"broker","request":"get_discovery"}'
  brokerctl request '{"type":"motor","id":3}' '{"cmd":"status"}' --response '{"type":"motor","id":3,"status":true}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		topicsArg, contents, err := messageArgs(args)
		if err != nil {
			return err
		}
		responseTopics, err := responseFor(topicsArg)
		if err != nil {
			return err
		}

		return withConnection(cmd, nil, func(ctx context.Context, conn *socket.Connection) error {
			ctx, cancel := context.WithTimeout(ctx, requestTimeout)
			defer cancel()

			reply, err := conn.Request(ctx, topicsArg, contents, responseTopics)
			if err != nil {
				return fmt.Errorf("request: %w", err)
			}
			return printJSON(cmd, reply, true)
		})
	},
}

// responseFor returns --response, or the catalog response of topicsArg.
func responseFor(topicsArg any) (any, error) {
	if requestResponse != "" {
		return parseJSONArg("--response", requestResponse)
	}
	desc, err := topics.From(topicsArg)
	if err != nil {
		return nil, err
	}
	if def, ok := topics.Default().Lookup(desc); ok {
		if resp, ok := def.Response(); ok {
			return resp, nil
		}
	}
	return nil, fmt.Errorf("--response is required: %s has no known response topics", topics.Encode(desc))
}

func init() {
	rootCmd.AddCommand(requestCmd)

	requestCmd.Flags().StringVarP(&requestResponse, "response", "r", "", "Response topics as JSON")
	requestCmd.Flags().DurationVarP(&requestTimeout, "timeout", "t", 5*time.Second, "How long to wait for the reply")
}
