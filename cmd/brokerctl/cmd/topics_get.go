package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/cmd/brokerctl/internal/format"
	"github.com/nfrund/brokerlink/internal/topics"
)

var getOutputFormat string

var topicsGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show one built-in topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		def, ok := topics.Default().Get(args[0])
		if !ok {
			return fmt.Errorf("topic %q not found, see 'brokerctl topics list'", args[0])
		}
		return format.TopicDetails(cmd.OutOrStdout(), def, getOutputFormat)
	},
}

func init() {
	topicsCmd.AddCommand(topicsGetCmd)

	topicsGetCmd.Flags().StringVarP(&getOutputFormat, "format", "f", "text", "Output format (text, json)")
}
