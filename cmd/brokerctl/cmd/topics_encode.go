package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/internal/topics"
)

var topicsEncodeCmd = &cobra.Command{
	Use:   "encode TOPICS...",
	Short: "Print the canonical encoding of topic descriptors",
	Long: `Print the canonical encoding of each JSON topic descriptor, one per line.
Descriptors that address the same listeners print identically.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, arg := range args {
			v, err := parseJSONArg("TOPICS", arg)
			if err != nil {
				return err
			}
			desc, err := topics.From(v)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), topics.Encode(desc))
		}
		return nil
	},
}

func init() {
	topicsCmd.AddCommand(topicsEncodeCmd)
}
