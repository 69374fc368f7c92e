package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/brokerlink/cmd/brokerctl/internal/format"
	"github.com/nfrund/brokerlink/internal/topics"
)

var listOutputFormat string

// topicsListCmd represents the topics list command
var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the built-in topics",
	Long: `List every topic in the built-in catalog with its message and response topics.

Output formats:
  table - Human-readable table format (default)
  json  - Machine-readable JSON format`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		defs := topics.Default().List()
		switch listOutputFormat {
		case "json":
			return format.TopicsJSON(cmd.OutOrStdout(), defs)
		case "table":
			return format.TopicsTable(cmd.OutOrStdout(), defs)
		default:
			return fmt.Errorf("unsupported output format %q, use 'table' or 'json'", listOutputFormat)
		}
	},
}

func init() {
	topicsCmd.AddCommand(topicsListCmd)

	topicsListCmd.Flags().StringVarP(&listOutputFormat, "format", "f", "table", "Output format (table, json)")
}
