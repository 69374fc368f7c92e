package cmd

import (
	"github.com/spf13/cobra"
)

// topicsCmd represents the topics command
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Explore topic descriptors and the built-in catalog",
	Long: `The topics command works offline: it shows the catalog of built-in broker topics
and the canonical encoding listeners are keyed by.

Available subcommands:
  list      List the built-in topics
  get       Show one built-in topic
  encode    Print the canonical encoding of a topic descriptor

Examples:
  brokerctl topics list
  brokerctl topics get broker.discovery
  brokerctl topics encode '{"b":1,"a":[5,10]}'

Use "brokerctl topics [command] --help" for more information about a specific command.`,
}

func init() {
	rootCmd.AddCommand(topicsCmd)
}
