// Package cmd contains the shelfmate CLI commands.
package cmd

import (
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "shelfmate",
	Short: "Shelfmate - conversational book recommendations",
	Long: `Shelfmate is a book recommendation service. It classifies each chat
message, retrieves matching books through a tiered waterfall (local
catalog, external metadata sources, semantic search, keyword fallback)
and explains its picks in a configurable persona voice.

Run "shelfmate serve" to start the HTTP API, or "shelfmate ask" to ask
a single question from the terminal.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"config file (default ~/.shelfmate/config.yaml)")
}
