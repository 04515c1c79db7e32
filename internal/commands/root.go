package commands

import (
	"github.com/spf13/cobra"
)

var (
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "quotecache",
	Short: "Market-data ingestion and caching backend",
	Long: `A market-data backend that ingests daily and real-time prices from
external HTTP providers, normalizes them into compact columnar arrays, and
maintains a compressed, change-detected cache in the key-value store.

Features:
• Incremental streaming JSON decode (chunk-boundary safe)
• Provider admission throttling with bounded retry
• Session-phase aware real-time quote field selection
• Change-detected in-memory mirror of users/assets/config
• Compressed per-asset historical blobs and deposit ledgers`,
	Version: "1.0.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
