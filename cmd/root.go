// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"github.com/spf13/cobra"

	// Built-in output plugins register themselves.
	_ "firestige.xyz/shredtap/plugins"
)

var (
	// Global flags
	configFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "shredtap",
	Short: "shredtap - Solana shred receiver and fan-out tap",
	Long: `shredtap receives shreds from a UDP socket, decodes their headers and fans
every shred out to a configurable list of output plugins (console, kafka,
nats, store, pcap, fecset). Optionally it watches a gossip peer table until
enough peers with a relay address are known.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (default: built-in defaults and SHREDTAP_* env vars)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}
