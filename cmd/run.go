package cmd

import (
	"github.com/spf13/cobra"

	"firestige.xyz/shredtap/internal/daemon"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the shred receiver in foreground",
	Long: `Run shredtap in foreground.

The process will:
  1. Load configuration and initialize logging and metrics
  2. Load and start every enabled output plugin (a start failure is fatal)
  3. Bind the shred socket and start receiving
  4. Poll the peer table, if discovery is enabled
  5. Stop on SIGINT/SIGTERM, reload the log level on SIGHUP`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDaemon(configFile, pidFile)
	},
}

var pidFile string

func init() {
	runCmd.Flags().StringVarP(&pidFile, "pidfile", "p", "", "PID file path (empty: none)")
}

func runDaemon(configPath, pidPath string) error {
	d, err := daemon.New(configPath, pidPath)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		return err
	}
	return d.Run()
}
