package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"firestige.xyz/shredtap/internal/config"
	"firestige.xyz/shredtap/internal/plugin"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Validate the configuration file given with --config without binding any
socket: sections are checked and every enabled output plugin is initialized
with its config block.

Examples:
  shredtap validate -c /etc/shredtap/config.yml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(cmd.OutOrStdout(), configFile)
	},
}

func loadConfig(path string) (*config.GlobalConfig, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

func runValidate(w io.Writer, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}
	runner, err := plugin.Load(cfg.Plugins)
	if err != nil {
		return fmt.Errorf("INVALID: %w", err)
	}

	discovery := "disabled"
	if cfg.Discovery.Enabled {
		discovery = cfg.Discovery.PeersFile
	}
	fmt.Fprintf(w, "VALID: bind %s, %d output(s) %v, discovery %s\n",
		cfg.Receiver.Bind, runner.Len(), runner.Names(), discovery)
	return nil
}
