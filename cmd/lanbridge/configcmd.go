package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Validate and print the configuration after merging defaults, the config file,
LANBRIDGE_* environment variables and flags.

Examples:
  lanbridge config
  LANBRIDGE_DEVICE_MTU=1280 lanbridge config -c lanbridge.yaml`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}
