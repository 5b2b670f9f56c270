package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-telemetry-kit/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long:  "Print the configuration after defaults, file and TELEMETRYKIT_* environment overrides are applied.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(cfg)
		}
		out, err := config.Marshal(*cfg)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}
