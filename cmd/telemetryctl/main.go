// Command telemetryctl drives a telemetry kit client from the shell: record
// and flush events, inspect the queue, refresh and print remote data.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	telemetrykit "github.com/c0deZ3R0/go-telemetry-kit"
	"github.com/c0deZ3R0/go-telemetry-kit/config"
	"github.com/c0deZ3R0/go-telemetry-kit/logging"
	"github.com/c0deZ3R0/go-telemetry-kit/platform"
)

var (
	configPath string
	dbPath     string
	jsonOutput bool
	locale     string
	appVersion string
	verbose    bool

	cfg    *config.Config
	client *telemetrykit.Client
)

func defaultConfigPath() string {
	if p := os.Getenv("TELEMETRYKIT_CONFIG"); p != "" {
		return p
	}
	return ""
}

var rootCmd = &cobra.Command{
	Use:           "telemetryctl",
	Short:         "Inspect and drive a telemetry kit client",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if dbPath != "" {
			cfg.DatabasePath = dbPath
		}
		if cmd.Annotations["client"] != "true" {
			return nil
		}
		return openClient(cmd.Context())
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if client == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return client.Close(ctx)
	},
}

// needsClient marks a command that runs against an open client.
func needsClient(cmd *cobra.Command) *cobra.Command {
	if cmd.Annotations == nil {
		cmd.Annotations = map[string]string{}
	}
	cmd.Annotations["client"] = "true"
	return cmd
}

func openClient(ctx context.Context) error {
	logCfg := cfg.Log
	if verbose {
		logCfg.Level = "debug"
	} else if os.Getenv("LOG_LEVEL") == "" {
		logCfg.Level = "warn"
	}
	env := platform.NewStatic(platform.StaticOptions{
		Locale:         locale,
		AppVersion:     appVersion,
		PackageName:    "telemetryctl",
		ConnectionType: "wifi",
	}).Environment(cfg.DeviceFamily)

	var err error
	client, err = telemetrykit.New(ctx, *cfg,
		telemetrykit.WithLogger(logging.NewLoggerWithWriter(logCfg, os.Stderr)),
		telemetrykit.WithEnvironment(env),
	)
	if err != nil {
		return fmt.Errorf("open client: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "config file (yaml, json or env)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path, overrides database_path")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().StringVar(&locale, "locale", "en-US", "locale reported to the backends")
	rootCmd.PersistentFlags().StringVar(&appVersion, "app-version", "1.0.0", "app version reported to the backends")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")

	rootCmd.AddCommand(needsClient(recordCmd))
	rootCmd.AddCommand(needsClient(flushCmd))
	rootCmd.AddCommand(needsClient(queueCmd))
	rootCmd.AddCommand(needsClient(refreshCmd))
	rootCmd.AddCommand(needsClient(payloadsCmd))
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
