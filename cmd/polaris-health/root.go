package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/drewbeer/polaris-gslb/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "polaris-health",
	Short: "Pluggable health-check engine",
	Long: `polaris-health probes a set of configured monitors (tcp, http,
external_script) on their own intervals and reports healthy/unhealthy
verdicts. Run it as a daemon with "run", fire every probe once with
"check", or lint a configuration file with "validate".`,
	SilenceUsage: true,
}

// Execute runs the root command. Non-zero process exits for the
// single-shot commands happen inside their RunE.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on the console commands")
}

// loadConfig reads the configuration for a command. An explicit --config
// wins; otherwise the POLARIS_HEALTH_CONFIG environment variable and the
// default path are consulted, in that order.
func loadConfig(ctx context.Context, cmd *cobra.Command) (config.Config, error) {
	if cmd.Flags().Changed("config") {
		return config.Load(ctx, configPath)
	}
	return config.LoadFromEnv(ctx)
}
