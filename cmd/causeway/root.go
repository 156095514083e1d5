package main

import (
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "causeway",
	Short: "Correlation and root-cause analysis engine",
	Long: `causeway ingests normalized operational events (telemetry, security,
cost, governance), correlates them across modules, flags anomalies against
learned baselines, and serves the resulting findings and event graph over a
read-only API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml, /etc/causeway/config.yaml)")
}
