package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	configPath  string
	envFile     string
	verbose     bool
	metricsAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pairforge",
		Short: "pairforge - token-matched refusal dataset generator",
		Long: `pairforge generates safe/harmful prompt pairs that differ by exactly one
token under every configured tokenizer, for studying refusal behaviour in
single-token and multi-token response settings.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.toml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to environment file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")

	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate scenarios with real-time requests",
		Long: `Request candidate pairs one call at a time, validate them against every
tokenizer and append accepted scenarios to the dataset until the target is
reached or max_attempts requests have been made. Re-running resumes from the
checkpoint.`,
		Args: cobra.NoArgs,
		RunE: runGenerate,
	}

	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(newBatchCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newCheckpointCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
