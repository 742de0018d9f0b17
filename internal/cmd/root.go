package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "flagsync",
	Short: "Reconcile feature flags between code and the flag service",
	Long: `flagsync finds every feature flag referenced in a codebase, compares the
result with the flags declared in the flag service, and turns the differences
into a validated, risk-ordered cleanup plan.

Plans are applied dry-run by default. Every change is guarded by consistency
checks before and after the call, and high-risk changes need confirmation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgFile     string
	workspace   string
	logLevel    string
	logFormat   string
	metricsFile string
)

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command with ctx, which is cancelled on
// interrupt.
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.flagsync/config.yaml, then $HOME/.flagsync/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "workspace root to scan (overrides analysis.workspace_root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text, json")
	rootCmd.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile on exit")

	_ = rootCmd.RegisterFlagCompletionFunc("log-level", fixedChoices("debug", "info", "warn", "error"))
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", fixedChoices("text", "json"))
}
