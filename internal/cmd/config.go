package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/flagsync/internal/config"
	"github.com/felixgeelhaar/flagsync/internal/errors"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create flagsync configuration",
	Long: `Manage flagsync configuration.

Configuration is read from --config, or from ./.flagsync/config.yaml, then
$HOME/.flagsync/config.yaml. Every key can be overridden with a FLAGSYNC_
environment variable, for example FLAGSYNC_REMOTE_TOKEN or
FLAGSYNC_ANALYSIS_CONCURRENCY_LIMIT.

Examples:
  # Show the effective configuration
  flagsync config view

  # Write a default configuration to ./.flagsync/config.yaml
  flagsync config init`,
}

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Display the effective configuration",
	Long:  `Display the configuration after defaults, file and environment are merged. Tokens are redacted.`,
	RunE:  runConfigView,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	RunE:  runConfigInit,
}

var (
	configViewJSON bool
	configForce    bool
)

func init() {
	configViewCmd.Flags().BoolVar(&configViewJSON, "json", false, "output as JSON")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")

	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configInitCmd)
}

func runConfigView(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	cfg := a.cfg.Redacted()
	if configViewJSON {
		return writeJSON(cmd.OutOrStdout(), cfg)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to encode configuration", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = filepath.Join(".flagsync", "config.yaml")
	}

	if _, err := os.Stat(path); err == nil && !configForce {
		return errors.New(errors.ErrCodeConfigInvalid, fmt.Sprintf("%s already exists", path)).
			WithSuggestion("Use --force to overwrite it")
	}

	if err := config.Save(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s wrote %s\n", mark(true), path)
	return nil
}
