package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/index"
	"github.com/felixgeelhaar/flagsync/internal/remote"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the scan cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove the file index",
	Long: `Remove .flagsync/file-index.json so the next scan reads every file.

With --snapshot the saved flag service snapshot used for degraded runs is
removed as well.`,
	RunE: runCacheClear,
}

var cacheClearSnapshot bool

func init() {
	cacheClearCmd.Flags().BoolVar(&cacheClearSnapshot, "snapshot", false, "also remove the saved flag snapshot")

	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	store := index.NewStore(a.root, a.logger)
	if err := store.Clear(); err != nil {
		return err
	}
	a.logger.Info("file index cleared", "path", store.Path())
	fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", mark(true), store.Path())

	if cacheClearSnapshot {
		path := remote.SnapshotPath(a.root)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to remove flag snapshot", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s removed %s\n", mark(true), path)
	}
	return nil
}
