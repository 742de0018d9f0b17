package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/flagsync/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the flagsync version",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

var (
	versionVerbose bool
	versionJSON    bool
)

func init() {
	versionCmd.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "include commit, build date and platform")
	versionCmd.Flags().BoolVar(&versionJSON, "json", false, "output as JSON")

	rootCmd.AddCommand(versionCmd)
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := version.GetInfo()
	out := cmd.OutOrStdout()

	switch {
	case versionJSON:
		return writeJSON(out, info)
	case versionVerbose:
		fmt.Fprintln(out, headingStyle.Render("flagsync "+info.Version))
		for _, row := range [][2]string{
			{"commit", info.Commit},
			{"built", info.Date},
			{"go", info.GoVersion},
			{"platform", info.Platform},
		} {
			fmt.Fprintf(out, "  %s %s\n", dimStyle.Render(fmt.Sprintf("%-9s", row[0])), row[1])
		}
		if info.Modified {
			fmt.Fprintf(out, "  %s\n", warnStyle.Render("built from a modified tree"))
		}
	default:
		fmt.Fprintln(out, info.String())
	}
	return nil
}
