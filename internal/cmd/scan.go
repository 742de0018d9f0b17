package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/codebase"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Find flag references in the workspace",
	Long: `Walk the workspace and report feature flag references.

Without --keys, flag names are discovered through each language's flag
evaluation patterns and filtered by analysis.min_confidence. With --keys, the
workspace is searched for exact occurrences of the given keys; those results
are cached in .flagsync/file-index.json.

Examples:
  flagsync scan
  flagsync scan --keys new_checkout,dark_mode --json
  flagsync scan --no-cache`,
	RunE: runScan,
}

var (
	scanKeys    []string
	scanNoCache bool
	scanJSON    bool
)

func init() {
	scanCmd.Flags().StringSliceVar(&scanKeys, "keys", nil, "search for these exact flag keys")
	scanCmd.Flags().BoolVar(&scanNoCache, "no-cache", false, "ignore the file index")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "output the scan result as JSON")

	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "scan")
	defer func() { telemetry.End(span, err) }()
	span.SetAttributes(
		attribute.String("workspace", a.root),
		attribute.Int("keys", len(scanKeys)),
	)

	an, err := a.analyzer(!scanNoCache)
	if err != nil {
		return err
	}

	var res codebase.ScanResult
	if len(scanKeys) > 0 {
		res, err = an.FindUsages(ctx, scanKeys)
	} else {
		res, err = an.Scan(ctx)
	}
	a.progress.Done()
	if err != nil {
		return err
	}

	if scanJSON {
		return writeJSON(cmd.OutOrStdout(), res)
	}

	out := cmd.OutOrStdout()
	if len(scanKeys) > 0 {
		for _, key := range res.FlagUsages.Keys() {
			usages := res.FlagUsages[key]
			fmt.Fprintf(out, "%s %s\n", headingStyle.Render(key), dimStyle.Render(fmt.Sprintf("(%d)", len(usages))))
			for _, u := range usages {
				fmt.Fprintf(out, "  %s:%d  %s\n", u.File, u.Line, strings.TrimSpace(u.Context))
			}
		}
	} else {
		for _, r := range res.FlagReferences {
			fmt.Fprintf(out, "%s:%d:%d  %s %s\n", r.File, r.Line, r.Column,
				headingStyle.Render(r.Flag), dimStyle.Render(fmt.Sprintf("%.2f", r.Confidence)))
		}
	}

	printScanSummary(cmd, res)
	return nil
}

func printScanSummary(cmd *cobra.Command, res codebase.ScanResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s %d/%d files, %d reference(s), %d key(s) in %dms",
		mark(!res.Partial), res.ProcessedFiles, res.TotalFiles,
		len(res.FlagReferences), len(res.FlagUsages), res.ProcessingTimeMs)
	if res.CacheUsed {
		fmt.Fprint(out, dimStyle.Render(" (cached)"))
	}
	fmt.Fprintln(out)

	for _, w := range res.Warnings {
		fmt.Fprintf(out, "  %s %s\n", warnStyle.Render("warning:"), w)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  %s %s\n", failStyle.Render("error:"), e)
	}
	if res.Partial {
		fmt.Fprintf(out, "  %s\n", failStyle.Render("scan incomplete; results are partial"))
	}
}
