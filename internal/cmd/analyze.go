package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/audit"
	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
	"github.com/felixgeelhaar/flagsync/internal/version"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Compare flags in code with flags in the flag service",
	Long: `Classify every flag known to the code or the flag service:

  missing_in_optimizely   used in code, not declared remotely
  orphaned_in_optimizely  declared and active remotely, unused in code
  archived_but_used       archived remotely, still used in code
  active_but_unused       protected flag, active remotely, unused in code
  consistent              everything lines up

Exit codes:
  0 - Analysis complete (or no drift with --fail-on-drift)
  4 - Drift detected (with --fail-on-drift)

Examples:
  flagsync analyze
  flagsync analyze --format sarif --output flagsync.sarif
  flagsync analyze --format json --fail-on-drift`,
	RunE: runAnalyze,
}

var (
	analyzeFormat      string
	analyzeOutput      string
	analyzeFailOnDrift bool
	analyzeNoCache     bool
)

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFormat, "format", "f", "text", "output format: text, json, sarif")
	analyzeCmd.Flags().StringVarP(&analyzeOutput, "output", "o", "", "write the report to a file instead of stdout (sarif)")
	analyzeCmd.Flags().BoolVar(&analyzeFailOnDrift, "fail-on-drift", false, "exit with code 4 when drift is found")
	analyzeCmd.Flags().BoolVar(&analyzeNoCache, "no-cache", false, "ignore the file index")
	_ = analyzeCmd.RegisterFlagCompletionFunc("format", fixedChoices("text", "json", "sarif"))

	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) (err error) {
	switch analyzeFormat {
	case "text", "json", "sarif":
	default:
		return fmt.Errorf("invalid argument %q for --format: want text, json or sarif", analyzeFormat)
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "analyze")
	defer func() { telemetry.End(span, err) }()

	client, err := a.client()
	if err != nil {
		return err
	}

	run, err := a.analyze(ctx, client, !analyzeNoCache)
	if err != nil {
		return err
	}
	analysis := run.analysis
	drifted := analysis.Drifted()

	span.SetAttributes(
		attribute.Int("flags", analysis.Summary.TotalFlags),
		attribute.Int("drifted", len(drifted)),
		attribute.Bool("degraded", analysis.Degraded),
	)

	sink := a.auditLog()
	defer sink.Close() //nolint:errcheck
	sink.Record(audit.NewEvent(audit.EventTypeAnalysis, "analysis complete").
		WithData("summary", analysis.Summary).
		WithData("degraded", analysis.Degraded).
		WithData("partial_scan", run.scan.Partial))

	switch analyzeFormat {
	case "json":
		if err := writeJSON(cmd.OutOrStdout(), analysis); err != nil {
			return err
		}
	case "sarif":
		sarif := analysis.ToSARIF(version.Version)
		if analyzeOutput != "" {
			if err := drift.SaveSARIF(sarif, analyzeOutput); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "SARIF report written to %s\n", analyzeOutput)
		} else if err := writeJSON(cmd.OutOrStdout(), sarif); err != nil {
			return err
		}
	default:
		printAnalysis(cmd, run)
	}

	if analyzeFailOnDrift && analysis.HasDrift() {
		return errors.NewDriftDetectedError(len(drifted))
	}
	return nil
}

func printAnalysis(cmd *cobra.Command, run *analysisRun) {
	out := cmd.OutOrStdout()
	a := run.analysis

	fmt.Fprintln(out, headingStyle.Render("Flag analysis"))
	if a.Degraded {
		fmt.Fprintf(out, "%s %s\n", warnStyle.Render("degraded:"), a.DegradedReason)
	}
	fmt.Fprintln(out)

	for _, d := range a.Drifted() {
		fmt.Fprintf(out, "%s %-24s %s\n",
			severityStyle(d.Severity).Render(fmt.Sprintf("%-6s", d.Severity)),
			string(d.Type), headingStyle.Render(d.FlagKey))
		fmt.Fprintf(out, "       %s\n", dimStyle.Render(d.Description))
		for i, u := range d.Usages {
			if i == 3 {
				fmt.Fprintf(out, "       %s\n", dimStyle.Render(fmt.Sprintf("... and %d more", len(d.Usages)-3)))
				break
			}
			fmt.Fprintf(out, "       %s:%d  %s\n", u.File, u.Line, strings.TrimSpace(u.Context))
		}
	}

	s := a.Summary
	fmt.Fprintln(out)
	fmt.Fprintf(out, "%d flag(s): %d consistent, %d missing, %d orphaned, %d archived but used, %d active but unused\n",
		s.TotalFlags, s.ConsistentFlags, s.MissingFlags, s.OrphanedFlags, s.ArchivedButUsed, s.ActiveButUnused)

	if a.HasDrift() {
		fmt.Fprintln(out, warnStyle.Render("Run 'flagsync plan create' to build a cleanup plan"))
	} else {
		fmt.Fprintln(out, okStyle.Render("✓ no drift detected"))
	}
	printScanSummary(cmd, run.scan)
}
