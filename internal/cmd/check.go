package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/audit"
	"github.com/felixgeelhaar/flagsync/internal/consistency"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/plan"
	"github.com/felixgeelhaar/flagsync/internal/remote"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run consistency checks for one plan operation",
	Long: `Run the consistency check battery for a single operation of a saved plan
against the live flag service.

Use 'flagsync check pre <operation-id>' before applying an operation by hand.
Use 'flagsync check post <operation-id>' to verify an applied operation.

Exit codes:
  0 - All checks passed
  5 - A check failed`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var checkPreCmd = &cobra.Command{
	Use:   "pre <operation-id>",
	Short: "Check an operation is safe to apply",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, consistency.PhasePre, args[0])
	},
}

var checkPostCmd = &cobra.Command{
	Use:   "post <operation-id>",
	Short: "Check an applied operation landed as intended",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd, consistency.PhasePost, args[0])
	},
}

var checkJSON bool

func init() {
	checkCmd.PersistentFlags().StringVar(&planPath, "plan", "", "plan file (default is <workspace>/.flagsync/plan.json)")
	checkCmd.PersistentFlags().BoolVar(&checkJSON, "json", false, "output the report as JSON")

	rootCmd.AddCommand(checkCmd)
	checkCmd.AddCommand(checkPreCmd)
	checkCmd.AddCommand(checkPostCmd)
}

func runCheck(cmd *cobra.Command, phase consistency.Phase, operationID string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "check."+string(phase))
	defer func() { telemetry.End(span, err) }()
	span.SetAttributes(attribute.String("operation_id", operationID))

	p, err := plan.LoadPlan(a.planFile())
	if err != nil {
		return err
	}
	op, ok := p.Operation(operationID)
	if !ok {
		return errors.New(errors.ErrCodePlanNotFound, fmt.Sprintf("plan %s has no operation %s", p.ID, operationID)).
			WithSuggestion("Run 'flagsync plan show' to list operation IDs")
	}

	client, err := a.client()
	if err != nil {
		return err
	}
	usages, err := a.planUsages(cmd, p)
	if err != nil {
		return err
	}

	in := consistency.Input{
		Plan:      p,
		Operation: *op,
		Usages:    usages[op.FlagKey],
	}
	validator := consistency.NewValidator(client, a.cfg.ConsistencyOptions(), a.metrics, a.logger)

	var report *consistency.Report
	if phase == consistency.PhasePre {
		report = validator.PreCheck(ctx, in)
	} else {
		in.Before = op.CurrentFlag
		in.Result = recordedResult(p, *op)
		report = validator.PostCheck(ctx, in)
	}

	sink := a.auditLog()
	defer sink.Close() //nolint:errcheck
	sink.Record(audit.NewEvent(audit.EventTypeConsistency, "consistency check run").
		WithPlan(p.ID).
		WithOperation(op.ID, op.FlagKey).
		WithData("phase", phase).
		WithData("passed", report.Passed).
		WithData("blocking_issues", report.BlockingIssues).
		WithData("rollback_recommended", report.RollbackRecommended))

	if checkJSON {
		if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
			return err
		}
	} else {
		printConsistency(cmd, report)
	}

	if !report.Passed {
		return report.Err()
	}
	return nil
}

// recordedResult turns the saved outcome of an applied operation into the
// service answer the post checks expect. Dry runs and unapplied operations
// have none.
func recordedResult(p *plan.Plan, op plan.Operation) *remote.KeyResult {
	for _, r := range p.Results {
		if r.OperationID != op.ID || r.DryRun || r.Skipped {
			continue
		}
		return &remote.KeyResult{Key: op.FlagKey, OK: r.Success, Error: r.Error}
	}
	return nil
}

func printConsistency(cmd *cobra.Command, r *consistency.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s checks for %s (%s)\n",
		mark(r.Passed), r.Phase, headingStyle.Render(r.FlagKey), r.OperationID)

	for _, c := range r.Checks {
		fmt.Fprintf(out, "  %s %-32s %s\n", mark(c.Passed), c.CheckID, dimStyle.Render(c.Description))
		for _, issue := range c.Issues {
			style := dimStyle
			if issue.Severity.Blocking() {
				style = failStyle
			} else if issue.Severity == consistency.SeverityMedium {
				style = warnStyle
			}
			fmt.Fprintf(out, "      %s %s\n", style.Render(string(issue.Severity)+":"), issue.Message)
			if issue.Resolution != "" {
				fmt.Fprintf(out, "        %s\n", dimStyle.Render(issue.Resolution))
			}
		}
	}

	fmt.Fprintf(out, "\n%d/%d checks passed, %d blocking issue(s)\n",
		r.TotalChecks-r.FailedChecks, r.TotalChecks, r.BlockingIssues)
	if r.RollbackRecommended {
		fmt.Fprintln(out, warnStyle.Render("Rollback recommended"))
	}
}
