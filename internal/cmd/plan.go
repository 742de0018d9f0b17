package cmd

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"

	"github.com/felixgeelhaar/flagsync/internal/approval"
	"github.com/felixgeelhaar/flagsync/internal/audit"
	"github.com/felixgeelhaar/flagsync/internal/codebase"
	"github.com/felixgeelhaar/flagsync/internal/consistency"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/executor"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/plan"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Create, validate and apply cleanup plans",
	Long: `Manage cleanup plans built from the flag analysis.

Use 'flagsync plan create' to build a plan from the current analysis.
Use 'flagsync plan validate' to re-check a saved plan.
Use 'flagsync plan show' to print a saved plan.
Use 'flagsync plan apply' to run a plan (dry-run unless --apply is given).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var planCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Build a cleanup plan from the current analysis",
	Long: `Analyze the workspace against the flag service and turn every actionable
difference into a risk-ordered cleanup plan:

  orphaned_in_optimizely -> archive
  archived_but_used      -> enable

Operations are grouped into phases from low to high risk. The plan is
validated and saved to .flagsync/plan.json.

A plan is never built from an interrupted scan, since missing usages would
make flags look unused.`,
	RunE: runPlanCreate,
}

var planValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a saved cleanup plan",
	Long: `Re-run plan validation against the plan's options and the current time.

Exit codes:
  0 - Plan is valid
  3 - Plan is invalid`,
	RunE: runPlanValidate,
}

var planShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print a saved cleanup plan",
	RunE:  runPlanShow,
}

var planApplyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a cleanup plan",
	Long: `Run a saved plan phase by phase. For every operation:

  1. pre-operation consistency checks
  2. confirmation for risk levels in confirmation.require_explicit_for
  3. the flag service call (skipped in dry-run)
  4. a confirming read and post-operation consistency checks

Without --apply nothing is written. A failed operation halts the plan unless
--continue-on-failure is set; operations depending on a failed flag are
always skipped.

Examples:
  flagsync plan apply
  flagsync plan apply --apply --auto-rollback`,
	RunE: runPlanApply,
}

var (
	planPath           string
	planMaxFlags       int
	planRiskTolerance  string
	planFormat         string
	planNoCache        bool
	applyWrite         bool
	applyAutoRollback  bool
	applyContinue      bool
	applyNoInteractive bool
)

func init() {
	planCmd.PersistentFlags().StringVar(&planPath, "plan", "", "plan file (default is <workspace>/.flagsync/plan.json)")

	planCreateCmd.Flags().IntVar(&planMaxFlags, "max-flags", 0, "maximum operations per plan (overrides plan.max_flags_per_plan)")
	planCreateCmd.Flags().StringVar(&planRiskTolerance, "risk-tolerance", "", "low, medium or high (overrides plan.risk_tolerance)")
	planCreateCmd.Flags().BoolVar(&planNoCache, "no-cache", false, "ignore the file index")
	planCreateCmd.Flags().StringVarP(&planFormat, "format", "f", "text", "output format: text, json, yaml")

	planShowCmd.Flags().StringVarP(&planFormat, "format", "f", "text", "output format: text, json, yaml")

	formats := fixedChoices("text", "json", "yaml")
	_ = planCreateCmd.RegisterFlagCompletionFunc("format", formats)
	_ = planShowCmd.RegisterFlagCompletionFunc("format", formats)
	_ = planCreateCmd.RegisterFlagCompletionFunc("risk-tolerance", fixedChoices("low", "medium", "high"))

	planApplyCmd.Flags().BoolVar(&applyWrite, "apply", false, "write changes to the flag service (default is dry-run)")
	planApplyCmd.Flags().BoolVar(&applyAutoRollback, "auto-rollback", false, "undo an operation whose post-checks recommend rollback")
	planApplyCmd.Flags().BoolVar(&applyContinue, "continue-on-failure", false, "keep going after a failed operation")
	planApplyCmd.Flags().BoolVar(&applyNoInteractive, "no-interactive", false, "never prompt; unconfirmed high-risk operations are skipped")

	rootCmd.AddCommand(planCmd)
	planCmd.AddCommand(planCreateCmd)
	planCmd.AddCommand(planValidateCmd)
	planCmd.AddCommand(planShowCmd)
	planCmd.AddCommand(planApplyCmd)
}

func (a *app) planFile() string {
	if planPath != "" {
		return planPath
	}
	return plan.DefaultPath(a.root)
}

func runPlanCreate(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "plan.create")
	defer func() { telemetry.End(span, err) }()

	opts := a.cfg.Plan
	if planMaxFlags > 0 {
		opts.MaxFlagsPerPlan = planMaxFlags
	}
	if planRiskTolerance != "" {
		opts.RiskTolerance = plan.RiskTolerance(planRiskTolerance)
	}

	b, err := plan.NewBuilder(opts, a.metrics, a.logger)
	if err != nil {
		return err
	}

	client, err := a.client()
	if err != nil {
		return err
	}

	run, err := a.analyze(ctx, client, !planNoCache)
	if err != nil {
		return err
	}
	if err := refusePartial(run.scan); err != nil {
		return err
	}
	if run.scan.SmartFiltered {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render(
			"warning: smart filtering skipped part of the workspace; review archive operations carefully"))
	}

	p, err := b.Build(ctx, run.analysis)
	if err != nil {
		return err
	}

	path := a.planFile()
	if err := plan.SavePlan(p, path); err != nil {
		return err
	}

	span.SetAttributes(
		attribute.String("plan_id", p.ID),
		attribute.Int("operations", len(p.Operations)),
		attribute.Bool("valid", p.Validation.IsValid),
	)

	sink := a.auditLog()
	defer sink.Close() //nolint:errcheck
	sink.Record(audit.NewEvent(audit.EventTypePlanCreated, "cleanup plan created").
		WithPlan(p.ID).
		WithData("operations", len(p.Operations)).
		WithData("overall_risk", p.RiskAssessment.OverallRisk).
		WithData("valid", p.Validation.IsValid))

	if err := plan.Encode(cmd.OutOrStdout(), p, planFormat); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Plan saved to %s\n", path)

	if !p.Validation.IsValid {
		return errors.NewPlanInvalidError(p.ID, p.Validation.Errors)
	}
	return nil
}

func runPlanValidate(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "plan.validate")
	defer func() { telemetry.End(span, err) }()

	path := a.planFile()
	p, err := plan.LoadPlan(path)
	if err != nil {
		return err
	}

	b, err := plan.NewBuilder(p.Options, a.metrics, a.logger)
	if err != nil {
		return err
	}
	v := b.Validate(ctx, p)
	if err := plan.SavePlan(p, path); err != nil {
		return err
	}

	sink := a.auditLog()
	defer sink.Close() //nolint:errcheck
	sink.Record(audit.NewEvent(audit.EventTypePlanValidated, "cleanup plan validated").
		WithPlan(p.ID).
		WithData("valid", v.IsValid).
		WithData("errors", v.Errors).
		WithData("warnings", v.Warnings))

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s plan %s\n", mark(v.IsValid), p.ID)
	for _, e := range v.Errors {
		fmt.Fprintf(out, "  %s %s\n", failStyle.Render("error:"), e)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(out, "  %s %s\n", warnStyle.Render("warning:"), w)
	}

	if !v.IsValid {
		return errors.NewPlanInvalidError(p.ID, v.Errors)
	}
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	p, err := plan.LoadPlan(a.planFile())
	if err != nil {
		return err
	}
	return plan.Encode(cmd.OutOrStdout(), p, planFormat)
}

func runPlanApply(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := telemetry.StartCommandSpan(cmd.Context(), "plan.apply")
	defer func() { telemetry.End(span, err) }()
	span.SetAttributes(attribute.Bool("dry_run", !applyWrite))

	path := a.planFile()
	p, err := plan.LoadPlan(path)
	if err != nil {
		return err
	}

	// Validation depends on the clock (recent-usage window), so it is redone
	// right before applying.
	b, err := plan.NewBuilder(p.Options, a.metrics, a.logger)
	if err != nil {
		return err
	}
	if v := b.Validate(ctx, p); !v.IsValid {
		return errors.NewPlanInvalidError(p.ID, v.Errors)
	}

	client, err := a.client()
	if err != nil {
		return err
	}

	usages, err := a.planUsages(cmd, p)
	if err != nil {
		return err
	}

	copts := a.cfg.ConsistencyOptions()
	copts.AutoRollback = copts.AutoRollback || applyAutoRollback
	validator := consistency.NewValidator(client, copts, a.metrics, a.logger)

	gate := a.gate(cmd)
	sink := a.auditLog()
	defer sink.Close() //nolint:errcheck

	ex := executor.New(client, validator, gate, sink, executor.Options{
		DryRun:            !applyWrite,
		AutoRollback:      copts.AutoRollback,
		ContinueOnFailure: applyContinue,
	}, a.logger)

	report, execErr := ex.Execute(ctx, p, usages)
	if applyWrite && p.Status != plan.StatusDraft {
		if err := plan.SavePlan(p, path); err != nil {
			a.logger.WithError(err).Error("failed to save plan status", "path", path)
		}
	}
	if execErr != nil {
		return execErr
	}

	span.SetAttributes(
		attribute.String("plan_id", p.ID),
		attribute.String("status", string(report.Status)),
		attribute.Int("failed", report.Failed),
	)

	printReport(cmd, report)
	if sink.Path() != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Audit trail: %s\n", sink.Path())
	}
	return report.Err()
}

// planUsages searches the workspace for the plan's flag keys so the
// consistency checks see current code, not the code at plan time.
func (a *app) planUsages(cmd *cobra.Command, p *plan.Plan) (extract.UsageMap, error) {
	keys := make([]string, 0, len(p.Operations))
	for _, op := range p.Operations {
		keys = append(keys, op.FlagKey)
	}
	sort.Strings(keys)

	an, err := a.analyzer(true)
	if err != nil {
		return nil, err
	}
	res, err := an.FindUsages(cmd.Context(), keys)
	a.progress.Done()
	if err != nil {
		return nil, err
	}
	if err := refusePartial(res); err != nil {
		return nil, err
	}
	return res.FlagUsages, nil
}

// gate builds the confirmation gate. Prompts are only offered on a terminal
// outside CI; otherwise operations that need confirmation are auto-rejected.
func (a *app) gate(cmd *cobra.Command) *approval.Gate {
	cfg := a.cfg.Approval()
	var confirmer approval.Confirmer
	if cfg.Interactive && !applyNoInteractive && approval.ShouldPrompt() {
		confirmer = approval.PromptConfirmer{}
	} else {
		if cfg.Interactive {
			a.logger.Warn("confirmation prompts unavailable; operations needing confirmation will be skipped")
		}
		cfg.Interactive = false
	}
	return approval.NewGate(cfg, confirmer, a.metrics, a.logger)
}

func refusePartial(res codebase.ScanResult) error {
	if !res.Partial {
		return nil
	}
	return errors.New(errors.ErrCodeScanInterrupted, "scan did not complete; refusing to act on partial usages").
		WithSuggestions(
			"Check the scan errors above and re-run",
			"Run 'flagsync cache clear' if the file index is damaged",
		)
}

func printReport(cmd *cobra.Command, r *executor.Report) {
	out := cmd.OutOrStdout()
	title := "Applied plan " + r.PlanID
	if r.DryRun {
		title = "Dry run of plan " + r.PlanID
	}
	fmt.Fprintln(out, headingStyle.Render(title))
	fmt.Fprintln(out)

	for _, res := range r.Results {
		state := mark(res.Success)
		switch {
		case res.Skipped:
			state = dimStyle.Render("-")
		case res.RolledBack:
			state = warnStyle.Render("↺")
		}
		fmt.Fprintf(out, "%s %s %-8s %s", state, res.OperationID, res.Type, headingStyle.Render(res.FlagKey))
		if res.Confirmation != "" && res.Confirmation != string(approval.OutcomeNotRequired) {
			fmt.Fprint(out, dimStyle.Render(" ["+res.Confirmation+"]"))
		}
		fmt.Fprintln(out)
		if res.Error != "" {
			fmt.Fprintf(out, "    %s\n", failStyle.Render(res.Error))
		}
		for _, issue := range res.Issues {
			fmt.Fprintf(out, "    %s\n", dimStyle.Render(issue))
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "%s: %d succeeded, %d failed, %d skipped, %d rolled back (%s)\n",
		r.Status, r.Succeeded, r.Failed, r.Skipped, r.RolledBack, r.EndTime.Sub(r.StartTime).Round(time.Millisecond))
	if r.DryRun {
		fmt.Fprintln(out, dimStyle.Render("No changes were made. Re-run with --apply to write them."))
	}
}
