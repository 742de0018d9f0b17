package plan

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/flagsync/internal/drift"
)

// Output formats accepted by Encode.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("1")).
			Bold(true)

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("3"))

	okStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)
)

func riskStyle(r drift.RiskLevel) lipgloss.Style {
	color := "2"
	switch r {
	case drift.RiskMedium:
		color = "3"
	case drift.RiskHigh:
		color = "1"
	case drift.RiskCritical:
		color = "9"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

// RenderPreview renders a human-readable view of the plan: phases in
// execution order, each operation with its risk, then the validation verdict.
func RenderPreview(p *Plan) string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("Cleanup plan "+p.ID) + "\n")
	fmt.Fprintf(&b, "%s %s   %s %d   %s %s   %s %s\n",
		labelStyle.Render("status:"), p.Status,
		labelStyle.Render("operations:"), len(p.Operations),
		labelStyle.Render("overall risk:"), riskStyle(p.RiskAssessment.OverallRisk).Render(string(p.RiskAssessment.OverallRisk)),
		labelStyle.Render("estimated:"), (time.Duration(p.EstimatedDurationMs) * time.Millisecond).String(),
	)
	if p.Degraded {
		b.WriteString(warnStyle.Render("built from a degraded flag snapshot") + "\n")
	}

	if len(p.Operations) == 0 {
		b.WriteString("\nNo operations: codebase and flag service are in sync.\n")
	}

	for i, ph := range p.ExecutionOrder.Phases {
		fmt.Fprintf(&b, "\n%s\n", headerStyle.Render(fmt.Sprintf("Phase %d: %s", i+1, ph.Name)))
		for _, id := range ph.OperationIDs {
			op, ok := p.Operation(id)
			if !ok {
				continue
			}
			fmt.Fprintf(&b, "  %-8s %-10s %s  %s\n",
				op.ID, op.Type, op.FlagKey, riskStyle(op.RiskLevel).Render("["+string(op.RiskLevel)+"]"))
			if op.Reason != "" {
				fmt.Fprintf(&b, "           %s\n", labelStyle.Render(op.Reason))
			}
		}
	}

	for _, r := range p.RiskAssessment.Recommendations {
		fmt.Fprintf(&b, "\n%s %s", labelStyle.Render("note:"), r)
	}
	if len(p.RiskAssessment.Recommendations) > 0 {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	if p.Validation.IsValid {
		b.WriteString(okStyle.Render("✓ plan is valid") + "\n")
	} else {
		b.WriteString(errorStyle.Render("✗ plan is invalid") + "\n")
	}
	for _, e := range p.Validation.Errors {
		fmt.Fprintf(&b, "  %s %s\n", errorStyle.Render("error:"), e)
	}
	for _, w := range p.Validation.Warnings {
		fmt.Fprintf(&b, "  %s %s\n", warnStyle.Render("warning:"), w)
	}
	return b.String()
}

// Encode writes p to w in the given format.
func Encode(w io.Writer, p *Plan, format string) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(p); err != nil {
			return err
		}
		return enc.Close()
	case FormatText, "":
		_, err := io.WriteString(w, RenderPreview(p))
		return err
	default:
		return fmt.Errorf("unknown output format %q (want text, json or yaml)", format)
	}
}
