package approval

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
)

// PromptConfirmer asks on the terminal with a yes/no prompt.
type PromptConfirmer struct{}

// Confirm shows the prompt and returns the answer. The prompt is abandoned
// when ctx ends.
func (PromptConfirmer) Confirm(ctx context.Context, req Request) (bool, error) {
	confirmed := false

	confirm := huh.NewConfirm().
		Title(fmt.Sprintf("%s flag %s (%s risk)?", req.Action, req.FlagKey, req.RiskLevel)).
		Description(req.Reason).
		Affirmative("Apply").
		Negative("Skip").
		Value(&confirmed)

	form := huh.NewForm(huh.NewGroup(confirm))

	if err := form.RunWithContext(ctx); err != nil {
		return false, fmt.Errorf("prompt failed: %w", err)
	}

	return confirmed, nil
}

// ciVariables are set by the CI systems flagsync is commonly run under.
var ciVariables = []string{"CI", "GITHUB_ACTIONS", "GITLAB_CI", "JENKINS_URL", "BUILDKITE"}

// ShouldPrompt reports whether a PromptConfirmer can be used. It is false
// under CI and whenever stdin is not a terminal.
func ShouldPrompt() bool {
	for _, name := range ciVariables {
		if os.Getenv(name) != "" {
			return false
		}
	}
	return stdinIsTerminal()
}

func stdinIsTerminal() bool {
	info, err := os.Stdin.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
