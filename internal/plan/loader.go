package plan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

// FileName is the plan file written under the workspace dot-directory.
const FileName = "plan.json"

// DefaultPath returns the plan location for a workspace root.
func DefaultPath(root string) string {
	return filepath.Join(root, ".flagsync", FileName)
}

// LoadPlan reads a Plan from a JSON file
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.New(errors.ErrCodePlanNotFound, fmt.Sprintf("no plan at %s", path)).
				WithSuggestion("Run 'flagsync plan create' first")
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "read plan file", err)
	}

	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.NewFileUnmarshalError(path, "JSON", err)
	}

	if err := p.CheckStructure(); err != nil {
		return nil, errors.Wrap(errors.ErrCodePlanInvalid, "validate plan", err)
	}

	return &p, nil
}

// SavePlan writes a Plan to a JSON file
func SavePlan(p *Plan, path string) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "marshal plan", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "create plan directory", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "write plan file", err)
	}

	return nil
}
