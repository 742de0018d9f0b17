package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/flagsync/internal/drift"
)

// RecentChangeWindow flags operations on recently modified flags for review.
const RecentChangeWindow = 7 * 24 * time.Hour

// ValidatePlan checks operations against opts. Errors block execution;
// warnings do not. An empty operation list is always valid.
func ValidatePlan(ops []Operation, opts Options) Validation {
	v := Validation{Errors: []string{}, Warnings: []string{}}
	if len(ops) == 0 {
		v.IsValid = true
		return v
	}

	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	if opts.MaxFlagsPerPlan > 0 && len(ops) > opts.MaxFlagsPerPlan {
		v.Errors = append(v.Errors, fmt.Sprintf("plan has %d operations, exceeding maximum of %d flags per plan",
			len(ops), opts.MaxFlagsPerPlan))
	}

	seen := make(map[string]string, len(ops))
	for _, op := range ops {
		if prev, dup := seen[op.FlagKey]; dup {
			v.Errors = append(v.Errors, fmt.Sprintf("flag %s has more than one operation (%s, %s)", op.FlagKey, prev, op.ID))
			continue
		}
		seen[op.FlagKey] = op.ID
	}

	for _, op := range ops {
		if opts.SafetyChecks.RequireRollback && op.RiskLevel.Rank() >= drift.RiskHigh.Rank() && !op.RollbackInfo.Supported {
			v.Errors = append(v.Errors, fmt.Sprintf("operation %s (%s %s) is %s risk but has no rollback support",
				op.ID, op.Type, op.FlagKey, op.RiskLevel))
		}

		if opts.SafetyChecks.DependencyCheck {
			for _, dep := range op.Dependencies {
				if dep == op.FlagKey {
					continue
				}
				if _, ok := seen[dep]; !ok {
					v.Warnings = append(v.Warnings, fmt.Sprintf("operation %s on %s depends on flag %s which is not part of this plan",
						op.ID, op.FlagKey, dep))
				}
			}
		}

		if opts.SafetyChecks.RecentUsageCheck && op.CurrentFlag != nil && !op.CurrentFlag.UpdatedTime.IsZero() {
			if age := now.Sub(op.CurrentFlag.UpdatedTime); age <= RecentChangeWindow {
				v.Warnings = append(v.Warnings, fmt.Sprintf("flag %s was modified %s ago; review operation %s before executing",
					op.FlagKey, age.Round(time.Hour), op.ID))
			}
		}

		if op.Mutates() && exceedsTolerance(op.RiskLevel, opts.RiskTolerance) {
			msg := fmt.Sprintf("operation %s on %s has %s risk, above the %s risk tolerance",
				op.ID, op.FlagKey, op.RiskLevel, opts.RiskTolerance)
			if opts.RiskTolerance == ToleranceLow {
				v.Errors = append(v.Errors, msg)
			} else {
				v.Warnings = append(v.Warnings, msg)
			}
		}
	}

	if opts.SafetyChecks.DependencyCheck {
		if cycle := dependencyCycle(ops); cycle != "" {
			v.Warnings = append(v.Warnings, "circular flag dependency detected: "+cycle)
		}
	}

	v.IsValid = len(v.Errors) == 0
	return v
}

func exceedsTolerance(r drift.RiskLevel, t RiskTolerance) bool {
	limit := drift.RiskLevel(t)
	if !t.Valid() {
		limit = drift.RiskMedium
	}
	return r.Rank() > limit.Rank()
}

// dependencyCycle returns the first cycle among plan flags as "a -> b -> a",
// or "" when the dependency graph is acyclic.
func dependencyCycle(ops []Operation) string {
	graph := make(map[string][]string, len(ops))
	for _, op := range ops {
		graph[op.FlagKey] = op.Dependencies
	}
	keys := make([]string, 0, len(graph))
	for k := range graph {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	visited := make(map[string]bool)
	onStack := make(map[string]bool)

	var visit func(key string, path []string) string
	visit = func(key string, path []string) string {
		visited[key] = true
		onStack[key] = true
		path = append(path, key)

		for _, dep := range graph[key] {
			if _, inPlan := graph[dep]; !inPlan {
				continue
			}
			if !visited[dep] {
				if c := visit(dep, path); c != "" {
					return c
				}
			} else if onStack[dep] {
				return strings.Join(append(path, dep), " -> ")
			}
		}

		onStack[key] = false
		return ""
	}

	for _, k := range keys {
		if !visited[k] {
			if c := visit(k, nil); c != "" {
				return c
			}
		}
	}
	return ""
}

// CheckStructure verifies a loaded plan is well formed: unique operation IDs,
// known operation types and phases that reference existing operations.
func (p *Plan) CheckStructure() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("plan ID cannot be empty")
	}

	ids := make(map[string]bool, len(p.Operations))
	for i, op := range p.Operations {
		if op.ID == "" {
			return fmt.Errorf("operation at index %d has no ID", i)
		}
		if ids[op.ID] {
			return fmt.Errorf("duplicate operation ID %q at index %d", op.ID, i)
		}
		ids[op.ID] = true

		if strings.TrimSpace(op.FlagKey) == "" {
			return fmt.Errorf("operation %s has no flag key", op.ID)
		}
		switch op.Type {
		case OpArchive, OpEnable, OpNoAction:
		default:
			return fmt.Errorf("operation %s has unknown type %q", op.ID, op.Type)
		}
	}

	scheduled := make(map[string]bool, len(ids))
	for _, ph := range p.ExecutionOrder.Phases {
		for _, id := range ph.OperationIDs {
			if !ids[id] {
				return fmt.Errorf("phase %s references unknown operation %q", ph.Name, id)
			}
			if scheduled[id] {
				return fmt.Errorf("operation %q is scheduled more than once", id)
			}
			scheduled[id] = true
		}
	}
	if len(scheduled) != len(ids) {
		return fmt.Errorf("%d operation(s) are not scheduled in any phase", len(ids)-len(scheduled))
	}
	return nil
}
