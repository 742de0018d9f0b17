package drift

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// SARIF represents a SARIF 2.1.0 report structure
type SARIF struct {
	Version string     `json:"version"`
	Schema  string     `json:"$schema"`
	Runs    []SARIFRun `json:"runs"`
}

// SARIFRun represents a single run in a SARIF report
type SARIFRun struct {
	Tool    SARIFTool     `json:"tool"`
	Results []SARIFResult `json:"results"`
}

// SARIFTool describes the tool that generated the report
type SARIFTool struct {
	Driver SARIFDriver `json:"driver"`
}

// SARIFDriver contains tool metadata
type SARIFDriver struct {
	Name            string      `json:"name"`
	InformationURI  string      `json:"informationUri,omitempty"`
	SemanticVersion string      `json:"semanticVersion,omitempty"`
	Rules           []SARIFRule `json:"rules,omitempty"`
}

// SARIFRule describes one difference type.
type SARIFRule struct {
	ID               string       `json:"id"`
	ShortDescription SARIFMessage `json:"shortDescription"`
}

// SARIFResult represents a single finding
type SARIFResult struct {
	RuleID     string            `json:"ruleId"`
	Level      string            `json:"level"` // "error", "warning", "note"
	Message    SARIFMessage      `json:"message"`
	Locations  []SARIFLocation   `json:"locations,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// SARIFMessage contains the finding message
type SARIFMessage struct {
	Text string `json:"text"`
}

// SARIFLocation describes where the finding occurred
type SARIFLocation struct {
	PhysicalLocation SARIFPhysicalLocation `json:"physicalLocation"`
}

// SARIFPhysicalLocation provides file-level location
type SARIFPhysicalLocation struct {
	ArtifactLocation SARIFArtifactLocation `json:"artifactLocation"`
	Region           *SARIFRegion          `json:"region,omitempty"`
}

// SARIFArtifactLocation identifies the artifact
type SARIFArtifactLocation struct {
	URI string `json:"uri"`
}

// SARIFRegion points at a line.
type SARIFRegion struct {
	StartLine int `json:"startLine"`
}

var ruleDescriptions = map[DifferenceType]string{
	MissingInRemote:  "Flag referenced in code but missing from the flag service",
	OrphanedInRemote: "Active flag not referenced in code",
	ArchivedButUsed:  "Archived flag still referenced in code",
	ActiveButUnused:  "Protected flag not referenced in code",
}

// sarifLevel maps severity high to error, medium to warning and low to note.
func sarifLevel(s Severity) string {
	switch s {
	case SeverityHigh:
		return "error"
	case SeverityMedium:
		return "warning"
	default:
		return "note"
	}
}

// ToSARIF converts the analysis to SARIF. Consistent flags are omitted.
func (a *Analysis) ToSARIF(version string) *SARIF {
	results := []SARIFResult{}
	used := make(map[DifferenceType]bool)

	for _, d := range a.Drifted() {
		used[d.Type] = true
		result := SARIFResult{
			RuleID:  string(d.Type),
			Level:   sarifLevel(d.Severity),
			Message: SARIFMessage{Text: d.Description},
			Properties: map[string]string{
				"flagKey":           d.FlagKey,
				"riskLevel":         string(d.RiskLevel),
				"recommendedAction": string(d.RecommendedAction),
			},
		}
		for _, u := range d.Usages {
			result.Locations = append(result.Locations, SARIFLocation{
				PhysicalLocation: SARIFPhysicalLocation{
					ArtifactLocation: SARIFArtifactLocation{URI: filepath.ToSlash(u.File)},
					Region:           &SARIFRegion{StartLine: u.Line},
				},
			})
		}
		results = append(results, result)
	}

	rules := make([]SARIFRule, 0, len(used))
	for t := range used {
		rules = append(rules, SARIFRule{ID: string(t), ShortDescription: SARIFMessage{Text: ruleDescriptions[t]}})
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })

	return &SARIF{
		Version: "2.1.0",
		Schema:  "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json",
		Runs: []SARIFRun{
			{
				Tool: SARIFTool{
					Driver: SARIFDriver{
						Name:            "flagsync",
						InformationURI:  "https://github.com/felixgeelhaar/flagsync",
						SemanticVersion: version,
						Rules:           rules,
					},
				},
				Results: results,
			},
		},
	}
}

// SaveSARIF writes a SARIF report to disk
func SaveSARIF(sarif *SARIF, path string) error {
	data, err := json.MarshalIndent(sarif, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal SARIF: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write SARIF file: %w", err)
	}

	return nil
}
