package extract

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

// Language names a supported source language.
type Language string

const (
	Go         Language = "go"
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Python     Language = "python"
	Java       Language = "java"
	CSharp     Language = "csharp"
	PHP        Language = "php"
)

// PatternKind classifies how a reference pattern recognises a flag.
type PatternKind string

const (
	// KindAccessor matches a call to a known flag accessor, e.g. isFeatureEnabled("x").
	KindAccessor PatternKind = "accessor_call"
	// KindAssignment matches a flag-ish identifier assigned a string literal.
	KindAssignment PatternKind = "assignment"
	// KindConvention matches a string literal that follows flag naming conventions.
	KindConvention PatternKind = "naming_convention"
)

// Pattern is one reference pattern. Capture group 1 is the flag name.
type Pattern struct {
	Kind PatternKind
	re   *regexp.Regexp
}

// LanguageSpec describes how to find flag references in one language.
type LanguageSpec struct {
	Name       Language
	Extensions []string
	Comments   CommentStyle
	Patterns   []Pattern
}

const keyGroup = `([A-Za-z0-9][A-Za-z0-9_.\-]*)`

func accessorPattern(names, quotes string, allowReceiverArg bool) Pattern {
	arg := ""
	if allowReceiverArg {
		arg = `(?:[\w.&$]+\s*,\s*)?`
	}
	return Pattern{
		Kind: KindAccessor,
		re:   regexp.MustCompile(`\b(?:` + names + `)\s*\(\s*` + arg + `[` + quotes + `]` + keyGroup + `[` + quotes + `]`),
	}
}

func assignmentPattern(lhs, op, quotes string) Pattern {
	return Pattern{
		Kind: KindAssignment,
		re:   regexp.MustCompile(lhs + `\s*` + op + `\s*[` + quotes + `]` + keyGroup + `[` + quotes + `]`),
	}
}

func conventionPattern(quotes string) Pattern {
	return Pattern{
		Kind: KindConvention,
		re: regexp.MustCompile(`[` + quotes + `]((?:feature|flag|ff)_[A-Za-z0-9_\-]+|[A-Za-z0-9][A-Za-z0-9_\-]*_(?:flag|feature|enabled))[` +
			quotes + `]`),
	}
}

var (
	jsPatterns = []Pattern{
		accessorPattern(`isFeatureEnabled|isEnabled|decide|useDecision|useFeatureFlag|getFeatureVariable\w*|getFlag|getFeatureFlag|boolVariation|variation`, "\"'`", true),
		assignmentPattern(`\b(?:flag|flagKey|flag_key|featureKey|feature_key|featureFlag|feature)`, `[:=]`, "\"'`"),
		conventionPattern("\"'`"),
	}

	languageTable = map[Language]LanguageSpec{
		Go: {
			Name:       Go,
			Extensions: []string{".go"},
			Comments:   CStyle,
			Patterns: []Pattern{
				accessorPattern(`IsFeatureEnabled|IsEnabled|Decide|GetFeatureVariable\w*|BoolVariation|GetFlag|Enabled`, "\"`", true),
				assignmentPattern(`\b(?:flag|flagKey|FlagKey|featureKey|FeatureKey|Flag)`, `(?::=|=|:)`, "\"`"),
				conventionPattern("\"`"),
			},
		},
		JavaScript: {
			Name:       JavaScript,
			Extensions: []string{".js", ".jsx", ".mjs", ".cjs"},
			Comments:   CStyle,
			Patterns:   jsPatterns,
		},
		TypeScript: {
			Name:       TypeScript,
			Extensions: []string{".ts", ".tsx"},
			Comments:   CStyle,
			Patterns:   jsPatterns,
		},
		Python: {
			Name:       Python,
			Extensions: []string{".py"},
			Comments:   HashStyle,
			Patterns: []Pattern{
				accessorPattern(`is_feature_enabled|is_enabled|decide|get_feature_variable\w*|get_flag|bool_variation`, `"'`, true),
				assignmentPattern(`\b(?:flag|flag_key|feature_key|feature|FLAG_KEY|FEATURE_KEY)`, `=`, `"'`),
				conventionPattern(`"'`),
			},
		},
		Java: {
			Name:       Java,
			Extensions: []string{".java", ".kt"},
			Comments:   CStyle,
			Patterns: []Pattern{
				accessorPattern(`isFeatureEnabled|decide|getFeatureVariable\w*|boolVariation|getFlag|getBooleanValue`, `"`, true),
				assignmentPattern(`\b\w*(?:flag|Flag|FLAG|feature|Feature|FEATURE)\w*`, `=`, `"`),
				conventionPattern(`"`),
			},
		},
		CSharp: {
			Name:       CSharp,
			Extensions: []string{".cs"},
			Comments:   CStyle,
			Patterns: []Pattern{
				accessorPattern(`IsFeatureEnabled|Decide|GetFeatureVariable\w*|BoolVariation|GetFlag|GetBooleanValue`, `"`, true),
				assignmentPattern(`\b\w*(?:flag|Flag|FLAG|feature|Feature|FEATURE)\w*`, `=`, `"`),
				conventionPattern(`"`),
			},
		},
		PHP: {
			Name:       PHP,
			Extensions: []string{".php"},
			Comments:   PHPStyle,
			Patterns: []Pattern{
				accessorPattern(`isFeatureEnabled|decide|getFeatureVariable\w*|getFlag`, `"'`, true),
				assignmentPattern(`\$\w*(?:flag|Flag|feature|Feature)\w*`, `=`, `"'`),
				conventionPattern(`"'`),
			},
		},
	}
)

// KnownLanguages returns the supported language names, sorted.
func KnownLanguages() []string {
	names := make([]string, 0, len(languageTable))
	for name := range languageTable {
		names = append(names, string(name))
	}
	sort.Strings(names)
	return names
}

// Lookup returns the LanguageSpec for a language name. Unknown names are an error so
// a misconfigured language fails fast instead of silently matching nothing.
func Lookup(name string) (LanguageSpec, error) {
	spec, ok := languageTable[Language(strings.ToLower(strings.TrimSpace(name)))]
	if !ok {
		return LanguageSpec{}, errors.NewUnknownLanguageError(name, KnownLanguages())
	}
	return spec, nil
}

// ValidateLanguages checks every name against the language table.
func ValidateLanguages(names []string) error {
	for _, name := range names {
		if _, err := Lookup(name); err != nil {
			return err
		}
	}
	return nil
}

// extensionIndex maps a lowercase file extension to the language that owns it.
type extensionIndex map[string]LanguageSpec

func newExtensionIndex(languages []string) (extensionIndex, error) {
	if len(languages) == 0 {
		languages = KnownLanguages()
	}

	idx := make(extensionIndex)
	for _, name := range languages {
		spec, err := Lookup(name)
		if err != nil {
			return nil, err
		}
		for _, ext := range spec.Extensions {
			idx[ext] = spec
		}
	}
	return idx, nil
}

func (idx extensionIndex) forPath(path string) (LanguageSpec, bool) {
	spec, ok := idx[strings.ToLower(filepath.Ext(path))]
	return spec, ok
}

