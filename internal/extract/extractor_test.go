package extract

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/flagsync/internal/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestExtractor(t *testing.T, opts Options) *Extractor {
	t.Helper()
	e, err := NewExtractor(opts)
	require.NoError(t, err)
	return e
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name     string
		flag     string
		accessor bool
		want     float64
	}{
		{"accessor with feature prefix clamps to one", "feature_checkout", true, 1.0},
		{"flag suffix identifier", "my_flag_enabled", false, 0.8},
		{"plain identifier", "new-checkout", false, 0.6},
		{"dotted name is not an identifier", "checkout.v2", false, 0.5},
		{"too short", "ab", false, 0.4},
		{"too long", strings.Repeat("a", 51), false, 0.4},
		{"accessor plain identifier", "checkout", true, 0.9},
		{"naming bonus is case-sensitive", "FEATURE_X", false, 0.6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Confidence(tt.flag, tt.accessor), 1e-9)
		})
	}
}

func TestNewExtractorRejectsUnknownLanguage(t *testing.T) {
	_, err := NewExtractor(Options{Languages: []string{"go", "cobol"}})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExtractUnknownLanguage))
}

func TestNewExtractorRejectsBadConfidence(t *testing.T) {
	_, err := NewExtractor(Options{MinConfidence: 1.5})
	require.Error(t, err)
}

func TestFindKeysExcludesComments(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "main.go", `package main

// feature_a is documented here
/*
   feature_a inside a block comment
*/
func run() {
	/* inline */ if client.IsEnabled("feature_a") {
		go start("feature_b") // feature_a again in a trailing comment
	}
}
`)

	m, err := NewKeyMatcher([]string{"feature_a", "feature_b", "feature_c"})
	require.NoError(t, err)

	usages, err := newTestExtractor(t, Options{}).FindKeys(path, m)
	require.NoError(t, err)

	require.Len(t, usages["feature_a"], 1)
	assert.Equal(t, 8, usages["feature_a"][0].Line)
	assert.Equal(t, `/* inline */ if client.IsEnabled("feature_a") {`, usages["feature_a"][0].Context)
	require.Len(t, usages["feature_b"], 1)
	assert.Equal(t, 9, usages["feature_b"][0].Line)
	assert.Empty(t, usages["feature_c"])
}

func TestFindKeysPythonDocstrings(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "app.py", `"""
Module mentioning feature_a in a docstring.
"""
TEMPLATE = """
feature_a inside an ordinary multi-line string
"""
# feature_a commented
if client.is_feature_enabled("feature_a"):
    pass
`)

	m, err := NewKeyMatcher([]string{"feature_a"})
	require.NoError(t, err)

	usages, err := newTestExtractor(t, Options{}).FindKeys(path, m)
	require.NoError(t, err)
	require.Len(t, usages["feature_a"], 1)
	assert.Equal(t, 8, usages["feature_a"][0].Line)
}

func TestFindKeysWordBoundary(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flags.ts", `const a = isEnabled("checkout");
const b = isEnabled("checkout_v2");
const c = "precheckout";
`)

	m, err := NewKeyMatcher([]string{"checkout", "checkout_v2"})
	require.NoError(t, err)

	usages, err := newTestExtractor(t, Options{}).FindKeys(path, m)
	require.NoError(t, err)
	assert.Len(t, usages["checkout"], 1)
	assert.Len(t, usages["checkout_v2"], 1)
}

func TestFindKeysRegexMetacharacters(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "flags.js", `decide("beta.search")
decide("betaXsearch")
`)

	m, err := NewKeyMatcher([]string{"beta.search"})
	require.NoError(t, err)

	usages, err := newTestExtractor(t, Options{}).FindKeys(path, m)
	require.NoError(t, err)
	require.Len(t, usages["beta.search"], 1)
	assert.Equal(t, 1, usages["beta.search"][0].Line)
}

func TestFindKeysUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "README.md", "feature_a is described here\n")

	m, err := NewKeyMatcher([]string{"feature_a"})
	require.NoError(t, err)

	usages, err := newTestExtractor(t, Options{}).FindKeys(path, m)
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestFindKeysLanguageRestriction(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", `is_enabled("feature_a")`+"\n")

	m, err := NewKeyMatcher([]string{"feature_a"})
	require.NoError(t, err)

	usages, err := newTestExtractor(t, Options{Languages: []string{"go"}}).FindKeys(path, m)
	require.NoError(t, err)
	assert.Empty(t, usages)
}

func TestNewKeyMatcher(t *testing.T) {
	_, err := NewKeyMatcher([]string{"ok", ""})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeExtractEmptyKey))

	m, err := NewKeyMatcher([]string{"b", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, m.Keys())
	assert.Equal(t, []string{"a", "b"}, m.Match(`use(a); use(b)`))
}

func TestExtractReferences(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "src/checkout.ts", `// isFeatureEnabled("feature_commented")
const on = optimizely.isFeatureEnabled("feature_checkout", userId);
const flagKey = "search-v2";
const x = "promo_banner_enabled";
`)

	res, err := newTestExtractor(t, Options{MinConfidence: DefaultMinConfidence}).ExtractReferences(path)
	require.NoError(t, err)

	byFlag := make(map[string]FlagReference)
	for _, ref := range res.References {
		byFlag[ref.Flag] = ref
	}

	assert.NotContains(t, byFlag, "feature_commented")

	checkout, ok := byFlag["feature_checkout"]
	require.True(t, ok)
	assert.Equal(t, KindAccessor, checkout.Pattern)
	assert.Equal(t, 2, checkout.Line)
	assert.Equal(t, TypeScript, checkout.Language)
	assert.InDelta(t, 1.0, checkout.Confidence, 1e-9)
	assert.Equal(t, strings.Index(`const on = optimizely.isFeatureEnabled("feature_checkout", userId);`, "feature_checkout")+1, checkout.Column)

	search, ok := byFlag["search-v2"]
	require.True(t, ok)
	assert.Equal(t, KindAssignment, search.Pattern)

	promo, ok := byFlag["promo_banner_enabled"]
	require.True(t, ok)
	assert.Equal(t, KindConvention, promo.Pattern)
}

func TestExtractReferencesDeduplicatesOverlappingPatterns(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.js", `isEnabled("feature_x")`+"\n")

	res, err := newTestExtractor(t, Options{}).ExtractReferences(path)
	require.NoError(t, err)
	require.Len(t, res.References, 1)
	assert.Equal(t, KindAccessor, res.References[0].Pattern)
}

func TestExtractReferencesConfidenceThreshold(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.py", `name = "new_checkout_enabled"`+"\n")

	res, err := newTestExtractor(t, Options{MinConfidence: 0.7}).ExtractReferences(path)
	require.NoError(t, err)
	assert.Empty(t, res.References)
	assert.Equal(t, 1, res.LowConfidence)
}

func TestExtractReferencesUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.txt", `isEnabled("feature_x")`)

	res, err := newTestExtractor(t, Options{}).ExtractReferences(path)
	require.NoError(t, err)
	assert.Empty(t, res.References)
}

func TestUsageMapMergeThenSort(t *testing.T) {
	m := UsageMap{"a": {{File: "b.go", Line: 2}}}
	m.Merge(UsageMap{"a": {{File: "a.go", Line: 9}, {File: "b.go", Line: 1}}, "z": {{File: "c.go", Line: 1}}})
	m.Sort()

	assert.Equal(t, []string{"a", "z"}, m.Keys())
	assert.Equal(t, []FlagUsage{{File: "a.go", Line: 9}, {File: "b.go", Line: 1}, {File: "b.go", Line: 2}}, m["a"])
	assert.Equal(t, 1, m.Count("z"))
}

func TestLookupAndValidate(t *testing.T) {
	spec, err := Lookup(" Python ")
	require.NoError(t, err)
	assert.Equal(t, HashStyle, spec.Comments)

	assert.Error(t, ValidateLanguages([]string{"rust"}))
}
