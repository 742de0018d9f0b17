package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/flagsync/internal/approval"
	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/plan"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.Analysis.WorkspaceRoot)
	assert.Equal(t, 10, cfg.Analysis.ConcurrencyLimit)
	assert.Equal(t, int64(1<<20), cfg.Analysis.MaxFileSize)
	assert.True(t, cfg.Analysis.UseCache)
	assert.ElementsMatch(t, DefaultExcludePatterns, cfg.Analysis.ExcludePatterns)
	assert.ElementsMatch(t, DefaultLanguages, cfg.Analysis.Languages)
	assert.Equal(t, 50, cfg.Plan.MaxFlagsPerPlan)
	assert.Equal(t, plan.ToleranceMedium, cfg.Plan.RiskTolerance)
	assert.True(t, cfg.Plan.SafetyChecks.RequireRollback)
	assert.Equal(t, 5*time.Minute, cfg.Confirmation.Timeout)
	assert.Equal(t, []string{"high", "critical"}, cfg.Confirmation.RequireExplicitFor)
	assert.True(t, cfg.Audit.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
analysis:
  workspace_root: /src/app
  languages: [go, python]
  concurrency_limit: 4
  protected_flags: [kill_switch]
plan:
  max_flags_per_plan: 5
  risk_tolerance: high
confirmation:
  interactive: true
  timeout: 30s
remote:
  base_url: https://api.example.com
  project_id: "123"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/src/app", cfg.Analysis.WorkspaceRoot)
	assert.Equal(t, []string{"go", "python"}, cfg.Analysis.Languages)
	assert.Equal(t, 4, cfg.Analysis.ConcurrencyLimit)
	assert.Equal(t, []string{"kill_switch"}, cfg.Analysis.ProtectedFlags)
	assert.Equal(t, 5, cfg.Plan.MaxFlagsPerPlan)
	assert.Equal(t, plan.ToleranceHigh, cfg.Plan.RiskTolerance)
	assert.True(t, cfg.Confirmation.Interactive)
	assert.Equal(t, 30*time.Second, cfg.Confirmation.Timeout)
	assert.Equal(t, "https://api.example.com", cfg.Remote.BaseURL)

	// Unset keys keep their defaults.
	assert.True(t, cfg.Analysis.UseCache)
	assert.Equal(t, 3, cfg.Remote.MaxRetries)
}

func TestLoadEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)
	t.Setenv("FLAGSYNC_REMOTE_TOKEN", "secret")
	t.Setenv("FLAGSYNC_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.Remote.Token)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, log.LevelDebug, cfg.Log().Level)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigRead))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"unknown language", func(c *Config) { c.Analysis.Languages = []string{"go", "cobol"} }, "analysis.languages"},
		{"no languages", func(c *Config) { c.Analysis.Languages = nil }, "analysis.languages"},
		{"zero concurrency", func(c *Config) { c.Analysis.ConcurrencyLimit = 0 }, "analysis.concurrency_limit"},
		{"confidence out of range", func(c *Config) { c.Analysis.MinConfidence = 1.5 }, "analysis.min_confidence"},
		{"zero max flags", func(c *Config) { c.Plan.MaxFlagsPerPlan = 0 }, "plan.max_flags_per_plan"},
		{"bad tolerance", func(c *Config) { c.Plan.RiskTolerance = "reckless" }, "plan.risk_tolerance"},
		{"bad risk level", func(c *Config) { c.Confirmation.RequireExplicitFor = []string{"severe"} }, "confirmation.require_explicit_for"},
		{"zero timeout", func(c *Config) { c.Confirmation.Timeout = 0 }, "confirmation.timeout"},
		{"deep without environment", func(c *Config) { c.Consistency.DeepValidation = true }, "consistency.environment"},
		{"sample rate", func(c *Config) { c.Telemetry.SampleRate = 2 }, "telemetry.sample_rate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".flagsync", "config.yaml")

	cfg := Default()
	cfg.Analysis.ProtectedFlags = []string{"kill_switch"}
	cfg.Plan.RiskTolerance = plan.ToleranceLow
	cfg.Confirmation.Timeout = time.Minute
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"kill_switch"}, loaded.Analysis.ProtectedFlags)
	assert.Equal(t, plan.ToleranceLow, loaded.Plan.RiskTolerance)
	assert.Equal(t, time.Minute, loaded.Confirmation.Timeout)
}

func TestConverters(t *testing.T) {
	cfg := Default()
	cfg.Remote.Token = "tok"
	cfg.Consistency.AutoRollback = true
	cfg.Confirmation.RequireExplicitFor = []string{"critical"}

	ca := cfg.CodeAnalysis()
	assert.Equal(t, cfg.Analysis.ConcurrencyLimit, ca.ConcurrencyLimit)
	assert.Equal(t, cfg.Analysis.Languages, ca.Languages)

	ap := cfg.Approval()
	assert.Equal(t, []drift.RiskLevel{drift.RiskCritical}, ap.RequireExplicitFor)
	gate := approval.NewGate(ap, nil, nil, log.Discard())
	assert.False(t, gate.Requires(drift.RiskHigh))
	assert.True(t, gate.Requires(drift.RiskCritical))

	assert.True(t, cfg.ConsistencyOptions().AutoRollback)
	assert.Equal(t, "tok", cfg.HTTP().Token)
	assert.Equal(t, "v1.2.3", cfg.Tracing("v1.2.3").ServiceVersion)

	assert.Equal(t, "********", cfg.Redacted().Remote.Token)
	assert.Equal(t, "tok", cfg.Remote.Token)
}
