// Package config handles flagsync configuration using Viper.
//
// Values come from, in increasing priority: built-in defaults, the config
// file (.flagsync/config.yaml in the workspace, then in $HOME) and
// FLAGSYNC_* environment variables (FLAGSYNC_REMOTE_TOKEN, ...).
package config

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/flagsync/internal/approval"
	"github.com/felixgeelhaar/flagsync/internal/codebase"
	"github.com/felixgeelhaar/flagsync/internal/consistency"
	"github.com/felixgeelhaar/flagsync/internal/drift"
	"github.com/felixgeelhaar/flagsync/internal/errors"
	"github.com/felixgeelhaar/flagsync/internal/extract"
	"github.com/felixgeelhaar/flagsync/internal/log"
	"github.com/felixgeelhaar/flagsync/internal/plan"
	"github.com/felixgeelhaar/flagsync/internal/remote"
	"github.com/felixgeelhaar/flagsync/internal/telemetry"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "FLAGSYNC"

// Config holds the flagsync configuration.
type Config struct {
	Analysis     AnalysisConfig     `mapstructure:"analysis" yaml:"analysis"`
	Plan         plan.Options       `mapstructure:"plan" yaml:"plan"`
	Confirmation ConfirmationConfig `mapstructure:"confirmation" yaml:"confirmation"`
	Consistency  ConsistencyConfig  `mapstructure:"consistency" yaml:"consistency"`
	Remote       RemoteConfig       `mapstructure:"remote" yaml:"remote"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry" yaml:"telemetry"`
	Metrics      MetricsConfig      `mapstructure:"metrics" yaml:"metrics"`
	Audit        AuditConfig        `mapstructure:"audit" yaml:"audit"`
}

// AnalysisConfig controls the codebase scan.
type AnalysisConfig struct {
	WorkspaceRoot        string   `mapstructure:"workspace_root" yaml:"workspace_root"`
	ExcludePatterns      []string `mapstructure:"exclude_patterns" yaml:"exclude_patterns"`
	IncludePatterns      []string `mapstructure:"include_patterns" yaml:"include_patterns,omitempty"`
	Languages            []string `mapstructure:"languages" yaml:"languages"`
	ConcurrencyLimit     int      `mapstructure:"concurrency_limit" yaml:"concurrency_limit"`
	MaxFileSize          int64    `mapstructure:"max_file_size" yaml:"max_file_size"`
	UseCache             bool     `mapstructure:"use_cache" yaml:"use_cache"`
	SmartFilterThreshold int      `mapstructure:"smart_filter_threshold" yaml:"smart_filter_threshold"`
	MinConfidence        float64  `mapstructure:"min_confidence" yaml:"min_confidence"`
	// ProtectedFlags are never proposed for archival.
	ProtectedFlags []string `mapstructure:"protected_flags" yaml:"protected_flags,omitempty"`
}

// ConfirmationConfig controls the confirmation gate.
type ConfirmationConfig struct {
	Interactive        bool          `mapstructure:"interactive" yaml:"interactive"`
	RequireExplicitFor []string      `mapstructure:"require_explicit_for" yaml:"require_explicit_for"`
	Timeout            time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ConsistencyConfig controls the pre and post operation checks.
type ConsistencyConfig struct {
	DeepValidation bool   `mapstructure:"deep_validation" yaml:"deep_validation"`
	Environment    string `mapstructure:"environment" yaml:"environment,omitempty"`
	AutoRollback   bool   `mapstructure:"auto_rollback" yaml:"auto_rollback"`
}

// RemoteConfig locates the flag service.
type RemoteConfig struct {
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url,omitempty"`
	ProjectID  string        `mapstructure:"project_id" yaml:"project_id,omitempty"`
	Token      string        `mapstructure:"token" yaml:"token,omitempty"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	// FlagsFile reads flags from a JSON file instead of the service.
	FlagsFile string `mapstructure:"flags_file" yaml:"flags_file,omitempty"`
	// SnapshotMaxAge bounds how old a fallback snapshot may be. Zero
	// accepts any saved snapshot.
	SnapshotMaxAge time.Duration `mapstructure:"snapshot_max_age" yaml:"snapshot_max_age"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Enabled    bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint   string  `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	Insecure   bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	// Headers go to the collector with every export.
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	TextfilePath string `mapstructure:"textfile_path" yaml:"textfile_path,omitempty"`
}

// AuditConfig controls the JSONL audit trail.
type AuditConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultExcludePatterns skip dependency, build and state directories.
var DefaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/.flagsync/**",
}

// DefaultLanguages are scanned when none are configured.
var DefaultLanguages = []string{"go", "typescript", "javascript", "python", "java", "csharp", "php"}

// Load reads configuration from file and environment. An empty path searches
// ./.flagsync and then ~/.flagsync for config.yaml; a missing file there is
// fine, a missing explicit path is not.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(filepath.Join(".", ".flagsync"))
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".flagsync"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrCodeConfigRead, "failed to read configuration", err).
				WithSuggestion("Check the YAML syntax of the config file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode configuration", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg) // defaults always decode
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("analysis.workspace_root", ".")
	v.SetDefault("analysis.exclude_patterns", DefaultExcludePatterns)
	v.SetDefault("analysis.include_patterns", []string{})
	v.SetDefault("analysis.languages", DefaultLanguages)
	v.SetDefault("analysis.concurrency_limit", codebase.DefaultConcurrency)
	v.SetDefault("analysis.max_file_size", 1<<20)
	v.SetDefault("analysis.use_cache", true)
	v.SetDefault("analysis.smart_filter_threshold", 1000)
	v.SetDefault("analysis.min_confidence", extract.DefaultMinConfidence)
	v.SetDefault("analysis.protected_flags", []string{})

	po := plan.DefaultOptions()
	v.SetDefault("plan.max_flags_per_plan", po.MaxFlagsPerPlan)
	v.SetDefault("plan.risk_tolerance", string(po.RiskTolerance))
	v.SetDefault("plan.enable_preview", po.EnablePreview)
	v.SetDefault("plan.safety_checks.dependency_check", po.SafetyChecks.DependencyCheck)
	v.SetDefault("plan.safety_checks.recent_usage_check", po.SafetyChecks.RecentUsageCheck)
	v.SetDefault("plan.safety_checks.require_rollback", po.SafetyChecks.RequireRollback)

	v.SetDefault("confirmation.interactive", false)
	v.SetDefault("confirmation.require_explicit_for", []string{string(drift.RiskHigh), string(drift.RiskCritical)})
	v.SetDefault("confirmation.timeout", approval.DefaultTimeout)

	v.SetDefault("consistency.deep_validation", false)
	v.SetDefault("consistency.environment", "")
	v.SetDefault("consistency.auto_rollback", false)

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.project_id", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("remote.max_retries", 3)
	v.SetDefault("remote.flags_file", "")
	v.SetDefault("remote.snapshot_max_age", 24*time.Hour)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.insecure", false)
	v.SetDefault("telemetry.sample_rate", 1.0)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.textfile_path", "")

	v.SetDefault("audit.enabled", true)
}

// Validate rejects values the pipeline cannot run with.
func (c *Config) Validate() error {
	a := c.Analysis
	if len(a.Languages) == 0 {
		return errors.NewConfigInvalidError("analysis.languages", "at least one language is required")
	}
	for _, lang := range a.Languages {
		if _, err := extract.Lookup(lang); err != nil {
			return errors.NewConfigInvalidError("analysis.languages",
				fmt.Sprintf("unknown language %q (known: %s)", lang, strings.Join(extract.KnownLanguages(), ", ")))
		}
	}
	if a.ConcurrencyLimit < 1 {
		return errors.NewConfigInvalidError("analysis.concurrency_limit",
			fmt.Sprintf("must be at least 1, got %d", a.ConcurrencyLimit))
	}
	if a.MaxFileSize < 0 {
		return errors.NewConfigInvalidError("analysis.max_file_size", "must not be negative")
	}
	if a.MinConfidence < 0 || a.MinConfidence > 1 {
		return errors.NewConfigInvalidError("analysis.min_confidence",
			fmt.Sprintf("must be between 0 and 1, got %g", a.MinConfidence))
	}

	if c.Plan.MaxFlagsPerPlan < 1 {
		return errors.NewConfigInvalidError("plan.max_flags_per_plan",
			fmt.Sprintf("must be at least 1, got %d", c.Plan.MaxFlagsPerPlan))
	}
	if !c.Plan.RiskTolerance.Valid() {
		return errors.NewConfigInvalidError("plan.risk_tolerance",
			fmt.Sprintf("must be low, medium or high, got %q", c.Plan.RiskTolerance))
	}

	for _, r := range c.Confirmation.RequireExplicitFor {
		switch drift.RiskLevel(r) {
		case drift.RiskLow, drift.RiskMedium, drift.RiskHigh, drift.RiskCritical:
		default:
			return errors.NewConfigInvalidError("confirmation.require_explicit_for",
				fmt.Sprintf("unknown risk level %q", r))
		}
	}
	if c.Confirmation.Timeout <= 0 {
		return errors.NewConfigInvalidError("confirmation.timeout", "must be positive")
	}

	if c.Consistency.DeepValidation && c.Consistency.Environment == "" {
		return errors.NewConfigInvalidError("consistency.environment", "required when deep_validation is enabled")
	}

	if c.Remote.MaxRetries < 0 {
		return errors.NewConfigInvalidError("remote.max_retries", "must not be negative")
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return errors.NewConfigInvalidError("telemetry.sample_rate",
			fmt.Sprintf("must be between 0 and 1, got %g", c.Telemetry.SampleRate))
	}
	return nil
}

// Save writes cfg as YAML. The file may hold a token, so it is private.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to encode configuration", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to create config directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, fmt.Sprintf("failed to write %s", path), err)
	}
	return nil
}

const redacted = "********"

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Remote.Token != "" {
		cp.Remote.Token = redacted
	}
	if len(cp.Telemetry.Headers) > 0 {
		cp.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k := range c.Telemetry.Headers {
			cp.Telemetry.Headers[k] = redacted
		}
	}
	return &cp
}

// CodeAnalysis returns the scan configuration.
func (c *Config) CodeAnalysis() codebase.Config {
	a := c.Analysis
	return codebase.Config{
		WorkspaceRoot:        a.WorkspaceRoot,
		ExcludePatterns:      a.ExcludePatterns,
		IncludePatterns:      a.IncludePatterns,
		Languages:            a.Languages,
		ConcurrencyLimit:     a.ConcurrencyLimit,
		MaxFileSize:          a.MaxFileSize,
		UseCache:             a.UseCache,
		SmartFilterThreshold: a.SmartFilterThreshold,
		MinConfidence:        a.MinConfidence,
	}
}

// Approval returns the confirmation gate configuration.
func (c *Config) Approval() approval.Config {
	levels := make([]drift.RiskLevel, 0, len(c.Confirmation.RequireExplicitFor))
	for _, r := range c.Confirmation.RequireExplicitFor {
		levels = append(levels, drift.RiskLevel(r))
	}
	return approval.Config{
		Interactive:        c.Confirmation.Interactive,
		RequireExplicitFor: levels,
		Timeout:            c.Confirmation.Timeout,
	}
}

// ConsistencyOptions returns the validator options.
func (c *Config) ConsistencyOptions() consistency.Options {
	opts := consistency.DefaultOptions()
	opts.DeepValidation = c.Consistency.DeepValidation
	opts.Environment = c.Consistency.Environment
	opts.AutoRollback = c.Consistency.AutoRollback
	return opts
}

// HTTP returns the flag service client configuration.
func (c *Config) HTTP() remote.HTTPConfig {
	return remote.HTTPConfig{
		BaseURL:    c.Remote.BaseURL,
		ProjectID:  c.Remote.ProjectID,
		Token:      c.Remote.Token,
		Timeout:    c.Remote.Timeout,
		MaxRetries: c.Remote.MaxRetries,
	}
}

// Log returns the logger configuration.
func (c *Config) Log() log.Config {
	cfg := log.DefaultConfig()
	cfg.Level = log.ParseLevel(c.Logging.Level)
	cfg.Format = log.ParseFormat(c.Logging.Format)
	return cfg
}

// Tracing returns the tracer configuration.
func (c *Config) Tracing(version string) telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = version
	cfg.Enabled = c.Telemetry.Enabled
	cfg.Endpoint = c.Telemetry.Endpoint
	cfg.Insecure = c.Telemetry.Insecure
	cfg.SampleRate = c.Telemetry.SampleRate
	cfg.Headers = c.Telemetry.Headers
	if ci := os.Getenv("CI"); ci != "" {
		cfg.Environment = "ci"
	}
	return cfg
}
