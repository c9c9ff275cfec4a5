// Package config loads and validates run configuration. It supports
// XDG config paths, project-level overrides, and environment
// variables; unknown keys in a config file are rejected at load so a
// typo never silently falls back to a default.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every execution knob for a run.
type Config struct {
	// MaxCodingIterations caps the inner loop per issue.
	MaxCodingIterations int `mapstructure:"max_coding_iterations"`
	// MaxAdvisorInvocations caps the middle loop per issue.
	MaxAdvisorInvocations int `mapstructure:"max_advisor_invocations"`
	// MaxReplans caps the outer loop per build.
	MaxReplans int `mapstructure:"max_replans"`
	// MaxReviewIterations caps the architect/tech-lead review loop.
	MaxReviewIterations int `mapstructure:"max_review_iterations"`
	// MaxVerifyFixCycles caps the post-verify fix loop.
	MaxVerifyFixCycles int `mapstructure:"max_verify_fix_cycles"`

	// EnableAdvisor toggles the issue advisor; disabled, exhaustion
	// escalates immediately.
	EnableAdvisor bool `mapstructure:"enable_advisor"`
	// EnableReplanning toggles the replanner; disabled, escalations
	// become unrecoverable.
	EnableReplanning bool `mapstructure:"enable_replanning"`
	// EnableLearning toggles the shared memory store.
	EnableLearning bool `mapstructure:"enable_learning"`

	// AgentTimeoutSeconds caps a single agent invocation.
	AgentTimeoutSeconds int `mapstructure:"agent_timeout_seconds"`
	// AgentMaxTurns caps tool-use turns per invocation.
	AgentMaxTurns int `mapstructure:"agent_max_turns"`
	// PermissionMode is forwarded to the agent runtime; empty inherits.
	PermissionMode string `mapstructure:"permission_mode"`
	// Runtime selects the backend family: cli, api, or default.
	Runtime string `mapstructure:"runtime"`
	// Models maps role names (plus "default") to model identifiers.
	Models map[string]string `mapstructure:"models"`

	// ConcurrencyCap bounds parallel issues per level; 0 is unbounded.
	ConcurrencyCap int `mapstructure:"concurrency_cap"`
	// RetainBranches keeps merged issue branches after cleanup.
	RetainBranches bool `mapstructure:"retain_branches"`

	// Anthropic holds API credentials and Bedrock routing.
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// AnthropicConfig holds Anthropic API settings for the api runtime.
type AnthropicConfig struct {
	// APIKey overrides the ANTHROPIC_API_KEY env var.
	APIKey string `mapstructure:"api_key"`
	// UseBedrock routes calls through AWS Bedrock.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is an optional shared-config profile.
	AWSProfile string `mapstructure:"aws_profile"`
}

// Runtime families.
const (
	RuntimeDefault = "default"
	RuntimeCLI     = "cli"
	RuntimeAPI     = "api"
)

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		MaxCodingIterations:   5,
		MaxAdvisorInvocations: 2,
		MaxReplans:            2,
		MaxReviewIterations:   1,
		MaxVerifyFixCycles:    1,
		EnableAdvisor:         true,
		EnableReplanning:      true,
		EnableLearning:        false,
		AgentTimeoutSeconds:   2700,
		AgentMaxTurns:         150,
		PermissionMode:        "",
		Runtime:               RuntimeDefault,
		Models:                map[string]string{},
		ConcurrencyCap:        0,
		RetainBranches:        false,
	}
}

// ModelFor resolves the model for a role: models.<role> over
// models.default over empty (the runtime's own default).
func (c *Config) ModelFor(role string) string {
	if m, ok := c.Models[role]; ok && m != "" {
		return m
	}
	return c.Models["default"]
}

// AgentTimeout returns the per-invocation timeout as a duration.
func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.AgentTimeoutSeconds) * time.Second
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	if c.MaxCodingIterations < 1 {
		return fmt.Errorf("max_coding_iterations must be at least 1, got %d", c.MaxCodingIterations)
	}
	if c.MaxAdvisorInvocations < 1 {
		return fmt.Errorf("max_advisor_invocations must be at least 1, got %d", c.MaxAdvisorInvocations)
	}
	if c.MaxReplans < 0 {
		return fmt.Errorf("max_replans must not be negative, got %d", c.MaxReplans)
	}
	if c.MaxReviewIterations < 0 {
		return fmt.Errorf("max_review_iterations must not be negative, got %d", c.MaxReviewIterations)
	}
	if c.MaxVerifyFixCycles < 0 {
		return fmt.Errorf("max_verify_fix_cycles must not be negative, got %d", c.MaxVerifyFixCycles)
	}
	if c.AgentTimeoutSeconds < 1 {
		return fmt.Errorf("agent_timeout_seconds must be at least 1, got %d", c.AgentTimeoutSeconds)
	}
	if c.AgentMaxTurns < 1 {
		return fmt.Errorf("agent_max_turns must be at least 1, got %d", c.AgentMaxTurns)
	}
	if c.ConcurrencyCap < 0 {
		return fmt.Errorf("concurrency_cap must not be negative, got %d", c.ConcurrencyCap)
	}
	switch c.Runtime {
	case RuntimeDefault, RuntimeCLI, RuntimeAPI:
	default:
		return fmt.Errorf("runtime must be one of default, cli, api; got %q", c.Runtime)
	}
	return nil
}

// Load loads configuration with the usual precedence, highest first:
// FOREMAN_* environment variables, the project config (.foreman.yaml
// in the current directory or a parent), the user config
// (~/.config/foreman/config.yaml), and built-in defaults.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfig := filepath.Join(userConfigDir(), "config.yaml")
	if err := mergeFile(v, userConfig, false); err != nil {
		return nil, err
	}
	if projectConfig := findProjectConfig(); projectConfig != "" {
		if err := mergeFile(v, projectConfig, true); err != nil {
			return nil, err
		}
	}

	v.SetEnvPrefix("FOREMAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	return finish(v)
}

// LoadFromPath loads configuration from one explicit file on top of
// the defaults.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	if err := mergeFile(v, path, true); err != nil {
		return nil, err
	}
	return finish(v)
}

func finish(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	if cfg.Models == nil {
		cfg.Models = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeFile reads one config file into v, rejecting unknown keys.
// When required is false a missing file is not an error.
func mergeFile(v *viper.Viper, path string, required bool) error {
	fv := viper.New()
	fv.SetConfigFile(path)
	if err := fv.ReadInConfig(); err != nil {
		if !required && os.IsNotExist(err) {
			return nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok && !required {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if unknown := unknownKeys(fv.AllSettings()); len(unknown) > 0 {
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(unknown, ", "))
	}
	if err := v.MergeConfigMap(fv.AllSettings()); err != nil {
		return fmt.Errorf("merge config %s: %w", path, err)
	}
	return nil
}

// knownKeys is the closed set of accepted config keys. Entries under
// models are role names and stay open.
var knownKeys = map[string]bool{
	"max_coding_iterations":   true,
	"max_advisor_invocations": true,
	"max_replans":             true,
	"max_review_iterations":   true,
	"max_verify_fix_cycles":   true,
	"enable_advisor":          true,
	"enable_replanning":       true,
	"enable_learning":         true,
	"agent_timeout_seconds":   true,
	"agent_max_turns":         true,
	"permission_mode":         true,
	"runtime":                 true,
	"models":                  true,
	"concurrency_cap":         true,
	"retain_branches":         true,
	"anthropic.api_key":       true,
	"anthropic.use_bedrock":   true,
	"anthropic.aws_region":    true,
	"anthropic.aws_profile":   true,
}

// unknownKeys returns the sorted keys in settings that are not part of
// the accepted schema.
func unknownKeys(settings map[string]any) []string {
	var out []string
	var walk func(prefix string, m map[string]any)
	walk = func(prefix string, m map[string]any) {
		for key, value := range m {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			if strings.HasPrefix(full, "models.") || knownKeys[full] {
				continue
			}
			if nested, ok := value.(map[string]any); ok {
				// Accept a branch only when some child is known.
				if full == "anthropic" || full == "models" {
					walk(full, nested)
					continue
				}
			}
			out = append(out, full)
		}
	}
	walk("", settings)
	sort.Strings(out)
	return out
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("max_coding_iterations", d.MaxCodingIterations)
	v.SetDefault("max_advisor_invocations", d.MaxAdvisorInvocations)
	v.SetDefault("max_replans", d.MaxReplans)
	v.SetDefault("max_review_iterations", d.MaxReviewIterations)
	v.SetDefault("max_verify_fix_cycles", d.MaxVerifyFixCycles)
	v.SetDefault("enable_advisor", d.EnableAdvisor)
	v.SetDefault("enable_replanning", d.EnableReplanning)
	v.SetDefault("enable_learning", d.EnableLearning)
	v.SetDefault("agent_timeout_seconds", d.AgentTimeoutSeconds)
	v.SetDefault("agent_max_turns", d.AgentMaxTurns)
	v.SetDefault("permission_mode", d.PermissionMode)
	v.SetDefault("runtime", d.Runtime)
	v.SetDefault("models", map[string]string{})
	v.SetDefault("concurrency_cap", d.ConcurrencyCap)
	v.SetDefault("retain_branches", d.RetainBranches)
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
}

// UserConfigPath returns the path of the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// ProjectConfigPath returns the project config file in effect, empty
// when none exists.
func ProjectConfigPath() string {
	return findProjectConfig()
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "foreman")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman.yaml in the current
// directory and its parents.
func findProjectConfig() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		path := filepath.Join(dir, ".foreman.yaml")
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
