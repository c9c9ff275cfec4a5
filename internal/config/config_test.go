package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.MaxCodingIterations != 5 {
		t.Errorf("max_coding_iterations = %d, want 5", cfg.MaxCodingIterations)
	}
	if cfg.MaxAdvisorInvocations != 2 {
		t.Errorf("max_advisor_invocations = %d, want 2", cfg.MaxAdvisorInvocations)
	}
	if cfg.MaxReplans != 2 {
		t.Errorf("max_replans = %d, want 2", cfg.MaxReplans)
	}
	if cfg.MaxReviewIterations != 1 {
		t.Errorf("max_review_iterations = %d, want 1", cfg.MaxReviewIterations)
	}
	if cfg.MaxVerifyFixCycles != 1 {
		t.Errorf("max_verify_fix_cycles = %d, want 1", cfg.MaxVerifyFixCycles)
	}
	if !cfg.EnableAdvisor || !cfg.EnableReplanning {
		t.Error("advisor and replanning must default on")
	}
	if cfg.EnableLearning {
		t.Error("learning must default off")
	}
	if cfg.AgentTimeoutSeconds != 2700 || cfg.AgentMaxTurns != 150 {
		t.Errorf("agent limits = %d/%d, want 2700/150", cfg.AgentTimeoutSeconds, cfg.AgentMaxTurns)
	}
	if cfg.Runtime != RuntimeDefault {
		t.Errorf("runtime = %q, want default", cfg.Runtime)
	}
	if cfg.ConcurrencyCap != 0 {
		t.Errorf("concurrency_cap = %d, want 0 (unbounded)", cfg.ConcurrencyCap)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("the defaults do not validate: %v", err)
	}
}

func TestLoadFromPathOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
max_coding_iterations: 3
enable_learning: true
concurrency_cap: 4
runtime: api
models:
  default: claude-sonnet-4-20250514
  coder: claude-opus-4-1-20250805
anthropic:
  api_key: sk-ant-test
`)
	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	if cfg.MaxCodingIterations != 3 {
		t.Errorf("max_coding_iterations = %d, want 3", cfg.MaxCodingIterations)
	}
	if !cfg.EnableLearning {
		t.Error("enable_learning override was lost")
	}
	if cfg.ConcurrencyCap != 4 {
		t.Errorf("concurrency_cap = %d, want 4", cfg.ConcurrencyCap)
	}
	if cfg.Runtime != RuntimeAPI {
		t.Errorf("runtime = %q, want api", cfg.Runtime)
	}
	if cfg.MaxReplans != 2 {
		t.Errorf("max_replans = %d, untouched keys must keep defaults", cfg.MaxReplans)
	}
	if cfg.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.ModelFor("coder") != "claude-opus-4-1-20250805" {
		t.Errorf("coder model = %q", cfg.ModelFor("coder"))
	}
}

func TestLoadFromPathRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
max_coding_iteratons: 3
`)
	_, err := LoadFromPath(path)
	if err == nil {
		t.Fatal("a misspelled key was accepted")
	}
	if !strings.Contains(err.Error(), "max_coding_iteratons") {
		t.Errorf("error = %v, want the offending key named", err)
	}
}

func TestLoadFromPathRejectsUnknownNestedKey(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_keey: oops
`)
	if _, err := LoadFromPath(path); err == nil {
		t.Fatal("an unknown nested key was accepted")
	}
}

func TestLoadBindsForemanEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)
	t.Setenv("FOREMAN_MAX_REPLANS", "7")
	t.Setenv("FOREMAN_RUNTIME", "cli")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxReplans != 7 {
		t.Errorf("max_replans = %d, want the env override", cfg.MaxReplans)
	}
	if cfg.Runtime != RuntimeCLI {
		t.Errorf("runtime = %q, want cli", cfg.Runtime)
	}
}

func TestLoadProjectFileOverridesUserFile(t *testing.T) {
	home := t.TempDir()
	project := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", home)
	t.Setenv("FOREMAN_MAX_REPLANS", "")

	userDir := filepath.Join(home, "foreman")
	if err := os.MkdirAll(userDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte("max_coding_iterations: 9\nmax_replans: 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(project, ".foreman.yaml"), []byte("max_replans: 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Chdir(project)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.MaxReplans != 1 {
		t.Errorf("max_replans = %d, the project file must win", cfg.MaxReplans)
	}
	if cfg.MaxCodingIterations != 9 {
		t.Errorf("max_coding_iterations = %d, user-file keys must survive", cfg.MaxCodingIterations)
	}
}

func TestModelResolutionOrder(t *testing.T) {
	cfg := Default()
	cfg.Models = map[string]string{
		"default": "sonnet",
		"coder":   "opus",
	}

	if got := cfg.ModelFor("coder"); got != "opus" {
		t.Errorf("coder model = %q, want the role entry", got)
	}
	if got := cfg.ModelFor("qa"); got != "sonnet" {
		t.Errorf("qa model = %q, want the default entry", got)
	}

	cfg.Models = map[string]string{}
	if got := cfg.ModelFor("coder"); got != "" {
		t.Errorf("model = %q, want empty so the runtime default applies", got)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero coding iterations", func(c *Config) { c.MaxCodingIterations = 0 }},
		{"zero advisor invocations", func(c *Config) { c.MaxAdvisorInvocations = 0 }},
		{"negative replans", func(c *Config) { c.MaxReplans = -1 }},
		{"negative verify cycles", func(c *Config) { c.MaxVerifyFixCycles = -1 }},
		{"zero timeout", func(c *Config) { c.AgentTimeoutSeconds = 0 }},
		{"zero max turns", func(c *Config) { c.AgentMaxTurns = 0 }},
		{"negative concurrency", func(c *Config) { c.ConcurrencyCap = -2 }},
		{"bad runtime", func(c *Config) { c.Runtime = "grpc" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate accepted the bad value")
			}
		})
	}
}

func TestAgentTimeoutIsSeconds(t *testing.T) {
	cfg := Default()
	cfg.AgentTimeoutSeconds = 90
	if got := cfg.AgentTimeout(); got != 90*time.Second {
		t.Errorf("timeout = %v, want 90s", got)
	}
}
