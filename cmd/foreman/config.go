package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mwhitfield/foreman/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Config prints the configuration a run would use, after merging
the user config (~/.config/foreman/config.yaml), the project config
(.foreman.yaml in the current directory or a parent), and environment
variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		displayConfig(cfg)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter user config with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := config.UserConfigPath()
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		data, err := yaml.Marshal(defaultConfigDoc())
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
		fmt.Printf("%s Wrote %s\n", color.GreenString("✓"), path)
		return nil
	},
}

// defaultConfigDoc renders the defaults under their file keys.
func defaultConfigDoc() map[string]any {
	d := config.Default()
	return map[string]any{
		"max_coding_iterations":   d.MaxCodingIterations,
		"max_advisor_invocations": d.MaxAdvisorInvocations,
		"max_replans":             d.MaxReplans,
		"max_review_iterations":   d.MaxReviewIterations,
		"max_verify_fix_cycles":   d.MaxVerifyFixCycles,
		"enable_advisor":          d.EnableAdvisor,
		"enable_replanning":       d.EnableReplanning,
		"enable_learning":         d.EnableLearning,
		"agent_timeout_seconds":   d.AgentTimeoutSeconds,
		"agent_max_turns":         d.AgentMaxTurns,
		"runtime":                 d.Runtime,
		"concurrency_cap":         d.ConcurrencyCap,
		"retain_branches":         d.RetainBranches,
		"models":                  map[string]string{},
	}
}

func init() {
	configCmd.AddCommand(configInitCmd)
}

func displayConfig(cfg *config.Config) {
	fmt.Printf("max_coding_iterations:   %d\n", cfg.MaxCodingIterations)
	fmt.Printf("max_advisor_invocations: %d\n", cfg.MaxAdvisorInvocations)
	fmt.Printf("max_replans:             %d\n", cfg.MaxReplans)
	fmt.Printf("max_review_iterations:   %d\n", cfg.MaxReviewIterations)
	fmt.Printf("max_verify_fix_cycles:   %d\n", cfg.MaxVerifyFixCycles)
	fmt.Printf("enable_advisor:          %t\n", cfg.EnableAdvisor)
	fmt.Printf("enable_replanning:       %t\n", cfg.EnableReplanning)
	fmt.Printf("enable_learning:         %t\n", cfg.EnableLearning)
	fmt.Printf("agent_timeout_seconds:   %d\n", cfg.AgentTimeoutSeconds)
	fmt.Printf("agent_max_turns:         %d\n", cfg.AgentMaxTurns)
	fmt.Printf("permission_mode:         %s\n", orDefault(cfg.PermissionMode, "(inherit)"))
	fmt.Printf("runtime:                 %s\n", cfg.Runtime)
	fmt.Printf("concurrency_cap:         %s\n", capString(cfg.ConcurrencyCap))
	fmt.Printf("retain_branches:         %t\n", cfg.RetainBranches)

	if len(cfg.Models) > 0 {
		fmt.Println("models:")
		roles := make([]string, 0, len(cfg.Models))
		for role := range cfg.Models {
			roles = append(roles, role)
		}
		sort.Strings(roles)
		for _, role := range roles {
			fmt.Printf("  %s: %s\n", role, cfg.Models[role])
		}
	}

	key, _ := config.APIKey(cfg)
	fmt.Printf("anthropic.api_key:       %s (from %s)\n", config.MaskAPIKey(key), config.APIKeySource(cfg))
	fmt.Printf("anthropic.use_bedrock:   %t\n", cfg.Anthropic.UseBedrock)
	if cfg.Anthropic.UseBedrock {
		fmt.Printf("anthropic.aws_region:    %s\n", cfg.Anthropic.AWSRegion)
		fmt.Printf("anthropic.aws_profile:   %s\n", orDefault(cfg.Anthropic.AWSProfile, "(default)"))
	}

	fmt.Println()
	fmt.Printf("user config:    %s\n", config.UserConfigPath())
	if project := config.ProjectConfigPath(); project != "" {
		fmt.Printf("project config: %s\n", project)
	} else {
		fmt.Println("project config: (none)")
	}
	if flagConfig != "" {
		fmt.Fprintf(os.Stdout, "explicit config: %s\n", flagConfig)
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func capString(n int) string {
	if n == 0 {
		return "0 (unbounded)"
	}
	return fmt.Sprintf("%d", n)
}
