package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/mwhitfield/foreman/internal/config"
)

var (
	flagRepo        string
	flagArtifacts   string
	flagConfig      string
	flagModel       string
	flagRuntime     string
	flagMaxReplans  int
	flagConcurrency int
)

// CheckClaudeCLI verifies that the 'claude' CLI is available in PATH.
// Returns an error with installation instructions if not found.
func CheckClaudeCLI() error {
	if _, err := exec.LookPath("claude"); err != nil {
		return fmt.Errorf("claude CLI not found in PATH\n\n" +
			"Foreman drives agents through the Claude Code CLI.\n\n" +
			"Install it with:\n" +
			"  npm install -g @anthropic-ai/claude-code\n\n" +
			"or select the direct API runtime with 'runtime: api' in your config.")
	}
	return nil
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Autonomous build orchestrator",
	Long: `Foreman turns a natural-language goal and a repository into a
verified, merged changeset on an integration branch.

A run plans the goal into a dependency-ordered issue graph, executes
each level with parallel coding agents in isolated git worktrees,
merges level by level, and verifies the result against the plan's
acceptance criteria. Every level ends with a checkpoint, so an
interrupted run resumes with 'foreman resume'.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command,
// applying any flag overrides on top.
func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if flagConfig != "" {
		cfg, err = config.LoadFromPath(flagConfig)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	flags := rootCmd.PersistentFlags()
	if flags.Changed("model") {
		cfg.Models["default"] = flagModel
	}
	if flags.Changed("runtime") {
		cfg.Runtime = flagRuntime
	}
	if flags.Changed("max-replans") {
		cfg.MaxReplans = flagMaxReplans
	}
	if flags.Changed("concurrency") {
		cfg.ConcurrencyCap = flagConcurrency
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveRepo returns the target repository, defaulting to the
// current directory.
func resolveRepo() (string, error) {
	if flagRepo != "" {
		return flagRepo, nil
	}
	return os.Getwd()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagRepo, "repo", "", "Target repository (default: current directory)")
	rootCmd.PersistentFlags().StringVar(&flagArtifacts, "artifacts", "", "Artifacts directory (default: <repo>/.foreman/artifacts)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Explicit config file, replacing the usual search")
	rootCmd.PersistentFlags().StringVar(&flagModel, "model", "", "Default model for every role")
	rootCmd.PersistentFlags().StringVar(&flagRuntime, "runtime", "", "Agent runtime: default, cli, or api")
	rootCmd.PersistentFlags().IntVar(&flagMaxReplans, "max-replans", 0, "Replanner budget for the run")
	rootCmd.PersistentFlags().IntVar(&flagConcurrency, "concurrency", 0, "Parallel issues per level (0 = unbounded)")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
