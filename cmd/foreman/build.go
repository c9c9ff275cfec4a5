package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mwhitfield/foreman/internal/build"
	"github.com/mwhitfield/foreman/internal/config"
	"github.com/mwhitfield/foreman/pkg/models"
)

var buildCmd = &cobra.Command{
	Use:   "build <goal>",
	Short: "Plan, execute, and verify a goal against the repository",
	Long: `Build runs the full pipeline for a goal.

The goal is planned into a dependency-ordered issue graph, each level
runs with parallel coding agents in isolated worktrees, finished work
merges onto an integration branch, and the merged result is verified
against the plan's acceptance criteria.

The run ends on the integration branch; nothing touches your original
branch. Interrupting with Ctrl-C checkpoints the run for 'foreman
resume'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")
		return withBuilder(func(ctx context.Context, b *build.Builder) error {
			res, err := b.Build(ctx, goal)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Run the planning pipeline only",
	Long: `Plan produces and persists the issue graph for a goal without
executing it. The saved plan is inspectable under the artifacts
directory; 'foreman build' replans from scratch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")
		return withBuilder(func(ctx context.Context, b *build.Builder) error {
			plan, err := b.Plan(ctx, goal)
			if err != nil {
				return err
			}
			printPlan(plan)
			return nil
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume an interrupted run from its checkpoint",
	Long: `Resume reloads the checkpoint and plan from the artifacts
directory and continues execution where the previous run stopped.
Completed issues are not re-run; orphaned worktrees are cleaned up
before execution restarts.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBuilder(func(ctx context.Context, b *build.Builder) error {
			res, err := b.Resume(ctx)
			if err != nil {
				return err
			}
			printResult(res)
			return nil
		})
	},
}

// withBuilder loads config, checks the runtime, wires a Builder, and
// runs fn under a signal-cancelled context.
func withBuilder(fn func(context.Context, *build.Builder) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Runtime != config.RuntimeAPI {
		if err := CheckClaudeCLI(); err != nil {
			return err
		}
	}
	repo, err := resolveRepo()
	if err != nil {
		return err
	}
	b, err := build.New(cfg, repo, flagArtifacts)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return fn(ctx, b)
}

func printPlan(plan *models.PlanResult) {
	fmt.Printf("Goal: %s\n", plan.PRD.Goal)
	if plan.Architecture.Summary != "" {
		fmt.Printf("Architecture: %s\n", plan.Architecture.Summary)
	}
	fmt.Printf("\n%d issues across %d levels:\n", len(plan.Issues), len(plan.Levels))
	byName := make(map[string]*models.Issue, len(plan.Issues))
	for _, issue := range plan.Issues {
		byName[issue.Name] = issue
	}
	for i, level := range plan.Levels {
		fmt.Printf("\nLevel %d:\n", i)
		for _, name := range level {
			issue := byName[name]
			if issue == nil {
				continue
			}
			fmt.Printf("  %s - %s\n", issue.Name, issue.Title)
		}
	}
	if len(plan.FileConflicts) > 0 {
		fmt.Printf("\n%s %d advisory file conflict(s) within levels\n", color.YellowString("⚠"), len(plan.FileConflicts))
	}
}

func printResult(res *models.BuildResult) {
	fmt.Println()
	switch res.Status {
	case models.BuildSuccess:
		fmt.Printf("%s Build succeeded\n", color.GreenString("✓"))
	case models.BuildPartial:
		fmt.Printf("%s Build finished with caveats\n", color.YellowString("⚠"))
	case models.BuildCancelled:
		fmt.Printf("%s Build cancelled\n", color.YellowString("⚠"))
	default:
		fmt.Printf("%s Build %s\n", color.RedString("✗"), res.Status)
	}

	for _, phase := range res.Phases {
		mark := color.GreenString("✓")
		if !phase.Success {
			mark = color.RedString("✗")
		}
		fmt.Printf("  %s %-8s %s\n", mark, phase.Phase, phase.Detail)
	}
	if res.Summary != "" {
		fmt.Printf("\n%s\n", res.Summary)
	}
	for _, item := range res.Debt {
		fmt.Fprintf(os.Stderr, "  debt [%s/%s] %s\n", item.Kind, item.Severity, item.Justification)
	}
}
