// Package build wires the full pipeline: planning, level execution,
// and verification, against one repository. It owns runtime selection,
// artifact placement, and the terminal BuildResult classification.
package build

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/mwhitfield/foreman/internal/artifacts"
	"github.com/mwhitfield/foreman/internal/config"
	"github.com/mwhitfield/foreman/internal/git"
	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/internal/memory"
	"github.com/mwhitfield/foreman/internal/planner"
	"github.com/mwhitfield/foreman/internal/scheduler"
	"github.com/mwhitfield/foreman/internal/verify"
	"github.com/mwhitfield/foreman/pkg/models"
)

// Builder runs builds for one repository under one configuration.
type Builder struct {
	cfg     *config.Config
	invoker invoke.Invoker
	store   *artifacts.Store
	repo    string
}

// New creates a Builder for repoPath. artifactsDir may be empty, in
// which case artifacts live under <repo>/.foreman/artifacts.
func New(cfg *config.Config, repoPath, artifactsDir string) (*Builder, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if artifactsDir == "" {
		artifactsDir = DefaultArtifactsDir(repoPath)
	}
	store, err := artifacts.NewStore(artifactsDir)
	if err != nil {
		return nil, fmt.Errorf("artifacts store: %w", err)
	}
	invoker, err := newInvoker(cfg)
	if err != nil {
		return nil, err
	}
	return &Builder{cfg: cfg, invoker: invoker, store: store, repo: repoPath}, nil
}

// DefaultArtifactsDir returns the run-local artifacts root.
func DefaultArtifactsDir(repoPath string) string {
	return filepath.Join(repoPath, ".foreman", "artifacts")
}

// newInvoker selects the agent runtime. The default prefers the CLI,
// matching where coding agents do their best file work.
func newInvoker(cfg *config.Config) (invoke.Invoker, error) {
	switch cfg.Runtime {
	case config.RuntimeAPI:
		key := ""
		if k, err := config.APIKey(cfg); err == nil {
			key = k
		} else if !cfg.Anthropic.UseBedrock {
			return nil, err
		}
		client, err := invoke.NewClient(invoke.ClientConfig{
			APIKey:     key,
			UseBedrock: cfg.Anthropic.UseBedrock,
			AWSRegion:  cfg.Anthropic.AWSRegion,
			AWSProfile: cfg.Anthropic.AWSProfile,
		})
		if err != nil {
			return nil, fmt.Errorf("api runtime: %w", err)
		}
		return invoke.NewAPIRunner(client), nil
	default:
		return invoke.NewCLIRunner(), nil
	}
}

// constraintsFor builds the per-role constraint lookup from config.
func constraintsFor(cfg *config.Config) func(invoke.Role) invoke.Constraints {
	return func(role invoke.Role) invoke.Constraints {
		return invoke.Constraints{
			Timeout:        cfg.AgentTimeout(),
			MaxTurns:       cfg.AgentMaxTurns,
			Model:          cfg.ModelFor(string(role)),
			PermissionMode: cfg.PermissionMode,
		}
	}
}

// specAdapter narrows the planner's issue writer to the scheduler's
// single-method contract, pinning architecture and repo.
type specAdapter struct {
	pipeline *planner.Pipeline
	arch     *models.Architecture
	repo     string
}

func (a *specAdapter) WriteIssueSpecs(ctx context.Context, issues []*models.Issue) error {
	return a.pipeline.WriteIssueSpecs(ctx, a.arch, issues, a.repo)
}

// Plan runs the planning pipeline for goal and persists the result.
func (b *Builder) Plan(ctx context.Context, goal string) (*models.PlanResult, error) {
	pipeline := planner.NewPipeline(b.invoker, constraintsFor(b.cfg), b.cfg.MaxReviewIterations)
	plan, err := pipeline.Plan(ctx, goal, b.repo)
	if err != nil {
		return nil, err
	}
	if err := b.store.SavePlan(plan); err != nil {
		return nil, fmt.Errorf("save plan: %w", err)
	}
	return plan, nil
}

// Execute runs a previously produced plan without replanning and
// returns the terminal state.
func (b *Builder) Execute(ctx context.Context, plan *models.PlanResult) (*models.DAGState, error) {
	state := stateFromPlan(plan, b.repo, b.store.Root())
	res, err := b.execute(ctx, plan, state)
	if err != nil {
		return nil, err
	}
	return res.State, nil
}

// Build plans and executes goal end to end. Setup failures return an
// error; everything past setup lands in the BuildResult.
func (b *Builder) Build(ctx context.Context, goal string) (*models.BuildResult, error) {
	plan, err := b.Plan(ctx, goal)
	if err != nil {
		return nil, fmt.Errorf("planning: %w", err)
	}
	state := stateFromPlan(plan, b.repo, b.store.Root())
	return b.execute(ctx, plan, state)
}

// Resume reloads the checkpoint and plan and re-enters execution where
// the previous run stopped.
func (b *Builder) Resume(ctx context.Context) (*models.BuildResult, error) {
	state, err := b.store.LoadCheckpoint()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	plan, err := b.store.LoadPlan()
	if err != nil {
		return nil, fmt.Errorf("load plan: %w", err)
	}
	state.Cancelled = false
	state.ClearInFlight()
	log.Printf("[build] resuming at level %d of %d, %d completed", state.CurrentLevel, len(state.Levels), len(state.Completed))
	return b.execute(ctx, plan, state)
}

// execute runs the scheduler and the verify loop over state and
// assembles the terminal result.
func (b *Builder) execute(ctx context.Context, plan *models.PlanResult, state *models.DAGState) (*models.BuildResult, error) {
	constraints := constraintsFor(b.cfg)

	var mem scheduler.Memory
	if b.cfg.EnableLearning {
		store, err := memory.Open(memory.DBPath(b.repo))
		if err != nil {
			log.Printf("[build] learning store unavailable, continuing without: %v", err)
		} else {
			defer store.Close()
			mem = store
		}
	}

	resolver := scheduler.NewAgentResolver(b.invoker, constraints, plan.FileConflicts)
	workspace := git.NewWorkspace(b.repo, git.NewExecRunner(b.repo), resolver)

	if state.Git.IntegrationBranch == "" {
		tracking, err := workspace.InitIntegration(ctx, plan.PRD.Goal)
		if err != nil {
			// Non-fatal: worktrees fork off HEAD and level merges are skipped.
			log.Printf("[build] integration branch unavailable, continuing without one: %v", err)
			state.Git.WorktreesDir = filepath.Join(b.repo, ".foreman", "worktrees")
		} else {
			state.Git = *tracking
		}
	}

	pipeline := planner.NewPipeline(b.invoker, constraints, b.cfg.MaxReviewIterations)
	specs := &specAdapter{pipeline: pipeline, arch: &plan.Architecture, repo: b.repo}

	sched := scheduler.NewScheduler(b.invoker, workspace, b.store, mem, constraints, specs, scheduler.Options{
		MaxCodingIterations:   b.cfg.MaxCodingIterations,
		MaxAdvisorInvocations: b.cfg.MaxAdvisorInvocations,
		MaxReplans:            b.cfg.MaxReplans,
		ConcurrencyCap:        b.cfg.ConcurrencyCap,
		EnableAdvisor:         b.cfg.EnableAdvisor,
		EnableReplanning:      b.cfg.EnableReplanning,
		RetainBranches:        b.cfg.RetainBranches,
	})

	if err := sched.Reconcile(state); err != nil {
		log.Printf("[build] worktree reconcile: %v", err)
	}
	if err := sched.ExecuteLevels(ctx, state); err != nil {
		b.checkpoint(state)
		return assemble(plan, state, nil), nil
	}

	var verification *models.VerificationResult
	if !state.Aborted && !state.Cancelled {
		loop := verify.NewLoop(b.invoker, b.store, constraints, b.cfg.MaxVerifyFixCycles)
		res, err := loop.Run(ctx, state, &plan.PRD, sched)
		if err != nil {
			log.Printf("[build] verification failed: %v", err)
			state.AccumulatedDebt = append(state.AccumulatedDebt, models.DebtItem{
				Kind:          models.DebtUnmetCriterion,
				Severity:      models.SeverityHigh,
				Justification: fmt.Sprintf("verifier did not run to completion: %v", err),
			})
		}
		verification = res
	}

	b.checkpoint(state)
	return assemble(plan, state, verification), nil
}

func (b *Builder) checkpoint(state *models.DAGState) {
	if err := b.store.SaveCheckpoint(state); err != nil {
		log.Printf("[build] checkpoint: %v", err)
	}
}

// stateFromPlan seeds a fresh DAGState from the planning output.
func stateFromPlan(plan *models.PlanResult, repoPath, artifactsDir string) *models.DAGState {
	state := models.NewDAGState(repoPath, artifactsDir)
	for _, issue := range plan.Issues {
		state.Issues[issue.Name] = issue
	}
	state.Levels = append(state.Levels, plan.Levels...)
	state.PlanSummary = plan.Rationale
	state.PRDSummary = plan.PRD.Summary
	state.ArchitectureSummary = plan.Architecture.Summary
	return state
}
