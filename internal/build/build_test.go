package build

import (
	"strings"
	"testing"
	"time"

	"github.com/mwhitfield/foreman/internal/config"
	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/internal/scheduler"
	"github.com/mwhitfield/foreman/pkg/models"
)

func planFixture() *models.PlanResult {
	return &models.PlanResult{
		PRD: models.PRD{
			Goal:               "add rate limiting",
			Summary:            "token-bucket limits on the public API",
			AcceptanceCriteria: []string{"requests over the limit receive 429"},
		},
		Architecture: models.Architecture{Summary: "middleware in the gateway"},
		Issues: []*models.Issue{
			{Name: "limiter", Title: "Token bucket", SequenceNumber: 1},
			{Name: "wire-up", Title: "Gateway middleware", DependsOn: []string{"limiter"}, SequenceNumber: 2},
		},
		Levels:    [][]string{{"limiter"}, {"wire-up"}},
		Rationale: "limiter first, then the gateway",
	}
}

func TestStateFromPlan(t *testing.T) {
	plan := planFixture()
	state := stateFromPlan(plan, "/repo", "/repo/.foreman/artifacts")

	if state.RepoPath != "/repo" {
		t.Errorf("repo = %q", state.RepoPath)
	}
	if len(state.Issues) != 2 || state.Issues["limiter"] == nil {
		t.Fatalf("issues were not copied: %v", state.Issues)
	}
	if len(state.Levels) != 2 || state.Levels[1][0] != "wire-up" {
		t.Errorf("levels = %v", state.Levels)
	}
	if state.PlanSummary != plan.Rationale {
		t.Errorf("plan summary = %q", state.PlanSummary)
	}
	if state.PRDSummary != plan.PRD.Summary || state.ArchitectureSummary != plan.Architecture.Summary {
		t.Error("PRD and architecture summaries must carry over")
	}
	if state.CurrentLevel != 0 {
		t.Errorf("current level = %d, want 0", state.CurrentLevel)
	}
}

func TestConstraintsForResolvesPerRole(t *testing.T) {
	cfg := config.Default()
	cfg.AgentTimeoutSeconds = 60
	cfg.AgentMaxTurns = 10
	cfg.PermissionMode = "acceptEdits"
	cfg.Models = map[string]string{
		"default": "claude-sonnet-4-20250514",
		"coder":   "claude-opus-4-1-20250805",
	}

	lookup := constraintsFor(cfg)

	coder := lookup(invoke.RoleCoder)
	if coder.Model != "claude-opus-4-1-20250805" {
		t.Errorf("coder model = %q", coder.Model)
	}
	if coder.Timeout != 60*time.Second || coder.MaxTurns != 10 {
		t.Errorf("limits = %v/%d", coder.Timeout, coder.MaxTurns)
	}
	if coder.PermissionMode != "acceptEdits" {
		t.Errorf("permission mode = %q", coder.PermissionMode)
	}
	if qa := lookup(invoke.RoleQA); qa.Model != "claude-sonnet-4-20250514" {
		t.Errorf("qa model = %q, want the default entry", qa.Model)
	}
}

func TestNewInvokerDefaultsToCLI(t *testing.T) {
	cfg := config.Default()
	inv, err := newInvoker(cfg)
	if err != nil {
		t.Fatalf("newInvoker: %v", err)
	}
	if _, ok := inv.(*invoke.CLIRunner); !ok {
		t.Errorf("invoker = %T, want *invoke.CLIRunner", inv)
	}

	cfg.Runtime = config.RuntimeCLI
	inv, err = newInvoker(cfg)
	if err != nil {
		t.Fatalf("newInvoker cli: %v", err)
	}
	if _, ok := inv.(*invoke.CLIRunner); !ok {
		t.Errorf("cli invoker = %T", inv)
	}
}

func TestNewInvokerAPIRuntime(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-REDACTED")
	cfg := config.Default()
	cfg.Runtime = config.RuntimeAPI

	inv, err := newInvoker(cfg)
	if err != nil {
		t.Fatalf("newInvoker api: %v", err)
	}
	if _, ok := inv.(*invoke.APIRunner); !ok {
		t.Errorf("invoker = %T, want *invoke.APIRunner", inv)
	}
}

func TestNewInvokerAPIRuntimeNeedsKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	cfg := config.Default()
	cfg.Runtime = config.RuntimeAPI

	if _, err := newInvoker(cfg); err == nil {
		t.Fatal("a keyless api runtime was accepted")
	}
}

var _ scheduler.IssueSpecWriter = (*specAdapter)(nil)

func terminalState(mutate func(*models.DAGState)) *models.DAGState {
	state := models.NewDAGState("/repo", "/artifacts")
	state.Issues["a"] = &models.Issue{Name: "a", SequenceNumber: 1}
	state.Completed = []string{"a"}
	state.Git.IntegrationBranch = "foreman/integration"
	if mutate != nil {
		mutate(state)
	}
	return state
}

func passedVerification() *models.VerificationResult {
	return &models.VerificationResult{
		Passed:   true,
		Criteria: []models.CriterionResult{{Criterion: "429 on limit", Passed: true}},
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name         string
		mutate       func(*models.DAGState)
		verification *models.VerificationResult
		want         models.BuildStatus
	}{
		{"clean pass", nil, passedVerification(), models.BuildSuccess},
		{"cancelled", func(s *models.DAGState) { s.Cancelled = true }, nil, models.BuildCancelled},
		{"aborted", func(s *models.DAGState) { s.Aborted = true }, nil, models.BuildAborted},
		{"nothing landed", func(s *models.DAGState) { s.Completed = nil }, nil, models.BuildFailed},
		{"unrecoverable failure", func(s *models.DAGState) {
			s.FailedUnrecoverable = []string{"b"}
		}, passedVerification(), models.BuildPartial},
		{"skipped issue", func(s *models.DAGState) {
			s.Skipped = []string{"b"}
		}, passedVerification(), models.BuildPartial},
		{"debt recorded", func(s *models.DAGState) {
			s.AccumulatedDebt = []models.DebtItem{{Kind: models.DebtOther, Severity: models.SeverityLow}}
		}, passedVerification(), models.BuildPartial},
		{"verification failed", nil, &models.VerificationResult{Passed: false}, models.BuildPartial},
		{"verification missing", nil, nil, models.BuildPartial},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			state := terminalState(tc.mutate)
			if got := classify(state, tc.verification); got != tc.want {
				t.Errorf("classify = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestAssembleReportsPhasesAndSummary(t *testing.T) {
	plan := planFixture()
	state := terminalState(func(s *models.DAGState) {
		s.Completed = []string{"limiter", "wire-up"}
	})
	res := assemble(plan, state, passedVerification())

	if res.Status != models.BuildSuccess {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Phases) != 3 {
		t.Fatalf("phases = %d, want plan/execute/verify", len(res.Phases))
	}
	for _, p := range res.Phases {
		if !p.Success {
			t.Errorf("phase %s reported failure on a clean run", p.Phase)
		}
	}
	if !strings.Contains(res.Summary, "foreman/integration") {
		t.Errorf("summary %q must name the integration branch", res.Summary)
	}
}

func TestAssembleVerifyMissing(t *testing.T) {
	res := assemble(planFixture(), terminalState(nil), nil)
	if res.Status != models.BuildPartial {
		t.Errorf("status = %s, want partial when verification did not run", res.Status)
	}
	verifyPhase := res.Phases[len(res.Phases)-1]
	if verifyPhase.Phase != "verify" || verifyPhase.Success {
		t.Errorf("verify phase = %+v, want a failed verify entry", verifyPhase)
	}
}

func TestSummarizeCountsDebt(t *testing.T) {
	state := terminalState(func(s *models.DAGState) {
		s.AccumulatedDebt = []models.DebtItem{
			{Kind: models.DebtUnmetCriterion, Severity: models.SeverityHigh},
			{Kind: models.DebtOther, Severity: models.SeverityLow},
		}
	})
	res := assemble(planFixture(), state, passedVerification())
	if !strings.Contains(res.Summary, "2 debt item(s)") {
		t.Errorf("summary = %q", res.Summary)
	}
}
