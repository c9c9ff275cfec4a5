package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// fakeInvoker scripts per-role responses and counts calls.
type fakeInvoker struct {
	mu       sync.Mutex
	calls    map[invoke.Role]int
	handlers map[invoke.Role]func(call int, req invoke.Request) (any, error)
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls:    map[invoke.Role]int{},
		handlers: map[invoke.Role]func(int, invoke.Request) (any, error){},
	}
}

func (f *fakeInvoker) on(role invoke.Role, fn func(call int, req invoke.Request) (any, error)) {
	f.handlers[role] = fn
}

func (f *fakeInvoker) count(role invoke.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

func (f *fakeInvoker) Invoke(ctx context.Context, req invoke.Request) (*invoke.Result, error) {
	f.mu.Lock()
	f.calls[req.Role]++
	n := f.calls[req.Role]
	fn := f.handlers[req.Role]
	f.mu.Unlock()

	if fn == nil {
		return nil, &invoke.InvocationError{Kind: invoke.ErrTransport, Role: req.Role, Detail: "no handler"}
	}
	payload, err := fn(n, req)
	if err != nil {
		return nil, err
	}
	data, mErr := json.Marshal(payload)
	if mErr != nil {
		return nil, mErr
	}
	return &invoke.Result{Role: req.Role, Status: invoke.StatusSuccess, Payload: data}, nil
}

// promptNames reports whether the request's prompt mentions the issue.
func promptNames(req invoke.Request, issue string) bool {
	return strings.Contains(req.Prompt, fmt.Sprintf("%q: %q", "name", issue))
}

// fakeWorkspace records calls and merges everything cleanly unless a
// branch is scripted to fail.
type fakeWorkspace struct {
	mu          sync.Mutex
	worktrees   []string
	cleanups    int
	failMerge   map[string]string
	needsITests bool
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{failMerge: map[string]string{}}
}

func (w *fakeWorkspace) MakeWorktree(_ context.Context, issue *models.Issue, tracking *models.GitTracking) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	issue.BranchName = "issue/" + issue.Name
	issue.WorktreePath = "/tmp/wt/" + issue.Name
	w.worktrees = append(w.worktrees, issue.Name)
	return issue.WorktreePath, nil
}

func (w *fakeWorkspace) MergeLevel(_ context.Context, level int, issues []*models.Issue, tracking *models.GitTracking) (*models.MergeResult, error) {
	res := &models.MergeResult{Level: level, Success: true, NeedsIntegrationTests: w.needsITests}
	for _, issue := range issues {
		bm := models.BranchMerge{Branch: issue.BranchName, IssueName: issue.Name, Status: models.BranchMerged}
		if reason, ok := w.failMerge[issue.Name]; ok {
			bm.Status = models.BranchFailed
			bm.Error = reason
			res.Success = false
		}
		res.Branches = append(res.Branches, bm)
	}
	return res, nil
}

func (w *fakeWorkspace) CleanupWorktrees(issues []*models.Issue, tracking *models.GitTracking, retainBranches bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cleanups++
	return nil
}

func (w *fakeWorkspace) ReconcileWorktrees(tracking *models.GitTracking, claimed map[string]bool) error {
	return nil
}

// fakeStore keeps checkpoints and iteration records in memory.
type fakeStore struct {
	mu          sync.Mutex
	checkpoints int
	iterations  map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{iterations: map[string]int{}}
}

func (s *fakeStore) SaveCheckpoint(state *models.DAGState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints++
	return nil
}

func (s *fakeStore) SaveIteration(issueName string, rec *models.IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations[issueName]++
	return nil
}

// fakeMemory is an in-memory Memory.
type fakeMemory struct {
	mu          sync.Mutex
	conventions string
	failures    []string
	bugs        []string
	interfaces  map[string]string
	health      string
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{interfaces: map[string]string{}}
}

func (m *fakeMemory) SaveConventions(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conventions = text
	return nil
}

func (m *fakeMemory) Conventions() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conventions, m.conventions != ""
}

func (m *fakeMemory) AddFailurePattern(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, text)
	return nil
}

func (m *fakeMemory) FailurePatterns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.failures...)
}

func (m *fakeMemory) AddBugPattern(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bugs = append(m.bugs, text)
	return nil
}

func (m *fakeMemory) BugPatterns() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.bugs...)
}

func (m *fakeMemory) SetInterface(issue, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.interfaces[issue] = text
	return nil
}

func (m *fakeMemory) Interface(issue string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.interfaces[issue]
	return v, ok
}

func (m *fakeMemory) SetBuildHealth(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.health = text
	return nil
}

func (m *fakeMemory) BuildHealth() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health, m.health != ""
}

func approveAll(f *fakeInvoker) {
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"summary": "done", "files_changed": []string{"a.go"}, "complete": true}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"approved": true, "summary": "ok"}, nil
	})
}

func stateWith(issues ...*models.Issue) *models.DAGState {
	state := models.NewDAGState("/tmp/repo", "/tmp/artifacts")
	var names []string
	for i, issue := range issues {
		issue.SequenceNumber = i + 1
		state.Issues[issue.Name] = issue
		names = append(names, issue.Name)
	}
	state.Levels = [][]string{names}
	return state
}

func TestExecuteLevelsCompletesCleanLevel(t *testing.T) {
	f := newFakeInvoker()
	approveAll(f)
	ws := newFakeWorkspace()
	store := newFakeStore()
	mem := newFakeMemory()
	s := NewScheduler(f, ws, store, mem, nil, nil, Options{EnableAdvisor: true, MaxReplans: 2, EnableReplanning: true})

	state := stateWith(
		&models.Issue{Name: "alpha", Title: "Alpha"},
		&models.Issue{Name: "beta", Title: "Beta"},
	)
	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if len(state.Completed) != 2 {
		t.Fatalf("completed = %v, want both issues", state.Completed)
	}
	if state.CurrentLevel != 1 {
		t.Errorf("current level = %d, want 1", state.CurrentLevel)
	}
	if len(state.MergeResults) != 1 || !state.MergeResults[0].Success {
		t.Errorf("merge results = %+v, want one successful merge", state.MergeResults)
	}
	if ws.cleanups == 0 {
		t.Error("worktrees were never cleaned up")
	}
	if store.checkpoints == 0 {
		t.Error("no checkpoint was written")
	}
	for _, name := range []string{"alpha", "beta"} {
		res := state.Results[name]
		if res == nil || res.Outcome != models.OutcomeCompleted {
			t.Errorf("result for %s = %+v, want completed", name, res)
		}
	}
}

func TestConcurrencyCapBoundsParallelIssues(t *testing.T) {
	var mu sync.Mutex
	active, peak := 0, 0

	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		mu.Lock()
		active++
		if active > peak {
			peak = active
		}
		mu.Unlock()
		defer func() {
			mu.Lock()
			active--
			mu.Unlock()
		}()
		return map[string]any{"summary": "done", "complete": true}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"approved": true}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{ConcurrencyCap: 1})
	state := stateWith(
		&models.Issue{Name: "one"},
		&models.Issue{Name: "two"},
		&models.Issue{Name: "three"},
	)
	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}
	if peak > 1 {
		t.Errorf("peak concurrent coders = %d, want 1", peak)
	}
}

func TestAdvisorAcceptWithDebtCompletesIssue(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"summary": "partial", "complete": true}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"approved": false, "feedback": "missing retries"}, nil
	})
	f.on(invoke.RoleAdvisor, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{
			"action": "accept_with_debt",
			"debt_items": []map[string]any{
				{"kind": "missing_functionality", "criterion": "retry support", "severity": "medium"},
			},
			"justification": "core path works",
		}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{
		MaxCodingIterations: 1, MaxAdvisorInvocations: 2, EnableAdvisor: true,
	})
	state := stateWith(&models.Issue{Name: "cache"})
	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	res := state.Results["cache"]
	if res == nil || res.Outcome != models.OutcomeCompletedWithDebt {
		t.Fatalf("outcome = %+v, want completed_with_debt", res)
	}
	if len(state.AccumulatedDebt) != 1 || state.AccumulatedDebt[0].IssueName != "cache" {
		t.Errorf("accumulated debt = %+v, want one item stamped with the issue name", state.AccumulatedDebt)
	}
	if !contains(state.Completed, "cache") {
		t.Errorf("completed = %v, want cache", state.Completed)
	}
}

func TestAdvisorRetryOnFinalInvocationCoercesToEscalate(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"summary": "attempt", "complete": false}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"approved": false, "feedback": "still wrong"}, nil
	})
	f.on(invoke.RoleAdvisor, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"action": "retry_approach", "approach_changes": "try harder"}, nil
	})
	f.on(invoke.RoleReplanner, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"action": "continue", "rationale": "local failure"}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{
		MaxCodingIterations: 1, MaxAdvisorInvocations: 1,
		EnableAdvisor: true, EnableReplanning: true, MaxReplans: 2,
	})
	state := stateWith(&models.Issue{Name: "tricky"})
	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if f.count(invoke.RoleAdvisor) != 1 {
		t.Errorf("advisor calls = %d, want 1", f.count(invoke.RoleAdvisor))
	}
	// The escalation went to the replanner, which continued; the issue
	// then became unrecoverable rather than looping.
	if !contains(state.FailedUnrecoverable, "tricky") {
		t.Errorf("failed unrecoverable = %v, want tricky", state.FailedUnrecoverable)
	}
	if state.ReplanCount != 1 {
		t.Errorf("replan count = %d, want 1", state.ReplanCount)
	}
}

func TestSplitReplacesParentAndRewiresDependents(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, req invoke.Request) (any, error) {
		return map[string]any{"summary": "work", "complete": true}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, req invoke.Request) (any, error) {
		if promptNames(req, "big") {
			return map[string]any{"approved": false, "feedback": "too much in one change"}, nil
		}
		return map[string]any{"approved": true}, nil
	})
	f.on(invoke.RoleAdvisor, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{
			"action": "split",
			"sub_issues": []map[string]any{
				{"name": "big-core", "title": "Core", "acceptance_criteria": []string{"core works"}},
				{"name": "big-edges", "title": "Edges", "acceptance_criteria": []string{"edges work"}},
			},
			"justification": "two independent halves",
		}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{
		MaxCodingIterations: 1, MaxAdvisorInvocations: 2, EnableAdvisor: true,
	})
	big := &models.Issue{Name: "big", Title: "Big"}
	follow := &models.Issue{Name: "follow", Title: "Follow", DependsOn: []string{"big"}}
	state := stateWith(big, follow)
	state.Levels = [][]string{{"big"}, {"follow"}}

	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if state.Issues["big"] != nil {
		t.Error("parent issue survived the split")
	}
	if got := state.Issues["follow"].DependsOn; len(got) != 2 || got[0] != "big-core" || got[1] != "big-edges" {
		t.Errorf("follow depends on %v, want both sub-issues", got)
	}
	if got := state.Issues["big-edges"].DependsOn; len(got) != 1 || got[0] != "big-core" {
		t.Errorf("big-edges depends on %v, want chain on big-core", got)
	}
	for _, name := range []string{"big-core", "big-edges", "follow"} {
		if !contains(state.Completed, name) {
			t.Errorf("completed = %v, missing %s", state.Completed, name)
		}
	}
	res := state.Results["big"]
	if res == nil || res.Outcome != models.OutcomeFailedNeedsSplit {
		t.Errorf("parent result = %+v, want failed_needs_split", res)
	}
}

func TestMergeFailureDowngradesCompletedIssue(t *testing.T) {
	f := newFakeInvoker()
	approveAll(f)
	ws := newFakeWorkspace()
	ws.failMerge["clash"] = "unresolvable conflicts"
	mem := newFakeMemory()

	s := NewScheduler(f, ws, newFakeStore(), mem, nil, nil, Options{})
	clash := &models.Issue{Name: "clash"}
	dep := &models.Issue{Name: "dep", DependsOn: []string{"clash"}}
	state := stateWith(clash, dep)
	state.Levels = [][]string{{"clash"}, {"dep"}}

	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if !contains(state.FailedUnrecoverable, "clash") {
		t.Fatalf("failed unrecoverable = %v, want clash", state.FailedUnrecoverable)
	}
	if res := state.Results["clash"]; res.Outcome != models.OutcomeFailedUnrecoverable {
		t.Errorf("outcome = %s, want failed_unrecoverable", res.Outcome)
	}
	if notes := state.Issues["dep"].FailureNotes; len(notes) == 0 {
		t.Error("dependent got no failure note")
	}
	if len(mem.FailurePatterns()) == 0 {
		t.Error("merge failure was not recorded as a failure pattern")
	}
}

func TestIntegrationGatePersistentFailureBecomesDebt(t *testing.T) {
	f := newFakeInvoker()
	approveAll(f)
	f.on(invoke.RoleIntegrationTester, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"passed": false, "tests_failed": 2, "summary": "handlers disagree"}, nil
	})
	ws := newFakeWorkspace()
	ws.needsITests = true

	s := NewScheduler(f, ws, newFakeStore(), nil, nil, nil, Options{})
	state := stateWith(&models.Issue{Name: "a"}, &models.Issue{Name: "b"})
	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if got := f.count(invoke.RoleIntegrationTester); got != 2 {
		t.Errorf("integration tester calls = %d, want initial plus one fix attempt", got)
	}
	if len(state.IntegrationTestResults) != 2 {
		t.Errorf("recorded %d integration results, want 2", len(state.IntegrationTestResults))
	}
	found := false
	for _, d := range state.AccumulatedDebt {
		if d.Kind == models.DebtOther && d.Severity == models.SeverityHigh {
			found = true
		}
	}
	if !found {
		t.Errorf("accumulated debt = %+v, want a high-severity integration entry", state.AccumulatedDebt)
	}
}

func TestDebtPropagatesToTransitiveDependents(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"summary": "partial", "complete": true}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, req invoke.Request) (any, error) {
		if promptNames(req, "base") {
			return map[string]any{"approved": false, "feedback": "pagination missing"}, nil
		}
		return map[string]any{"approved": true}, nil
	})
	f.on(invoke.RoleAdvisor, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{
			"action": "accept_with_debt",
			"debt_items": []map[string]any{
				{"kind": "missing_functionality", "criterion": "pagination", "severity": "low"},
			},
		}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{
		MaxCodingIterations: 1, MaxAdvisorInvocations: 2, EnableAdvisor: true,
	})
	base := &models.Issue{Name: "base"}
	mid := &models.Issue{Name: "mid", DependsOn: []string{"base"}}
	leaf := &models.Issue{Name: "leaf", DependsOn: []string{"mid"}}
	state := stateWith(base, mid, leaf)
	state.Levels = [][]string{{"base"}, {"mid"}, {"leaf"}}

	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	for _, name := range []string{"mid", "leaf"} {
		notes := state.Issues[name].DebtNotes
		if len(notes) != 1 || !strings.Contains(notes[0], "pagination") {
			t.Errorf("%s debt notes = %v, want the propagated pagination note", name, notes)
		}
	}
}

func TestCancelledContextCheckpointsAndReturns(t *testing.T) {
	f := newFakeInvoker()
	approveAll(f)
	store := newFakeStore()
	s := NewScheduler(f, newFakeWorkspace(), store, nil, nil, nil, Options{})
	state := stateWith(&models.Issue{Name: "a"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.ExecuteLevels(ctx, state); err == nil {
		t.Fatal("ExecuteLevels returned nil for a cancelled context")
	}
	if !state.Cancelled {
		t.Error("state was not marked cancelled")
	}
	if store.checkpoints == 0 {
		t.Error("no checkpoint written on cancellation")
	}
	if len(state.Completed)+len(state.FailedUnrecoverable) != 0 {
		t.Error("cancelled run recorded terminal outcomes")
	}
}

func TestReplanAbortEndsRun(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"summary": "attempt", "complete": false}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"approved": false, "blocking": true, "block_reason": "destroys data"}, nil
	})
	f.on(invoke.RoleAdvisor, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"action": "escalate", "justification": "plan is wrong"}, nil
	})
	f.on(invoke.RoleReplanner, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"action": "abort", "rationale": "goal unreachable"}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{
		MaxCodingIterations: 1, MaxAdvisorInvocations: 1,
		EnableAdvisor: true, EnableReplanning: true, MaxReplans: 2,
	})
	state := stateWith(&models.Issue{Name: "doomed"}, &models.Issue{Name: "later"})
	state.Levels = [][]string{{"doomed"}, {"later"}}

	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}
	if !state.Aborted {
		t.Fatal("state was not aborted")
	}
	if contains(state.Completed, "later") {
		t.Error("a later level ran after the abort")
	}
}

func TestReplanModifyDAGRoutesAroundUnrecoverableIssue(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, req invoke.Request) (any, error) {
		if promptNames(req, "anchor") {
			return map[string]any{"summary": "stuck", "complete": false}, nil
		}
		return map[string]any{"summary": "done", "complete": true}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, req invoke.Request) (any, error) {
		if promptNames(req, "anchor") {
			return map[string]any{"approved": false, "feedback": "nothing works"}, nil
		}
		return map[string]any{"approved": true}, nil
	})
	f.on(invoke.RoleAdvisor, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"action": "escalate", "justification": "approach is wrong"}, nil
	})
	f.on(invoke.RoleReplanner, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{
			"action":              "modify_dag",
			"rationale":           "route around the anchor",
			"skipped_issue_names": []string{"extra"},
			"updated_issues": []map[string]any{
				{"name": "follow", "depends_on": []string{}},
			},
		}, nil
	})

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), nil, nil, nil, Options{
		MaxCodingIterations: 1, MaxAdvisorInvocations: 1,
		EnableAdvisor: true, EnableReplanning: true, MaxReplans: 2,
	})
	anchor := &models.Issue{Name: "anchor", AcceptanceCriteria: []string{
		"requests over the limit get a 429",
		"responses carry a retry-after header",
	}}
	follow := &models.Issue{Name: "follow", DependsOn: []string{"anchor"}}
	extra := &models.Issue{Name: "extra", DependsOn: []string{"anchor"}}
	state := stateWith(anchor, follow, extra)
	state.Levels = [][]string{{"anchor"}, {"follow", "extra"}}

	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if !contains(state.FailedUnrecoverable, "anchor") {
		t.Fatalf("anchor status = %+v, want unrecoverable", state)
	}
	if !contains(state.Completed, "follow") {
		t.Errorf("completed = %v, want follow rewired and run", state.Completed)
	}
	if !contains(state.Skipped, "extra") {
		t.Errorf("skipped = %v, want extra", state.Skipped)
	}

	var unmet []string
	for _, d := range state.AccumulatedDebt {
		if d.Kind != models.DebtUnmetCriterion {
			continue
		}
		if d.IssueName != "anchor" || d.Severity != models.SeverityHigh {
			t.Errorf("debt item = %+v, want anchor at high severity", d)
		}
		unmet = append(unmet, d.Criterion)
	}
	if len(unmet) != len(anchor.AcceptanceCriteria) {
		t.Fatalf("unmet criteria = %v, want one per abandoned criterion", unmet)
	}
	for _, ac := range anchor.AcceptanceCriteria {
		if !contains(unmet, ac) {
			t.Errorf("unmet criteria %v missing %q", unmet, ac)
		}
	}
}

func TestLearningWritesHappenAtTheGate(t *testing.T) {
	f := newFakeInvoker()
	f.on(invoke.RoleCoder, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{
			"summary": "done", "complete": true,
			"conventions": "handlers live under internal/api",
			"interfaces":  "func NewCache(size int) *Cache",
		}, nil
	})
	f.on(invoke.RoleCodeReviewer, func(_ int, _ invoke.Request) (any, error) {
		return map[string]any{"approved": true}, nil
	})
	mem := newFakeMemory()

	s := NewScheduler(f, newFakeWorkspace(), newFakeStore(), mem, nil, nil, Options{})
	state := stateWith(&models.Issue{Name: "cache"})
	if err := s.ExecuteLevels(context.Background(), state); err != nil {
		t.Fatalf("ExecuteLevels: %v", err)
	}

	if got, _ := mem.Conventions(); !strings.Contains(got, "internal/api") {
		t.Errorf("conventions = %q, want the coder's note", got)
	}
	if got, ok := mem.Interface("cache"); !ok || !strings.Contains(got, "NewCache") {
		t.Errorf("interface note = %q, want the coder's note", got)
	}
	if _, ok := mem.BuildHealth(); !ok {
		t.Error("build health was never written")
	}
}
