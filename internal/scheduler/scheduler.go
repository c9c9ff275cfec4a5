// Package scheduler executes a planned issue graph level by level: the
// inner coding loop per issue, the middle advisor loop per failure, and
// the outer replan loop per level. State mutates only at gate points;
// a checkpoint follows the worktree gate and the end of every level.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/mwhitfield/foreman/internal/graph"
	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// WorkspaceManager is the git surface the scheduler drives.
type WorkspaceManager interface {
	MakeWorktree(ctx context.Context, issue *models.Issue, tracking *models.GitTracking) (string, error)
	MergeLevel(ctx context.Context, level int, issues []*models.Issue, tracking *models.GitTracking) (*models.MergeResult, error)
	CleanupWorktrees(issues []*models.Issue, tracking *models.GitTracking, retainBranches bool) error
	ReconcileWorktrees(tracking *models.GitTracking, claimed map[string]bool) error
}

// CheckpointStore persists run state and iteration traces.
type CheckpointStore interface {
	IterationStore
	SaveCheckpoint(state *models.DAGState) error
}

// IssueSpecWriter expands bare issues (replanner- or split-created)
// into full specs. Optional; a nil writer leaves the short form.
type IssueSpecWriter interface {
	WriteIssueSpecs(ctx context.Context, issues []*models.Issue) error
}

// Options bounds the three loops.
type Options struct {
	MaxCodingIterations   int
	MaxAdvisorInvocations int
	MaxReplans            int
	// ConcurrencyCap bounds parallel issues per level; 0 is unbounded.
	ConcurrencyCap   int
	EnableAdvisor    bool
	EnableReplanning bool
	// RetainBranches keeps merged issue branches after cleanup.
	RetainBranches bool
	// AdvisorLite adds the advisory post-coder diagnosis pass.
	AdvisorLite bool
}

// Scheduler runs the execution phase over a DAGState.
type Scheduler struct {
	workspace   WorkspaceManager
	store       CheckpointStore
	memory      Memory
	specWriter  IssueSpecWriter
	loop        *CodingLoop
	advisor     *Advisor
	replanner   *Replanner
	integration *IntegrationTester
	opts        Options
}

// NewScheduler wires the scheduler and its agent loops. memory and
// specWriter may be nil.
func NewScheduler(invoker invoke.Invoker, workspace WorkspaceManager, store CheckpointStore, memory Memory, constraints func(invoke.Role) invoke.Constraints, specWriter IssueSpecWriter, opts Options) *Scheduler {
	if opts.MaxCodingIterations <= 0 {
		opts.MaxCodingIterations = 5
	}
	if opts.MaxAdvisorInvocations <= 0 {
		opts.MaxAdvisorInvocations = 2
	}
	return &Scheduler{
		workspace:   workspace,
		store:       store,
		memory:      memory,
		specWriter:  specWriter,
		loop:        NewCodingLoop(invoker, store, memory, constraints, opts.MaxCodingIterations, opts.AdvisorLite),
		advisor:     NewAdvisor(invoker, constraints),
		replanner:   NewReplanner(invoker, constraints),
		integration: NewIntegrationTester(invoker, constraints),
		opts:        opts,
	}
}

// Reconcile drops worktrees no live issue claims. Called on resume
// before execution restarts.
func (s *Scheduler) Reconcile(state *models.DAGState) error {
	claimed := make(map[string]bool)
	for _, issue := range state.Issues {
		if issue.WorktreePath != "" {
			claimed[issue.WorktreePath] = true
		}
	}
	return s.workspace.ReconcileWorktrees(&state.Git, claimed)
}

// ExecuteLevels runs every remaining level to completion, abort, or
// cancellation. A replan or split that mutates the graph restarts at
// level zero over the recomputed levels. The returned error is non-nil
// only for cancellation; all other failures land in the state.
func (s *Scheduler) ExecuteLevels(ctx context.Context, state *models.DAGState) error {
	for !state.Aborted && state.CurrentLevel < len(state.Levels) {
		if err := ctx.Err(); err != nil {
			return s.cancel(state, err)
		}

		issues := s.levelIssues(state)
		if len(issues) == 0 {
			state.CurrentLevel++
			s.checkpoint(state)
			continue
		}

		log.Printf("[scheduler] level %d: %d issues", state.CurrentLevel, len(issues))
		mutated, err := s.runLevel(ctx, state, issues)
		if err != nil {
			return s.cancel(state, err)
		}
		if !mutated {
			state.CurrentLevel++
		}
		s.checkpoint(state)
	}
	if state.Aborted {
		s.checkpoint(state)
	}
	return nil
}

// levelIssues resolves the current level's names to live issues.
// Levels can hold stale names after a mutation; terminal and removed
// issues are filtered here rather than eagerly rewritten.
func (s *Scheduler) levelIssues(state *models.DAGState) []*models.Issue {
	terminal := state.TerminalSet()
	var out []*models.Issue
	for _, name := range state.Levels[state.CurrentLevel] {
		if issue := state.Issues[name]; issue != nil && !terminal[name] {
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].SequenceNumber < out[b].SequenceNumber })
	return out
}

// runLevel executes one level through every gate. Returns true when a
// split or replan mutated the graph, in which case levels were already
// recomputed and the caller must not advance.
func (s *Scheduler) runLevel(ctx context.Context, state *models.DAGState, issues []*models.Issue) (bool, error) {
	level := state.CurrentLevel

	// Worktree gate.
	var ready []*models.Issue
	var execs []*issueExecution
	for _, issue := range issues {
		if _, err := s.workspace.MakeWorktree(ctx, issue, &state.Git); err != nil {
			log.Printf("[scheduler] worktree for %s: %v", issue.Name, err)
			execs = append(execs, &issueExecution{result: &models.IssueResult{
				IssueName:  issue.Name,
				Outcome:    models.OutcomeFailedUnrecoverable,
				Diagnostic: fmt.Sprintf("worktree setup failed: %v", err),
			}})
			continue
		}
		ready = append(ready, issue)
	}
	names := make([]string, len(ready))
	for i, issue := range ready {
		names[i] = issue.Name
	}
	state.MarkInFlight(names)
	s.checkpoint(state)

	// Execution gate: the only concurrent section. Results are
	// collected here and applied to the state single-threaded below.
	execs = append(execs, s.executeLevel(ctx, ready)...)

	if err := ctx.Err(); err != nil {
		s.classify(state, execs)
		s.cleanupLevel(state, issues)
		return false, err
	}

	failed := s.classify(state, execs)

	// Merge gate.
	merge := s.mergeGate(ctx, state, level, execs, failed)

	// Integration-test gate.
	if merge != nil && merge.NeedsIntegrationTests {
		s.integrationGate(ctx, state, level, merge)
	}

	// Debt gate: completed-with-debt issues annotate their dependents.
	s.propagateDebt(state, execs)

	// Split gate.
	mutated := false
	for _, ex := range execs {
		if ex.result.Outcome == models.OutcomeFailedNeedsSplit {
			if s.applySplit(ctx, state, ex.result) {
				mutated = true
			} else {
				failed[ex.result.IssueName] = true
			}
		}
	}

	// Replan gate.
	replanMutated, replanFailed := s.replanGate(ctx, state, execs)
	mutated = mutated || replanMutated
	for name := range replanFailed {
		failed[name] = true
	}

	// Failure propagation: transitive dependents learn what is missing.
	s.propagateFailures(state, failed)

	s.cleanupLevel(state, issues)
	return mutated, nil
}

// issueExecution carries one issue's terminal result plus the shared
// memory contributions the gate writes.
type issueExecution struct {
	result      *models.IssueResult
	conventions string
	interfaces  string
	bugPatterns []string
}

// executeLevel fans the ready issues out under the concurrency cap and
// waits for all of them.
func (s *Scheduler) executeLevel(ctx context.Context, issues []*models.Issue) []*issueExecution {
	if len(issues) == 0 {
		return nil
	}
	limit := s.opts.ConcurrencyCap
	if limit <= 0 || limit > len(issues) {
		limit = len(issues)
	}
	sem := make(chan struct{}, limit)
	execs := make([]*issueExecution, len(issues))
	var wg sync.WaitGroup
	for i, issue := range issues {
		wg.Add(1)
		go func(i int, issue *models.Issue) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if ctx.Err() != nil {
				// Never started; classify requeues it for the resumed run.
				execs[i] = &issueExecution{result: &models.IssueResult{IssueName: issue.Name, BranchName: issue.BranchName}}
				return
			}
			execs[i] = s.executeIssue(ctx, issue)
		}(i, issue)
	}
	wg.Wait()
	return execs
}

// executeIssue is the middle loop: coding loop plus advisor retries
// until a terminal outcome. Retries re-enter the coding loop with the
// advisor's directives folded into the issue.
func (s *Scheduler) executeIssue(ctx context.Context, issue *models.Issue) *issueExecution {
	ex := &issueExecution{result: &models.IssueResult{IssueName: issue.Name, BranchName: issue.BranchName}}
	res := ex.result
	var debt []models.DebtItem

	for {
		loop, err := s.loop.Run(ctx, issue)
		if loop != nil {
			res.Iterations += loop.Iterations
			res.FilesChanged = mergeFiles(res.FilesChanged, loop.FilesChanged)
			if loop.Conventions != "" {
				ex.conventions = loop.Conventions
			}
			if loop.Interfaces != "" {
				ex.interfaces = loop.Interfaces
			}
		}
		if err != nil {
			// Cancellation mid-loop: leave the outcome open so the issue
			// requeues instead of recording a false failure.
			res.Diagnostic = err.Error()
			return ex
		}

		if loop.Status == LoopApproved {
			res.Outcome = models.OutcomeCompleted
			if len(debt) > 0 {
				res.Outcome = models.OutcomeCompletedWithDebt
			}
			res.DebtItems = debt
			res.Diagnostic = loop.Summary
			return ex
		}
		if loop.Status == LoopBlocked && loop.Feedback != "" {
			ex.bugPatterns = append(ex.bugPatterns, fmt.Sprintf("%s: %s", issue.Name, loop.Feedback))
		}

		if !s.opts.EnableAdvisor {
			res.Outcome = models.OutcomeFailedUnrecoverable
			res.DebtItems = debt
			res.Diagnostic = loop.Summary
			return ex
		}
		if res.AdvisorInvocations >= s.opts.MaxAdvisorInvocations {
			res.Outcome = models.OutcomeFailedEscalated
			res.DebtItems = debt
			res.Diagnostic = "advisor budget exhausted: " + loop.Summary
			return ex
		}

		res.AdvisorInvocations++
		decision, err := s.advisor.Decide(ctx, issue, loop, res.AdvisorInvocations, s.opts.MaxAdvisorInvocations)
		if err != nil {
			res.Outcome = models.OutcomeFailedEscalated
			res.DebtItems = debt
			res.Diagnostic = fmt.Sprintf("advisor failed (%v); escalating", err)
			return ex
		}

		action := decision.Action
		if action.IsRetry() && res.AdvisorInvocations >= s.opts.MaxAdvisorInvocations {
			// The final invocation was told retries were off the table.
			action = models.AdvisorEscalate
		}

		switch action {
		case models.AdvisorRetryModified:
			debt = append(debt, s.dropCriteria(issue, decision)...)
			issue.RetryContext = decision.Justification
			issue.PreviousError = loop.Feedback
		case models.AdvisorRetryApproach:
			issue.ApproachChanges = decision.ApproachChanges
			issue.RetryContext = decision.Justification
			issue.PreviousError = loop.Feedback
		case models.AdvisorSplit:
			res.Outcome = models.OutcomeFailedNeedsSplit
			res.SubIssues = decision.SubIssues
			res.DebtItems = debt
			res.Diagnostic = decision.Justification
			return ex
		case models.AdvisorAcceptWithDebt:
			debt = append(debt, stampDebt(decision.DebtItems, issue.Name)...)
			res.Outcome = models.OutcomeCompletedWithDebt
			res.DebtItems = debt
			res.Diagnostic = decision.Justification
			return ex
		default:
			res.Outcome = models.OutcomeFailedEscalated
			res.DebtItems = debt
			res.Diagnostic = decision.Justification
			return ex
		}
	}
}

// dropCriteria removes the advisor's dropped criteria from the issue
// and returns them as debt, folding in the advisor's own debt items.
func (s *Scheduler) dropCriteria(issue *models.Issue, decision *models.AdvisorDecision) []models.DebtItem {
	debt := stampDebt(decision.DebtItems, issue.Name)
	covered := make(map[string]bool, len(debt))
	for _, d := range debt {
		covered[d.Criterion] = true
	}
	for _, c := range decision.DroppedCriteria {
		kept := issue.AcceptanceCriteria[:0]
		for _, ac := range issue.AcceptanceCriteria {
			if ac != c {
				kept = append(kept, ac)
			}
		}
		issue.AcceptanceCriteria = kept
		if !covered[c] {
			debt = append(debt, models.DebtItem{
				Kind:      models.DebtDroppedCriterion,
				Criterion: c,
				IssueName: issue.Name,
				Severity:  models.SeverityMedium,
			})
		}
	}
	return debt
}

// classify applies every execution result to the state. Returns the
// names that ended unrecoverable. Results with no outcome (cancelled
// before a terminal state) are requeued.
func (s *Scheduler) classify(state *models.DAGState, execs []*issueExecution) map[string]bool {
	failed := make(map[string]bool)
	for _, ex := range execs {
		res := ex.result
		if !res.Outcome.Valid() {
			state.Requeue(res.IssueName)
			continue
		}
		state.Results[res.IssueName] = res
		state.MarkStatus(res.IssueName, res.Outcome)
		state.AccumulatedDebt = append(state.AccumulatedDebt, res.DebtItems...)
		if res.AdvisorInvocations > 0 {
			state.Adaptations = append(state.Adaptations, models.Adaptation{
				IssueName: res.IssueName,
				Kind:      "advisor:" + string(res.Outcome),
				Detail:    res.Diagnostic,
			})
		}
		if res.Outcome == models.OutcomeFailedUnrecoverable {
			failed[res.IssueName] = true
			recordUnmetCriteria(state, res.IssueName)
		}
		s.learnFrom(ex)
	}
	state.ClearInFlight()
	return failed
}

// recordUnmetCriteria converts an abandoned issue's acceptance
// criteria into high-severity debt, one item per criterion.
func recordUnmetCriteria(state *models.DAGState, name string) {
	issue := state.Issues[name]
	if issue == nil {
		return
	}
	for _, ac := range issue.AcceptanceCriteria {
		state.AccumulatedDebt = append(state.AccumulatedDebt, models.DebtItem{
			Kind:          models.DebtUnmetCriterion,
			Criterion:     ac,
			IssueName:     name,
			Severity:      models.SeverityHigh,
			Justification: "issue abandoned as unrecoverable",
		})
	}
}

// learnFrom writes an execution's shared-memory contributions. Writes
// happen only here, at the gate, never mid-flight.
func (s *Scheduler) learnFrom(ex *issueExecution) {
	if s.memory == nil {
		return
	}
	res := ex.result
	if res.Outcome.Succeeded() {
		if ex.conventions != "" {
			if err := s.memory.SaveConventions(ex.conventions); err != nil {
				log.Printf("[memory] save conventions: %v", err)
			}
		}
		if ex.interfaces != "" {
			if err := s.memory.SetInterface(res.IssueName, ex.interfaces); err != nil {
				log.Printf("[memory] save interfaces for %s: %v", res.IssueName, err)
			}
		}
	} else if res.Diagnostic != "" {
		if err := s.memory.AddFailurePattern(fmt.Sprintf("%s: %s", res.IssueName, res.Diagnostic)); err != nil {
			log.Printf("[memory] add failure pattern: %v", err)
		}
	}
	for _, p := range ex.bugPatterns {
		if err := s.memory.AddBugPattern(p); err != nil {
			log.Printf("[memory] add bug pattern: %v", err)
		}
	}
}

// mergeGate merges the level's successful branches. Branches that fail
// to merge downgrade their issues to unrecoverable; the work stays on
// the unmerged branch.
func (s *Scheduler) mergeGate(ctx context.Context, state *models.DAGState, level int, execs []*issueExecution, failed map[string]bool) *models.MergeResult {
	var mergeable []*models.Issue
	for _, ex := range execs {
		if ex.result.Outcome.Succeeded() {
			if issue := state.Issues[ex.result.IssueName]; issue != nil {
				mergeable = append(mergeable, issue)
			}
		}
	}
	if len(mergeable) == 0 {
		return nil
	}
	sort.Slice(mergeable, func(a, b int) bool { return mergeable[a].SequenceNumber < mergeable[b].SequenceNumber })

	merge, err := s.workspace.MergeLevel(ctx, level, mergeable, &state.Git)
	if merge != nil {
		state.MergeResults = append(state.MergeResults, merge)
	}
	if err != nil {
		log.Printf("[scheduler] level %d merge: %v", level, err)
	}
	if merge == nil {
		return nil
	}

	for _, bm := range merge.Branches {
		if bm.Status != models.BranchFailed {
			continue
		}
		log.Printf("[scheduler] branch %s failed to merge: %s", bm.Branch, bm.Error)
		state.MarkStatus(bm.IssueName, models.OutcomeFailedUnrecoverable)
		failed[bm.IssueName] = true
		recordUnmetCriteria(state, bm.IssueName)
		if res := state.Results[bm.IssueName]; res != nil {
			res.Outcome = models.OutcomeFailedUnrecoverable
			res.Diagnostic = fmt.Sprintf("completed but failed to merge: %s", bm.Error)
		}
		if s.memory != nil {
			_ = s.memory.AddFailurePattern(fmt.Sprintf("%s: merge failed: %s", bm.IssueName, bm.Error))
		}
	}
	return merge
}

// integrationGate runs the integration tester and records every
// attempt. A gate that stays red after the fix attempt becomes debt;
// the run proceeds.
func (s *Scheduler) integrationGate(ctx context.Context, state *models.DAGState, level int, merge *models.MergeResult) {
	runs := s.integration.Run(ctx, state.RepoPath, level, merge)
	state.IntegrationTestResults = append(state.IntegrationTestResults, runs...)
	final := runs[len(runs)-1]
	if final.Passed {
		return
	}
	state.AccumulatedDebt = append(state.AccumulatedDebt, models.DebtItem{
		Kind:          models.DebtOther,
		Severity:      models.SeverityHigh,
		Justification: fmt.Sprintf("integration tests red after level %d merge: %s", level, final.Summary),
	})
}

// propagateDebt annotates every transitive dependent of a
// completed-with-debt issue so later coders know what is missing.
func (s *Scheduler) propagateDebt(state *models.DAGState, execs []*issueExecution) {
	terminal := state.TerminalSet()
	for _, ex := range execs {
		res := ex.result
		if res.Outcome != models.OutcomeCompletedWithDebt || len(res.DebtItems) == 0 {
			continue
		}
		note := fmt.Sprintf("%s completed with debt: %s", res.IssueName, debtSummary(res.DebtItems))
		for _, dep := range graph.Downstream(state.Issues, res.IssueName) {
			if issue := state.Issues[dep]; issue != nil && !terminal[dep] {
				issue.DebtNotes = appendNote(issue.DebtNotes, note)
			}
		}
	}
}

// applySplit replaces a failed issue with the advisor's sub-issues.
// The first sub-issue inherits the parent's dependencies and each
// later one chains on its predecessor; the parent's dependents are
// rewired onto all of them. A mutation that breaks the graph is rolled
// back and the parent fails unrecoverably.
func (s *Scheduler) applySplit(ctx context.Context, state *models.DAGState, res *models.IssueResult) bool {
	parent := state.Issues[res.IssueName]
	if parent == nil || len(res.SubIssues) == 0 {
		res.Outcome = models.OutcomeFailedUnrecoverable
		state.MarkStatus(res.IssueName, models.OutcomeFailedUnrecoverable)
		return false
	}

	snapshot := cloneIssues(state.Issues)
	seq := state.MaxSequenceNumber()
	var subNames []string
	for i, sub := range res.SubIssues {
		if sub.Name == "" || state.Issues[sub.Name] != nil {
			sub.Name = fmt.Sprintf("%s-part-%d", parent.Name, i+1)
		}
		seq++
		sub.SequenceNumber = seq
		if i == 0 {
			sub.DependsOn = append([]string(nil), parent.DependsOn...)
		} else {
			sub.DependsOn = []string{subNames[i-1]}
		}
		if !sub.Guidance.EstimatedScope.Valid() {
			sub.Guidance.EstimatedScope = models.ScopeSmall
		}
		sub.DebtNotes = append([]string(nil), parent.DebtNotes...)
		sub.FailureNotes = append([]string(nil), parent.FailureNotes...)
		state.Issues[sub.Name] = sub
		subNames = append(subNames, sub.Name)
	}

	for _, issue := range state.Issues {
		issue.DependsOn = replaceDep(issue.DependsOn, parent.Name, subNames)
	}
	delete(state.Issues, parent.Name)
	state.Requeue(parent.Name)

	if _, err := recomputeLevels(state); err != nil {
		log.Printf("[scheduler] split of %s rejected: %v", parent.Name, err)
		state.Issues = snapshot
		res.Outcome = models.OutcomeFailedUnrecoverable
		res.Diagnostic = fmt.Sprintf("split rejected (%v): %s", err, res.Diagnostic)
		state.MarkStatus(parent.Name, models.OutcomeFailedUnrecoverable)
		return false
	}

	state.Adaptations = append(state.Adaptations, models.Adaptation{
		IssueName: parent.Name,
		Kind:      "split",
		Detail:    strings.Join(subNames, ", "),
	})
	s.writeSpecs(ctx, state, subNames)
	log.Printf("[scheduler] split %s into %s", parent.Name, strings.Join(subNames, ", "))
	return true
}

// replanGate escalates to the replanner once per budgeted invocation.
// Escalated issues the decision leaves unaddressed become unrecoverable
// either way; a run never loops on the same escalation.
func (s *Scheduler) replanGate(ctx context.Context, state *models.DAGState, execs []*issueExecution) (bool, map[string]bool) {
	failed := make(map[string]bool)
	var escalated []string
	for _, ex := range execs {
		if ex.result.Outcome == models.OutcomeFailedEscalated {
			escalated = append(escalated, ex.result.IssueName)
		}
	}
	if len(escalated) == 0 {
		return false, failed
	}

	mutated := false
	if s.opts.EnableReplanning && state.ReplanCount < s.opts.MaxReplans {
		state.ReplanCount++
		decision := s.replanner.Decide(ctx, state, escalated)
		state.ReplanHistory = append(state.ReplanHistory, decision)
		changed, err := Apply(state, decision)
		if err != nil {
			log.Printf("[scheduler] replan apply: %v", err)
		}
		mutated = changed
		state.Adaptations = append(state.Adaptations, models.Adaptation{
			Kind:   "replan:" + string(decision.Action),
			Detail: decision.Rationale,
		})
		if decision.Action == models.ReplanModifyDAG && len(decision.NewIssues) > 0 {
			var added []string
			for _, issue := range decision.NewIssues {
				if state.Issues[issue.Name] == issue {
					added = append(added, issue.Name)
				}
			}
			s.writeSpecs(ctx, state, added)
		}
	}

	// Whatever the decision did not rescue stays failed for good.
	for _, name := range escalated {
		if contains(state.FailedRecoverable, name) {
			state.MarkStatus(name, models.OutcomeFailedUnrecoverable)
			failed[name] = true
			recordUnmetCriteria(state, name)
			if res := state.Results[name]; res != nil {
				res.Outcome = models.OutcomeFailedUnrecoverable
			}
		}
	}
	return mutated, failed
}

// propagateFailures appends failure notes to every transitive
// dependent of the level's unrecoverable issues. Dependents still run;
// they just know what is missing.
func (s *Scheduler) propagateFailures(state *models.DAGState, failed map[string]bool) {
	terminal := state.TerminalSet()
	for name := range failed {
		detail := "no detail recorded"
		if res := state.Results[name]; res != nil && res.Diagnostic != "" {
			detail = res.Diagnostic
		}
		note := fmt.Sprintf("dependency %s failed: %s", name, detail)
		for _, dep := range graph.Downstream(state.Issues, name) {
			if issue := state.Issues[dep]; issue != nil && !terminal[dep] {
				issue.FailureNotes = appendNote(issue.FailureNotes, note)
			}
		}
	}
}

func (s *Scheduler) writeSpecs(ctx context.Context, state *models.DAGState, names []string) {
	if s.specWriter == nil || len(names) == 0 {
		return
	}
	var issues []*models.Issue
	for _, name := range names {
		if issue := state.Issues[name]; issue != nil {
			issues = append(issues, issue)
		}
	}
	if err := s.specWriter.WriteIssueSpecs(ctx, issues); err != nil {
		log.Printf("[scheduler] write issue specs: %v", err)
	}
}

func (s *Scheduler) cleanupLevel(state *models.DAGState, issues []*models.Issue) {
	if err := s.workspace.CleanupWorktrees(issues, &state.Git, s.opts.RetainBranches); err != nil {
		log.Printf("[scheduler] cleanup worktrees: %v", err)
	}
}

// cancel records cooperative cancellation: in-flight work has already
// been waited on, so the state checkpoints cleanly and the level will
// restart from its first gate on resume.
func (s *Scheduler) cancel(state *models.DAGState, err error) error {
	state.Cancelled = true
	state.ClearInFlight()
	s.checkpoint(state)
	log.Printf("[scheduler] cancelled: %v", err)
	return err
}

func (s *Scheduler) checkpoint(state *models.DAGState) {
	if s.memory != nil {
		health := fmt.Sprintf("%d completed, %d failed, %d skipped, %d remaining",
			len(state.Completed), len(state.FailedUnrecoverable), len(state.Skipped), len(state.RemainingIssues()))
		if err := s.memory.SetBuildHealth(health); err != nil {
			log.Printf("[memory] set build health: %v", err)
		}
	}
	if err := s.store.SaveCheckpoint(state); err != nil {
		log.Printf("[scheduler] checkpoint: %v", err)
	}
}

func stampDebt(items []models.DebtItem, issueName string) []models.DebtItem {
	out := make([]models.DebtItem, 0, len(items))
	for _, d := range items {
		if d.IssueName == "" {
			d.IssueName = issueName
		}
		if !d.Kind.Valid() {
			d.Kind = models.DebtOther
		}
		if !d.Severity.Valid() {
			d.Severity = models.SeverityMedium
		}
		out = append(out, d)
	}
	return out
}

func debtSummary(items []models.DebtItem) string {
	parts := make([]string, 0, len(items))
	for _, d := range items {
		if d.Criterion != "" {
			parts = append(parts, d.Criterion)
		} else if d.Justification != "" {
			parts = append(parts, d.Justification)
		} else {
			parts = append(parts, string(d.Kind))
		}
	}
	return strings.Join(parts, "; ")
}

func replaceDep(deps []string, old string, replacement []string) []string {
	for i, d := range deps {
		if d == old {
			out := append([]string(nil), deps[:i]...)
			out = append(out, replacement...)
			out = append(out, deps[i+1:]...)
			return out
		}
	}
	return deps
}

func appendNote(notes []string, note string) []string {
	for _, n := range notes {
		if n == note {
			return notes
		}
	}
	return append(notes, note)
}
