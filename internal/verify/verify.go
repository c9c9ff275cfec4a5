// Package verify implements the post-merge verification gate. A
// read-only verifier checks every PRD acceptance criterion against the
// integration branch; failures flow through a fix generator into
// targeted issues that re-enter the scheduler as an extra level, up to
// the configured cycle budget. Criteria still failing when the budget
// runs out are recorded as debt.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// Executor runs scheduled levels. The scheduler satisfies this.
type Executor interface {
	ExecuteLevels(ctx context.Context, state *models.DAGState) error
}

// ResultStore persists verification passes. Nil disables persistence.
type ResultStore interface {
	SaveVerification(res *models.VerificationResult) error
}

// Loop drives verify-fix cycles over a completed run.
type Loop struct {
	invoker     invoke.Invoker
	store       ResultStore
	constraints func(invoke.Role) invoke.Constraints
	maxCycles   int
}

// NewLoop builds a verify-fix loop with the given cycle budget.
func NewLoop(invoker invoke.Invoker, store ResultStore, constraints func(invoke.Role) invoke.Constraints, maxCycles int) *Loop {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	if maxCycles < 0 {
		maxCycles = 0
	}
	return &Loop{
		invoker:     invoker,
		store:       store,
		constraints: constraints,
		maxCycles:   maxCycles,
	}
}

// Run verifies the PRD's acceptance criteria against the merged
// integration branch. While criteria fail and the cycle budget allows,
// it generates fix issues, appends them to the state as a new level,
// and hands them to exec. The returned result is the final
// verification pass; criteria still failing at the end are appended to
// the state's accumulated debt.
func (l *Loop) Run(ctx context.Context, state *models.DAGState, prd *models.PRD, exec Executor) (*models.VerificationResult, error) {
	if prd == nil || len(prd.AcceptanceCriteria) == 0 {
		res := &models.VerificationResult{
			Passed:   true,
			FixCycle: state.VerifyFixCycles,
			Summary:  "no acceptance criteria to verify",
		}
		l.save(res)
		return res, nil
	}

	for {
		res, err := l.verifyOnce(ctx, state, prd)
		if err != nil {
			return nil, err
		}
		l.save(res)
		if res.Passed {
			log.Printf("[verify] cycle %d: all %d criteria passed", res.FixCycle, len(res.Criteria))
			return res, nil
		}

		failed := res.FailedCriteria()
		log.Printf("[verify] cycle %d: %d of %d criteria failed", res.FixCycle, len(failed), len(res.Criteria))

		if state.VerifyFixCycles >= l.maxCycles {
			l.recordDebt(state, failed)
			return res, nil
		}

		issues := l.generateFixes(ctx, state, res)
		if len(issues) == 0 {
			l.recordDebt(state, failed)
			return res, nil
		}

		appendFixLevel(state, issues, res.FixCycle)
		state.VerifyFixCycles++
		if err := exec.ExecuteLevels(ctx, state); err != nil {
			return res, err
		}
		if state.Aborted || state.Cancelled {
			return res, nil
		}
	}
}

// verifyOnce runs a single verification pass and normalizes the
// payload against the PRD's criterion list.
func (l *Loop) verifyOnce(ctx context.Context, state *models.DAGState, prd *models.PRD) (*models.VerificationResult, error) {
	prompt := fmt.Sprintf(verifierPrompt,
		prd.Goal,
		bulleted(prd.AcceptanceCriteria),
		completedSummary(state))

	result, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleVerifier,
		SystemPrompt: verifierSystemPrompt,
		Prompt:       prompt,
		WorkDir:      state.RepoPath,
		Constraints:  l.constraints(invoke.RoleVerifier),
	})
	if err != nil {
		return nil, fmt.Errorf("verifier: %w", err)
	}

	var res models.VerificationResult
	if err := result.Decode(&res); err != nil {
		return nil, fmt.Errorf("verifier: %w", err)
	}
	res.FixCycle = state.VerifyFixCycles
	normalize(&res, prd.AcceptanceCriteria)
	return &res, nil
}

// normalize guarantees one verdict per PRD criterion. Criteria the
// verifier skipped are recorded as failed, and the top-level verdict
// is recomputed from the per-criterion ones.
func normalize(res *models.VerificationResult, criteria []string) {
	seen := make(map[string]bool, len(res.Criteria))
	for _, c := range res.Criteria {
		seen[c.Criterion] = true
	}
	for _, c := range criteria {
		if !seen[c] {
			res.Criteria = append(res.Criteria, models.CriterionResult{
				Criterion: c,
				Passed:    false,
				Evidence:  "not assessed by the verifier",
			})
		}
	}
	res.Passed = true
	for _, c := range res.Criteria {
		if !c.Passed {
			res.Passed = false
			return
		}
	}
}

// fixPayload is the fix generator's response shape.
type fixPayload struct {
	Issues []struct {
		Name               string   `json:"name"`
		Title              string   `json:"title"`
		Description        string   `json:"description"`
		AcceptanceCriteria []string `json:"acceptance_criteria"`
		FilesToModify      []string `json:"files_to_modify"`
	} `json:"issues"`
	Summary string `json:"summary"`
}

// generateFixes turns failed criteria into fix issues. Generator
// failure degrades to no fixes so the loop falls through to debt.
func (l *Loop) generateFixes(ctx context.Context, state *models.DAGState, res *models.VerificationResult) []*models.Issue {
	failed := res.FailedCriteria()
	prompt := fmt.Sprintf(fixGeneratorPrompt,
		failedSummary(failed),
		bulleted(res.SuggestedFixes))

	result, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleFixGenerator,
		SystemPrompt: fixGeneratorSystemPrompt,
		Prompt:       prompt,
		WorkDir:      state.RepoPath,
		Constraints:  l.constraints(invoke.RoleFixGenerator),
	})
	if err != nil {
		log.Printf("[verify] fix generator: %v", err)
		return nil
	}
	var payload fixPayload
	if err := result.Decode(&payload); err != nil {
		log.Printf("[verify] fix generator: %v", err)
		return nil
	}

	var out []*models.Issue
	for i, fix := range payload.Issues {
		name := uniqueName(state, fix.Name, res.FixCycle, i)
		criteria := fix.AcceptanceCriteria
		if len(criteria) == 0 {
			continue
		}
		out = append(out, &models.Issue{
			Name:               name,
			Title:              fix.Title,
			Description:        fix.Description,
			AcceptanceCriteria: criteria,
			FilesToModify:      fix.FilesToModify,
			Guidance: models.IssueGuidance{
				EstimatedScope: models.ScopeSmall,
				NeedsNewTests:  true,
			},
		})
	}
	return out
}

// appendFixLevel registers the fix issues and schedules them as one
// additional level positioned at the current cursor.
func appendFixLevel(state *models.DAGState, issues []*models.Issue, cycle int) {
	seq := state.MaxSequenceNumber()
	var names []string
	for _, issue := range issues {
		seq++
		issue.SequenceNumber = seq
		state.Issues[issue.Name] = issue
		names = append(names, issue.Name)
	}
	state.Levels = append(state.Levels, names)
	state.CurrentLevel = len(state.Levels) - 1
	state.Adaptations = append(state.Adaptations, models.Adaptation{
		Kind:   "verify_fix",
		Detail: fmt.Sprintf("cycle %d: %s", cycle, strings.Join(names, ", ")),
	})
	log.Printf("[verify] cycle %d: scheduled %d fix issues", cycle, len(names))
}

// recordDebt converts still-failing criteria into debt items.
func (l *Loop) recordDebt(state *models.DAGState, failed []models.CriterionResult) {
	for _, c := range failed {
		state.AccumulatedDebt = append(state.AccumulatedDebt, models.DebtItem{
			Kind:          models.DebtUnmetCriterion,
			Criterion:     c.Criterion,
			IssueName:     c.IssueName,
			Severity:      models.SeverityHigh,
			Justification: "verification budget exhausted: " + c.Evidence,
		})
	}
	log.Printf("[verify] %d unmet criteria recorded as debt", len(failed))
}

func (l *Loop) save(res *models.VerificationResult) {
	if l.store == nil {
		return
	}
	if err := l.store.SaveVerification(res); err != nil {
		log.Printf("[verify] save verification: %v", err)
	}
}

// uniqueName keeps fix-issue names disjoint from the existing graph.
func uniqueName(state *models.DAGState, name string, cycle, index int) string {
	if name == "" {
		name = fmt.Sprintf("verify-fix-%d-%d", cycle, index+1)
	}
	if state.Issues[name] == nil {
		return name
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", name, n)
		if state.Issues[candidate] == nil {
			return candidate
		}
	}
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "- %s\n", item)
	}
	return strings.TrimRight(b.String(), "\n")
}

func failedSummary(failed []models.CriterionResult) string {
	var b strings.Builder
	for _, c := range failed {
		fmt.Fprintf(&b, "- %s\n  evidence: %s\n", c.Criterion, c.Evidence)
	}
	return strings.TrimRight(b.String(), "\n")
}

// completedSummary lists completed issues with their summaries so the
// verifier can attribute failures.
func completedSummary(state *models.DAGState) string {
	if len(state.Completed) == 0 {
		return "(none)"
	}
	type entry struct {
		Name    string `json:"name"`
		Title   string `json:"title,omitempty"`
		Outcome string `json:"outcome,omitempty"`
	}
	var entries []entry
	for _, name := range state.Completed {
		e := entry{Name: name}
		if issue := state.Issues[name]; issue != nil {
			e.Title = issue.Title
		}
		if res := state.Results[name]; res != nil {
			e.Outcome = string(res.Outcome)
		}
		entries = append(entries, e)
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "(unavailable)"
	}
	return string(data)
}
