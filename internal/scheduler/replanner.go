package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/mwhitfield/foreman/internal/graph"
	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// Replanner restructures the remaining graph after escalations. Agent
// failure degrades to CONTINUE; a run never aborts because the
// replanner itself broke.
type Replanner struct {
	invoker     invoke.Invoker
	constraints func(invoke.Role) invoke.Constraints
}

// NewReplanner creates the outer-loop replanner.
func NewReplanner(invoker invoke.Invoker, constraints func(invoke.Role) invoke.Constraints) *Replanner {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	return &Replanner{invoker: invoker, constraints: constraints}
}

// Decide invokes the replanner agent with the full run state, the
// escalated issues, and every previous decision.
func (r *Replanner) Decide(ctx context.Context, state *models.DAGState, escalated []string) *models.ReplanDecision {
	res, err := r.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleReplanner,
		SystemPrompt: replannerSystemPrompt,
		Prompt: fmt.Sprintf(replannerPrompt,
			mustJSON(runStateSummary(state)), mustJSON(escalated), mustJSON(state.ReplanHistory)),
		WorkDir:     state.RepoPath,
		Constraints: r.constraints(invoke.RoleReplanner),
	})
	if err != nil {
		log.Printf("[replan] agent failed, continuing: %v", err)
		return &models.ReplanDecision{
			Action:    models.ReplanContinue,
			Rationale: fmt.Sprintf("replanner unavailable (%v); continuing with the current graph", err),
			Coerced:   true,
		}
	}
	var decision models.ReplanDecision
	if err := res.Decode(&decision); err != nil {
		log.Printf("[replan] undecodable decision, continuing: %v", err)
		return &models.ReplanDecision{
			Action:    models.ReplanContinue,
			Rationale: fmt.Sprintf("replanner output unreadable (%v); continuing", err),
			Coerced:   true,
		}
	}
	if !decision.Action.Valid() {
		return &models.ReplanDecision{
			Action:    models.ReplanContinue,
			Rationale: fmt.Sprintf("unknown replan action %q; continuing", decision.Action),
			Coerced:   true,
		}
	}
	return &decision
}

// Apply mutates the state per the decision's graph rules and recomputes
// levels. A mutation that validates into a cycle or orphaned dependency
// is rejected wholesale and the decision degrades to CONTINUE. Returns
// true when the graph changed (caller restarts at level 0).
func Apply(state *models.DAGState, decision *models.ReplanDecision) (bool, error) {
	switch decision.Action {
	case models.ReplanContinue:
		return false, nil
	case models.ReplanAbort:
		state.Aborted = true
		return false, nil
	case models.ReplanReduceScope:
		for _, name := range decision.SkippedIssueNames {
			if issue := state.Issues[name]; issue != nil && !isTerminal(state, name) {
				state.MarkStatus(name, models.OutcomeSkipped)
			}
		}
		return recomputeLevels(state)
	case models.ReplanModifyDAG:
		return applyModify(state, decision)
	default:
		return false, fmt.Errorf("unhandled replan action %q", decision.Action)
	}
}

func applyModify(state *models.DAGState, decision *models.ReplanDecision) (bool, error) {
	// Work on a copy so a rejected mutation leaves the state untouched.
	snapshot := cloneIssues(state.Issues)
	completed, recoverable, unrecoverable, skipped, inFlight :=
		state.Completed, state.FailedRecoverable, state.FailedUnrecoverable, state.Skipped, state.InFlight

	for _, name := range decision.RemovedIssueNames {
		if contains(state.Completed, name) {
			log.Printf("[replan] refusing to remove completed issue %s", name)
			continue
		}
		delete(state.Issues, name)
		state.Requeue(name)
	}
	for _, name := range decision.SkippedIssueNames {
		if issue := state.Issues[name]; issue != nil && !isTerminal(state, name) {
			state.MarkStatus(name, models.OutcomeSkipped)
		}
	}
	for _, update := range decision.UpdatedIssues {
		issue := state.Issues[update.Name]
		if issue == nil {
			continue
		}
		if update.AcceptanceCriteria != nil {
			issue.AcceptanceCriteria = update.AcceptanceCriteria
		}
		if update.DependsOn != nil {
			issue.DependsOn = update.DependsOn
		}
		if update.ApproachChanges != "" {
			issue.ApproachChanges = update.ApproachChanges
		}
		if update.Description != "" {
			issue.Description = update.Description
		}
		// An updated issue runs again under its new definition.
		state.Requeue(update.Name)
	}
	seq := state.MaxSequenceNumber()
	for _, issue := range decision.NewIssues {
		if issue.Name == "" || state.Issues[issue.Name] != nil {
			continue
		}
		seq++
		issue.SequenceNumber = seq
		if !issue.Guidance.EstimatedScope.Valid() {
			issue.Guidance.EstimatedScope = models.ScopeMedium
		}
		state.Issues[issue.Name] = issue
	}

	changed, err := recomputeLevels(state)
	if err != nil {
		// Validation failed: restore and continue with the old graph.
		state.Issues = snapshot
		state.Completed, state.FailedRecoverable, state.FailedUnrecoverable, state.Skipped, state.InFlight =
			completed, recoverable, unrecoverable, skipped, inFlight
		decision.Action = models.ReplanContinue
		decision.Coerced = true
		decision.Rationale += fmt.Sprintf(" (mutation rejected: %v)", err)
		return false, nil
	}
	return changed, nil
}

// recomputeLevels rebuilds levels over the remaining issues with
// terminal issues treated as satisfied dependencies.
func recomputeLevels(state *models.DAGState) (bool, error) {
	remaining := make(map[string]*models.Issue)
	terminal := state.TerminalSet()
	for name, issue := range state.Issues {
		if !terminal[name] {
			remaining[name] = issue
		}
	}
	levels, err := graph.ComputeLevels(remaining, terminal)
	if err != nil {
		return false, err
	}
	state.Levels = levels
	state.CurrentLevel = 0
	return true, nil
}

func runStateSummary(state *models.DAGState) map[string]any {
	remaining := []string{}
	terminal := state.TerminalSet()
	for _, issue := range state.RemainingIssues() {
		if !terminal[issue.Name] {
			remaining = append(remaining, issue.Name)
		}
	}
	return map[string]any{
		"plan_summary":         state.PlanSummary,
		"current_level":        state.CurrentLevel,
		"completed":            state.Completed,
		"failed_recoverable":   state.FailedRecoverable,
		"failed_unrecoverable": state.FailedUnrecoverable,
		"skipped":              state.Skipped,
		"remaining":            remaining,
		"replan_count":         state.ReplanCount,
		"accumulated_debt":     state.AccumulatedDebt,
	}
}

func cloneIssues(issues map[string]*models.Issue) map[string]*models.Issue {
	clone := make(map[string]*models.Issue, len(issues))
	for name, issue := range issues {
		clone[name] = issue.Clone()
	}
	return clone
}

func isTerminal(state *models.DAGState, name string) bool {
	return state.TerminalSet()[name]
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
