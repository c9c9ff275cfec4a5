package models

// AdvisorAction is the advisor's decision after a coding loop ends
// without approval.
type AdvisorAction string

const (
	// AdvisorRetryModified retries the issue with some acceptance
	// criteria dropped and recorded as debt.
	AdvisorRetryModified AdvisorAction = "retry_modified"
	// AdvisorRetryApproach retries the issue with a changed approach.
	AdvisorRetryApproach AdvisorAction = "retry_approach"
	// AdvisorSplit replaces the issue with smaller sub-issues.
	AdvisorSplit AdvisorAction = "split"
	// AdvisorAcceptWithDebt completes the issue as-is with debt.
	AdvisorAcceptWithDebt AdvisorAction = "accept_with_debt"
	// AdvisorEscalate hands the issue to the replanner.
	AdvisorEscalate AdvisorAction = "escalate"
)

// Valid returns true if the action is a known value.
func (a AdvisorAction) Valid() bool {
	switch a {
	case AdvisorRetryModified, AdvisorRetryApproach, AdvisorSplit,
		AdvisorAcceptWithDebt, AdvisorEscalate:
		return true
	default:
		return false
	}
}

// IsRetry returns true for the two retry variants.
func (a AdvisorAction) IsRetry() bool {
	return a == AdvisorRetryModified || a == AdvisorRetryApproach
}

// AdvisorDecision is the advisor's structured output. Exactly the
// fields relevant to Action are populated.
type AdvisorDecision struct {
	// Action is the chosen recovery path.
	Action AdvisorAction `json:"action"`
	// DroppedCriteria lists acceptance criteria to drop (retry_modified).
	DroppedCriteria []string `json:"dropped_criteria,omitempty"`
	// ApproachChanges directs the coder's next attempt (retry_approach).
	ApproachChanges string `json:"approach_changes,omitempty"`
	// SubIssues replaces the issue on a split.
	SubIssues []*Issue `json:"sub_issues,omitempty"`
	// DebtItems records accepted debt (accept_with_debt, retry_modified).
	DebtItems []DebtItem `json:"debt_items,omitempty"`
	// Justification explains the decision.
	Justification string `json:"justification,omitempty"`
}

// ReplanAction is the replanner's decision after an escalation.
type ReplanAction string

const (
	// ReplanContinue proceeds with the graph unchanged.
	ReplanContinue ReplanAction = "continue"
	// ReplanModifyDAG restructures the remaining graph.
	ReplanModifyDAG ReplanAction = "modify_dag"
	// ReplanReduceScope skips non-essential issues.
	ReplanReduceScope ReplanAction = "reduce_scope"
	// ReplanAbort ends the run; no recovery is possible.
	ReplanAbort ReplanAction = "abort"
)

// Valid returns true if the action is a known value.
func (a ReplanAction) Valid() bool {
	switch a {
	case ReplanContinue, ReplanModifyDAG, ReplanReduceScope, ReplanAbort:
		return true
	default:
		return false
	}
}

// IssueUpdate is a field-level update to a remaining issue, applied by
// the scheduler during a modify_dag replan. Nil slice fields leave the
// issue's current value untouched.
type IssueUpdate struct {
	// Name identifies the issue to update.
	Name string `json:"name"`
	// AcceptanceCriteria replaces the issue's criteria when non-nil.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// DependsOn replaces the issue's dependencies when non-nil.
	DependsOn []string `json:"depends_on,omitempty"`
	// ApproachChanges sets approach notes for the coder.
	ApproachChanges string `json:"approach_changes,omitempty"`
	// Description replaces the issue spec when non-empty.
	Description string `json:"description,omitempty"`
}

// ReplanDecision is the replanner's structured output. The scheduler
// validates and applies it; the agent never mutates state directly.
type ReplanDecision struct {
	// Action is the chosen restructuring.
	Action ReplanAction `json:"action"`
	// Rationale explains the decision; fed back on later invocations.
	Rationale string `json:"rationale"`
	// RemovedIssueNames lists issues to drop entirely (modify_dag).
	RemovedIssueNames []string `json:"removed_issue_names,omitempty"`
	// SkippedIssueNames lists issues to mark skipped (modify_dag,
	// reduce_scope).
	SkippedIssueNames []string `json:"skipped_issue_names,omitempty"`
	// UpdatedIssues lists field-level updates (modify_dag).
	UpdatedIssues []IssueUpdate `json:"updated_issues,omitempty"`
	// NewIssues lists issues to add (modify_dag).
	NewIssues []*Issue `json:"new_issues,omitempty"`
	// Coerced marks a decision the scheduler rewrote, with the reason
	// recorded in Rationale.
	Coerced bool `json:"coerced,omitempty"`
}

// RetryAdvice is the advisory post-coder diagnosis. It informs the next
// iteration's context and never decides control flow.
type RetryAdvice struct {
	// ShouldRetry is the diagnostician's recommendation.
	ShouldRetry bool `json:"should_retry"`
	// Diagnosis is the root-cause analysis.
	Diagnosis string `json:"diagnosis"`
	// Strategy describes what to do differently.
	Strategy string `json:"strategy,omitempty"`
	// ModifiedContext is extra guidance to inject into the retry.
	ModifiedContext string `json:"modified_context,omitempty"`
	// Confidence is the diagnostician's self-assessed confidence (0-1).
	Confidence float64 `json:"confidence"`
}
