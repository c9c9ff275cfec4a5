package build

import (
	"fmt"
	"strings"

	"github.com/mwhitfield/foreman/pkg/models"
)

// assemble classifies the terminal state and builds the user-visible
// result. Failure is always reported here, never as a raw error.
func assemble(plan *models.PlanResult, state *models.DAGState, verification *models.VerificationResult) *models.BuildResult {
	res := &models.BuildResult{
		Status:       classify(state, verification),
		Plan:         plan,
		State:        state,
		Verification: verification,
		Debt:         state.AccumulatedDebt,
	}
	res.Phases = phases(plan, state, verification)
	res.Summary = summarize(res, state)
	return res
}

// classify maps the terminal state onto a BuildStatus. Cancellation
// and abort dominate; otherwise the run is failed when nothing landed,
// partial when anything is unfinished or indebted, success when every
// issue completed and verification passed.
func classify(state *models.DAGState, verification *models.VerificationResult) models.BuildStatus {
	switch {
	case state.Cancelled:
		return models.BuildCancelled
	case state.Aborted:
		return models.BuildAborted
	case len(state.Completed) == 0:
		return models.BuildFailed
	case len(state.FailedUnrecoverable) > 0 ||
		len(state.FailedRecoverable) > 0 ||
		len(state.Skipped) > 0 ||
		len(state.AccumulatedDebt) > 0 ||
		verification == nil ||
		!verification.Passed:
		return models.BuildPartial
	default:
		return models.BuildSuccess
	}
}

func phases(plan *models.PlanResult, state *models.DAGState, verification *models.VerificationResult) []models.PhaseOutcome {
	out := []models.PhaseOutcome{{
		Phase:   "plan",
		Success: true,
		Detail:  fmt.Sprintf("%d issues across %d levels", len(plan.Issues), len(plan.Levels)),
	}}

	execDetail := fmt.Sprintf("%d completed", len(state.Completed))
	if n := len(state.FailedUnrecoverable) + len(state.FailedRecoverable); n > 0 {
		execDetail += fmt.Sprintf(", %d failed", n)
	}
	if n := len(state.Skipped); n > 0 {
		execDetail += fmt.Sprintf(", %d skipped", n)
	}
	out = append(out, models.PhaseOutcome{
		Phase:   "execute",
		Success: len(state.Completed) > 0 && len(state.FailedUnrecoverable) == 0 && !state.Aborted && !state.Cancelled,
		Detail:  execDetail,
	})

	if verification != nil {
		detail := fmt.Sprintf("%d of %d criteria passed", len(verification.Criteria)-len(verification.FailedCriteria()), len(verification.Criteria))
		if len(verification.Criteria) == 0 {
			detail = "no acceptance criteria"
		}
		out = append(out, models.PhaseOutcome{Phase: "verify", Success: verification.Passed, Detail: detail})
	} else {
		out = append(out, models.PhaseOutcome{Phase: "verify", Success: false, Detail: "did not run"})
	}
	return out
}

func summarize(res *models.BuildResult, state *models.DAGState) string {
	var b strings.Builder
	switch res.Status {
	case models.BuildSuccess:
		fmt.Fprintf(&b, "All %d issues completed and verification passed.", len(state.Completed))
	case models.BuildCancelled:
		fmt.Fprintf(&b, "Run cancelled with %d issues completed.", len(state.Completed))
	case models.BuildAborted:
		fmt.Fprintf(&b, "Run aborted by the replanner with %d issues completed.", len(state.Completed))
	case models.BuildFailed:
		b.WriteString("No issues completed.")
	default:
		fmt.Fprintf(&b, "%d issues completed", len(state.Completed))
		if n := len(state.FailedUnrecoverable) + len(state.FailedRecoverable); n > 0 {
			fmt.Fprintf(&b, ", %d failed", n)
		}
		if n := len(state.Skipped); n > 0 {
			fmt.Fprintf(&b, ", %d skipped", n)
		}
		b.WriteString(".")
	}
	if branch := state.Git.IntegrationBranch; branch != "" {
		fmt.Fprintf(&b, " Work is on branch %s.", branch)
	}
	if n := len(state.AccumulatedDebt); n > 0 {
		fmt.Fprintf(&b, " %d debt item(s) recorded.", n)
	}
	return b.String()
}
