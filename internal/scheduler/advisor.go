package scheduler

import (
	"context"
	"fmt"

	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// Advisor decides how to proceed when a coding loop ends without
// approval. The caller enforces the invocation budget and the
// narrowed decision space on the final invocation.
type Advisor struct {
	invoker     invoke.Invoker
	constraints func(invoke.Role) invoke.Constraints
}

// NewAdvisor creates the middle-loop advisor.
func NewAdvisor(invoker invoke.Invoker, constraints func(invoke.Role) invoke.Constraints) *Advisor {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	return &Advisor{invoker: invoker, constraints: constraints}
}

// Decide reads the iteration trace and the worktree and returns a
// decision. invocation is 1-based; when invocation == max the prompt
// tells the advisor retries are off the table.
func (a *Advisor) Decide(ctx context.Context, issue *models.Issue, loop *LoopResult, invocation, max int) (*models.AdvisorDecision, error) {
	note := ""
	if invocation >= max {
		note = advisorNarrowedNote
	}
	res, err := a.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleAdvisor,
		SystemPrompt: advisorSystemPrompt,
		Prompt:       fmt.Sprintf(advisorPrompt, mustJSON(issue), mustJSON(loop.Records), invocation, max, note),
		WorkDir:      issue.WorktreePath,
		Constraints:  a.constraints(invoke.RoleAdvisor),
	})
	if err != nil {
		return nil, err
	}
	var decision models.AdvisorDecision
	if err := res.Decode(&decision); err != nil {
		return nil, err
	}
	if !decision.Action.Valid() {
		return nil, fmt.Errorf("advisor returned unknown action %q", decision.Action)
	}
	if decision.Action == models.AdvisorSplit && len(decision.SubIssues) == 0 {
		return nil, fmt.Errorf("advisor chose split without sub-issues")
	}
	return &decision, nil
}
