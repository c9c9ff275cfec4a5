package scheduler

import (
	"context"
	"fmt"
	"log"

	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// IntegrationTester runs the post-merge integration gate on the
// integration branch checkout.
type IntegrationTester struct {
	invoker     invoke.Invoker
	constraints func(invoke.Role) invoke.Constraints
}

// NewIntegrationTester creates the gate runner.
func NewIntegrationTester(invoker invoke.Invoker, constraints func(invoke.Role) invoke.Constraints) *IntegrationTester {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	return &IntegrationTester{invoker: invoker, constraints: constraints}
}

// Run invokes the integration tester once, and once more with fix
// permission when the first attempt fails. Every attempt is returned so
// the checkpoint records the full history; the last entry is the gate
// verdict. An agent failure yields a synthetic failed result rather
// than an error.
func (t *IntegrationTester) Run(ctx context.Context, repoPath string, level int, merge *models.MergeResult) []*models.IntegrationTestResult {
	mergedJSON := mustJSON(merge.Branches)
	var results []*models.IntegrationTestResult

	for attempt := 1; attempt <= 2; attempt++ {
		note := ""
		if attempt > 1 {
			note = fmt.Sprintf(integrationRetryNote, mustJSON(results[len(results)-1]))
		}
		res := t.invokeOnce(ctx, repoPath, mergedJSON, merge.IntegrationTestRationale, note)
		res.Level = level
		res.Attempt = attempt
		results = append(results, res)
		if res.Passed {
			return results
		}
		log.Printf("[integration] level %d attempt %d failed: %s", level, attempt, res.Summary)
	}
	return results
}

func (t *IntegrationTester) invokeOnce(ctx context.Context, repoPath, mergedJSON, rationale, note string) *models.IntegrationTestResult {
	res, err := t.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleIntegrationTester,
		SystemPrompt: integrationSystemPrompt,
		Prompt:       fmt.Sprintf(integrationPrompt, mergedJSON, rationale, note),
		WorkDir:      repoPath,
		Constraints:  t.constraints(invoke.RoleIntegrationTester),
	})
	if err != nil {
		return &models.IntegrationTestResult{
			Passed:  false,
			Summary: fmt.Sprintf("integration tester unavailable: %v", err),
		}
	}
	var result models.IntegrationTestResult
	if err := res.Decode(&result); err != nil {
		return &models.IntegrationTestResult{
			Passed:  false,
			Summary: fmt.Sprintf("integration result unreadable: %v", err),
		}
	}
	return &result
}
