// Package planner runs the planning pipeline: product manager,
// architect, tech-lead review loop, sprint planner, and per-issue spec
// writers, ending in level computation.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/mwhitfield/foreman/internal/graph"
	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// Pipeline orchestrates the planning roles over an invoker.
type Pipeline struct {
	invoker             invoke.Invoker
	constraints         func(invoke.Role) invoke.Constraints
	maxReviewIterations int
}

// NewPipeline creates a planning pipeline. The constraints function
// supplies per-role invocation limits; maxReviewIterations bounds the
// architecture review loop.
func NewPipeline(invoker invoke.Invoker, constraints func(invoke.Role) invoke.Constraints, maxReviewIterations int) *Pipeline {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	return &Pipeline{
		invoker:             invoker,
		constraints:         constraints,
		maxReviewIterations: maxReviewIterations,
	}
}

// Plan produces a full PlanResult for a goal against a repository.
// A dependency cycle in the planned issues is a fatal error.
func (p *Pipeline) Plan(ctx context.Context, goal, repoPath string) (*models.PlanResult, error) {
	prd, err := p.productManager(ctx, goal, repoPath)
	if err != nil {
		return nil, fmt.Errorf("product manager: %w", err)
	}
	log.Printf("[planner] PRD: %d requirements, %d acceptance criteria", len(prd.Requirements), len(prd.AcceptanceCriteria))

	arch, review, err := p.architectureLoop(ctx, prd, repoPath)
	if err != nil {
		return nil, fmt.Errorf("architecture: %w", err)
	}
	log.Printf("[planner] architecture settled after %d review round(s), approved=%v", review.Rounds, review.Approved)

	issues, err := p.sprintPlanner(ctx, prd, arch, repoPath)
	if err != nil {
		return nil, fmt.Errorf("sprint planner: %w", err)
	}
	if len(issues) == 0 {
		return nil, fmt.Errorf("sprint planner returned no issues")
	}

	if err := p.WriteIssueSpecs(ctx, arch, issues, repoPath); err != nil {
		return nil, fmt.Errorf("issue writers: %w", err)
	}

	issueMap := make(map[string]*models.Issue, len(issues))
	for _, issue := range issues {
		if _, dup := issueMap[issue.Name]; dup {
			return nil, fmt.Errorf("duplicate issue name %q in plan", issue.Name)
		}
		issueMap[issue.Name] = issue
	}
	levels, err := graph.ComputeLevels(issueMap, nil)
	if err != nil {
		return nil, fmt.Errorf("level computation: %w", err)
	}
	conflicts := graph.FileConflicts(issueMap, levels)
	for _, c := range conflicts {
		log.Printf("[planner] file conflict in level %d: %s and %s share %v", c.Level, c.IssueA, c.IssueB, c.Files)
	}

	return &models.PlanResult{
		PRD:           *prd,
		Architecture:  *arch,
		Review:        *review,
		Issues:        issues,
		Levels:        levels,
		FileConflicts: conflicts,
		Rationale:     arch.Summary,
	}, nil
}

func (p *Pipeline) productManager(ctx context.Context, goal, repoPath string) (*models.PRD, error) {
	res, err := p.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleProductManager,
		SystemPrompt: pmSystemPrompt,
		Prompt:       fmt.Sprintf(pmPrompt, goal),
		WorkDir:      repoPath,
		Constraints:  p.constraints(invoke.RoleProductManager),
	})
	if err != nil {
		return nil, err
	}
	var prd models.PRD
	if err := res.Decode(&prd); err != nil {
		return nil, err
	}
	if prd.Goal == "" {
		prd.Goal = goal
	}
	if len(prd.AcceptanceCriteria) == 0 {
		return nil, fmt.Errorf("PRD has no acceptance criteria")
	}
	return &prd, nil
}

// architectureLoop runs architect then up to maxReviewIterations+1
// tech-lead rounds. Exhaustion accepts the last revision; the loop
// never blocks planning.
func (p *Pipeline) architectureLoop(ctx context.Context, prd *models.PRD, repoPath string) (*models.Architecture, *models.ArchReview, error) {
	prdJSON := mustJSON(prd)

	arch, err := p.invokeArchitect(ctx, fmt.Sprintf(architectPrompt, prdJSON), repoPath)
	if err != nil {
		return nil, nil, err
	}

	review := &models.ArchReview{Approved: true}
	rounds := p.maxReviewIterations + 1
	for round := 1; round <= rounds; round++ {
		review, err = p.invokeTechLead(ctx, prdJSON, arch, repoPath)
		if err != nil {
			return nil, nil, err
		}
		review.Rounds = round
		if review.Approved {
			return arch, review, nil
		}
		if round == rounds {
			break
		}
		arch, err = p.invokeArchitect(ctx,
			fmt.Sprintf(architectRevisePrompt, mustJSON(arch), mustJSON(review.Concerns)), repoPath)
		if err != nil {
			return nil, nil, err
		}
	}

	// Review budget spent: accept the last revision as-is.
	log.Printf("[planner] review loop exhausted after %d rounds, accepting last architecture", review.Rounds)
	return arch, review, nil
}

func (p *Pipeline) invokeArchitect(ctx context.Context, prompt, repoPath string) (*models.Architecture, error) {
	res, err := p.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleArchitect,
		SystemPrompt: architectSystemPrompt,
		Prompt:       prompt,
		WorkDir:      repoPath,
		Constraints:  p.constraints(invoke.RoleArchitect),
	})
	if err != nil {
		return nil, err
	}
	var arch models.Architecture
	if err := res.Decode(&arch); err != nil {
		return nil, err
	}
	return &arch, nil
}

func (p *Pipeline) invokeTechLead(ctx context.Context, prdJSON string, arch *models.Architecture, repoPath string) (*models.ArchReview, error) {
	res, err := p.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleTechLead,
		SystemPrompt: techLeadSystemPrompt,
		Prompt:       fmt.Sprintf(techLeadPrompt, prdJSON, mustJSON(arch)),
		WorkDir:      repoPath,
		Constraints:  p.constraints(invoke.RoleTechLead),
	})
	if err != nil {
		return nil, err
	}
	var review models.ArchReview
	if err := res.Decode(&review); err != nil {
		return nil, err
	}
	return &review, nil
}

func (p *Pipeline) sprintPlanner(ctx context.Context, prd *models.PRD, arch *models.Architecture, repoPath string) ([]*models.Issue, error) {
	res, err := p.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleSprintPlanner,
		SystemPrompt: sprintSystemPrompt,
		Prompt:       fmt.Sprintf(sprintPrompt, mustJSON(prd), mustJSON(arch)),
		WorkDir:      repoPath,
		Constraints:  p.constraints(invoke.RoleSprintPlanner),
	})
	if err != nil {
		return nil, err
	}
	var payload struct {
		Issues []*models.Issue `json:"issues"`
	}
	if err := res.Decode(&payload); err != nil {
		return nil, err
	}
	for i, issue := range payload.Issues {
		if issue.Name == "" {
			return nil, fmt.Errorf("issue %d has no name", i)
		}
		issue.SequenceNumber = i + 1
		if !issue.Guidance.EstimatedScope.Valid() {
			issue.Guidance.EstimatedScope = models.ScopeMedium
		}
	}
	return payload.Issues, nil
}

// WriteIssueSpecs fans out one issue writer per issue in parallel and
// folds the self-contained specs back into the issues. Also used by
// the scheduler for replan-added issues.
func (p *Pipeline) WriteIssueSpecs(ctx context.Context, arch *models.Architecture, issues []*models.Issue, repoPath string) error {
	var wg sync.WaitGroup
	errs := make([]error, len(issues))

	for i, issue := range issues {
		wg.Add(1)
		go func(i int, issue *models.Issue) {
			defer wg.Done()
			res, err := p.invoker.Invoke(ctx, invoke.Request{
				Role:         invoke.RoleIssueWriter,
				SystemPrompt: issueWriterSystemPrompt,
				Prompt:       fmt.Sprintf(issueWriterPrompt, arch.Summary, mustJSON(issue)),
				WorkDir:      repoPath,
				Constraints:  p.constraints(invoke.RoleIssueWriter),
			})
			if err != nil {
				errs[i] = fmt.Errorf("issue %s: %w", issue.Name, err)
				return
			}
			var payload struct {
				Description        string   `json:"description"`
				AcceptanceCriteria []string `json:"acceptance_criteria"`
			}
			if err := res.Decode(&payload); err != nil {
				errs[i] = fmt.Errorf("issue %s: %w", issue.Name, err)
				return
			}
			if payload.Description != "" {
				issue.Description = payload.Description
			}
			if len(payload.AcceptanceCriteria) >= len(issue.AcceptanceCriteria) {
				issue.AcceptanceCriteria = payload.AcceptanceCriteria
			}
		}(i, issue)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
