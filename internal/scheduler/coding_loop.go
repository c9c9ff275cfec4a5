package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// LoopStatus is how a coding loop ended.
type LoopStatus string

const (
	// LoopApproved means the reviewer (or synthesizer) approved the work.
	LoopApproved LoopStatus = "approved"
	// LoopBlocked means the loop exited early on a blocking verdict.
	LoopBlocked LoopStatus = "blocked"
	// LoopExhausted means the iteration budget ran out without approval.
	LoopExhausted LoopStatus = "exhausted"
)

// LoopResult summarizes a finished coding loop for the middle loop.
type LoopResult struct {
	Status       LoopStatus
	Iterations   int
	Records      []*models.IterationRecord
	Feedback     string
	FilesChanged []string
	Summary      string
	// Conventions and Interfaces carry the coder's shared-memory
	// contributions; the scheduler writes them at the gate.
	Conventions string
	Interfaces  string
}

// IterationStore persists per-iteration traces.
type IterationStore interface {
	SaveIteration(issueName string, rec *models.IterationRecord) error
}

// CodingLoop runs the per-issue inner loop inside the issue's worktree.
type CodingLoop struct {
	invoker       invoke.Invoker
	store         IterationStore
	memory        Memory
	constraints   func(invoke.Role) invoke.Constraints
	maxIterations int
	advisorLite   bool
}

// NewCodingLoop creates the inner loop. memory may be nil.
func NewCodingLoop(invoker invoke.Invoker, store IterationStore, memory Memory, constraints func(invoke.Role) invoke.Constraints, maxIterations int, advisorLite bool) *CodingLoop {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	return &CodingLoop{
		invoker:       invoker,
		store:         store,
		memory:        memory,
		constraints:   constraints,
		maxIterations: maxIterations,
		advisorLite:   advisorLite,
	}
}

type coderPayload struct {
	models.CoderResult
	Conventions string `json:"conventions,omitempty"`
	Interfaces  string `json:"interfaces,omitempty"`
}

type qaPayload struct {
	models.QAResult
	Failures []string `json:"failures,omitempty"`
}

// Run executes up to maxIterations iterations for the issue. The path
// is chosen once from guidance.needs_deeper_qa. FIX feeds accumulated
// feedback into the next coder call; APPROVE and BLOCK end the loop.
func (l *CodingLoop) Run(ctx context.Context, issue *models.Issue) (*LoopResult, error) {
	result := &LoopResult{Status: LoopExhausted}
	issueJSON := mustJSON(issue)
	var feedback string
	var prevSignature string

	for iter := 1; iter <= l.maxIterations; iter++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		result.Iterations = iter
		rec := &models.IterationRecord{Iteration: iter, IterationID: uuid.NewString()[:8]}

		coder, convErr := l.invokeCoder(ctx, issue, issueJSON, feedback)
		if convErr != nil {
			// A failed coder call consumes the iteration; the failure
			// becomes feedback for the next one.
			rec.Action = models.SynthesisFix
			rec.Summary = fmt.Sprintf("coder failed: %v", convErr)
			l.record(issue, rec, result)
			feedback = rec.Summary
			result.Feedback = feedback
			continue
		}
		rec.Coder = &coder.CoderResult
		result.FilesChanged = mergeFiles(result.FilesChanged, coder.FilesChanged)
		if coder.Conventions != "" {
			result.Conventions = coder.Conventions
		}
		if coder.Interfaces != "" {
			result.Interfaces = coder.Interfaces
		}

		if l.advisorLite {
			rec.Advice = l.invokeAdvisorLite(ctx, issue, coder.Summary)
		}

		var action models.SynthesisAction
		var signature string
		if issue.Guidance.NeedsDeeperQA {
			action, signature, feedback = l.flaggedPath(ctx, issue, issueJSON, coder, rec, prevSignature)
		} else {
			action, feedback = l.defaultPath(ctx, issue, issueJSON, coder, rec)
		}
		rec.Action = action
		result.Feedback = feedback

		switch action {
		case models.SynthesisApprove:
			rec.Summary = "approved"
			l.record(issue, rec, result)
			result.Status = LoopApproved
			result.Summary = coder.Summary
			return result, nil
		case models.SynthesisBlock:
			rec.Summary = "blocked: " + feedback
			l.record(issue, rec, result)
			result.Status = LoopBlocked
			result.Summary = feedback
			return result, nil
		default:
			rec.Summary = "fix requested"
			l.record(issue, rec, result)
			prevSignature = signature
		}
	}

	result.Summary = fmt.Sprintf("no approval after %d iterations", l.maxIterations)
	return result, nil
}

func (l *CodingLoop) invokeCoder(ctx context.Context, issue *models.Issue, issueJSON, feedback string) (*coderPayload, error) {
	res, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleCoder,
		SystemPrompt: coderSystemPrompt,
		Prompt:       fmt.Sprintf(coderPrompt, issueJSON, l.coderContext(issue, feedback)),
		WorkDir:      issue.WorktreePath,
		Memory:       l.coderMemory(issue),
		Constraints:  l.constraints(invoke.RoleCoder),
	})
	if err != nil {
		return nil, err
	}
	var payload coderPayload
	if err := res.Decode(&payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// coderContext assembles the mutable parts of the coder's prompt:
// prior feedback, retry directives, and inherited notes.
func (l *CodingLoop) coderContext(issue *models.Issue, feedback string) string {
	var b strings.Builder
	if issue.ApproachChanges != "" {
		fmt.Fprintf(&b, "Approach directive from the advisor:\n%s\n\n", issue.ApproachChanges)
	}
	if issue.RetryContext != "" {
		fmt.Fprintf(&b, "Retry context:\n%s\n\n", issue.RetryContext)
	}
	if issue.PreviousError != "" {
		fmt.Fprintf(&b, "Previous attempt's error:\n%s\n\n", issue.PreviousError)
	}
	if len(issue.DebtNotes) > 0 {
		fmt.Fprintf(&b, "Known debt in upstream work:\n- %s\n\n", strings.Join(issue.DebtNotes, "\n- "))
	}
	if len(issue.FailureNotes) > 0 {
		fmt.Fprintf(&b, "Upstream failures to account for:\n- %s\n\n", strings.Join(issue.FailureNotes, "\n- "))
	}
	if feedback != "" {
		fmt.Fprintf(&b, "Feedback from the previous iteration (address every point):\n%s\n", feedback)
	}
	return b.String()
}

func (l *CodingLoop) coderMemory(issue *models.Issue) map[string]string {
	if l.memory == nil {
		return nil
	}
	mem := map[string]string{}
	if conventions, ok := l.memory.Conventions(); ok {
		mem["codebase_conventions"] = conventions
	}
	if patterns := l.memory.FailurePatterns(); len(patterns) > 0 {
		mem["failure_patterns"] = strings.Join(patterns, "\n")
	}
	for _, dep := range issue.DependsOn {
		if iface, ok := l.memory.Interface(dep); ok {
			mem["interfaces/"+dep] = iface
		}
	}
	if len(mem) == 0 {
		return nil
	}
	return mem
}

// defaultPath runs the reviewer alone and maps its verdict onto the
// iteration action.
func (l *CodingLoop) defaultPath(ctx context.Context, issue *models.Issue, issueJSON string, coder *coderPayload, rec *models.IterationRecord) (models.SynthesisAction, string) {
	review, err := l.invokeReviewer(ctx, issue, issueJSON, coder.Summary)
	if err != nil {
		return models.SynthesisFix, fmt.Sprintf("review failed: %v", err)
	}
	review.IterationID = rec.IterationID
	rec.Review = review

	switch {
	case review.Approved:
		return models.SynthesisApprove, ""
	case review.Blocking:
		return models.SynthesisBlock, review.BlockReason
	default:
		return models.SynthesisFix, review.Feedback
	}
}

// flaggedPath runs QA and the reviewer in parallel, then the
// synthesizer. Stuck detection is enforced here as well: two
// consecutive FIX decisions with the same failure signature block.
func (l *CodingLoop) flaggedPath(ctx context.Context, issue *models.Issue, issueJSON string, coder *coderPayload, rec *models.IterationRecord, prevSignature string) (models.SynthesisAction, string, string) {
	var (
		wg        sync.WaitGroup
		qa        *qaPayload
		qaErr     error
		review    *models.CodeReviewResult
		reviewErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		qa, qaErr = l.invokeQA(ctx, issue, issueJSON, coder.Summary)
	}()
	go func() {
		defer wg.Done()
		review, reviewErr = l.invokeReviewer(ctx, issue, issueJSON, coder.Summary)
	}()
	wg.Wait()

	if qaErr != nil && reviewErr != nil {
		return models.SynthesisFix, "", fmt.Sprintf("qa failed: %v; review failed: %v", qaErr, reviewErr)
	}
	qaJSON := "unavailable"
	if qaErr == nil {
		qa.IterationID = rec.IterationID
		rec.QA = &qa.QAResult
		qaJSON = mustJSON(qa)
	}
	reviewJSON := "unavailable"
	if reviewErr == nil {
		review.IterationID = rec.IterationID
		rec.Review = review
		reviewJSON = mustJSON(review)
	}

	synthesis, err := l.invokeSynthesizer(ctx, issue, issueJSON, qaJSON, reviewJSON, prevSignature)
	if err != nil {
		return models.SynthesisFix, "", fmt.Sprintf("synthesis failed: %v", err)
	}
	synthesis.IterationID = rec.IterationID
	if synthesis.Action == models.SynthesisFix && synthesis.FailureSignature != "" &&
		synthesis.FailureSignature == prevSignature {
		synthesis.Action = models.SynthesisBlock
		synthesis.Stuck = true
	}
	rec.Synthesis = synthesis
	return synthesis.Action, synthesis.FailureSignature, synthesis.Summary
}

func (l *CodingLoop) invokeReviewer(ctx context.Context, issue *models.Issue, issueJSON, coderSummary string) (*models.CodeReviewResult, error) {
	res, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleCodeReviewer,
		SystemPrompt: reviewerSystemPrompt,
		Prompt:       fmt.Sprintf(reviewerPrompt, issueJSON, coderSummary),
		WorkDir:      issue.WorktreePath,
		Constraints:  l.constraints(invoke.RoleCodeReviewer),
	})
	if err != nil {
		return nil, err
	}
	var review models.CodeReviewResult
	if err := res.Decode(&review); err != nil {
		return nil, err
	}
	return &review, nil
}

func (l *CodingLoop) invokeQA(ctx context.Context, issue *models.Issue, issueJSON, coderSummary string) (*qaPayload, error) {
	res, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleQA,
		SystemPrompt: qaSystemPrompt,
		Prompt:       fmt.Sprintf(qaPrompt, issueJSON, coderSummary),
		WorkDir:      issue.WorktreePath,
		Constraints:  l.constraints(invoke.RoleQA),
	})
	if err != nil {
		return nil, err
	}
	var qa qaPayload
	if err := res.Decode(&qa); err != nil {
		return nil, err
	}
	return &qa, nil
}

func (l *CodingLoop) invokeSynthesizer(ctx context.Context, issue *models.Issue, issueJSON, qaJSON, reviewJSON, prevSignature string) (*models.SynthesisResult, error) {
	res, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleSynthesizer,
		SystemPrompt: synthesizerSystemPrompt,
		Prompt:       fmt.Sprintf(synthesizerPrompt, issueJSON, qaJSON, reviewJSON, prevSignature),
		WorkDir:      issue.WorktreePath,
		Constraints:  l.constraints(invoke.RoleSynthesizer),
	})
	if err != nil {
		return nil, err
	}
	var synthesis models.SynthesisResult
	if err := res.Decode(&synthesis); err != nil {
		return nil, err
	}
	if !synthesis.Action.Valid() {
		return nil, fmt.Errorf("synthesizer returned unknown action %q", synthesis.Action)
	}
	return &synthesis, nil
}

func (l *CodingLoop) invokeAdvisorLite(ctx context.Context, issue *models.Issue, coderSummary string) *models.RetryAdvice {
	res, err := l.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleAdvisor,
		SystemPrompt: advisorLiteSystemPrompt,
		Prompt:       fmt.Sprintf(advisorLitePrompt, issue.Name, coderSummary),
		WorkDir:      issue.WorktreePath,
		Constraints:  l.constraints(invoke.RoleAdvisor),
	})
	if err != nil {
		return nil
	}
	var advice models.RetryAdvice
	if err := res.Decode(&advice); err != nil {
		return nil
	}
	return &advice
}

func (l *CodingLoop) record(issue *models.Issue, rec *models.IterationRecord, result *LoopResult) {
	result.Records = append(result.Records, rec)
	if l.store != nil {
		if err := l.store.SaveIteration(issue.Name, rec); err != nil {
			log.Printf("[loop] save iteration %d for %s: %v", rec.Iteration, issue.Name, err)
		}
	}
}

func mergeFiles(existing, added []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f] = true
	}
	for _, f := range added {
		if !seen[f] {
			seen[f] = true
			existing = append(existing, f)
		}
	}
	return existing
}

func mustJSON(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", v)
	}
	return string(data)
}
