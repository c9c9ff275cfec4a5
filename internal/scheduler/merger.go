package scheduler

import (
	"context"
	"fmt"
	"strings"

	"github.com/mwhitfield/foreman/internal/invoke"
	"github.com/mwhitfield/foreman/pkg/models"
)

// AgentResolver resolves merge conflicts by invoking the merger agent
// in the repository root while the merge is in progress. It implements
// git.ConflictResolver.
type AgentResolver struct {
	invoker     invoke.Invoker
	constraints func(invoke.Role) invoke.Constraints
	overlaps    []models.FileConflict
}

// NewAgentResolver creates the conflict resolver. overlaps carries the
// planner's advisory file-overlap report for the run.
func NewAgentResolver(invoker invoke.Invoker, constraints func(invoke.Role) invoke.Constraints, overlaps []models.FileConflict) *AgentResolver {
	if constraints == nil {
		constraints = func(invoke.Role) invoke.Constraints { return invoke.Constraints{} }
	}
	return &AgentResolver{invoker: invoker, constraints: constraints, overlaps: overlaps}
}

type mergerPayload struct {
	Resolved bool   `json:"resolved"`
	Notes    string `json:"notes,omitempty"`
}

// Resolve asks the merger agent to fix the conflicted files in place.
// The caller stages the files and concludes the merge.
func (r *AgentResolver) Resolve(ctx context.Context, repoPath, branch string, files []string) error {
	res, err := r.invoker.Invoke(ctx, invoke.Request{
		Role:         invoke.RoleMerger,
		SystemPrompt: mergerSystemPrompt,
		Prompt:       fmt.Sprintf(mergerPrompt, branch, "- "+strings.Join(files, "\n- "), r.overlapNote(files)),
		WorkDir:      repoPath,
		Constraints:  r.constraints(invoke.RoleMerger),
	})
	if err != nil {
		return fmt.Errorf("merger agent: %w", err)
	}
	var payload mergerPayload
	if err := res.Decode(&payload); err != nil {
		return fmt.Errorf("merger agent: %w", err)
	}
	if !payload.Resolved {
		return fmt.Errorf("merger declined to resolve: %s", payload.Notes)
	}
	return nil
}

// overlapNote renders the planned overlaps that mention any conflicted
// file, so the merger knows which issues were expected to collide.
func (r *AgentResolver) overlapNote(files []string) string {
	conflicted := make(map[string]bool, len(files))
	for _, f := range files {
		conflicted[f] = true
	}
	var lines []string
	for _, o := range r.overlaps {
		for _, f := range o.Files {
			if conflicted[f] {
				lines = append(lines, fmt.Sprintf("- %s: planned by both %s and %s", f, o.IssueA, o.IssueB))
				break
			}
		}
	}
	if len(lines) == 0 {
		return "none"
	}
	return strings.Join(lines, "\n")
}
