package git

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mwhitfield/foreman/pkg/models"
)

// ConflictResolver resolves merge conflicts left in the repository
// after a failed merge attempt. Implementations stage the resolved
// files; the workspace concludes the merge commit afterwards.
type ConflictResolver interface {
	Resolve(ctx context.Context, repoPath, branch string, files []string) error
}

// Workspace manages the integration branch, per-issue worktrees, and
// level merges for a single build run.
type Workspace struct {
	runner   Runner
	repoPath string
	resolver ConflictResolver
}

// NewWorkspace creates a workspace over the repository at repoPath.
// The resolver may be nil, in which case conflicted merges fail.
func NewWorkspace(repoPath string, runner Runner, resolver ConflictResolver) *Workspace {
	return &Workspace{runner: runner, repoPath: repoPath, resolver: resolver}
}

// InitIntegration creates the integration branch for a run. A
// repository without commits gets an initial empty commit first (fresh
// mode); otherwise the branch forks off the current HEAD (existing
// mode). Errors are reported to the caller but a run may proceed
// without integration semantics.
func (w *Workspace) InitIntegration(ctx context.Context, goal string) (*models.GitTracking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tracking := &models.GitTracking{
		WorktreesDir: filepath.Join(w.repoPath, ".foreman", "worktrees"),
	}

	hasCommits, err := w.runner.HasCommits()
	if err != nil {
		return nil, fmt.Errorf("inspect repository: %w", err)
	}
	if !hasCommits {
		tracking.Mode = models.GitModeFresh
		if err := w.runner.CommitAllowEmpty("chore: initial commit"); err != nil {
			return nil, fmt.Errorf("create initial commit: %w", err)
		}
	} else {
		tracking.Mode = models.GitModeExisting
	}

	original, err := w.runner.CurrentBranch()
	if err != nil {
		return nil, fmt.Errorf("resolve original branch: %w", err)
	}
	tracking.OriginalBranch = original

	sha, err := w.runner.RevParse("HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolve initial commit: %w", err)
	}
	tracking.InitialCommitSHA = sha

	branch := integrationBranchName(goal)
	if err := w.runner.CreateAndCheckoutBranch(branch); err != nil {
		return nil, fmt.Errorf("create integration branch: %w", err)
	}
	tracking.IntegrationBranch = branch

	log.Printf("[git] integration branch %s (%s mode, base %.8s)", branch, tracking.Mode, sha)
	return tracking, nil
}

// MakeWorktree creates an isolated worktree for an issue on a branch
// forked from the integration branch tip. The branch and path are
// recorded on the issue.
func (w *Workspace) MakeWorktree(ctx context.Context, issue *models.Issue, tracking *models.GitTracking) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	branch := BranchName(issue.SequenceNumber, issue.Name)
	path := filepath.Join(tracking.WorktreesDir, slug(issue.Name))

	if err := os.MkdirAll(tracking.WorktreesDir, 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}

	if exists, _ := w.runner.BranchExists(branch); exists {
		if err := w.runner.DeleteBranch(branch); err != nil {
			return "", fmt.Errorf("reset stale branch %s: %w", branch, err)
		}
	}

	start := tracking.IntegrationBranch
	if start == "" {
		start = "HEAD"
	}
	if err := w.runner.WorktreeAddNewBranch(path, branch, start); err != nil {
		return "", fmt.Errorf("add worktree for %s: %w", issue.Name, err)
	}

	issue.BranchName = branch
	issue.WorktreePath = path
	return path, nil
}

// MergeLevel merges the issue branches of a completed level into the
// integration branch in sequence order. Each branch is retried once on
// a non-conflict failure; conflicted merges go to the resolver. The
// integration branch tip is recorded on success.
func (w *Workspace) MergeLevel(ctx context.Context, level int, issues []*models.Issue, tracking *models.GitTracking) (*models.MergeResult, error) {
	result := &models.MergeResult{Level: level}

	if tracking.IntegrationBranch == "" {
		return nil, fmt.Errorf("no integration branch to merge into")
	}
	if err := w.runner.CheckoutBranch(tracking.IntegrationBranch); err != nil {
		return nil, fmt.Errorf("checkout integration branch: %w", err)
	}

	preSHA, err := w.runner.RevParse("HEAD")
	if err != nil {
		return nil, fmt.Errorf("resolve pre-merge tip: %w", err)
	}
	result.PreMergeSHA = preSHA

	result.Success = true
	for _, issue := range issues {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		bm := w.mergeBranch(ctx, issue)
		result.Branches = append(result.Branches, *bm)
		switch bm.Status {
		case models.BranchFailed:
			result.Success = false
			tracking.UnmergedBranches = appendUnique(tracking.UnmergedBranches, bm.Branch)
		case models.BranchConflictResolved:
			result.NeedsIntegrationTests = true
			result.IntegrationTestRationale = "merge conflicts were resolved during the level merge"
			tracking.MergedBranches = appendUnique(tracking.MergedBranches, bm.Branch)
		default:
			tracking.MergedBranches = appendUnique(tracking.MergedBranches, bm.Branch)
		}
	}

	if n := len(result.MergedBranches()); n > 1 && !result.NeedsIntegrationTests {
		result.NeedsIntegrationTests = true
		result.IntegrationTestRationale = fmt.Sprintf("%d branches merged into the same level", n)
	}

	sha, err := w.runner.RevParse("HEAD")
	if err != nil {
		return result, fmt.Errorf("resolve merge tip: %w", err)
	}
	result.MergeCommitSHA = sha
	result.Summary = fmt.Sprintf("level %d: %d merged, %d failed", level, len(result.MergedBranches()), len(result.FailedBranches()))
	return result, nil
}

// mergeBranch merges one issue branch, retrying once on non-conflict
// failure and delegating conflicts to the resolver.
func (w *Workspace) mergeBranch(ctx context.Context, issue *models.Issue) *models.BranchMerge {
	bm := &models.BranchMerge{Branch: issue.BranchName, IssueName: issue.Name}
	message := fmt.Sprintf("merge: %s (%s)", issue.Title, issue.BranchName)

	for attempt := 0; attempt < 2; attempt++ {
		err := w.runner.MergeNoFFMessage(issue.BranchName, message)
		if err == nil {
			bm.Status = models.BranchMerged
			bm.SHA, _ = w.runner.RevParse("HEAD")
			return bm
		}

		conflicted, cErr := w.runner.HasConflicts()
		if cErr == nil && conflicted {
			if w.resolveConflicts(ctx, issue, bm) {
				return bm
			}
			bm.Status = models.BranchFailed
			return bm
		}

		// Transient failure: clear any partial merge state and retry.
		_ = w.runner.MergeAbort()
		bm.Error = err.Error()
	}

	bm.Status = models.BranchFailed
	return bm
}

func (w *Workspace) resolveConflicts(ctx context.Context, issue *models.Issue, bm *models.BranchMerge) bool {
	files, err := w.runner.ConflictedFiles()
	if err != nil || len(files) == 0 {
		_ = w.runner.MergeAbort()
		bm.Error = fmt.Sprintf("conflict detection failed: %v", err)
		return false
	}
	if w.resolver == nil {
		_ = w.runner.MergeAbort()
		bm.Error = fmt.Sprintf("unresolved conflicts in %s", strings.Join(files, ", "))
		return false
	}

	if err := w.resolver.Resolve(ctx, w.repoPath, issue.BranchName, files); err != nil {
		_ = w.runner.MergeAbort()
		bm.Error = fmt.Sprintf("conflict resolution failed: %v", err)
		return false
	}
	if err := w.runner.Add(files...); err != nil {
		_ = w.runner.MergeAbort()
		bm.Error = fmt.Sprintf("stage resolved files: %v", err)
		return false
	}
	if err := w.runner.MergeContinue(); err != nil {
		_ = w.runner.MergeAbort()
		bm.Error = fmt.Sprintf("conclude merge: %v", err)
		return false
	}

	bm.Status = models.BranchConflictResolved
	bm.ConflictStrategy = "agent"
	bm.SHA, _ = w.runner.RevParse("HEAD")
	return true
}

// CleanupWorktrees removes the worktrees of the given issues and, when
// retainBranches is false, deletes the branches that were merged.
// Unmerged branches are always kept so their work stays recoverable.
func (w *Workspace) CleanupWorktrees(issues []*models.Issue, tracking *models.GitTracking, retainBranches bool) error {
	var firstErr error
	merged := make(map[string]bool, len(tracking.MergedBranches))
	for _, b := range tracking.MergedBranches {
		merged[b] = true
	}

	for _, issue := range issues {
		if issue.WorktreePath == "" {
			continue
		}
		if err := w.runner.WorktreeRemove(issue.WorktreePath); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Printf("[git] remove worktree %s: %v", issue.WorktreePath, err)
		}
		issue.WorktreePath = ""

		if !retainBranches && issue.BranchName != "" && merged[issue.BranchName] {
			if err := w.runner.DeleteBranch(issue.BranchName); err != nil {
				log.Printf("[git] delete branch %s: %v", issue.BranchName, err)
			}
		}
	}

	if err := w.runner.WorktreePrune(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// ReconcileWorktrees removes worktrees under the run's worktree root
// that no live issue claims. Used on resume to drop orphans.
func (w *Workspace) ReconcileWorktrees(tracking *models.GitTracking, claimed map[string]bool) error {
	paths, err := w.runner.WorktreeList()
	if err != nil {
		return err
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, tracking.WorktreesDir) {
			continue
		}
		if claimed[p] {
			continue
		}
		if err := w.runner.WorktreeRemove(p); err != nil {
			log.Printf("[git] remove orphan worktree %s: %v", p, err)
		}
	}
	return w.runner.WorktreePrune()
}

// BranchName returns the branch for an issue: issue/{seq:02d}-{slug}.
func BranchName(seq int, name string) string {
	return fmt.Sprintf("issue/%02d-%s", seq, slug(name))
}

func integrationBranchName(goal string) string {
	s := slug(goal)
	if len(s) > 32 {
		s = strings.Trim(s[:32], "-")
	}
	if s == "" {
		s = "build"
	}
	return "foreman/" + s + "-" + uuid.NewString()[:8]
}

// slug lowercases a name and collapses everything outside [a-z0-9] into
// single dashes.
func slug(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}
