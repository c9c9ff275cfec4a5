// Package git wraps the git binary for branch, worktree, and merge
// operations used by the build workspace.
package git

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch.
	CurrentBranch() (string, error)
	// CreateAndCheckoutBranch creates and switches to a new branch (git checkout -b).
	CreateAndCheckoutBranch(name string) error
	// CheckoutBranch switches to the specified branch.
	CheckoutBranch(name string) error
	// BranchExists returns true if the branch exists.
	BranchExists(name string) (bool, error)
	// DeleteBranch deletes the specified branch (force delete).
	DeleteBranch(name string) error
}

// StateOperations defines the interface for inspecting repository state.
type StateOperations interface {
	// Status returns the output of git status --porcelain.
	Status() (string, error)
	// HasChanges returns true if there are uncommitted changes.
	HasChanges() (bool, error)
	// HasCommits returns true if HEAD resolves to at least one commit.
	HasCommits() (bool, error)
	// RevParse resolves a ref to its full SHA.
	RevParse(ref string) (string, error)
	// ChangedFilesRelative returns files changed on a branch relative to
	// another. Uses the triple-dot diff (relativeTo...branch).
	ChangedFilesRelative(branch, relativeTo string) ([]string, error)
	// ConflictedFiles returns a list of files with unmerged changes.
	ConflictedFiles() ([]string, error)
}

// CommitOperations defines the interface for git commit operations.
type CommitOperations interface {
	// Add stages the specified files for commit.
	Add(paths ...string) error
	// Commit creates a new commit with the given message.
	Commit(message string) error
	// CommitAllowEmpty creates a commit even when nothing is staged.
	CommitAllowEmpty(message string) error
}

// MergeOperations defines the interface for git merge operations.
type MergeOperations interface {
	// MergeNoFFMessage merges the specified branch with --no-ff and a
	// custom message.
	MergeNoFFMessage(branch, message string) error
	// MergeContinue concludes an in-progress merge after conflicts were
	// staged.
	MergeContinue() error
	// MergeAbort aborts an in-progress merge.
	MergeAbort() error
	// HasConflicts returns true if there are merge conflicts.
	HasConflicts() (bool, error)
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAddNewBranch creates a worktree at path on a new branch
	// forked from startPoint (git worktree add -b).
	WorktreeAddNewBranch(path, branch, startPoint string) error
	// WorktreeRemove removes the worktree at the given path (--force).
	WorktreeRemove(path string) error
	// WorktreeList returns a list of worktree paths.
	WorktreeList() ([]string, error)
	// WorktreePrune removes stale worktree entries.
	WorktreePrune() error
}

// Runner defines the complete interface for git operations. Consumers
// should prefer the focused interfaces when possible.
type Runner interface {
	BranchOperations
	StateOperations
	CommitOperations
	MergeOperations
	WorktreeOperations
	// Run executes an arbitrary git command with the given arguments.
	Run(args ...string) (string, error)
}
