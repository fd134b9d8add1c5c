// Package worktree creates, lists, and removes git worktrees so multiple
// concurrent sessions can work on independent branches of one repository
// without lock contention on a single checkout.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	pexec "github.com/helmsman-cli/helmsman/internal/exec"
	"github.com/helmsman-cli/helmsman/internal/logger"
)

// WorktreesDirName is the sibling directory holding session worktrees.
const WorktreesDirName = ".helmsman-worktrees"

// MaxBranchNameLength is the maximum length for user-provided branch names.
const MaxBranchNameLength = 100

// validBranchNameRegex matches valid git branch name characters.
// Git branch names cannot contain: space, ~, ^, :, ?, *, [, \, or control
// characters. They also cannot start with - or end with .lock.
var validBranchNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9/_.-]*$`)

// ValidateBranchName checks if a branch name is valid for git.
// Empty is allowed; callers substitute a generated name.
func ValidateBranchName(branch string) error {
	if branch == "" {
		return nil
	}

	if len(branch) > MaxBranchNameLength {
		return fmt.Errorf("branch name too long (max %d characters)", MaxBranchNameLength)
	}

	if strings.HasPrefix(branch, "-") {
		return fmt.Errorf("branch name cannot start with '-'")
	}

	if strings.HasSuffix(branch, ".lock") {
		return fmt.Errorf("branch name cannot end with '.lock'")
	}

	if strings.Contains(branch, "..") {
		return fmt.Errorf("branch name cannot contain '..'")
	}

	if !validBranchNameRegex.MatchString(branch) {
		return fmt.Errorf("branch name contains invalid characters (use letters, numbers, /, _, ., -)")
	}

	return nil
}

// Service performs worktree operations through the command executor.
type Service struct {
	executor pexec.CommandExecutor

	// createMu serializes worktree creation per repo+branch so a concurrent
	// duplicate fails with a collision instead of racing git.
	createMu sync.Mutex
	creating map[string]bool
}

// NewService creates a Service with a real executor.
func NewService() *Service {
	return NewServiceWithExecutor(pexec.NewRealExecutor())
}

// NewServiceWithExecutor creates a Service with the given executor.
// Used by tests and demos.
func NewServiceWithExecutor(e pexec.CommandExecutor) *Service {
	return &Service{executor: e, creating: map[string]bool{}}
}

// MainBranch returns the default branch name for the repository, preferring
// origin's HEAD, then origin/main, origin/master, then local main/master.
// Returns "main" as the last-resort fallback.
func (s *Service) MainBranch(ctx context.Context, repoPath string) string {
	output, err := s.executor.Output(ctx, repoPath, "git", "symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil {
		ref := strings.TrimSpace(string(output))
		if strings.HasPrefix(ref, "refs/remotes/origin/") {
			return strings.TrimPrefix(ref, "refs/remotes/origin/")
		}
	}

	for _, candidate := range []string{"origin/main", "origin/master", "main", "master"} {
		if _, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", candidate); err == nil {
			return strings.TrimPrefix(candidate, "origin/")
		}
	}

	return "main"
}

// BranchExists checks if a branch already exists in the repo.
func (s *Service) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, _, err := s.executor.Run(ctx, repoPath, "git", "rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

// List enumerates worktree paths attached to a repository, excluding the
// primary checkout. Repositories in unexpected states yield an empty list,
// never an error; a broken repo must not crash a listing.
func (s *Service) List(ctx context.Context, repoPath string) []string {
	output, err := s.executor.Output(ctx, repoPath, "git", "worktree", "list", "--porcelain")
	if err != nil {
		logger.Debug("worktree: list failed for %s: %v", repoPath, err)
		return nil
	}

	var paths []string
	for _, line := range strings.Split(string(output), "\n") {
		if !strings.HasPrefix(line, "worktree ") {
			continue
		}
		p := strings.TrimPrefix(line, "worktree ")
		if p == repoPath {
			continue // primary checkout
		}
		paths = append(paths, p)
	}
	return paths
}

// DetectBranch returns the branch checked out in an existing worktree, or
// empty string when it cannot be determined (detached HEAD, missing path).
func (s *Service) DetectBranch(ctx context.Context, worktreePath string) string {
	output, err := s.executor.Output(ctx, worktreePath, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return ""
	}
	return branch
}

// branchSlug flattens a branch name into a directory name.
func branchSlug(branch string) string {
	return strings.ReplaceAll(branch, "/", "-")
}

// PathFor returns where a worktree for the given branch would live: a
// sibling of the repository under WorktreesDirName.
func PathFor(repoPath, branch string) string {
	return filepath.Join(filepath.Dir(repoPath), WorktreesDirName, branchSlug(branch))
}

// Create creates a new worktree with a new branch based on baseBranch (or
// the repository's main branch when empty). Concurrent creation of the same
// branch within one repository fails with a conflict for the second caller.
func (s *Service) Create(ctx context.Context, repoPath, branch, baseBranch string) (string, error) {
	if err := ValidateBranchName(branch); err != nil {
		return "", herrors.E(herrors.Op("worktree.Create"), herrors.KindValidation, err.Error())
	}
	if branch == "" {
		return "", herrors.E(herrors.Op("worktree.Create"), herrors.KindValidation, "branch name required")
	}

	key := repoPath + "\x00" + branch
	s.createMu.Lock()
	if s.creating[key] {
		s.createMu.Unlock()
		return "", herrors.BranchCollision(branch)
	}
	s.creating[key] = true
	s.createMu.Unlock()

	defer func() {
		s.createMu.Lock()
		delete(s.creating, key)
		s.createMu.Unlock()
	}()

	if s.BranchExists(ctx, repoPath, branch) {
		return "", herrors.BranchCollision(branch)
	}

	startPoint := baseBranch
	if startPoint == "" {
		startPoint = s.MainBranch(ctx, repoPath)
	}

	worktreePath := PathFor(repoPath, branch)

	logger.Debug("worktree: creating branch=%s path=%s from=%s", branch, worktreePath, startPoint)
	output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "add", "-b", branch, worktreePath, startPoint)
	if err != nil {
		logger.Error("worktree: create failed: %s", string(output))
		return "", herrors.WorktreeCreateFailed(branch, fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}

	logger.Info("worktree: created branch=%s path=%s", branch, worktreePath)
	return worktreePath, nil
}

// Disposal reports which destructive actions Remove actually performed, so
// callers can distinguish "nothing to delete" from a failed delete.
type Disposal struct {
	WorktreeDeleted bool
	BranchDeleted   bool
}

// Remove removes the worktree directory and optionally its branch ref.
// Idempotent: removing an already-gone worktree is not an error.
func (s *Service) Remove(ctx context.Context, repoPath, worktreePath string, deleteBranch bool) (Disposal, error) {
	var d Disposal

	branch := s.DetectBranch(ctx, worktreePath)

	if _, statErr := os.Stat(worktreePath); os.IsNotExist(statErr) {
		logger.Debug("worktree: %s already gone", worktreePath)
		// Clear any stale bookkeeping left behind.
		s.executor.Run(ctx, repoPath, "git", "worktree", "prune")
	} else {
		output, err := s.executor.CombinedOutput(ctx, repoPath, "git", "worktree", "remove", worktreePath, "--force")
		if err != nil {
			// git refuses on locked or mangled worktrees; fall back to
			// direct removal plus prune so teardown cannot wedge a session.
			logger.Warn("worktree: git remove failed, removing directly: %s", string(output))
			if rmErr := os.RemoveAll(worktreePath); rmErr != nil {
				return d, herrors.E(herrors.Op("worktree.Remove"), herrors.KindExternalTool,
					fmt.Sprintf("failed to remove worktree %s", worktreePath), rmErr)
			}
		}
		s.executor.Run(ctx, repoPath, "git", "worktree", "prune")
		d.WorktreeDeleted = true
	}

	if deleteBranch && branch != "" {
		if _, err := s.executor.CombinedOutput(ctx, repoPath, "git", "branch", "-D", branch); err == nil {
			d.BranchDeleted = true
		} else {
			logger.Warn("worktree: branch %s not deleted (may already be gone)", branch)
		}
	}

	return d, nil
}

// RemoveBranch deletes a branch ref directly. Used when the worktree path
// is already gone but the branch is known to the caller.
func (s *Service) RemoveBranch(ctx context.Context, repoPath, branch string) bool {
	if branch == "" {
		return false
	}
	_, err := s.executor.CombinedOutput(ctx, repoPath, "git", "branch", "-D", branch)
	return err == nil
}
