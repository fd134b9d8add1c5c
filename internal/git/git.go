// Package git wraps the git porcelain commands the engine needs: staging,
// committing, pushing, and status inspection. All commands run through a
// CommandExecutor so tests can substitute a mock.
package git

import (
	"context"
	"fmt"
	"strings"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	pexec "github.com/helmsman-cli/helmsman/internal/exec"
	"github.com/helmsman-cli/helmsman/internal/logger"
)

// Service performs git operations in a working directory.
type Service struct {
	executor pexec.CommandExecutor
}

// NewService creates a Service with a real executor.
func NewService() *Service {
	return NewServiceWithExecutor(pexec.NewRealExecutor())
}

// NewServiceWithExecutor creates a Service with the given executor.
func NewServiceWithExecutor(e pexec.CommandExecutor) *Service {
	return &Service{executor: e}
}

// WorktreeStatus summarizes the dirty state of a working directory.
type WorktreeStatus struct {
	HasChanges bool
	Summary    string // e.g. "3 modified, 1 untracked"
}

// Status returns the dirty state of the working directory. Read-only: a
// failure (missing path, not a repo) yields a clean status, never an error
// that would block a listing.
func (s *Service) Status(ctx context.Context, dir string) WorktreeStatus {
	output, err := s.executor.Output(ctx, dir, "git", "status", "--porcelain")
	if err != nil {
		logger.Debug("git: status failed for %s: %v", dir, err)
		return WorktreeStatus{}
	}

	var modified, added, deleted, untracked int
	for _, line := range strings.Split(string(output), "\n") {
		if len(line) < 2 {
			continue
		}
		switch {
		case strings.HasPrefix(line, "??"):
			untracked++
		case strings.ContainsAny(line[:2], "D"):
			deleted++
		case strings.ContainsAny(line[:2], "A"):
			added++
		default:
			modified++
		}
	}

	total := modified + added + deleted + untracked
	if total == 0 {
		return WorktreeStatus{}
	}

	var parts []string
	if modified > 0 {
		parts = append(parts, fmt.Sprintf("%d modified", modified))
	}
	if added > 0 {
		parts = append(parts, fmt.Sprintf("%d added", added))
	}
	if deleted > 0 {
		parts = append(parts, fmt.Sprintf("%d deleted", deleted))
	}
	if untracked > 0 {
		parts = append(parts, fmt.Sprintf("%d untracked", untracked))
	}

	return WorktreeStatus{HasChanges: true, Summary: strings.Join(parts, ", ")}
}

// HasChanges reports whether the working directory has uncommitted changes.
func (s *Service) HasChanges(ctx context.Context, dir string) bool {
	return s.Status(ctx, dir).HasChanges
}

// StageAll stages every change in the working directory, including
// untracked files.
func (s *Service) StageAll(ctx context.Context, dir string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "add", "-A")
	if err != nil {
		return herrors.StageFailed(fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}
	return nil
}

// Commit creates a commit with the given message. Committing with nothing
// staged is a no-op success: the pipeline treats "already committed" the
// same as "just committed".
func (s *Service) Commit(ctx context.Context, dir, message string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "commit", "-m", message)
	if err != nil {
		text := string(output)
		if strings.Contains(text, "nothing to commit") || strings.Contains(text, "nothing added to commit") {
			logger.Debug("git: nothing to commit in %s", dir)
			return nil
		}
		return herrors.E(herrors.Op("git.Commit"), herrors.KindExternalTool,
			"commit failed", fmt.Errorf("%s: %w", strings.TrimSpace(text), err))
	}
	return nil
}

// Push pushes the branch to origin with an upstream tracking ref. The env
// overlay carries askpass credential variables; pass nil for an
// unauthenticated push.
func (s *Service) Push(ctx context.Context, dir, branch string, extraEnv []string) error {
	output, err := s.executor.CombinedOutputEnv(ctx, dir, extraEnv, "git", "push", "-u", "origin", branch)
	if err != nil {
		return herrors.E(herrors.Op("git.Push"), herrors.KindExternalTool,
			fmt.Sprintf("push of %s failed", branch), fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}
	return nil
}

// HeadCommit returns the full hash of HEAD, or empty string on failure.
func (s *Service) HeadCommit(ctx context.Context, dir string) string {
	output, err := s.executor.Output(ctx, dir, "git", "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// CurrentBranch returns the checked-out branch, or empty on detached HEAD.
func (s *Service) CurrentBranch(ctx context.Context, dir string) string {
	output, err := s.executor.Output(ctx, dir, "git", "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return ""
	}
	branch := strings.TrimSpace(string(output))
	if branch == "HEAD" {
		return ""
	}
	return branch
}

// RemoteURL returns the URL of the origin remote, or empty string when the
// repository has no origin.
func (s *Service) RemoteURL(ctx context.Context, dir string) string {
	output, err := s.executor.Output(ctx, dir, "git", "remote", "get-url", "origin")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// HasRemoteOrigin checks if the repository has a remote named "origin".
func (s *Service) HasRemoteOrigin(ctx context.Context, dir string) bool {
	return s.RemoteURL(ctx, dir) != ""
}

// Checkout switches the working directory to the given branch.
func (s *Service) Checkout(ctx context.Context, dir, branch string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "checkout", branch)
	if err != nil {
		return herrors.E(herrors.Op("git.Checkout"), herrors.KindExternalTool,
			fmt.Sprintf("checkout of %s failed", branch), fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}
	return nil
}

// Unstage removes everything from the index, leaving working-tree changes
// in place.
func (s *Service) Unstage(ctx context.Context, dir string) error {
	output, err := s.executor.CombinedOutput(ctx, dir, "git", "reset", "HEAD")
	if err != nil {
		return herrors.E(herrors.Op("git.Unstage"), herrors.KindExternalTool,
			"unstage failed", fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}
	return nil
}

// Discard throws away all uncommitted changes, tracked and untracked.
// Destructive; callers confirm before reaching here.
func (s *Service) Discard(ctx context.Context, dir string) error {
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "checkout", "--", "."); err != nil {
		return herrors.E(herrors.Op("git.Discard"), herrors.KindExternalTool,
			"discard failed", fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}
	if output, err := s.executor.CombinedOutput(ctx, dir, "git", "clean", "-fd"); err != nil {
		return herrors.E(herrors.Op("git.Discard"), herrors.KindExternalTool,
			"clean failed", fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}
	return nil
}

// DiffStats returns the shortstat line for uncommitted changes, e.g.
// "2 files changed, 10 insertions(+), 3 deletions(-)". Empty when clean.
func (s *Service) DiffStats(ctx context.Context, dir string) string {
	output, err := s.executor.Output(ctx, dir, "git", "diff", "HEAD", "--shortstat")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}

// LastCommitSubject returns the subject line of the most recent commit.
func (s *Service) LastCommitSubject(ctx context.Context, dir string) string {
	output, err := s.executor.Output(ctx, dir, "git", "log", "-1", "--pretty=%s")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(output))
}
