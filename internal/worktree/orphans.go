package worktree

import (
	"context"
	"os"
	"path/filepath"

	"github.com/helmsman-cli/helmsman/internal/logger"
)

// Orphan is a worktree directory on disk that no live session references.
type Orphan struct {
	Path     string
	Branch   string
	RepoPath string
}

// FindOrphans scans the repository's worktree directory for entries not in
// the live set. The live set holds worktree paths owned by active sessions.
func (s *Service) FindOrphans(ctx context.Context, repoPath string, live map[string]bool) []Orphan {
	dir := filepath.Join(filepath.Dir(repoPath), WorktreesDirName)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Debug("worktree: orphan scan failed for %s: %v", dir, err)
		}
		return nil
	}

	var orphans []Orphan
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if live[path] {
			continue
		}
		orphans = append(orphans, Orphan{
			Path:     path,
			Branch:   s.DetectBranch(ctx, path),
			RepoPath: repoPath,
		})
	}
	return orphans
}

// PruneOrphans removes the given orphaned worktrees and their branches.
// Returns the number successfully removed. Failures are logged and skipped
// so one wedged worktree does not block the rest.
func (s *Service) PruneOrphans(ctx context.Context, orphans []Orphan) int {
	pruned := 0
	for _, o := range orphans {
		if _, err := s.Remove(ctx, o.RepoPath, o.Path, true); err != nil {
			logger.Warn("worktree: failed to prune orphan %s: %v", o.Path, err)
			continue
		}
		logger.Info("worktree: pruned orphan %s (branch=%s)", o.Path, o.Branch)
		pruned++
	}
	return pruned
}
