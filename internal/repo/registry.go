// Package repo maps repository identifiers to on-disk working directories.
package repo

import (
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	gogit "github.com/go-git/go-git/v5"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	"github.com/helmsman-cli/helmsman/internal/logger"
)

// Repo is a registered repository.
type Repo struct {
	ID   string
	Path string
}

// Registry is the authoritative map of repository ids to paths. It is an
// explicitly constructed service; callers receive it by reference from the
// process entry point.
type Registry struct {
	mu    sync.RWMutex
	repos map[string]Repo
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{repos: map[string]Repo{}}
}

// NewRegistryFromPaths builds a Registry from configured repository paths,
// skipping any path that is not a git repository.
func NewRegistryFromPaths(paths []string) *Registry {
	r := NewRegistry()
	for _, p := range paths {
		if _, err := r.Add(p); err != nil {
			logger.Warn("repo: skipping %s: %v", p, err)
		}
	}
	return r
}

// Add validates path as a git repository and registers it. The id is derived
// from the directory base name; a duplicate base name gets a numeric suffix.
func (r *Registry) Add(path string) (Repo, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Repo{}, herrors.NotAGitRepository(path)
	}

	if _, err := gogit.PlainOpen(abs); err != nil {
		return Repo{}, herrors.NotAGitRepository(abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.repos {
		if existing.Path == abs {
			return existing, nil
		}
	}

	id := strings.ToLower(filepath.Base(abs))
	if _, taken := r.repos[id]; taken {
		base := id
		for i := 2; ; i++ {
			id = base + "-" + strconv.Itoa(i)
			if _, taken := r.repos[id]; !taken {
				break
			}
		}
	}

	rp := Repo{ID: id, Path: abs}
	r.repos[id] = rp
	r.order = append(r.order, id)
	logger.Debug("repo: registered %s at %s", id, abs)
	return rp, nil
}

// Get returns the repository for id, or nil if not registered.
func (r *Registry) Get(id string) *Repo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if rp, ok := r.repos[id]; ok {
		return &rp
	}
	return nil
}

// List returns registered repositories in registration order.
func (r *Registry) List() []Repo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Repo, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.repos[id])
	}
	return out
}

// Remove unregisters id. Returns whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.repos[id]; !ok {
		return false
	}
	delete(r.repos, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// RemoteURL returns the origin remote URL for a registered repository, or
// empty string when the repository has no origin. Read-only inspection;
// repositories in unexpected states yield empty, never an error.
func (r *Registry) RemoteURL(id string) string {
	rp := r.Get(id)
	if rp == nil {
		return ""
	}

	repo, err := gogit.PlainOpen(rp.Path)
	if err != nil {
		return ""
	}
	remote, err := repo.Remote("origin")
	if err != nil {
		return ""
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return ""
	}
	return urls[0]
}
