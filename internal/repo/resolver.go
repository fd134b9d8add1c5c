package repo

import (
	herrors "github.com/helmsman-cli/helmsman/internal/errors"
)

// Resolve maps a session's repository membership plus an optional requested
// repository id to a concrete registered repository. A requested id that is
// a member of repoIDs resolves to that repository; anything else falls back
// to the primary repository, repoIDs[0]. The fallback branch is explicit so
// single-repo callers that never pass an id keep working unchanged.
//
// Side-effect free. Fails only when the resolved id has no registered
// repository.
func Resolve(r *Registry, repoIDs []string, requested string) (*Repo, error) {
	if len(repoIDs) == 0 {
		return nil, herrors.RepositoryNotFound("(none)")
	}

	resolved := repoIDs[0]
	if requested != "" {
		for _, id := range repoIDs {
			if id == requested {
				resolved = requested
				break
			}
		}
	}

	rp := r.Get(resolved)
	if rp == nil {
		return nil, herrors.RepositoryNotFound(resolved)
	}
	return rp, nil
}
