// Package session holds the session model and the registry that owns every
// live session: creation over worktrees, lifecycle transitions, merge,
// message history, search, and export.
package session

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusCreating   Status = "creating"
	StatusActive     Status = "active"
	StatusCancelling Status = "cancelling"
	StatusMerged     Status = "merged"
	StatusDeleted    Status = "deleted"
	StatusError      Status = "error"
)

// Terminated reports whether the status admits no further activity.
func (s Status) Terminated() bool {
	return s == StatusMerged || s == StatusDeleted || s == StatusError
}

// Mode controls how the backing agent treats the working directory.
type Mode string

const (
	ModePlan   Mode = "plan"
	ModeDirect Mode = "direct"
)

// Message is one entry in a session's conversation history. Append only.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is one unit of agent work across one or more repositories.
// RepoIDs[0] is the primary repository.
type Session struct {
	ID                   string    `json:"id"`
	Name                 string    `json:"name,omitempty"`
	RepoIDs              []string  `json:"repo_ids"`
	MergedFromSessionIDs []string  `json:"merged_from_session_ids,omitempty"`
	Status               Status    `json:"status"`
	Mode                 Mode      `json:"mode"`
	Messages             []Message `json:"messages"`
	CreatedAt            time.Time `json:"created_at"`
	LastActivityAt       time.Time `json:"last_activity_at"`
	IsBookmarked         bool      `json:"is_bookmarked"`
	BookmarkedAt         time.Time `json:"bookmarked_at,omitzero"`

	// Worktree backing. OwnsWorktree is false for adopted worktrees: the
	// session uses the checkout but never deletes it.
	WorktreeMode bool   `json:"worktree_mode"`
	WorktreePath string `json:"worktree_path,omitempty"`
	Branch       string `json:"branch,omitempty"`
	BaseBranch   string `json:"base_branch,omitempty"`
	OwnsWorktree bool   `json:"owns_worktree"`
}

// IsMultiRepo reports whether the session spans more than one repository.
func (s *Session) IsMultiRepo() bool {
	return len(s.RepoIDs) > 1
}

// PrimaryRepoID returns the session's primary repository id.
func (s *Session) PrimaryRepoID() string {
	if len(s.RepoIDs) == 0 {
		return ""
	}
	return s.RepoIDs[0]
}

// DisplayName returns the best human-readable handle for the session: the
// assigned name, else the branch, else the id.
func (s *Session) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Branch != "" {
		return s.Branch
	}
	return s.ID
}

// HasRepo reports whether the session includes the given repository.
func (s *Session) HasRepo(repoID string) bool {
	for _, id := range s.RepoIDs {
		if id == repoID {
			return true
		}
	}
	return false
}

// clone returns a deep copy so readers never alias registry-owned state.
func (s *Session) clone() *Session {
	c := *s
	c.RepoIDs = append([]string(nil), s.RepoIDs...)
	c.MergedFromSessionIDs = append([]string(nil), s.MergedFromSessionIDs...)
	c.Messages = append([]Message(nil), s.Messages...)
	return &c
}

// newSession builds a fresh session in the creating state.
func newSession(repoIDs []string, mode Mode) *Session {
	now := time.Now()
	return &Session{
		ID:             uuid.New().String(),
		RepoIDs:        append([]string(nil), repoIDs...),
		Status:         StatusCreating,
		Mode:           mode,
		CreatedAt:      now,
		LastActivityAt: now,
	}
}
