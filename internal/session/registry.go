package session

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	"github.com/helmsman-cli/helmsman/internal/logger"
	"github.com/helmsman-cli/helmsman/internal/pool"
	"github.com/helmsman-cli/helmsman/internal/repo"
	"github.com/helmsman-cli/helmsman/internal/worktree"
)

// DefaultBranchPrefix prefixes generated worktree branch names.
const DefaultBranchPrefix = "helmsman"

// interrupter is satisfied by backing processes that can be interrupted.
type interrupter interface {
	Interrupt() error
}

// retargetable is satisfied by backing processes whose working directory can
// be redirected before use.
type retargetable interface {
	SetWorkingDir(dir string)
}

// exitNotifiable is satisfied by backing processes whose unexpected exit
// can be rebound to the owning session.
type exitNotifiable interface {
	SetOnExit(fn func(err error, stderrContent string))
}

// lineNotifiable is satisfied by backing processes whose stdout can be
// streamed to the owning session.
type lineNotifiable interface {
	SetOnLine(fn func(line string))
}

// stdinWriter is satisfied by backing processes that accept input.
type stdinWriter interface {
	Write(data []byte) error
}

// Registry owns all live sessions. One registry lock linearizes mutations;
// reads return deep copies so callers never observe partial updates.
type Registry struct {
	repos        *repo.Registry
	worktrees    *worktree.Service
	procs        *pool.Pool // nil when sessions run without backing processes
	branchPrefix string

	mu       sync.RWMutex
	sessions map[string]*Session
	backing  map[string]pool.Proc
	onError  func(sessionID, name string)
}

// NewRegistry creates a session registry. procs may be nil for setups that
// manage agent processes themselves.
func NewRegistry(repos *repo.Registry, worktrees *worktree.Service, procs *pool.Pool, branchPrefix string) *Registry {
	if branchPrefix == "" {
		branchPrefix = DefaultBranchPrefix
	}
	return &Registry{
		repos:        repos,
		worktrees:    worktrees,
		procs:        procs,
		branchPrefix: branchPrefix,
		sessions:     make(map[string]*Session),
		backing:      make(map[string]pool.Proc),
	}
}

// CreateOptions configures a new session.
type CreateOptions struct {
	RepoIDs []string
	Mode    Mode // defaults to plan

	// Worktree backing. Exactly one of Branch or ExistingWorktreePath must
	// be set; adopting an existing checkout leaves the session not owning
	// it. GenerateBranchName produces a default Branch for callers without
	// a name in mind.
	WorktreeMode         bool
	Branch               string
	BaseBranch           string
	ExistingWorktreePath string

	// AcquireProcess requests a backing agent process from the pool.
	// Ignored when the registry was built without one; metadata-only
	// callers (adoption, listing) leave it unset so they never spawn.
	AcquireProcess bool
}

// SetErrorHandler installs a hook invoked after a backing process dies and
// the session transitions to the error state. Fires off the registry lock.
func (r *Registry) SetErrorHandler(fn func(sessionID, name string)) {
	r.mu.Lock()
	r.onError = fn
	r.mu.Unlock()
}

// GenerateBranchName returns a fresh branch name under the registry's
// configured prefix.
func (r *Registry) GenerateBranchName() string {
	return r.branchPrefix + "-" + uuid.New().String()[:8]
}

// Create builds a new session, provisioning a worktree and acquiring a
// backing process as configured.
func (r *Registry) Create(ctx context.Context, opts CreateOptions) (*Session, error) {
	const op = herrors.Op("session.Create")

	if len(opts.RepoIDs) == 0 {
		return nil, herrors.E(op, herrors.KindValidation, "at least one repository required")
	}
	for _, id := range opts.RepoIDs {
		if r.repos.Get(id) == nil {
			return nil, herrors.RepositoryNotFound(id)
		}
	}

	mode := opts.Mode
	if mode == "" {
		mode = ModePlan
	}

	sess := newSession(opts.RepoIDs, mode)

	primary := r.repos.Get(sess.PrimaryRepoID())
	if primary == nil {
		return nil, herrors.RepositoryNotFound(sess.PrimaryRepoID())
	}
	workingDir := primary.Path

	if opts.WorktreeMode {
		sess.WorktreeMode = true
		switch {
		case opts.ExistingWorktreePath != "":
			branch := r.worktrees.DetectBranch(ctx, opts.ExistingWorktreePath)
			if branch == "" {
				return nil, herrors.E(op, herrors.KindValidation,
					"cannot adopt "+opts.ExistingWorktreePath+": no branch checked out")
			}
			sess.WorktreePath = opts.ExistingWorktreePath
			sess.Branch = branch
			sess.OwnsWorktree = false
		case opts.Branch == "":
			return nil, herrors.E(op, herrors.KindValidation,
				"worktree mode requires a branch or an existing worktree path")
		default:
			branch := opts.Branch
			path, err := r.worktrees.Create(ctx, primary.Path, branch, opts.BaseBranch)
			if err != nil {
				return nil, err
			}
			sess.Branch = branch
			sess.BaseBranch = opts.BaseBranch
			sess.WorktreePath = path
			sess.OwnsWorktree = true
		}
		workingDir = sess.WorktreePath
	}

	var proc pool.Proc
	if r.procs != nil && opts.AcquireProcess {
		p, err := r.procs.Acquire(ctx)
		if err != nil {
			// Roll back a worktree we just created; a half-born session
			// must not leave debris behind.
			if sess.OwnsWorktree {
				r.worktrees.Remove(ctx, primary.Path, sess.WorktreePath, true)
			}
			return nil, err
		}
		r.bindProcess(p, sess, workingDir)
		proc = p
	}

	sess.Status = StatusActive

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	if proc != nil {
		r.backing[sess.ID] = proc
	}
	r.mu.Unlock()

	logger.Info("session created: id=%s repos=%v worktree=%v", sess.ID, sess.RepoIDs, sess.WorktreeMode)
	return sess.clone(), nil
}

// bindProcess points an acquired process at its session: the working
// directory, and an exit handler that marks the session errored when the
// process dies underneath it.
func (r *Registry) bindProcess(p pool.Proc, sess *Session, workingDir string) {
	if rt, ok := p.(retargetable); ok {
		rt.SetWorkingDir(workingDir)
	}
	if en, ok := p.(exitNotifiable); ok {
		id := sess.ID
		name := sess.DisplayName()
		en.SetOnExit(func(err error, stderr string) {
			reason := "agent process exited"
			if err != nil {
				reason += ": " + err.Error()
			}
			if stderr != "" {
				reason += ": " + stderr
			}
			r.MarkError(id, reason)

			r.mu.RLock()
			handler := r.onError
			r.mu.RUnlock()
			if handler != nil {
				handler(id, name)
			}
		})
	}
}

// Send forwards input to the session's backing agent process.
func (r *Registry) Send(id string, data []byte) error {
	r.mu.RLock()
	_, ok := r.sessions[id]
	proc := r.backing[id]
	r.mu.RUnlock()
	if !ok {
		return herrors.SessionNotFound(id)
	}

	w, writable := proc.(stdinWriter)
	if proc == nil || !writable {
		return herrors.E(herrors.Op("session.Send"), herrors.KindConflict, "session has no backing process")
	}
	return w.Write(data)
}

// SetOutput streams the backing process's stdout lines to fn, replacing
// any previous handler.
func (r *Registry) SetOutput(id string, fn func(line string)) error {
	r.mu.RLock()
	_, ok := r.sessions[id]
	proc := r.backing[id]
	r.mu.RUnlock()
	if !ok {
		return herrors.SessionNotFound(id)
	}

	ln, streamable := proc.(lineNotifiable)
	if proc == nil || !streamable {
		return herrors.E(herrors.Op("session.SetOutput"), herrors.KindConflict, "session has no backing process")
	}
	ln.SetOnLine(fn)
	return nil
}

// Detach releases the session's backing process back to the pool. The
// session stays usable as metadata; it simply has no process anymore.
func (r *Registry) Detach(id string) {
	r.mu.Lock()
	proc := r.backing[id]
	delete(r.backing, id)
	r.mu.Unlock()

	if proc == nil {
		return
	}

	// Unbind before pooling so a later exit cannot error this session.
	if en, ok := proc.(exitNotifiable); ok {
		en.SetOnExit(nil)
	}
	if ln, ok := proc.(lineNotifiable); ok {
		ln.SetOnLine(nil)
	}

	if r.procs != nil {
		r.procs.Release(proc)
	} else {
		proc.Stop()
	}
}

// Get returns a copy of the session, or SessionNotFound.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, herrors.SessionNotFound(id)
	}
	return sess.clone(), nil
}

// List returns copies of all sessions, bookmarked first, then most recent
// activity first.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		out = append(out, sess.clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].IsBookmarked != out[j].IsBookmarked {
			return out[i].IsBookmarked
		}
		return out[i].LastActivityAt.After(out[j].LastActivityAt)
	})
	return out
}

// SetMode switches a session between plan and direct mode.
func (r *Registry) SetMode(id string, mode Mode) error {
	if mode != ModePlan && mode != ModeDirect {
		// Existence is checked first so an unknown id never reports a
		// validation failure.
		r.mu.RLock()
		_, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			return herrors.SessionNotFound(id)
		}
		return herrors.E(herrors.Op("session.SetMode"), herrors.KindValidation, "mode must be plan or direct")
	}

	return r.mutate(id, func(sess *Session) error {
		sess.Mode = mode
		return nil
	})
}

// Rename sets the session's display name. Empty clears it.
func (r *Registry) Rename(id, name string) error {
	return r.mutate(id, func(sess *Session) error {
		sess.Name = strings.TrimSpace(name)
		return nil
	})
}

// SetBookmarked pins or unpins a session.
func (r *Registry) SetBookmarked(id string, bookmarked bool) error {
	return r.mutate(id, func(sess *Session) error {
		sess.IsBookmarked = bookmarked
		if bookmarked {
			sess.BookmarkedAt = time.Now()
		} else {
			sess.BookmarkedAt = time.Time{}
		}
		return nil
	})
}

// AppendMessage adds a message to the session history and bumps activity.
// Terminated sessions reject new messages.
func (r *Registry) AppendMessage(id, role, content string) error {
	return r.mutate(id, func(sess *Session) error {
		if sess.Status.Terminated() {
			return herrors.SessionTerminated(id)
		}
		now := time.Now()
		sess.Messages = append(sess.Messages, Message{Role: role, Content: content, Timestamp: now})
		sess.LastActivityAt = now
		return nil
	})
}

// Cancel interrupts the session's backing process. Best effort: it returns
// immediately without waiting for the agent to acknowledge, and the session
// remains usable.
func (r *Registry) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return herrors.SessionNotFound(id)
	}
	proc := r.backing[id]
	sess.Status = StatusCancelling
	r.mu.Unlock()

	go func() {
		if ip, ok := proc.(interrupter); ok && proc != nil {
			if err := ip.Interrupt(); err != nil {
				logger.Warn("session %s: interrupt failed: %v", id, err)
			}
		}
		r.mu.Lock()
		if s, ok := r.sessions[id]; ok && s.Status == StatusCancelling {
			s.Status = StatusActive
		}
		r.mu.Unlock()
	}()

	return nil
}

// MarkError transitions a session to the error state, recording the reason
// in its history. Used when the backing process dies underneath a session.
func (r *Registry) MarkError(id, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return
	}
	sess.Status = StatusError
	if reason != "" {
		sess.Messages = append(sess.Messages, Message{Role: "system", Content: reason, Timestamp: time.Now()})
	}
	delete(r.backing, id)
}

// Merge combines two or more sessions into a new one. Repo membership is
// the primary-preserving de-duplicated union; message histories concatenate
// in input order. Source sessions become merged but are not deleted.
func (r *Registry) Merge(ctx context.Context, ids []string) (*Session, error) {
	const op = herrors.Op("session.Merge")

	r.mu.Lock()

	// Existence before arity: a caller holding one stale id learns about
	// the missing session, not the count.
	var sources []*Session
	for _, id := range ids {
		sess, ok := r.sessions[id]
		if !ok {
			r.mu.Unlock()
			return nil, herrors.SessionNotFound(id)
		}
		sources = append(sources, sess)
	}
	if len(ids) < 2 {
		r.mu.Unlock()
		return nil, herrors.E(op, herrors.KindValidation, "merge requires at least two sessions")
	}

	seen := make(map[string]bool)
	var repoIDs []string
	var messages []Message
	for _, src := range sources {
		for _, repoID := range src.RepoIDs {
			if !seen[repoID] {
				seen[repoID] = true
				repoIDs = append(repoIDs, repoID)
			}
		}
		messages = append(messages, src.Messages...)
	}

	merged := newSession(repoIDs, sources[0].Mode)
	merged.MergedFromSessionIDs = append([]string(nil), ids...)
	merged.Messages = messages
	merged.Status = StatusActive

	var stopped []pool.Proc
	for _, src := range sources {
		src.Status = StatusMerged
		if proc, ok := r.backing[src.ID]; ok {
			stopped = append(stopped, proc)
			delete(r.backing, src.ID)
		}
	}

	r.sessions[merged.ID] = merged
	r.mu.Unlock()

	// Source processes are dead weight once merged; stop them off the lock.
	go func() {
		for _, proc := range stopped {
			proc.Stop()
		}
	}()

	// A merge of process-backed sessions gets one fresh process in place
	// of the ones it stopped; metadata-only merges stay metadata-only.
	var proc pool.Proc
	if r.procs != nil && len(stopped) > 0 {
		p, err := r.procs.Acquire(ctx)
		if err != nil {
			logger.Warn("merge %s: no backing process: %v", merged.ID, err)
		} else {
			workingDir := ""
			if primary := r.repos.Get(merged.PrimaryRepoID()); primary != nil {
				workingDir = primary.Path
			}
			r.bindProcess(p, merged, workingDir)
			proc = p
		}
	}
	if proc != nil {
		r.mu.Lock()
		r.backing[merged.ID] = proc
		r.mu.Unlock()
	}

	logger.Info("sessions merged: sources=%v result=%s repos=%v", ids, merged.ID, repoIDs)
	return merged.clone(), nil
}

// Delete tears down a session: stops its process, optionally removes its
// worktree and branch, and drops it from the registry. The worktree is only
// touched when the session owns it and deleteWorktree is set.
func (r *Registry) Delete(ctx context.Context, id string, deleteBranch, deleteWorktree bool) (worktree.Disposal, error) {
	var disposal worktree.Disposal

	r.mu.Lock()
	sess, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return disposal, herrors.SessionNotFound(id)
	}
	proc := r.backing[id]
	sess.Status = StatusDeleted
	delete(r.backing, id)
	delete(r.sessions, id)
	r.mu.Unlock()

	if proc != nil {
		proc.Stop()
	}

	if sess.WorktreeMode && sess.OwnsWorktree && deleteWorktree {
		if primary := r.repos.Get(sess.PrimaryRepoID()); primary != nil {
			d, rmErr := r.worktrees.Remove(ctx, primary.Path, sess.WorktreePath, deleteBranch)
			if rmErr != nil {
				return disposal, rmErr
			}
			// A worktree removed out from under us loses branch detection,
			// but the session still knows the branch it created.
			if deleteBranch && !d.BranchDeleted && sess.Branch != "" {
				d.BranchDeleted = r.worktrees.RemoveBranch(ctx, primary.Path, sess.Branch)
			}
			disposal = d
		}
	}

	logger.Info("session deleted: id=%s worktree=%v branch=%v", id, disposal.WorktreeDeleted, disposal.BranchDeleted)
	return disposal, nil
}

// AddRepo appends a repository to the session. Idempotent.
func (r *Registry) AddRepo(id, repoID string) error {
	if r.repos.Get(repoID) == nil {
		// Unknown session still wins over unknown repo.
		r.mu.RLock()
		_, ok := r.sessions[id]
		r.mu.RUnlock()
		if !ok {
			return herrors.SessionNotFound(id)
		}
		return herrors.RepositoryNotFound(repoID)
	}

	return r.mutate(id, func(sess *Session) error {
		if sess.HasRepo(repoID) {
			return nil
		}
		sess.RepoIDs = append(sess.RepoIDs, repoID)
		return nil
	})
}

// RemoveRepo drops a repository from the session. Removing the last repo is
// a conflict; removing the primary promotes the next repo in order. A repo
// the session never had is a no-op.
func (r *Registry) RemoveRepo(id, repoID string) error {
	return r.mutate(id, func(sess *Session) error {
		if !sess.HasRepo(repoID) {
			return nil
		}
		if len(sess.RepoIDs) == 1 {
			return herrors.CannotRemoveLastRepo(id)
		}
		kept := sess.RepoIDs[:0]
		for _, rid := range sess.RepoIDs {
			if rid != repoID {
				kept = append(kept, rid)
			}
		}
		sess.RepoIDs = kept
		return nil
	})
}

// mutate runs fn on the live session under the registry lock.
func (r *Registry) mutate(id string, fn func(*Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return herrors.SessionNotFound(id)
	}
	return fn(sess)
}

// LiveWorktrees returns the worktree paths owned by current sessions for
// the given repository path. Used by orphan pruning as the keep set.
func (r *Registry) LiveWorktrees(repoPath string) map[string]bool {
	live := make(map[string]bool)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, sess := range r.sessions {
		if sess.WorktreeMode && sess.WorktreePath != "" {
			live[sess.WorktreePath] = true
		}
	}
	return live
}

// Close stops every backing process. Sessions themselves are not persisted.
func (r *Registry) Close() {
	r.mu.Lock()
	backing := r.backing
	r.backing = make(map[string]pool.Proc)
	r.mu.Unlock()

	for id, proc := range backing {
		logger.Debug("stopping backing process for session %s", id)
		proc.Stop()
	}
}
