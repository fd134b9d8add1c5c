package session

import (
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	"github.com/helmsman-cli/helmsman/internal/pool"
	"github.com/helmsman-cli/helmsman/internal/repo"
	"github.com/helmsman-cli/helmsman/internal/worktree"
)

// fakeAgent is a stub backing process for pool-integration coverage.
type fakeAgent struct {
	mu         sync.Mutex
	running    bool
	stopped    bool
	startErr   error
	workingDir string
	interrupts int
	writes     []string
	onExit     func(error, string)
	onLine     func(string)
}

func (f *fakeAgent) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.running = true
	return nil
}

func (f *fakeAgent) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.running = false
	f.stopped = true
}

func (f *fakeAgent) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeAgent) SetWorkingDir(dir string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workingDir = dir
}

func (f *fakeAgent) SetOnExit(fn func(err error, stderrContent string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onExit = fn
}

func (f *fakeAgent) SetOnLine(fn func(line string)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onLine = fn
}

func (f *fakeAgent) Interrupt() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.interrupts++
	return nil
}

func (f *fakeAgent) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return nil
}

func (f *fakeAgent) interruptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.interrupts
}

func (f *fakeAgent) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

func (f *fakeAgent) dir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workingDir
}

func (f *fakeAgent) wrote() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// exit simulates the process dying underneath its owner.
func (f *fakeAgent) exit(err error, stderr string) {
	f.mu.Lock()
	f.running = false
	fn := f.onExit
	f.mu.Unlock()
	if fn != nil {
		fn(err, stderr)
	}
}

// agentFactory builds fakeAgents and remembers every one it made.
type agentFactory struct {
	mu       sync.Mutex
	built    []*fakeAgent
	startErr error
}

func (af *agentFactory) new() pool.Proc {
	af.mu.Lock()
	defer af.mu.Unlock()
	f := &fakeAgent{startErr: af.startErr}
	af.built = append(af.built, f)
	return f
}

func (af *agentFactory) count() int {
	af.mu.Lock()
	defer af.mu.Unlock()
	return len(af.built)
}

func (af *agentFactory) get(i int) *fakeAgent {
	af.mu.Lock()
	defer af.mu.Unlock()
	return af.built[i]
}

// newProcRegistry returns a registry backed by a pool of fakeAgents over
// one real git repo.
func newProcRegistry(t *testing.T, af *agentFactory) (*Registry, *pool.Pool, repo.Repo) {
	t.Helper()
	repos := repo.NewRegistry()
	rp, err := repos.Add(createTestRepo(t))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	p := pool.New(af.new, 2, time.Minute, true)
	t.Cleanup(p.Close)
	return NewRegistry(repos, worktree.NewService(), p, ""), p, rp
}

func TestCreate_ProcessAcquireFailureRollsBackWorktree(t *testing.T) {
	af := &agentFactory{startErr: errors.New("spawn failed")}
	reg, _, rp := newProcRegistry(t, af)

	_, err := reg.Create(ctx, CreateOptions{
		RepoIDs:        []string{rp.ID},
		WorktreeMode:   true,
		Branch:         "doomed",
		AcquireProcess: true,
	})
	if err == nil {
		t.Fatal("expected acquire failure to surface")
	}

	path := worktree.PathFor(rp.Path, "doomed")
	if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
		t.Errorf("worktree %s should have been rolled back", path)
	}
	if worktree.NewService().BranchExists(ctx, rp.Path, "doomed") {
		t.Error("branch should have been rolled back")
	}
}

func TestCreate_ProcessRetargetedToWorktree(t *testing.T) {
	af := &agentFactory{}
	reg, _, rp := newProcRegistry(t, af)

	sess, err := reg.Create(ctx, CreateOptions{
		RepoIDs:        []string{rp.ID},
		WorktreeMode:   true,
		Branch:         "wired",
		AcquireProcess: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if got := af.get(0).dir(); got != sess.WorktreePath {
		t.Errorf("working dir = %q, want %q", got, sess.WorktreePath)
	}

	if err := reg.Send(sess.ID, []byte("hello\n")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got := af.get(0).wrote(); len(got) != 1 || got[0] != "hello\n" {
		t.Errorf("writes = %v, want [hello\\n]", got)
	}
	if err := reg.SetOutput(sess.ID, func(string) {}); err != nil {
		t.Errorf("SetOutput: %v", err)
	}
}

func TestCreate_WithoutAcquireSpawnsNothing(t *testing.T) {
	af := &agentFactory{}
	reg, _, rp := newProcRegistry(t, af)

	if _, err := reg.Create(ctx, CreateOptions{
		RepoIDs:      []string{rp.ID},
		WorktreeMode: true,
		Branch:       "metadata-only",
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if n := af.count(); n != 0 {
		t.Errorf("factory built %d processes, want 0", n)
	}
}

func TestProcessExitMarksSessionError(t *testing.T) {
	af := &agentFactory{}
	reg, _, rp := newProcRegistry(t, af)

	var mu sync.Mutex
	var erroredName string
	reg.SetErrorHandler(func(_, name string) {
		mu.Lock()
		erroredName = name
		mu.Unlock()
	})

	sess, err := reg.Create(ctx, CreateOptions{
		RepoIDs:        []string{rp.ID},
		WorktreeMode:   true,
		Branch:         "fragile",
		AcquireProcess: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	af.get(0).exit(errors.New("exit status 3"), "segfault in agent")

	got, err := reg.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	last := got.Messages[len(got.Messages)-1]
	if !strings.Contains(last.Content, "segfault in agent") {
		t.Errorf("error message %q should carry stderr", last.Content)
	}

	mu.Lock()
	name := erroredName
	mu.Unlock()
	if name != "fragile" {
		t.Errorf("error handler got name %q, want fragile", name)
	}

	if err := reg.Send(sess.ID, []byte("x")); !herrors.Is(err, herrors.KindConflict) {
		t.Errorf("Send after exit = %v, want KindConflict", err)
	}
}

func TestCancel_InterruptsBackingProcess(t *testing.T) {
	af := &agentFactory{}
	reg, _, rp := newProcRegistry(t, af)

	sess, err := reg.Create(ctx, CreateOptions{
		RepoIDs:        []string{rp.ID},
		WorktreeMode:   true,
		Branch:         "busy",
		AcquireProcess: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := reg.Cancel(ctx, sess.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := reg.Get(sess.ID)
		if af.get(0).interruptCount() == 1 && got.Status == StatusActive {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("interrupts = %d, want 1 with session back to active", af.get(0).interruptCount())
}

func TestMerge_StopsSourceProcesses(t *testing.T) {
	af := &agentFactory{}
	reg, _, rp := newProcRegistry(t, af)

	var ids []string
	for _, branch := range []string{"left", "right"} {
		sess, err := reg.Create(ctx, CreateOptions{
			RepoIDs:        []string{rp.ID},
			WorktreeMode:   true,
			Branch:         branch,
			AcquireProcess: true,
		})
		if err != nil {
			t.Fatalf("Create %s: %v", branch, err)
		}
		ids = append(ids, sess.ID)
	}

	merged, err := reg.Merge(ctx, ids)
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if af.get(0).wasStopped() && af.get(1).wasStopped() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if !af.get(0).wasStopped() || !af.get(1).wasStopped() {
		t.Fatal("source processes should be stopped after merge")
	}

	// The merged session gets a fresh process in their place.
	if err := reg.Send(merged.ID, []byte("carry on\n")); err != nil {
		t.Errorf("Send to merged session: %v", err)
	}
	if got := af.get(2).dir(); got != rp.Path {
		t.Errorf("merged working dir = %q, want %q", got, rp.Path)
	}
}

func TestDetach_ReturnsProcessToPool(t *testing.T) {
	af := &agentFactory{}
	reg, p, rp := newProcRegistry(t, af)

	sess, err := reg.Create(ctx, CreateOptions{
		RepoIDs:        []string{rp.ID},
		WorktreeMode:   true,
		Branch:         "parked",
		AcquireProcess: true,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	reg.Detach(sess.ID)

	if af.get(0).wasStopped() {
		t.Error("detached process should be pooled, not stopped")
	}
	if st := p.Status(); st.IdleCount != 1 {
		t.Errorf("IdleCount = %d, want 1", st.IdleCount)
	}
	if err := reg.Send(sess.ID, []byte("x")); !herrors.Is(err, herrors.KindConflict) {
		t.Errorf("Send after detach = %v, want KindConflict", err)
	}
}

func TestClose_StopsBackingProcesses(t *testing.T) {
	af := &agentFactory{}
	reg, _, rp := newProcRegistry(t, af)

	if _, err := reg.Create(ctx, CreateOptions{
		RepoIDs:        []string{rp.ID},
		WorktreeMode:   true,
		Branch:         "shutdown",
		AcquireProcess: true,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	reg.Close()

	if !af.get(0).wasStopped() {
		t.Error("backing process should be stopped on Close")
	}
}
