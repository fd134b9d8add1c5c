package repo

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	herrors "github.com/helmsman-cli/helmsman/internal/errors"
)

// createTestRepo creates a temporary git repository for testing
func createTestRepo(t *testing.T) string {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "helmsman-repo-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tmpDir) })

	cmd := exec.Command("git", "init")
	cmd.Dir = tmpDir
	if err := cmd.Run(); err != nil {
		t.Fatalf("Failed to init git repo: %v", err)
	}

	return tmpDir
}

func TestAdd_RegistersGitRepo(t *testing.T) {
	r := NewRegistry()
	path := createTestRepo(t)

	repo, err := r.Add(path)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if repo.ID != filepath.Base(path) && repo.ID == "" {
		t.Errorf("unexpected id %q", repo.ID)
	}
	if got := r.Get(repo.ID); got == nil || got.Path != path {
		t.Errorf("Get(%q) = %+v", repo.ID, got)
	}
}

func TestAdd_RejectsNonRepo(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	_, err := r.Add(dir)
	if err == nil {
		t.Fatal("expected error for plain directory")
	}
	if !herrors.Is(err, herrors.KindValidation) {
		t.Errorf("kind = %v, want KindValidation", herrors.GetKind(err))
	}
}

func TestAdd_DuplicateBaseNameGetsSuffix(t *testing.T) {
	r := NewRegistry()

	parent1 := t.TempDir()
	parent2 := t.TempDir()
	for _, parent := range []string{parent1, parent2} {
		dir := filepath.Join(parent, "project")
		if err := os.Mkdir(dir, 0755); err != nil {
			t.Fatal(err)
		}
		cmd := exec.Command("git", "init")
		cmd.Dir = dir
		if err := cmd.Run(); err != nil {
			t.Fatalf("git init: %v", err)
		}
	}

	first, err := r.Add(filepath.Join(parent1, "project"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Add(filepath.Join(parent2, "project"))
	if err != nil {
		t.Fatal(err)
	}

	if first.ID == second.ID {
		t.Errorf("duplicate ids: %q and %q", first.ID, second.ID)
	}
}

func TestGet_UnknownReturnsNil(t *testing.T) {
	r := NewRegistry()
	if got := r.Get("nope"); got != nil {
		t.Errorf("Get(unknown) = %+v, want nil", got)
	}
}

func TestRemove(t *testing.T) {
	r := NewRegistry()
	repo, err := r.Add(createTestRepo(t))
	if err != nil {
		t.Fatal(err)
	}

	if !r.Remove(repo.ID) {
		t.Error("expected removal")
	}
	if r.Remove(repo.ID) {
		t.Error("second removal should report absent")
	}
	if len(r.List()) != 0 {
		t.Error("registry should be empty")
	}
}

func TestNewRegistryFromPaths_SkipsInvalid(t *testing.T) {
	valid := createTestRepo(t)
	r := NewRegistryFromPaths([]string{valid, "/does/not/exist", t.TempDir()})

	if got := len(r.List()); got != 1 {
		t.Errorf("registered %d repos, want 1", got)
	}
}

func TestRemoteURL_NoOriginIsEmpty(t *testing.T) {
	r := NewRegistry()
	repo, err := r.Add(createTestRepo(t))
	if err != nil {
		t.Fatal(err)
	}

	if url := r.RemoteURL(repo.ID); url != "" {
		t.Errorf("RemoteURL = %q, want empty", url)
	}
}

func TestResolve(t *testing.T) {
	r := NewRegistry()
	first, err := r.Add(createTestRepo(t))
	if err != nil {
		t.Fatal(err)
	}
	second, err := r.Add(createTestRepo(t))
	if err != nil {
		t.Fatal(err)
	}

	repoIDs := []string{first.ID, second.ID}

	// No override resolves to the primary.
	got, err := Resolve(r, repoIDs, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Errorf("resolved %q, want primary %q", got.ID, first.ID)
	}

	// A member override resolves to that member.
	got, err = Resolve(r, repoIDs, second.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != second.ID {
		t.Errorf("resolved %q, want %q", got.ID, second.ID)
	}

	// A non-member override falls back to the primary.
	got, err = Resolve(r, repoIDs, "stranger")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Errorf("resolved %q, want primary %q", got.ID, first.ID)
	}
}

func TestResolve_UnregisteredPrimaryFails(t *testing.T) {
	r := NewRegistry()

	_, err := Resolve(r, []string{"ghost"}, "")
	if err == nil {
		t.Fatal("expected error")
	}
	if !herrors.Is(err, herrors.KindNotFound) {
		t.Errorf("kind = %v, want KindNotFound", herrors.GetKind(err))
	}
}
