package ship

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/helmsman-cli/helmsman/internal/askpass"
	"github.com/helmsman-cli/helmsman/internal/config"
	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	pexec "github.com/helmsman-cli/helmsman/internal/exec"
	"github.com/helmsman-cli/helmsman/internal/git"
	"github.com/helmsman-cli/helmsman/internal/hosting"
	"github.com/helmsman-cli/helmsman/internal/vault"
)

var ctx = context.Background()

const workDir = "/work/repo"

// harness wires an orchestrator over a mock git executor and a local API
// server.
type harness struct {
	mock *pexec.MockExecutor
	cfg  *config.Config
	orch *Orchestrator
}

// newHarness builds a harness with a dirty worktree on a GitHub remote and a
// workspace holding an OAuth token.
func newHarness(t *testing.T, srv *httptest.Server) *harness {
	t.Helper()

	mock := pexec.NewMockExecutor(nil)
	mock.AddPrefixMatch("git", []string{"status", "--porcelain"}, pexec.MockResponse{Stdout: []byte(" M main.go\n")})
	mock.AddPrefixMatch("git", []string{"rev-parse", "HEAD"}, pexec.MockResponse{Stdout: []byte("abc123def456\n")})
	mock.AddPrefixMatch("git", []string{"remote", "get-url", "origin"}, pexec.MockResponse{Stdout: []byte("https://github.com/owner/repo.git\n")})

	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.AddWorkspace(config.Workspace{
		ID:           "ws1",
		RepoPaths:    []string{workDir},
		Platform:     "github",
		OAuthToken:   "gho_tok",
		RefreshToken: "ghr_tok",
	})

	v := vault.New(cfg)
	gitSvc := git.NewServiceWithExecutor(mock)

	client := hosting.NewClient()
	var refresher *hosting.Refresher
	if srv != nil {
		client = &hosting.Client{HTTPClient: srv.Client(), GitHubAPI: srv.URL, GitLabAPI: srv.URL}
		refresher = &hosting.Refresher{
			HTTPClient:     srv.Client(),
			GitHubTokenURL: srv.URL + "/token",
			GitLabTokenURL: srv.URL + "/token",
			ClientID:       "client-123",
		}
	}

	return &harness{
		mock: mock,
		cfg:  cfg,
		orch: NewOrchestrator(gitSvc, askpass.New(v), v, client, refresher, mock),
	}
}

// emptyPath points PATH at a bare directory so no platform CLI resolves.
func emptyPath(t *testing.T) {
	t.Helper()
	t.Setenv("PATH", t.TempDir())
}

// fakeCLI puts stub executables on PATH. Invocations still go through the
// mock executor; only the lookup needs to succeed.
func fakeCLI(t *testing.T, names ...string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\nexit 0\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
	t.Setenv("PATH", dir)
}

func (h *harness) calls(args ...string) []pexec.Call {
	var out []pexec.Call
	for _, c := range h.mock.GetCalls() {
		if len(c.Args) < len(args) {
			continue
		}
		ok := true
		for i, a := range args {
			if c.Args[i] != a {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

func TestShip_FullPipeline(t *testing.T) {
	emptyPath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			w.Write([]byte(`[]`))
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"html_url":"https://github.com/owner/repo/pull/12","number":12}`))
		}
	}))
	defer srv.Close()
	h := newHarness(t, srv)

	result, err := h.orch.Ship(ctx, Options{
		Dir:           workDir,
		Branch:        "feature-x",
		BaseBranch:    "main",
		CommitMessage: "Add feature\n\ndetails",
	})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}

	if !result.Committed || !result.Pushed {
		t.Errorf("result = %+v", result)
	}
	if result.CommitHash != "abc123def456" {
		t.Errorf("CommitHash = %q", result.CommitHash)
	}
	if result.PRURL != "https://github.com/owner/repo/pull/12" {
		t.Errorf("PRURL = %q", result.PRURL)
	}
	if result.UsedPAT || result.UsedCLI || result.PRErr != nil {
		t.Errorf("result = %+v", result)
	}

	pushes := h.calls("push", "-u", "origin", "feature-x")
	if len(pushes) != 1 {
		t.Fatalf("push calls = %d", len(pushes))
	}
	// The push runs inside the credential scope.
	var hasToken bool
	for _, kv := range pushes[0].Env {
		if kv == "HELMSMAN_ASKPASS_TOKEN=gho_tok" {
			hasToken = true
		}
	}
	if !hasToken {
		t.Errorf("push env = %v, want askpass token", pushes[0].Env)
	}
}

func TestShip_CommitMessageRequired(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x"})
	if !herrors.Is(err, herrors.KindValidation) {
		t.Fatalf("err = %v, want validation", err)
	}
	if result.Committed || result.Pushed {
		t.Errorf("result = %+v", result)
	}
	if got := h.calls("commit"); len(got) != 0 {
		t.Error("commit ran without a message")
	}
	if got := h.calls("push"); len(got) != 0 {
		t.Error("push ran after fatal stage")
	}
}

func TestShip_CleanTreeSkipsCommit(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)
	h.mock.AddPrefixMatch("git", []string{"status", "--porcelain"}, pexec.MockResponse{})

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", SkipPR: true})
	if err != nil {
		t.Fatalf("Ship: %v", err)
	}
	if result.Committed {
		t.Error("clean tree reported a commit")
	}
	if !result.Pushed {
		t.Error("clean tree should still push")
	}
	if result.CommitHash != "abc123def456" {
		t.Errorf("CommitHash = %q", result.CommitHash)
	}
}

func TestShip_StageFailureIsFatal(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)
	h.mock.AddPrefixMatch("git", []string{"add", "-A"}, pexec.MockResponse{
		Stderr: []byte("fatal: unable to stage"),
		Err:    errors.New("exit status 128"),
	})

	_, err := h.orch.Ship(ctx, Options{Dir: workDir, CommitMessage: "msg"})
	if !herrors.Is(err, herrors.KindExternalTool) {
		t.Fatalf("err = %v", err)
	}
	if got := h.calls("commit"); len(got) != 0 {
		t.Error("commit ran after failed stage")
	}
}

func TestShip_PushFailureKeepsCommit(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)
	h.mock.AddPrefixMatch("git", []string{"push"}, pexec.MockResponse{
		Stderr: []byte("remote: permission denied"),
		Err:    errors.New("exit status 1"),
	})

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if !herrors.Is(err, herrors.KindExternalTool) {
		t.Fatalf("err = %v", err)
	}
	if !result.Committed {
		t.Error("commit outcome lost on push failure")
	}
	if result.CommitHash == "" {
		t.Error("CommitHash lost on push failure")
	}
	if result.Pushed {
		t.Error("Pushed set despite failure")
	}
}

func TestShip_SkipPush(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, CommitMessage: "msg", SkipPush: true})
	if err != nil {
		t.Fatal(err)
	}
	if !result.Committed || result.Pushed {
		t.Errorf("result = %+v", result)
	}
	if got := h.calls("push"); len(got) != 0 {
		t.Error("push ran with SkipPush")
	}
}

func TestShip_PRFailureNonFatal(t *testing.T) {
	emptyPath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`[]`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"boom"}`))
	}))
	defer srv.Close()
	h := newHarness(t, srv)

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatalf("PR failure must not be fatal: %v", err)
	}
	if !result.Committed || !result.Pushed {
		t.Errorf("result = %+v", result)
	}
	if result.PRErr == nil {
		t.Fatal("PRErr not recorded")
	}
	var apiErr *hosting.APIError
	if !errors.As(result.PRErr, &apiErr) {
		t.Errorf("PRErr = %T", result.PRErr)
	}
}

func TestShip_ExistingPRShortCircuits(t *testing.T) {
	emptyPath(t)
	var creates int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			atomic.AddInt32(&creates, 1)
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		w.Write([]byte(`[{"html_url":"https://github.com/owner/repo/pull/5"}]`))
	}))
	defer srv.Close()
	h := newHarness(t, srv)

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatal(err)
	}
	if result.PRURL != "https://github.com/owner/repo/pull/5" {
		t.Errorf("PRURL = %q", result.PRURL)
	}
	if result.PRErr != nil {
		t.Errorf("PRErr = %v", result.PRErr)
	}
	if atomic.LoadInt32(&creates) != 0 {
		t.Error("create attempted despite existing PR")
	}
}

func TestShip_PATFallbackOnOrgAccess(t *testing.T) {
	emptyPath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`[]`))
			return
		}
		switch r.Header.Get("Authorization") {
		case "token gho_tok":
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"message":"Resource not accessible by integration"}`))
		case "token ghp_pat":
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"html_url":"https://github.com/owner/repo/pull/8","number":8}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()
	h := newHarness(t, srv)
	h.cfg.SetPAT("github", "ghp_pat")

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.UsedPAT {
		t.Error("UsedPAT not set")
	}
	if result.PRURL != "https://github.com/owner/repo/pull/8" {
		t.Errorf("PRURL = %q", result.PRURL)
	}
	if result.PRErr != nil {
		t.Errorf("PRErr = %v", result.PRErr)
	}
}

func TestShip_RefreshOnExpiredRead(t *testing.T) {
	emptyPath(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/token" {
			w.Write([]byte(`{"access_token":"gho_new","refresh_token":"ghr_new"}`))
			return
		}
		switch r.Header.Get("Authorization") {
		case "token gho_tok":
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Bad credentials"}`))
		case "token gho_new":
			if r.Method == http.MethodGet {
				w.Write([]byte(`[]`))
				return
			}
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"html_url":"https://github.com/owner/repo/pull/2","number":2}`))
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()
	h := newHarness(t, srv)

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatal(err)
	}
	if result.PRURL != "https://github.com/owner/repo/pull/2" {
		t.Errorf("PRURL = %q, PRErr = %v", result.PRURL, result.PRErr)
	}

	// Refreshed tokens are persisted for the next run.
	ws := h.cfg.WorkspaceForPlatform("github")
	if ws.OAuthToken != "gho_new" || ws.RefreshToken != "ghr_new" {
		t.Errorf("workspace tokens = %q/%q", ws.OAuthToken, ws.RefreshToken)
	}
}

func TestShip_CLIFallbackWithoutToken(t *testing.T) {
	fakeCLI(t, "gh")
	h := newHarness(t, nil)
	// Strip the OAuth token; only the CLI path remains.
	h.cfg.UpdateWorkspaceTokens("ws1", "", "")

	h.mock.AddPrefixMatch("gh", []string{"pr", "create"}, pexec.MockResponse{
		Stdout: []byte("Creating pull request\nhttps://github.com/owner/repo/pull/3\n"),
	})

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatal(err)
	}
	if !result.UsedCLI {
		t.Errorf("UsedCLI not set: %+v", result)
	}
	if result.PRURL != "https://github.com/owner/repo/pull/3" {
		t.Errorf("PRURL = %q", result.PRURL)
	}
}

func TestShip_CLIMissingReported(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)
	h.cfg.UpdateWorkspaceTokens("ws1", "", "")

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatal(err)
	}
	if result.PRErr == nil {
		t.Fatal("PRErr not set when no PR path available")
	}
	if !herrors.Is(result.PRErr, herrors.KindNotFound) {
		t.Errorf("PRErr = %v", result.PRErr)
	}
}

func TestShip_UnknownRemote(t *testing.T) {
	emptyPath(t)
	h := newHarness(t, nil)
	h.mock.AddPrefixMatch("git", []string{"remote", "get-url", "origin"}, pexec.MockResponse{
		Stdout: []byte("https://bitbucket.org/owner/repo.git\n"),
	})

	result, err := h.orch.Ship(ctx, Options{Dir: workDir, Branch: "feature-x", CommitMessage: "msg"})
	if err != nil {
		t.Fatal(err)
	}
	if result.PRErr == nil {
		t.Error("unknown platform should surface through PRErr")
	}
}

func TestExtractURL(t *testing.T) {
	tests := []struct {
		output string
		want   string
	}{
		{"https://github.com/owner/repo/pull/1\n", "https://github.com/owner/repo/pull/1"},
		{"Creating pull request for feature-x into main\n\nhttps://github.com/o/r/pull/2\n", "https://github.com/o/r/pull/2"},
		{"no url here\n", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := extractURL(tt.output); got != tt.want {
			t.Errorf("extractURL(%q) = %q, want %q", tt.output, got, tt.want)
		}
	}
	if got := extractURL("  http://internal.example/pr/9  \n"); !strings.HasPrefix(got, "http://") {
		t.Errorf("http scheme not accepted: %q", got)
	}
}
