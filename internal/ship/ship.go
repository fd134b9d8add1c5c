// Package ship runs the stage→commit→push→pull-request pipeline for a
// session worktree. Each stage's outcome is recorded independently so a
// failure late in the pipeline still reports everything that succeeded.
package ship

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/helmsman-cli/helmsman/internal/askpass"
	herrors "github.com/helmsman-cli/helmsman/internal/errors"
	pexec "github.com/helmsman-cli/helmsman/internal/exec"
	"github.com/helmsman-cli/helmsman/internal/git"
	"github.com/helmsman-cli/helmsman/internal/hosting"
	"github.com/helmsman-cli/helmsman/internal/logger"
	"github.com/helmsman-cli/helmsman/internal/vault"
)

// Options configures one ship run.
type Options struct {
	Dir           string // working directory, usually a session worktree
	Branch        string // branch to push; detected from Dir when empty
	BaseBranch    string // PR target; repo default branch when empty
	CommitMessage string
	Title         string // PR title; first line of commit message when empty
	Body          string // PR body

	SkipPush bool
	SkipPR   bool
}

// Result records what the pipeline achieved. Fields are set independently:
// a PR failure after a successful push leaves Committed and Pushed true.
type Result struct {
	Committed  bool
	Pushed     bool
	CommitHash string
	PRURL      string
	UsedPAT    bool // PR created via personal access token fallback
	UsedCLI    bool // PR created via platform CLI fallback
	PRErr      error
}

// Orchestrator composes git, credentials, and hosting APIs into the ship
// pipeline.
type Orchestrator struct {
	git       *git.Service
	injector  *askpass.Injector
	vault     *vault.Vault
	client    *hosting.Client
	refresher *hosting.Refresher
	executor  pexec.CommandExecutor
}

// NewOrchestrator wires a ship orchestrator. refresher may be nil when no
// OAuth app is configured; token refresh is then skipped.
func NewOrchestrator(g *git.Service, inj *askpass.Injector, v *vault.Vault, client *hosting.Client, refresher *hosting.Refresher, executor pexec.CommandExecutor) *Orchestrator {
	return &Orchestrator{git: g, injector: inj, vault: v, client: client, refresher: refresher, executor: executor}
}

// Ship runs the pipeline. The returned error is fatal-stage only; a PR
// failure after push is reported through Result.PRErr, not the error.
func (o *Orchestrator) Ship(ctx context.Context, opts Options) (*Result, error) {
	result := &Result{}

	if err := o.git.StageAll(ctx, opts.Dir); err != nil {
		return result, err
	}

	if o.git.HasChanges(ctx, opts.Dir) {
		if strings.TrimSpace(opts.CommitMessage) == "" {
			return result, herrors.CommitMessageRequired()
		}
		if err := o.git.Commit(ctx, opts.Dir, opts.CommitMessage); err != nil {
			return result, err
		}
		result.Committed = true
	}
	result.CommitHash = o.git.HeadCommit(ctx, opts.Dir)

	if opts.SkipPush {
		return result, nil
	}

	branch := opts.Branch
	if branch == "" {
		branch = o.git.CurrentBranch(ctx, opts.Dir)
	}
	if branch == "" {
		return result, herrors.E(herrors.Op("ship.Ship"), herrors.KindValidation, "cannot determine branch to push")
	}

	pushErr := o.injector.WithCredentials(ctx, opts.Dir, func(extraEnv []string) error {
		return o.git.Push(ctx, opts.Dir, branch, extraEnv)
	})
	if pushErr != nil {
		return result, pushErr
	}
	result.Pushed = true

	if opts.SkipPR {
		return result, nil
	}

	o.createPR(ctx, opts, branch, result)
	return result, nil
}

// createPR resolves the hosting platform and walks the fallback chain:
// OAuth API, then PAT retry on an org-access failure, then the platform
// CLI. Outcome lands in result; never fatal.
func (o *Orchestrator) createPR(ctx context.Context, opts Options, branch string, result *Result) {
	remoteURL := o.git.RemoteURL(ctx, opts.Dir)
	platform := hosting.Detect(remoteURL)
	repoPath := hosting.RepoPath(remoteURL)

	if platform == hosting.Unknown || repoPath == "" {
		result.PRErr = &hosting.APIError{Code: hosting.CodeUnknown,
			Message: fmt.Sprintf("cannot determine hosting platform for remote %q", remoteURL)}
		return
	}

	base := opts.BaseBranch
	if base == "" {
		base = "main"
	}

	spec := hosting.PRSpec{
		Title: opts.Title,
		Body:  opts.Body,
		Head:  branch,
		Base:  base,
	}
	if spec.Title == "" {
		spec.Title = strings.SplitN(opts.CommitMessage, "\n", 2)[0]
	}
	if spec.Title == "" {
		spec.Title = o.git.LastCommitSubject(ctx, opts.Dir)
	}

	token := o.vault.TokenForPlatform(string(platform))

	var apiErr error
	if token != "" {
		apiErr = o.createViaAPI(ctx, platform, repoPath, token, spec, result)
		if apiErr == nil {
			return
		}
	}

	// CLI fallback: no token, or the API path exhausted its retries.
	if cliErr := o.createViaCLI(ctx, platform, opts.Dir, spec, result); cliErr == nil {
		result.UsedCLI = true
		result.PRErr = nil
		return
	} else if apiErr == nil {
		apiErr = cliErr
	}

	result.PRErr = apiErr
}

// createViaAPI tries the hosting API with the OAuth token, retrying once
// with a refreshed token on 401 during the existence read, and once with a
// PAT on an org-access failure during create.
func (o *Orchestrator) createViaAPI(ctx context.Context, platform hosting.Platform, repoPath, token string, spec hosting.PRSpec, result *Result) error {
	// Existence read first: shipping twice from one branch should report
	// the open PR, not a 422.
	existing, err := o.client.FindOpenPR(ctx, platform, repoPath, token, spec.Head)
	if err != nil {
		var apiErr *hosting.APIError
		if errors.As(err, &apiErr) && apiErr.Code == hosting.CodeTokenExpired {
			refreshed := o.refreshToken(ctx, platform)
			if refreshed != "" {
				token = refreshed
				existing, err = o.client.FindOpenPR(ctx, platform, repoPath, token, spec.Head)
			}
		}
		if err != nil {
			return err
		}
	}
	if existing != "" {
		logger.Info("ship: open PR already exists: %s", existing)
		result.PRURL = existing
		return nil
	}

	pr, err := o.client.CreatePR(ctx, platform, repoPath, token, spec)
	if err == nil {
		result.PRURL = pr.URL
		return nil
	}

	var apiErr *hosting.APIError
	if errors.As(err, &apiErr) && apiErr.Code == hosting.CodeOrgAccessRequired {
		if pat := o.vault.PATForPlatform(string(platform)); pat != "" {
			logger.Info("ship: org access denied for OAuth token, retrying with personal access token")
			pr, patErr := o.client.CreatePR(ctx, platform, repoPath, pat, spec)
			if patErr == nil {
				result.PRURL = pr.URL
				result.UsedPAT = true
				return nil
			}
		}
	}

	return err
}

// refreshToken performs the single allowed OAuth refresh, persisting new
// tokens on success. Empty on any failure.
func (o *Orchestrator) refreshToken(ctx context.Context, platform hosting.Platform) string {
	if o.refresher == nil {
		return ""
	}
	refreshToken := o.vault.RefreshTokenForPlatform(string(platform))
	tokens, err := o.refresher.Refresh(ctx, platform, refreshToken)
	if err != nil {
		logger.Warn("ship: token refresh failed: %v", err)
		return ""
	}
	if !o.vault.UpdateToken(string(platform), tokens.AccessToken, tokens.RefreshToken) {
		logger.Warn("ship: no workspace to persist refreshed %s token", platform)
	}
	return tokens.AccessToken
}

// createViaCLI shells out to gh or glab. The CLI manages its own auth.
func (o *Orchestrator) createViaCLI(ctx context.Context, platform hosting.Platform, dir string, spec hosting.PRSpec, result *Result) error {
	var name string
	var args []string
	switch platform {
	case hosting.GitHub:
		name = "gh"
		args = []string{"pr", "create", "--head", spec.Head, "--base", spec.Base, "--title", spec.Title, "--body", spec.Body}
	case hosting.GitLab:
		name = "glab"
		args = []string{"mr", "create", "--source-branch", spec.Head, "--target-branch", spec.Base, "--title", spec.Title, "--description", spec.Body}
	default:
		return herrors.CLINotFound(string(platform))
	}

	if !pexec.LookPath(name) {
		return herrors.CLINotFound(name)
	}

	output, err := o.executor.CombinedOutput(ctx, dir, name, args...)
	if err != nil {
		return herrors.E(herrors.Op("ship.createViaCLI"), herrors.KindExternalTool,
			fmt.Sprintf("%s failed", name), fmt.Errorf("%s: %w", strings.TrimSpace(string(output)), err))
	}

	result.PRURL = extractURL(string(output))
	return nil
}

// extractURL pulls the PR URL out of CLI output; both gh and glab print it
// on its own line.
func extractURL(output string) string {
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "https://") || strings.HasPrefix(line, "http://") {
			return line
		}
	}
	return ""
}
