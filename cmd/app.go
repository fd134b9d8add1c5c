package cmd

import (
	"context"
	"time"

	"github.com/helmsman-cli/helmsman/internal/agent"
	"github.com/helmsman-cli/helmsman/internal/askpass"
	"github.com/helmsman-cli/helmsman/internal/config"
	pexec "github.com/helmsman-cli/helmsman/internal/exec"
	"github.com/helmsman-cli/helmsman/internal/git"
	"github.com/helmsman-cli/helmsman/internal/hosting"
	"github.com/helmsman-cli/helmsman/internal/logger"
	"github.com/helmsman-cli/helmsman/internal/notification"
	"github.com/helmsman-cli/helmsman/internal/pool"
	"github.com/helmsman-cli/helmsman/internal/repo"
	"github.com/helmsman-cli/helmsman/internal/session"
	"github.com/helmsman-cli/helmsman/internal/ship"
	"github.com/helmsman-cli/helmsman/internal/vault"
	"github.com/helmsman-cli/helmsman/internal/worktree"
)

// app holds the wired services every command works against. Each command
// invocation builds a fresh app from the on-disk config; sessions live only
// for the invocation, worktrees and commits are the durable state.
type app struct {
	cfg       *config.Config
	repos     *repo.Registry
	worktrees *worktree.Service
	sessions  *session.Registry
	procs     *pool.Pool
	gitSvc    *git.Service
	vault     *vault.Vault
	shipper   *ship.Orchestrator
}

// buildApp loads config and wires the service graph.
func buildApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	notification.Enabled = cfg.NotificationsEnabled

	executor := pexec.NewRealExecutor()
	repos := repo.NewRegistryFromPaths(cfg.GetRepos())
	worktrees := worktree.NewServiceWithExecutor(executor)
	gitSvc := git.NewServiceWithExecutor(executor)
	credVault := vault.New(cfg)

	ps := cfg.GetPoolSettings()
	agentLog := logger.WithComponent("agent")
	procs := pool.New(func() pool.Proc {
		return agent.New(agent.Config{Command: cfg.GetAgentCommand()}, agent.Callbacks{}, agentLog)
	}, ps.Size, time.Duration(ps.MaxIdleMins)*time.Minute, ps.Enabled)

	// Only commands that opt in with AcquireProcess spawn agent
	// processes; adoption and listing stay metadata-only.
	sessions := session.NewRegistry(repos, worktrees, procs, cfg.GetDefaultBranchPrefix())
	sessions.SetErrorHandler(func(_, name string) {
		notification.SessionErrored(name)
	})

	shipper := ship.NewOrchestrator(
		gitSvc,
		askpass.New(credVault),
		credVault,
		hosting.NewClient(),
		hosting.NewRefresher(cfg.OAuthClientID),
		executor,
	)

	return &app{
		cfg:       cfg,
		repos:     repos,
		worktrees: worktrees,
		sessions:  sessions,
		procs:     procs,
		gitSvc:    gitSvc,
		vault:     credVault,
		shipper:   shipper,
	}, nil
}

// adoptWorktrees registers every existing worktree of every repo as a
// session for this invocation, so list/merge/export can address them.
// Returns sessions keyed by branch name.
func (a *app) adoptWorktrees(ctx context.Context) map[string]*session.Session {
	byBranch := make(map[string]*session.Session)
	for _, r := range a.repos.List() {
		for _, path := range a.worktrees.List(ctx, r.Path) {
			sess, err := a.sessions.Create(ctx, session.CreateOptions{
				RepoIDs:              []string{r.ID},
				WorktreeMode:         true,
				ExistingWorktreePath: path,
			})
			if err != nil {
				logger.Warn("could not adopt worktree %s: %v", path, err)
				continue
			}
			if sess.Branch != "" {
				byBranch[sess.Branch] = sess
			}
		}
	}
	return byBranch
}
