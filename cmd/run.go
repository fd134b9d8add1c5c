package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-cli/helmsman/internal/session"
)

var (
	runRepos []string
	runBase  string
)

var sessionsRunCmd = &cobra.Command{
	Use:   "run [branch]",
	Short: "Start an agent process in a session worktree and attach to it",
	Long: `Run attaches an interactive agent process to a session. With a branch
argument it adopts that branch's existing worktree; without one it creates
a fresh session on a generated branch. Input lines go to the agent, its
output streams back. Ctrl-C interrupts the agent, Ctrl-D detaches.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		a.procs.StartSweep()
		defer a.procs.Close()

		opts := session.CreateOptions{
			WorktreeMode:   true,
			AcquireProcess: true,
			BaseBranch:     runBase,
		}
		if len(args) == 1 {
			repoID, path := worktreePathFor(a, ctx, args[0])
			if path == "" {
				fmt.Fprintf(os.Stderr, "No session worktree on branch %q\n", args[0])
				os.Exit(1)
			}
			opts.RepoIDs = []string{repoID}
			opts.ExistingWorktreePath = path
		} else {
			opts.RepoIDs = defaultRepoIDs(a, runRepos)
			opts.Branch = a.sessions.GenerateBranchName()
		}

		sess, err := a.sessions.Create(ctx, opts)
		if err != nil {
			return err
		}
		defer a.sessions.Detach(sess.ID)

		// Keep warm spares available while this session runs.
		go a.procs.Fill()

		if err := a.sessions.SetOutput(sess.ID, func(line string) {
			fmt.Print(line)
		}); err != nil {
			return err
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT)
		defer signal.Stop(sigCh)
		go func() {
			for range sigCh {
				a.sessions.Cancel(ctx, sess.ID)
			}
		}()

		fmt.Printf("Session %s on %s\n", color.CyanString(sess.ID[:8]), color.GreenString(sess.Branch))

		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			text := scanner.Text()
			if strings.TrimSpace(text) == "" {
				continue
			}
			a.sessions.AppendMessage(sess.ID, "user", text)
			if err := a.sessions.Send(sess.ID, []byte(text+"\n")); err != nil {
				return err
			}
		}
		return scanner.Err()
	},
}

// worktreePathFor locates the worktree checked out on branch across all
// registered repositories.
func worktreePathFor(a *app, ctx context.Context, branch string) (repoID, path string) {
	for _, r := range a.repos.List() {
		for _, p := range a.worktrees.List(ctx, r.Path) {
			if a.worktrees.DetectBranch(ctx, p) == branch {
				return r.ID, p
			}
		}
	}
	return "", ""
}

func init() {
	sessionsRunCmd.Flags().StringSliceVar(&runRepos, "repo", nil, "Repository id (repeatable; first is primary)")
	sessionsRunCmd.Flags().StringVar(&runBase, "base", "", "Base branch for a fresh session")
	sessionsCmd.AddCommand(sessionsRunCmd)
}
