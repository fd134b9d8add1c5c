package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-cli/helmsman/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage agent sessions and their worktrees",
}

var (
	createRepos  []string
	createBranch string
	createBase   string
	noWorktree   bool
)

var sessionsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session, provisioning a worktree and branch",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		repoIDs := defaultRepoIDs(a, createRepos)

		branch := createBranch
		if branch == "" && !noWorktree {
			branch = a.sessions.GenerateBranchName()
		}

		sess, err := a.sessions.Create(ctx, session.CreateOptions{
			RepoIDs:      repoIDs,
			WorktreeMode: !noWorktree,
			Branch:       branch,
			BaseBranch:   createBase,
		})
		if err != nil {
			return err
		}

		fmt.Printf("Session %s\n", color.CyanString(sess.ID))
		fmt.Printf("  repos:  %s\n", strings.Join(sess.RepoIDs, ", "))
		if sess.WorktreeMode {
			fmt.Printf("  branch: %s\n", color.GreenString(sess.Branch))
			fmt.Printf("  path:   %s\n", sess.WorktreePath)
		}
		return nil
	},
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List session worktrees across registered repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		byBranch := a.adoptWorktrees(ctx)
		if len(byBranch) == 0 {
			fmt.Println("No session worktrees found.")
			return nil
		}

		for _, sess := range a.sessions.List() {
			status := a.gitSvc.Status(ctx, sess.WorktreePath)
			dirty := color.New(color.Faint).Sprint("clean")
			if status.HasChanges {
				dirty = color.YellowString(status.Summary)
			}
			fmt.Printf("%-30s %-15s %s\n", color.GreenString(sess.Branch), sess.PrimaryRepoID(), dirty)
		}
		return nil
	},
}

var (
	deleteKeepBranch bool
	deleteKeepTree   bool
)

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <branch>",
	Short: "Delete a session worktree and its branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		sess := findByBranch(a, ctx, args[0])
		if sess == nil {
			fmt.Fprintf(os.Stderr, "No session worktree on branch %q\n", args[0])
			os.Exit(1)
		}

		// Adopted worktrees are not owned by the session, which protects
		// them from accidental disposal. Deletion from the CLI is explicit,
		// so remove directly through the worktree service.
		primary := a.repos.Get(sess.PrimaryRepoID())
		if deleteKeepTree || primary == nil {
			_, err = a.sessions.Delete(ctx, sess.ID, false, false)
			return err
		}

		disposal, err := a.worktrees.Remove(ctx, primary.Path, sess.WorktreePath, !deleteKeepBranch)
		if err != nil {
			return err
		}
		if _, derr := a.sessions.Delete(ctx, sess.ID, false, false); derr != nil {
			return derr
		}

		fmt.Printf("Deleted worktree=%v branch=%v\n", disposal.WorktreeDeleted, disposal.BranchDeleted)
		return nil
	},
}

var sessionsMergeCmd = &cobra.Command{
	Use:   "merge <branch> <branch>...",
	Short: "Merge two or more sessions into one multi-repo session",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		var ids []string
		for _, branch := range args {
			sess := findByBranch(a, ctx, branch)
			if sess == nil {
				fmt.Fprintf(os.Stderr, "No session worktree on branch %q\n", branch)
				os.Exit(1)
			}
			ids = append(ids, sess.ID)
		}

		merged, err := a.sessions.Merge(ctx, ids)
		if err != nil {
			return err
		}

		fmt.Printf("Merged into %s\n", color.CyanString(merged.ID))
		fmt.Printf("  repos: %s\n", strings.Join(merged.RepoIDs, ", "))
		return nil
	},
}

var searchLimit int

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search message history across sessions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		a.adoptWorktrees(context.Background())

		results := a.sessions.SearchMessages(args[0], searchLimit)
		if len(results) == 0 {
			fmt.Println("No matches.")
			return nil
		}

		for _, res := range results {
			name := res.SessionName
			if name == "" {
				name = res.SessionID[:8]
			}
			fmt.Printf("%s %s %s\n",
				color.New(color.Faint).Sprint(res.Timestamp.Format("2006-01-02 15:04")),
				color.CyanString(name),
				res.Excerpt)
		}
		return nil
	},
}

var exportFormat string

var sessionsExportCmd = &cobra.Command{
	Use:   "export <branch>",
	Short: "Export a session's conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		sess := findByBranch(a, ctx, args[0])
		if sess == nil {
			fmt.Fprintf(os.Stderr, "No session worktree on branch %q\n", args[0])
			os.Exit(1)
		}

		data := a.sessions.Export(sess.ID, exportFormat)
		if data == nil {
			fmt.Fprintf(os.Stderr, "Unsupported export format %q\n", exportFormat)
			os.Exit(1)
		}

		os.Stdout.Write(data)
		return nil
	},
}

// findByBranch adopts worktrees and returns the session on the given
// branch, or nil.
func findByBranch(a *app, ctx context.Context, branch string) *session.Session {
	return a.adoptWorktrees(ctx)[branch]
}

// defaultRepoIDs resolves an explicit repo list, defaulting to the only
// registered repository when unambiguous.
func defaultRepoIDs(a *app, explicit []string) []string {
	if len(explicit) > 0 {
		return explicit
	}
	all := a.repos.List()
	if len(all) == 1 {
		return []string{all[0].ID}
	}
	return nil
}

func init() {
	sessionsCreateCmd.Flags().StringSliceVar(&createRepos, "repo", nil, "Repository id (repeatable; first is primary)")
	sessionsCreateCmd.Flags().StringVar(&createBranch, "branch", "", "Branch name (generated when omitted)")
	sessionsCreateCmd.Flags().StringVar(&createBase, "base", "", "Base branch (repository default when omitted)")
	sessionsCreateCmd.Flags().BoolVar(&noWorktree, "no-worktree", false, "Run in the primary checkout instead of a worktree")

	sessionsDeleteCmd.Flags().BoolVar(&deleteKeepBranch, "keep-branch", false, "Keep the branch ref")
	sessionsDeleteCmd.Flags().BoolVar(&deleteKeepTree, "keep-worktree", false, "Keep the worktree directory")

	sessionsSearchCmd.Flags().IntVar(&searchLimit, "limit", 20, "Maximum results")
	sessionsExportCmd.Flags().StringVar(&exportFormat, "format", "text", "Export format: text or json")

	sessionsCmd.AddCommand(sessionsCreateCmd, sessionsListCmd, sessionsDeleteCmd,
		sessionsMergeCmd, sessionsSearchCmd, sessionsExportCmd)
	rootCmd.AddCommand(sessionsCmd)
}
