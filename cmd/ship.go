package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-cli/helmsman/internal/notification"
	"github.com/helmsman-cli/helmsman/internal/ship"
)

var (
	shipMessage string
	shipTitle   string
	shipBody    string
	shipNoPush  bool
	shipNoPR    bool
)

var shipCmd = &cobra.Command{
	Use:   "ship <branch>",
	Short: "Stage, commit, push, and open a pull request for a session branch",
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

		result, err := a.shipper.Ship(ctx, ship.Options{
			Dir:           sess.WorktreePath,
			Branch:        sess.Branch,
			BaseBranch:    a.worktrees.MainBranch(ctx, mustRepoPath(a, sess.PrimaryRepoID())),
			CommitMessage: shipMessage,
			Title:         shipTitle,
			Body:          shipBody,
			SkipPush:      shipNoPush,
			SkipPR:        shipNoPR,
		})

		printShipResult(result)

		if err != nil {
			notification.ShipFailed(sess.Branch)
			return err
		}
		notification.ShipCompleted(sess.Branch, result.PRURL)
		return nil
	},
}

func printShipResult(result *ship.Result) {
	check := color.GreenString("✓")
	cross := color.RedString("✗")

	mark := func(ok bool) string {
		if ok {
			return check
		}
		return cross
	}

	fmt.Printf("%s committed", mark(result.Committed))
	if result.CommitHash != "" {
		fmt.Printf(" %s", color.New(color.Faint).Sprint(result.CommitHash[:min(8, len(result.CommitHash))]))
	}
	fmt.Println()
	fmt.Printf("%s pushed\n", mark(result.Pushed))

	switch {
	case result.PRURL != "":
		via := ""
		if result.UsedPAT {
			via = " (via personal access token)"
		} else if result.UsedCLI {
			via = " (via platform CLI)"
		}
		fmt.Printf("%s pull request%s: %s\n", check, via, color.CyanString(result.PRURL))
	case result.PRErr != nil:
		fmt.Printf("%s pull request: %v\n", cross, result.PRErr)
	}
}

func mustRepoPath(a *app, repoID string) string {
	if r := a.repos.Get(repoID); r != nil {
		return r.Path
	}
	return ""
}

func init() {
	shipCmd.Flags().StringVarP(&shipMessage, "message", "m", "", "Commit message (required when changes exist)")
	shipCmd.Flags().StringVar(&shipTitle, "title", "", "Pull request title")
	shipCmd.Flags().StringVar(&shipBody, "body", "", "Pull request body")
	shipCmd.Flags().BoolVar(&shipNoPush, "no-push", false, "Commit only, skip push and PR")
	shipCmd.Flags().BoolVar(&shipNoPR, "no-pr", false, "Push only, skip PR creation")
	rootCmd.AddCommand(shipCmd)
}
