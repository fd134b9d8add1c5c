package cmd

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var pruneDryRun bool

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove worktree directories no longer attached to any repository",
	Long: `Scans each registered repository's worktree directory for entries git no
longer knows about (left behind by crashes or manual deletion) and removes
them along with their branches.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}
		ctx := context.Background()

		total := 0
		for _, r := range a.repos.List() {
			attached := make(map[string]bool)
			for _, path := range a.worktrees.List(ctx, r.Path) {
				attached[path] = true
			}

			orphans := a.worktrees.FindOrphans(ctx, r.Path, attached)
			if len(orphans) == 0 {
				continue
			}

			for _, o := range orphans {
				fmt.Printf("%s %s (branch %s)\n", color.YellowString("orphan"), o.Path, o.Branch)
			}
			if pruneDryRun {
				total += len(orphans)
				continue
			}
			total += a.worktrees.PruneOrphans(ctx, orphans)
		}

		if pruneDryRun {
			fmt.Printf("%d orphaned worktree(s) found (dry run)\n", total)
		} else {
			fmt.Printf("%d orphaned worktree(s) removed\n", total)
		}
		return nil
	},
}

func init() {
	pruneCmd.Flags().BoolVar(&pruneDryRun, "dry-run", false, "Report orphans without removing them")
	rootCmd.AddCommand(pruneCmd)
}
