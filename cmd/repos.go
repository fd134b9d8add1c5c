package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Manage registered repositories",
}

var reposAddCmd = &cobra.Command{
	Use:   "add <path>",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		r, err := a.repos.Add(path)
		if err != nil {
			return err
		}

		a.cfg.AddRepo(path)
		if err := a.cfg.Save(); err != nil {
			return err
		}

		fmt.Printf("Registered %s (%s)\n", color.CyanString(r.ID), r.Path)
		return nil
	},
}

var reposListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered repositories",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		repos := a.repos.List()
		if len(repos) == 0 {
			fmt.Println("No repositories registered. Use 'helmsman repos add <path>'.")
			return nil
		}

		for _, r := range repos {
			remote := a.repos.RemoteURL(r.ID)
			if remote == "" {
				remote = color.New(color.Faint).Sprint("(no origin)")
			}
			fmt.Printf("%-20s %s  %s\n", color.CyanString(r.ID), r.Path, remote)
		}
		return nil
	},
}

var reposRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Unregister a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		r := a.repos.Get(args[0])
		if r == nil {
			fmt.Fprintf(os.Stderr, "No repository registered as %q\n", args[0])
			os.Exit(1)
		}

		a.repos.Remove(r.ID)
		a.cfg.RemoveRepo(r.Path)
		if err := a.cfg.Save(); err != nil {
			return err
		}

		fmt.Printf("Unregistered %s\n", color.CyanString(r.ID))
		return nil
	},
}

func init() {
	reposCmd.AddCommand(reposAddCmd, reposListCmd, reposRemoveCmd)
	rootCmd.AddCommand(reposCmd)
}
