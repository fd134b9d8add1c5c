// Package cmd implements the helmsman command line interface.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/helmsman-cli/helmsman/internal/logger"
)

var (
	debugMode             bool
	quietMode             bool
	version, commit, date string
)

// SetVersionInfo sets version information from ldflags
func SetVersionInfo(v, c, d string) {
	version, commit, date = v, c, d
}

var rootCmd = &cobra.Command{
	Use:   "helmsman",
	Short: "Orchestrate concurrent coding-agent sessions over git worktrees",
	Long: `Helmsman runs multiple concurrent coding-agent sessions, each isolated in
its own git worktree, and ships their work: stage, commit, push, and open a
pull request with credentials injected only for the moment they are needed.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "Reduce logging to info level only")
}

func initLogging() {
	if quietMode {
		logger.SetDebug(false)
	} else if debugMode {
		logger.SetDebug(true)
	}
}

// Execute runs the root command
func Execute() error {
	rootCmd.Version = version
	rootCmd.SetVersionTemplate(versionTemplate())
	defer logger.Close()
	return rootCmd.Execute()
}

func versionTemplate() string {
	if commit != "none" && commit != "" {
		return fmt.Sprintf("helmsman %s\n  commit: %s\n  built:  %s\n", version, commit, date)
	}
	return fmt.Sprintf("helmsman %s\n", version)
}
