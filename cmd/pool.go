package cmd

import (
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/helmsman-cli/helmsman/internal/config"
)

var poolCmd = &cobra.Command{
	Use:   "pool",
	Short: "Manage the pre-spawned agent process pool",
}

var poolStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pool settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := buildApp()
		if err != nil {
			return err
		}

		st := a.procs.Status()
		state := color.GreenString("enabled")
		if !st.Enabled {
			state = color.RedString("disabled")
		}
		fmt.Printf("Pool %s, size %d, %d idle\n", state, st.Size, st.IdleCount)
		return nil
	},
}

var poolEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable process pre-spawning",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return setPoolEnabled(true) },
}

var poolDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable process pre-spawning",
	Args:  cobra.NoArgs,
	RunE:  func(cmd *cobra.Command, args []string) error { return setPoolEnabled(false) },
}

var poolSizeCmd = &cobra.Command{
	Use:   "size <n>",
	Short: "Set the idle process target",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			return fmt.Errorf("size must be a non-negative integer")
		}

		a, err := buildApp()
		if err != nil {
			return err
		}

		ps := a.cfg.GetPoolSettings()
		ps.Size = n
		return savePoolSettings(a, ps)
	},
}

func setPoolEnabled(enabled bool) error {
	a, err := buildApp()
	if err != nil {
		return err
	}

	ps := a.cfg.GetPoolSettings()
	ps.Enabled = enabled
	return savePoolSettings(a, ps)
}

func savePoolSettings(a *app, ps config.PoolSettings) error {
	a.cfg.SetPoolSettings(ps)
	if err := a.cfg.Save(); err != nil {
		return err
	}

	state := "enabled"
	if !ps.Enabled {
		state = "disabled"
	}
	fmt.Printf("Pool %s, size %d\n", state, ps.Size)
	return nil
}

func init() {
	poolCmd.AddCommand(poolStatusCmd, poolEnableCmd, poolDisableCmd, poolSizeCmd)
	rootCmd.AddCommand(poolCmd)
}
