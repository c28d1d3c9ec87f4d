package vm

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/pkg/cli/runtime"
)

var stopForce bool

var startCmd = &cobra.Command{
	Use:   "start <name>",
	Short: "Start a virtual machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := runtime.Build()
		if err != nil {
			return err
		}
		defer rt.Close()
		if runtime.DryRun {
			fmt.Printf("Would start VM %s\n", args[0])
			return nil
		}
		if err := rt.Host.StartVM(cmd.Context(), args[0]); err != nil {
			return err
		}
		log.Info().Str("vm", args[0]).Msg("VM started")
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop <name>",
	Short: "Shut down a virtual machine",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := runtime.Build()
		if err != nil {
			return err
		}
		defer rt.Close()
		if runtime.DryRun {
			fmt.Printf("Would stop VM %s\n", args[0])
			return nil
		}
		if err := rt.Host.StopVM(cmd.Context(), args[0], stopForce); err != nil {
			return err
		}
		log.Info().Str("vm", args[0]).Bool("force", stopForce).Msg("VM stopped")
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a virtual machine and its disks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := runtime.Build()
		if err != nil {
			return err
		}
		defer rt.Close()
		if runtime.DryRun {
			fmt.Printf("Would delete VM %s\n", args[0])
			return nil
		}
		if err := rt.Host.RemoveVM(cmd.Context(), args[0]); err != nil {
			return err
		}
		log.Info().Str("vm", args[0]).Msg("VM removed")
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopForce, "force", false, "power off instead of a guest shutdown")
}
