// Package vswitch holds the `hvc switch` commands.
package vswitch

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	"github.com/r11/hyperv-commander/pkg/hyperv"
	"github.com/r11/hyperv-commander/pkg/utils"
	"github.com/r11/hyperv-commander/pkg/validation"
)

var SwitchCmd = &cobra.Command{
	Use:   "switch",
	Short: "Manage virtual switches",
}

var (
	createType    string
	createSubnet  string
	createGateway string
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a virtual switch, optionally with NAT",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List virtual switches",
	RunE:  runList,
}

var deleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a virtual switch",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

func init() {
	createCmd.Flags().StringVar(&createType, "type", "internal", "switch type: internal, private, external")
	createCmd.Flags().StringVar(&createSubnet, "nat-subnet", "", "CIDR subnet to NAT through the host")
	createCmd.Flags().StringVar(&createGateway, "gateway", "", "gateway address assigned to the host adapter")

	SwitchCmd.AddCommand(createCmd)
	SwitchCmd.AddCommand(listCmd)
	SwitchCmd.AddCommand(deleteCmd)
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := validation.ValidateSwitchName(name); err != nil {
		return err
	}
	if createSubnet != "" {
		if err := validation.ValidateCIDR(createSubnet); err != nil {
			return err
		}
		if createGateway == "" {
			return fmt.Errorf("--nat-subnet requires --gateway")
		}
	}

	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	if runtime.DryRun {
		fmt.Printf("Would create %s switch %s\n", createType, name)
		return nil
	}

	exists, err := rt.Host.SwitchExists(cmd.Context(), name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("switch %s already exists", name)
	}

	err = rt.Host.CreateSwitch(cmd.Context(), hyperv.SwitchSpec{
		Name:      name,
		Type:      createType,
		NATSubnet: createSubnet,
		GatewayIP: createGateway,
	})
	if err != nil {
		return err
	}
	log.Info().Str("switch", name).Str("type", createType).Msg("Switch created")
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	switches, err := rt.Host.ListSwitches(cmd.Context())
	if err != nil {
		return err
	}

	if runtime.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(switches)
	}

	table := utils.NewTable("NAME", "TYPE")
	for _, sw := range switches {
		table.AddRow(sw.Name, sw.Type)
	}
	table.Render()
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	if runtime.DryRun {
		fmt.Printf("Would remove switch %s\n", args[0])
		return nil
	}
	if err := rt.Host.RemoveSwitch(cmd.Context(), args[0]); err != nil {
		return err
	}
	log.Info().Str("switch", args[0]).Msg("Switch removed")
	return nil
}
