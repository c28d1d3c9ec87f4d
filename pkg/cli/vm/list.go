package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	"github.com/r11/hyperv-commander/pkg/utils"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List virtual machines on the host",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	vms, err := rt.Host.ListVMs(cmd.Context())
	if err != nil {
		return err
	}

	if runtime.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(vms)
	}

	table := utils.NewTable("NAME", "STATE", "CPU%", "MEMORY_MB")
	for _, vm := range vms {
		table.AddRow(vm.Name, vm.State, fmt.Sprintf("%d", vm.CPUUsage), fmt.Sprintf("%d", vm.MemoryMB))
	}
	table.Render()
	return nil
}

var infoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show state, addresses, and heartbeat of one VM",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	name := args[0]
	vmState, err := rt.Host.VMState(cmd.Context(), name)
	if err != nil {
		return err
	}
	addrs, err := rt.Host.VMIPAddresses(cmd.Context(), name)
	if err != nil {
		return err
	}
	heartbeat, err := rt.Host.HeartbeatOK(cmd.Context(), name)
	if err != nil {
		return err
	}

	if runtime.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"name":      name,
			"state":     vmState,
			"addresses": addrs,
			"heartbeat": heartbeat,
		})
	}

	fmt.Printf("Name:      %s\n", name)
	fmt.Printf("State:     %s\n", vmState)
	fmt.Printf("Addresses: %s\n", strings.Join(addrs, ", "))
	fmt.Printf("Heartbeat: %v\n", heartbeat)
	return nil
}
