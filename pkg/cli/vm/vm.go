package vm

import (
	"github.com/spf13/cobra"
)

var VMCmd = &cobra.Command{
	Use:   "vm",
	Short: "Manage virtual machines directly",
}

func init() {
	VMCmd.AddCommand(createCmd)
	VMCmd.AddCommand(startCmd)
	VMCmd.AddCommand(stopCmd)
	VMCmd.AddCommand(listCmd)
	VMCmd.AddCommand(infoCmd)
	VMCmd.AddCommand(deleteCmd)
}
