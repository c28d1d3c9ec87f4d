package lab

import (
	"github.com/spf13/cobra"
)

var LabCmd = &cobra.Command{
	Use:   "lab",
	Short: "Provision and manage lab environments",
}

func init() {
	LabCmd.AddCommand(upCmd)
	LabCmd.AddCommand(planCmd)
	LabCmd.AddCommand(statusCmd)
	LabCmd.AddCommand(resumeCmd)
	LabCmd.AddCommand(destroyCmd)
}
