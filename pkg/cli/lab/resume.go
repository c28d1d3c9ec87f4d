package lab

import (
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume <manifest>",
	Short: "Continue an interrupted provisioning run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return executeLab(cmd.Context(), args[0], true)
	},
}
