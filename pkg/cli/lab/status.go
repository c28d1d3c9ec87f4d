package lab

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/internal/state"
)

var statusCmd = &cobra.Command{
	Use:   "status <manifest>",
	Short: "Show per-stage provisioning state",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	entries, err := planEntries(args[0])
	if err != nil {
		return err
	}

	var complete, failed int
	for _, e := range entries {
		switch e.Status {
		case state.StatusComplete, state.StatusSkipped:
			complete++
		case state.StatusFailed:
			failed++
		}
	}

	if err := renderEntries(entries); err != nil {
		return err
	}
	fmt.Printf("\n%d/%d stages complete, %d failed\n", complete, len(entries), failed)
	return nil
}
