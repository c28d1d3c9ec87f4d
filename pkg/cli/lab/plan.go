package lab

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	labpkg "github.com/r11/hyperv-commander/pkg/lab"
	"github.com/r11/hyperv-commander/pkg/orchestrator"
	"github.com/r11/hyperv-commander/pkg/utils"
)

var planCmd = &cobra.Command{
	Use:   "plan <manifest>",
	Short: "Show the resolved stage plan without executing",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	entries, err := planEntries(args[0])
	if err != nil {
		return err
	}
	return renderEntries(entries)
}

func planEntries(manifestPath string) ([]orchestrator.PlanEntry, error) {
	rt, err := runtime.Build()
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	manifest, err := labpkg.Load(manifestPath)
	if err != nil {
		return nil, err
	}
	store, err := rt.OpenState()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	planner, err := labpkg.NewPlanner(manifest, rt.LabEnvironment())
	if err != nil {
		return nil, err
	}
	stages, err := planner.Stages()
	if err != nil {
		return nil, err
	}
	return orchestrator.NewEngine(store, manifest.Name).Plan(stages)
}

func renderEntries(entries []orchestrator.PlanEntry) error {
	if runtime.JSONOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	table := utils.NewTable("#", "STAGE", "NODE", "STATUS", "DESCRIPTION")
	for _, e := range entries {
		table.AddRow(fmt.Sprintf("%d", e.Order), e.StageID, e.Node, string(e.Status), e.Name)
	}
	table.Render()
	return nil
}
