package lab

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	labpkg "github.com/r11/hyperv-commander/pkg/lab"
)

var destroyForce bool

var destroyCmd = &cobra.Command{
	Use:   "destroy <manifest>",
	Short: "Tear down a lab's VMs and switches",
	Args:  cobra.ExactArgs(1),
	RunE:  runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyForce, "force", false, "skip the confirmation prompt")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	manifest, err := labpkg.Load(args[0])
	if err != nil {
		return err
	}

	if runtime.DryRun {
		for _, mc := range manifest.Machines {
			fmt.Printf("Would remove VM %s\n", mc.Name)
		}
		for _, n := range manifest.Networks {
			fmt.Printf("Would remove switch %s\n", n.Name)
		}
		return nil
	}

	if !destroyForce {
		fmt.Printf("Destroy lab %s (%d VMs, %d switches)? [y/N]: ", manifest.Name, len(manifest.Machines), len(manifest.Networks))
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return nil
		}
	}

	if err := labpkg.Destroy(cmd.Context(), manifest, rt.LabEnvironment()); err != nil {
		return err
	}

	store, err := rt.OpenState()
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.DeleteLab(manifest.Name); err != nil {
		return err
	}

	log.Info().Str("lab", manifest.Name).Msg("Lab destroyed")
	return nil
}
