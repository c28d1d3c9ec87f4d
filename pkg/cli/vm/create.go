package vm

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/r11/hyperv-commander/internal/defaults"
	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	"github.com/r11/hyperv-commander/pkg/hyperv"
	"github.com/r11/hyperv-commander/pkg/validation"
)

var (
	createCPU        int
	createMemoryMB   int64
	createDiskGB     int
	createSwitch     string
	createVMPath     string
	createInstallISO string
	createAnswerISO  string
	createStart      bool
)

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a generation 2 virtual machine",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreate,
}

func init() {
	createCmd.Flags().IntVar(&createCPU, "cpu", defaults.DefaultCPU, "virtual processor count")
	createCmd.Flags().Int64Var(&createMemoryMB, "memory", defaults.DefaultRAMMB, "memory in MB")
	createCmd.Flags().IntVar(&createDiskGB, "disk", defaults.DefaultDiskGB, "disk size in GB")
	createCmd.Flags().StringVar(&createSwitch, "switch", defaults.DefaultSwitch, "virtual switch to attach")
	createCmd.Flags().StringVar(&createVMPath, "path", "", "VM directory on the host (default from config)")
	createCmd.Flags().StringVar(&createInstallISO, "install-iso", "", "install media path on the host")
	createCmd.Flags().StringVar(&createAnswerISO, "answer-iso", "", "answer media path on the host")
	createCmd.Flags().BoolVar(&createStart, "start", false, "start the VM after creation")
}

func runCreate(cmd *cobra.Command, args []string) error {
	name := args[0]
	if err := validation.ValidateVMName(name); err != nil {
		return err
	}
	if err := validation.ValidateResourceLimits(createCPU, createMemoryMB); err != nil {
		return err
	}

	rt, err := runtime.Build()
	if err != nil {
		return err
	}
	defer rt.Close()

	vmPath := createVMPath
	if vmPath == "" {
		vmPath = rt.Config.Paths.VMDir
	}

	if runtime.DryRun {
		fmt.Printf("Would create VM %s (%d vCPU, %d MB, %d GB) on switch %s\n",
			name, createCPU, createMemoryMB, createDiskGB, createSwitch)
		return nil
	}

	exists, err := rt.Host.VMExists(cmd.Context(), name)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("VM %s already exists", name)
	}

	err = rt.Host.CreateVM(cmd.Context(), hyperv.VMSpec{
		Name:       name,
		CPU:        createCPU,
		MemoryMB:   createMemoryMB,
		DiskGB:     createDiskGB,
		SwitchName: createSwitch,
		VMPath:     vmPath,
		InstallISO: createInstallISO,
		AnswerISO:  createAnswerISO,
	})
	if err != nil {
		return err
	}
	log.Info().Str("vm", name).Msg("VM created")

	if createStart {
		if err := rt.Host.StartVM(cmd.Context(), name); err != nil {
			return err
		}
		log.Info().Str("vm", name).Msg("VM started")
	}
	return nil
}
