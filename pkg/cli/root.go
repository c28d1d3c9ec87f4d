package cli

import (
	"github.com/spf13/cobra"

	isocmd "github.com/r11/hyperv-commander/pkg/cli/iso"
	"github.com/r11/hyperv-commander/pkg/cli/lab"
	"github.com/r11/hyperv-commander/pkg/cli/runtime"
	"github.com/r11/hyperv-commander/pkg/cli/vm"
	"github.com/r11/hyperv-commander/pkg/cli/vswitch"
	"github.com/r11/hyperv-commander/pkg/logger"
)

var verbose bool

var rootCmd = &cobra.Command{
	Use:   "hvc",
	Short: "Hyper-V Commander - Windows AD lab orchestrator",
	Long: `Hyper-V Commander (hvc) provisions small Windows Active Directory
labs on a Hyper-V host from declarative manifests: virtual switches,
unattended guest installs, forest promotion, server roles, domain
joins, and domain controller cloning.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&runtime.ConfigPath, "config", "", "config file (default is $HOME/.hvc/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&runtime.JSONOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&runtime.DryRun, "dry-run", false, "show what would be done without making changes")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(lab.LabCmd)
	rootCmd.AddCommand(vm.VMCmd)
	rootCmd.AddCommand(vswitch.SwitchCmd)
	rootCmd.AddCommand(isocmd.ISOCmd)
}

// Config parsing itself lives in pkg/config; commands load it through
// runtime.Build with the --config path.
func initConfig() {
	logger.Init()
	if verbose {
		logger.SetVerbose()
	}
}
