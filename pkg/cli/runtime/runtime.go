// Package runtime wires configuration into the clients the CLI commands
// share: the host PowerShell runner, the guest executor, and the state
// store.
package runtime

import (
	"fmt"

	"github.com/r11/hyperv-commander/internal/state"
	"github.com/r11/hyperv-commander/pkg/audit"
	"github.com/r11/hyperv-commander/pkg/config"
	"github.com/r11/hyperv-commander/pkg/guest"
	"github.com/r11/hyperv-commander/pkg/hyperv"
	"github.com/r11/hyperv-commander/pkg/hyperv/ssh"
	"github.com/r11/hyperv-commander/pkg/lab"
)

// Global flag state, bound by the root command and read by every noun
// package.
var (
	ConfigPath string
	JSONOutput bool
	DryRun     bool
)

// Build loads the configured (or default) config file and wires the
// runtime from it.
func Build() (*Runtime, error) {
	cfg, err := config.Load(ConfigPath)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// Runtime is everything a CLI command needs to act.
type Runtime struct {
	Config *config.Config
	Host   *hyperv.Client
	Guest  *guest.Executor
}

// New builds the runtime from a loaded config.
func New(cfg *config.Config) (*Runtime, error) {
	runner, err := hostRunner(cfg)
	if err != nil {
		return nil, err
	}

	if err := audit.Initialize(cfg.Paths.AuditLog); err != nil {
		return nil, fmt.Errorf("failed to initialize audit log: %w", err)
	}

	return &Runtime{
		Config: cfg,
		Host:   hyperv.NewClient(runner),
		Guest:  guest.NewExecutor(),
	}, nil
}

func hostRunner(cfg *config.Config) (hyperv.Runner, error) {
	switch cfg.Host.Transport {
	case "", "local":
		return hyperv.NewLocalRunner()
	case "ssh":
		addr := fmt.Sprintf("%s:%d", cfg.Host.Host, cfg.Host.Port)
		if cfg.Host.SSHKey != "" {
			return ssh.NewClient(addr, cfg.Host.User, cfg.Host.SSHKey)
		}
		return ssh.NewClientWithPassword(addr, cfg.Host.User, cfg.Host.Password)
	default:
		return nil, fmt.Errorf("unknown host transport %q", cfg.Host.Transport)
	}
}

// OpenState opens the run-state database from the configured path.
func (r *Runtime) OpenState() (*state.Store, error) {
	return state.Open(r.Config.Paths.StateDB)
}

// LabEnvironment builds the planner environment from the configured
// paths.
func (r *Runtime) LabEnvironment() lab.Environment {
	return lab.Environment{
		Host:      r.Host,
		Guest:     r.Guest,
		MediaDir:  r.Config.Paths.MediaDir,
		VMDir:     r.Config.Paths.VMDir,
		ExportDir: r.Config.Paths.ExportDir,
	}
}

// Close releases the host connection.
func (r *Runtime) Close() error {
	return r.Host.Close()
}
