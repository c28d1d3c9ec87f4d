package hyperv

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/r11/hyperv-commander/pkg/hyperv/powershell"
)

// Runner executes a PowerShell script on the Hyper-V host and returns its
// combined output. Implementations exist for a local host and for a remote
// host reached over SSH.
type Runner interface {
	Run(ctx context.Context, script string) (string, error)
	Close() error
}

// LocalRunner executes scripts with the host's own PowerShell binary.
type LocalRunner struct {
	shell string
}

// NewLocalRunner locates pwsh or powershell on PATH.
func NewLocalRunner() (*LocalRunner, error) {
	for _, candidate := range []string{"pwsh", "powershell", "powershell.exe"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return &LocalRunner{shell: path}, nil
		}
	}
	return nil, fmt.Errorf("no PowerShell binary found on PATH")
}

func (r *LocalRunner) Run(ctx context.Context, script string) (string, error) {
	encoded := powershell.EncodeCommand(script)
	cmd := exec.CommandContext(ctx, r.shell,
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass",
		"-EncodedCommand", encoded)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return strings.TrimSpace(string(output)), fmt.Errorf("powershell failed: %w: %s", err, firstLine(output))
	}
	return strings.TrimSpace(string(output)), nil
}

func (r *LocalRunner) Close() error { return nil }

func firstLine(output []byte) string {
	s := strings.TrimSpace(string(output))
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return s
}
