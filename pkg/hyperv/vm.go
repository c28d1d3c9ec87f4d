package hyperv

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/r11/hyperv-commander/pkg/hyperv/powershell"
)

// VMSpec describes a generation 2 VM with a fresh VHDX and two DVD drives:
// the installation medium and the answer-file medium.
type VMSpec struct {
	Name       string
	CPU        int
	MemoryMB   int64
	DiskGB     int
	SwitchName string
	VMPath     string // host directory for VM files and the VHDX
	InstallISO string
	AnswerISO  string
}

// VMInfo is a row from ListVMs.
type VMInfo struct {
	Name     string `json:"Name"`
	State    string `json:"State"`
	CPUUsage int    `json:"CPUUsage"`
	MemoryMB int64  `json:"MemoryMB"`
}

// VMExists reports whether the named VM is registered on the host.
func (c *Client) VMExists(ctx context.Context, name string) (bool, error) {
	script := powershell.New().
		Addf("if (Get-VM -Name %s -ErrorAction SilentlyContinue) { 'present' } else { 'absent' }",
			powershell.Quote(name)).
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return false, fmt.Errorf("failed to query VM %s: %w", name, err)
	}
	return strings.Contains(output, "present"), nil
}

// CreateVM builds the VHDX, registers the VM, attaches both ISOs, and sets
// the install DVD as first boot device. The VM is left powered off.
func (c *Client) CreateVM(ctx context.Context, spec VMSpec) error {
	vhdPath := path.Join(spec.VMPath, spec.Name, spec.Name+".vhdx")

	b := powershell.New().
		Cmdlet("New-VHD", map[string]interface{}{
			"Path":      vhdPath,
			"SizeBytes": int64(spec.DiskGB) * 1024 * 1024 * 1024,
		}, "Dynamic").
		Cmdlet("New-VM", map[string]interface{}{
			"Name":               spec.Name,
			"Generation":         2,
			"MemoryStartupBytes": spec.MemoryMB * 1024 * 1024,
			"VHDPath":            vhdPath,
			"Path":               spec.VMPath,
			"SwitchName":         spec.SwitchName,
		}).
		Cmdlet("Set-VMProcessor", map[string]interface{}{
			"VMName": spec.Name,
			"Count":  spec.CPU,
		}).
		Cmdlet("Set-VMMemory", map[string]interface{}{
			"VMName":               spec.Name,
			"DynamicMemoryEnabled": false,
		})

	if spec.InstallISO != "" {
		b.Cmdlet("Add-VMDvdDrive", map[string]interface{}{
			"VMName": spec.Name,
			"Path":   spec.InstallISO,
		})
	}
	if spec.AnswerISO != "" {
		b.Cmdlet("Add-VMDvdDrive", map[string]interface{}{
			"VMName": spec.Name,
			"Path":   spec.AnswerISO,
		})
	}
	if spec.InstallISO != "" {
		// Boot from the install DVD; secure boot stays on for Windows.
		b.Addf("Set-VMFirmware -VMName %s -FirstBootDevice (Get-VMDvdDrive -VMName %s | Select-Object -First 1)",
			powershell.Quote(spec.Name), powershell.Quote(spec.Name))
	}

	if _, err := c.run(ctx, b.Script()); err != nil {
		return fmt.Errorf("failed to create VM %s: %w", spec.Name, err)
	}
	return nil
}

// StartVM powers on the VM.
func (c *Client) StartVM(ctx context.Context, name string) error {
	script := powershell.New().
		Cmdlet("Start-VM", map[string]interface{}{"Name": name}).
		Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to start VM %s: %w", name, err)
	}
	return nil
}

// StopVM shuts the VM down; force falls back to turning it off.
func (c *Client) StopVM(ctx context.Context, name string, force bool) error {
	params := map[string]interface{}{"Name": name}
	switches := []string{"Force"}
	if force {
		switches = append(switches, "TurnOff")
	}
	script := powershell.New().Cmdlet("Stop-VM", params, switches...).Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to stop VM %s: %w", name, err)
	}
	return nil
}

// RemoveVM unregisters the VM and deletes its VHDX files.
func (c *Client) RemoveVM(ctx context.Context, name string) error {
	script := powershell.New().
		Addf("Stop-VM -Name %s -TurnOff -Force -ErrorAction SilentlyContinue", powershell.Quote(name)).
		Addf("$disks = Get-VMHardDiskDrive -VMName %s | Select-Object -ExpandProperty Path", powershell.Quote(name)).
		Cmdlet("Remove-VM", map[string]interface{}{"Name": name}, "Force").
		Add("foreach ($d in $disks) { Remove-Item -Path $d -Force -ErrorAction SilentlyContinue }").
		Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to remove VM %s: %w", name, err)
	}
	return nil
}

// VMState returns the VM's power state as a string (Running, Off, ...).
func (c *Client) VMState(ctx context.Context, name string) (string, error) {
	script := powershell.New().
		Cmdlet("Get-VM", map[string]interface{}{"Name": name}).
		Pipe("Select-Object -ExpandProperty State").
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return "", fmt.Errorf("failed to get state of VM %s: %w", name, err)
	}
	return strings.TrimSpace(output), nil
}

// VMIPAddresses returns the IPv4 addresses reported by integration services.
func (c *Client) VMIPAddresses(ctx context.Context, name string) ([]string, error) {
	script := powershell.New().
		Cmdlet("Get-VMNetworkAdapter", map[string]interface{}{"VMName": name}).
		Pipe("Select-Object -ExpandProperty IPAddresses").
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to get addresses of VM %s: %w", name, err)
	}

	var addrs []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.Contains(line, ":") { // IPv4 only
			addrs = append(addrs, line)
		}
	}
	return addrs, nil
}

// HeartbeatOK reports whether guest integration services answer.
func (c *Client) HeartbeatOK(ctx context.Context, name string) (bool, error) {
	script := powershell.New().
		Cmdlet("Get-VM", map[string]interface{}{"Name": name}).
		Pipe("Select-Object -ExpandProperty Heartbeat").
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return false, fmt.Errorf("failed to get heartbeat of VM %s: %w", name, err)
	}
	return strings.HasPrefix(strings.TrimSpace(output), "Ok"), nil
}

// EjectMedia removes all DVD drives so the guest stops booting installers.
func (c *Client) EjectMedia(ctx context.Context, name string) error {
	script := powershell.New().
		Addf("Get-VMDvdDrive -VMName %s | Remove-VMDvdDrive", powershell.Quote(name)).
		Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to eject media from VM %s: %w", name, err)
	}
	return nil
}

// RemoveExport deletes a previous export of the VM; Export-VM refuses
// to write into a populated directory.
func (c *Client) RemoveExport(ctx context.Context, name, exportPath string) error {
	target := path.Join(exportPath, name)
	script := powershell.New().
		Addf("if (Test-Path %s) { Remove-Item -Path %s -Recurse -Force }",
			powershell.Quote(target), powershell.Quote(target)).
		Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to remove export of VM %s: %w", name, err)
	}
	return nil
}

// ExportVM exports the stopped VM into exportPath/<name>.
func (c *Client) ExportVM(ctx context.Context, name, exportPath string) error {
	script := powershell.New().
		Cmdlet("Export-VM", map[string]interface{}{
			"Name": name,
			"Path": exportPath,
		}).
		Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to export VM %s: %w", name, err)
	}
	return nil
}

// ImportVMCopy imports an exported VM as a copy with a new identity and
// renames it. Used by the domain controller clone flow.
func (c *Client) ImportVMCopy(ctx context.Context, exportedName, exportPath, newName, vmPath string) error {
	configGlob := path.Join(exportPath, exportedName, "Virtual Machines", "*.vmcx")
	importArgs := powershell.New().Cmdlet("Import-VM", map[string]interface{}{
		"Path":               powershell.RawValue("$config"),
		"VirtualMachinePath": vmPath,
		"VhdDestinationPath": path.Join(vmPath, newName),
	}, "Copy", "GenerateNewId").Raw()

	b := powershell.New().
		Addf("$config = Get-ChildItem -Path %s | Select-Object -First 1 -ExpandProperty FullName",
			powershell.Quote(configGlob)).
		Addf("$imported = %s", importArgs).
		Addf("Rename-VM -VM $imported -NewName %s", powershell.Quote(newName))

	if _, err := c.run(ctx, b.Script()); err != nil {
		return fmt.Errorf("failed to import VM %s as %s: %w", exportedName, newName, err)
	}
	return nil
}

// ListVMs returns the VMs registered on the host.
func (c *Client) ListVMs(ctx context.Context) ([]VMInfo, error) {
	script := powershell.New().
		Add("Get-VM").
		Pipe("Select-Object Name, @{n='State';e={$_.State.ToString()}}, CPUUsage, @{n='MemoryMB';e={[int64]($_.MemoryAssigned/1MB)}}").
		Pipe("ConvertTo-Json -Compress").
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to list VMs: %w", err)
	}

	var vms []VMInfo
	if err := decodeJSON(output, &vms); err != nil {
		return nil, err
	}
	return vms, nil
}
