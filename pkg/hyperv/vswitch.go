package hyperv

import (
	"context"
	"fmt"
	"strings"

	"github.com/r11/hyperv-commander/pkg/hyperv/powershell"
)

// SwitchSpec describes a virtual switch. Internal switches may carry a NAT
// subnet; the host-side vNIC takes the subnet's gateway address.
type SwitchSpec struct {
	Name      string
	Type      string // Internal, Private, External
	NATSubnet string // CIDR, Internal switches only
	GatewayIP string // host vNIC address inside NATSubnet
}

// SwitchInfo is a row from ListSwitches.
type SwitchInfo struct {
	Name string `json:"Name"`
	Type string `json:"SwitchType"`
}

// SwitchExists reports whether a switch with the given name is present.
func (c *Client) SwitchExists(ctx context.Context, name string) (bool, error) {
	script := powershell.New().
		Addf("if (Get-VMSwitch -Name %s -ErrorAction SilentlyContinue) { 'present' } else { 'absent' }",
			powershell.Quote(name)).
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return false, fmt.Errorf("failed to query switch %s: %w", name, err)
	}
	return strings.Contains(output, "present"), nil
}

// CreateSwitch creates the switch and, for NAT-backed internal switches,
// the host vNIC address and NetNat mapping.
func (c *Client) CreateSwitch(ctx context.Context, spec SwitchSpec) error {
	switchType := spec.Type
	if switchType == "" {
		switchType = "Internal"
	}

	b := powershell.New().Cmdlet("New-VMSwitch", map[string]interface{}{
		"Name":       spec.Name,
		"SwitchType": switchType,
	})

	if spec.NATSubnet != "" && spec.GatewayIP != "" {
		prefix, err := prefixLength(spec.NATSubnet)
		if err != nil {
			return err
		}
		b.Cmdlet("New-NetIPAddress", map[string]interface{}{
			"IPAddress":      spec.GatewayIP,
			"PrefixLength":   prefix,
			"InterfaceAlias": fmt.Sprintf("vEthernet (%s)", spec.Name),
		})
		b.Cmdlet("New-NetNat", map[string]interface{}{
			"Name":                             spec.Name + "-nat",
			"InternalIPInterfaceAddressPrefix": spec.NATSubnet,
		})
	}

	if _, err := c.run(ctx, b.Script()); err != nil {
		return fmt.Errorf("failed to create switch %s: %w", spec.Name, err)
	}
	return nil
}

// RemoveSwitch deletes the switch and any NAT mapping created for it.
func (c *Client) RemoveSwitch(ctx context.Context, name string) error {
	script := powershell.New().
		Addf("Remove-NetNat -Name %s -Confirm:$false -ErrorAction SilentlyContinue", powershell.Quote(name+"-nat")).
		Cmdlet("Remove-VMSwitch", map[string]interface{}{"Name": name}, "Force").
		Script()
	if _, err := c.run(ctx, script); err != nil {
		return fmt.Errorf("failed to remove switch %s: %w", name, err)
	}
	return nil
}

// ListSwitches returns the switches present on the host.
func (c *Client) ListSwitches(ctx context.Context) ([]SwitchInfo, error) {
	script := powershell.New().
		Add("Get-VMSwitch").
		Pipe("Select-Object Name, @{n='SwitchType';e={$_.SwitchType.ToString()}}").
		Pipe("ConvertTo-Json -Compress").
		Script()
	output, err := c.run(ctx, script)
	if err != nil {
		return nil, fmt.Errorf("failed to list switches: %w", err)
	}

	var switches []SwitchInfo
	if err := decodeJSON(output, &switches); err != nil {
		return nil, err
	}
	return switches, nil
}

func prefixLength(cidr string) (int, error) {
	idx := strings.LastIndexByte(cidr, '/')
	if idx < 0 {
		return 0, fmt.Errorf("subnet %q is not in CIDR form", cidr)
	}
	var prefix int
	if _, err := fmt.Sscanf(cidr[idx+1:], "%d", &prefix); err != nil {
		return 0, fmt.Errorf("subnet %q is not in CIDR form", cidr)
	}
	return prefix, nil
}
