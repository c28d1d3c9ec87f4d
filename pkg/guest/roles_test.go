package guest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallDHCPScript(t *testing.T) {
	script := InstallDHCPScript(DHCPScopeSpec{
		Name:       "lab-scope",
		StartRange: "192.168.210.100",
		EndRange:   "192.168.210.200",
		SubnetMask: "255.255.255.0",
		Router:     "192.168.210.1",
		DNSServers: []string{"192.168.210.10"},
		DNSDomain:  "lab.local",
		DCFQDN:     "dhcp01.lab.local",
	})

	assert.Contains(t, script, "Install-WindowsFeature -Name 'DHCP' -IncludeManagementTools")
	assert.Contains(t, script, "Add-DhcpServerv4Scope")
	assert.Contains(t, script, "-StartRange '192.168.210.100'")
	assert.Contains(t, script, "-EndRange '192.168.210.200'")
	assert.Contains(t, script, "Set-DhcpServerv4OptionValue -DnsDomain 'lab.local' -DnsServer @('192.168.210.10') -Router '192.168.210.1'")
	assert.Contains(t, script, "Add-DhcpServerInDC -DnsName 'dhcp01.lab.local'")
	assert.Contains(t, script, "ConfigurationState -Value 2")
}

func TestDHCPReadyScript(t *testing.T) {
	script := DHCPReadyScript("lab-scope")
	assert.Contains(t, script, "Get-Service -Name DHCPServer")
	assert.Contains(t, script, "Where-Object Name -eq 'lab-scope'")
}

func TestCreateShareScript(t *testing.T) {
	script := CreateShareScript(ShareSpec{
		Name:         "Public",
		Path:         "D:\\Shares\\Public",
		Description:  "Common drop area",
		FullAccess:   []string{"LAB\\Domain Admins"},
		ChangeAccess: []string{"LAB\\Domain Users"},
	})

	assert.Contains(t, script, "if (-not (Test-Path 'D:\\Shares\\Public'))")
	assert.Contains(t, script, "New-Item -ItemType Directory")
	assert.Contains(t, script, "if (-not (Get-SmbShare -Name 'Public' -ErrorAction SilentlyContinue))")
	assert.Contains(t, script, "New-SmbShare")
	assert.Contains(t, script, "-FullAccess @('LAB\\Domain Admins')")
	assert.Contains(t, script, "-ChangeAccess @('LAB\\Domain Users')")
}

func TestInstallWSUSScript(t *testing.T) {
	script := InstallWSUSScript(WSUSSpec{ContentDir: "D:\\WSUS"})
	assert.Contains(t, script, "Install-WindowsFeature -Name 'UpdateServices' -IncludeManagementTools")
	assert.Contains(t, script, "wsusutil.exe' postinstall CONTENT_DIR=D:\\WSUS")

	fallback := InstallWSUSScript(WSUSSpec{})
	assert.Contains(t, fallback, "CONTENT_DIR=C:\\WSUS")
}

func TestConfigureWSUSScript(t *testing.T) {
	script := ConfigureWSUSScript(WSUSSpec{
		Products:        []string{"Windows Server 2019"},
		Classifications: []string{"Critical Updates", "Security Updates"},
	})

	assert.Contains(t, script, "Set-WsusServerSynchronization -SyncFromMU")
	assert.Contains(t, script, "$_.Product.Title -eq 'Windows Server 2019'")
	assert.Contains(t, script, "$_.Classification.Title -eq 'Security Updates'")
	assert.Contains(t, script, "StartSynchronization()")
}

func TestDNSScripts(t *testing.T) {
	fwd := DNSForwardersScript([]string{"1.1.1.1", "8.8.8.8"})
	assert.Contains(t, fwd, "Set-DnsServerForwarder -IPAddress @('1.1.1.1','8.8.8.8')")

	zone := DNSReverseZoneScript("192.168.210.0/24")
	assert.Contains(t, zone, "Add-DnsServerPrimaryZone -NetworkID '192.168.210.0/24' -ReplicationScope 'Domain'")
}

func TestServiceRunningScript(t *testing.T) {
	script := ServiceRunningScript("ADWS", "NTDS")
	assert.Contains(t, script, "Get-Service -Name 'ADWS'")
	assert.Contains(t, script, "-and")
	assert.Contains(t, script, "'running'")
}
