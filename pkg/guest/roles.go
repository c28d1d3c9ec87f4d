package guest

import (
	"fmt"
	"strings"

	"github.com/r11/hyperv-commander/pkg/hyperv/powershell"
)

// Scripts for the non-directory server roles.

// DNSForwardersScript replaces the DNS server forwarder list.
func DNSForwardersScript(forwarders []string) string {
	return powershell.New().
		Cmdlet("Set-DnsServerForwarder", map[string]interface{}{
			"IPAddress": forwarders,
		}).
		Script()
}

// DNSReverseZoneScript adds a reverse lookup zone for the lab subnet.
func DNSReverseZoneScript(networkID string) string {
	return powershell.New().
		Addf("if (-not (Get-DnsServerZone | Where-Object { $_.IsReverseLookupZone -and $_.ZoneName -like '*in-addr.arpa' })) { %s }",
			powershell.New().Cmdlet("Add-DnsServerPrimaryZone", map[string]interface{}{
				"NetworkID":        networkID,
				"ReplicationScope": "Domain",
			}).Raw()).
		Script()
}

// DHCPScopeSpec drives the DHCP role stage.
type DHCPScopeSpec struct {
	Name       string
	StartRange string
	EndRange   string
	SubnetMask string
	Router     string
	DNSServers []string
	DNSDomain  string
	DCFQDN     string // for authorization in the directory
}

// InstallDHCPScript installs the DHCP role, creates the scope with its
// options, and authorizes the server in the directory.
func InstallDHCPScript(spec DHCPScopeSpec) string {
	b := powershell.New().
		Cmdlet("Install-WindowsFeature", map[string]interface{}{
			"Name": "DHCP",
		}, "IncludeManagementTools").
		Addf("if (-not (Get-DhcpServerv4Scope -ErrorAction SilentlyContinue | Where-Object Name -eq %s)) { %s }",
			powershell.Quote(spec.Name),
			powershell.New().Cmdlet("Add-DhcpServerv4Scope", map[string]interface{}{
				"Name":       spec.Name,
				"StartRange": spec.StartRange,
				"EndRange":   spec.EndRange,
				"SubnetMask": spec.SubnetMask,
				"State":      "Active",
			}).Raw())

	optParams := map[string]interface{}{
		"Router":    spec.Router,
		"DnsServer": spec.DNSServers,
	}
	if spec.DNSDomain != "" {
		optParams["DnsDomain"] = spec.DNSDomain
	}
	b.Cmdlet("Set-DhcpServerv4OptionValue", optParams)

	b.Cmdlet("Add-DhcpServerInDC", map[string]interface{}{
		"DnsName": spec.DCFQDN,
	})
	// Clear the post-install configuration banner in Server Manager.
	b.Add(`Set-ItemProperty -Path 'HKLM:\SOFTWARE\Microsoft\ServerManager\Roles\12' -Name ConfigurationState -Value 2`)
	return b.Script()
}

// DHCPReadyScript probes that the DHCP service runs and the scope exists.
func DHCPReadyScript(scopeName string) string {
	return powershell.New().
		Add("$svc = Get-Service -Name DHCPServer -ErrorAction SilentlyContinue").
		Addf("$scope = Get-DhcpServerv4Scope -ErrorAction SilentlyContinue | Where-Object Name -eq %s", powershell.Quote(scopeName)).
		Add("if ($svc.Status -eq 'Running' -and $scope) { 'ready' } else { 'not-ready' }").
		Script()
}

// ShareSpec describes one SMB share with simple access lists.
type ShareSpec struct {
	Name         string
	Path         string
	Description  string
	FullAccess   []string
	ChangeAccess []string
	ReadAccess   []string
}

// CreateShareScript creates the backing directory and the SMB share with
// its access lists, idempotently.
func CreateShareScript(spec ShareSpec) string {
	params := map[string]interface{}{
		"Name": spec.Name,
		"Path": spec.Path,
	}
	if spec.Description != "" {
		params["Description"] = spec.Description
	}
	if len(spec.FullAccess) > 0 {
		params["FullAccess"] = spec.FullAccess
	}
	if len(spec.ChangeAccess) > 0 {
		params["ChangeAccess"] = spec.ChangeAccess
	}
	if len(spec.ReadAccess) > 0 {
		params["ReadAccess"] = spec.ReadAccess
	}

	return powershell.New().
		Addf("if (-not (Test-Path %s)) { New-Item -ItemType Directory -Path %s | Out-Null }",
			powershell.Quote(spec.Path), powershell.Quote(spec.Path)).
		Addf("if (-not (Get-SmbShare -Name %s -ErrorAction SilentlyContinue)) { %s }",
			powershell.Quote(spec.Name),
			powershell.New().Cmdlet("New-SmbShare", params).Raw()).
		Script()
}

// WSUSSpec drives the WSUS role stage.
type WSUSSpec struct {
	ContentDir      string
	Products        []string
	Classifications []string
}

// InstallWSUSScript installs the WSUS role and runs post-install against
// the content directory.
func InstallWSUSScript(spec WSUSSpec) string {
	contentDir := spec.ContentDir
	if contentDir == "" {
		contentDir = `C:\WSUS`
	}
	return powershell.New().
		Cmdlet("Install-WindowsFeature", map[string]interface{}{
			"Name": "UpdateServices",
		}, "IncludeManagementTools").
		Addf("if (-not (Test-Path %s)) { New-Item -ItemType Directory -Path %s | Out-Null }",
			powershell.Quote(contentDir), powershell.Quote(contentDir)).
		Addf("& 'C:\\Program Files\\Update Services\\Tools\\wsusutil.exe' postinstall CONTENT_DIR=%s", contentDir).
		Script()
}

// ConfigureWSUSScript selects products and classifications and starts the
// first synchronization from Microsoft Update.
func ConfigureWSUSScript(spec WSUSSpec) string {
	b := powershell.New().
		Add("$wsus = Get-WsusServer").
		Cmdlet("Set-WsusServerSynchronization", nil, "SyncFromMU").
		Add("Get-WsusProduct | Where-Object { $_.Product.Title -ne $null } | Set-WsusProduct -Disable")

	for _, product := range spec.Products {
		b.Addf("Get-WsusProduct | Where-Object { $_.Product.Title -eq %s } | Set-WsusProduct", powershell.Quote(product))
	}
	for _, class := range spec.Classifications {
		b.Addf("Get-WsusClassification | Where-Object { $_.Classification.Title -eq %s } | Set-WsusClassification", powershell.Quote(class))
	}

	b.Add("$subscription = $wsus.GetSubscription()").
		Add("$subscription.StartSynchronization()")
	return b.Script()
}

// WSUSReadyScript probes that the WSUS service answers.
func WSUSReadyScript() string {
	return powershell.New().
		Add("$svc = Get-Service -Name WsusService -ErrorAction SilentlyContinue").
		Add("if ($svc.Status -eq 'Running' -and (Get-WsusServer -ErrorAction SilentlyContinue)) { 'ready' } else { 'not-ready' }").
		Script()
}

// ServiceRunningScript probes an arbitrary service by name.
func ServiceRunningScript(names ...string) string {
	checks := make([]string, len(names))
	for i, name := range names {
		checks[i] = fmt.Sprintf("((Get-Service -Name %s -ErrorAction SilentlyContinue).Status -eq 'Running')", powershell.Quote(name))
	}
	return powershell.New().
		Addf("if (%s) { 'running' } else { 'stopped' }", strings.Join(checks, " -and ")).
		Script()
}
