package guest

import (
	"fmt"

	"github.com/r11/hyperv-commander/pkg/hyperv/powershell"
)

// Scripts for directory configuration. Each function renders a complete
// PowerShell script; execution and polling belong to the orchestrator.

// PingScript is the cheapest possible readiness probe.
func PingScript() string {
	return powershell.New().Add("Write-Output 'pong'").Script()
}

// InstallForestScript installs AD DS and promotes the guest to the first
// domain controller of a new forest. The guest reboots on completion.
func InstallForestScript(domainFQDN, netbiosName, safeModePassword string) string {
	return powershell.New().
		Cmdlet("Install-WindowsFeature", map[string]interface{}{
			"Name": "AD-Domain-Services",
		}, "IncludeManagementTools").
		ImportModule("ADDSDeployment").
		Cmdlet("Install-ADDSForest", map[string]interface{}{
			"DomainName":                    domainFQDN,
			"DomainNetbiosName":             netbiosName,
			"SafeModeAdministratorPassword": powershell.SecureString(safeModePassword),
			"InstallDns":                    true,
			"NoRebootOnCompletion":          false,
			"Force":                         true,
		}).
		Script()
}

// InstallReplicaScript promotes an already-joined member to an additional
// domain controller of the existing domain.
func InstallReplicaScript(domainFQDN, safeModePassword string, domainAdmin Credentials) string {
	return powershell.New().
		Cmdlet("Install-WindowsFeature", map[string]interface{}{
			"Name": "AD-Domain-Services",
		}, "IncludeManagementTools").
		ImportModule("ADDSDeployment").
		Cmdlet("Install-ADDSDomainController", map[string]interface{}{
			"DomainName":                    domainFQDN,
			"Credential":                    powershell.Credential(domainAdmin.Username, domainAdmin.Password),
			"SafeModeAdministratorPassword": powershell.SecureString(safeModePassword),
			"InstallDns":                    true,
			"NoRebootOnCompletion":          false,
			"Force":                         true,
		}).
		Script()
}

// DirectoryReadyScript probes whether the directory answers: both core
// services running and the domain object resolvable.
func DirectoryReadyScript(domainFQDN string) string {
	return powershell.New().
		Add("$adws = Get-Service -Name ADWS -ErrorAction SilentlyContinue").
		Add("$ntds = Get-Service -Name NTDS -ErrorAction SilentlyContinue").
		Addf("if ($adws.Status -eq 'Running' -and $ntds.Status -eq 'Running' -and (Get-ADDomain -Identity %s -ErrorAction SilentlyContinue)) { 'ready' } else { 'not-ready' }",
			powershell.Quote(domainFQDN)).
		Script()
}

// ReplicationConvergedScript probes whether the expected number of domain
// controllers advertise and SYSVOL is shared on this DC.
func ReplicationConvergedScript(expectedDCs int) string {
	return powershell.New().
		Add("$dcs = @(Get-ADDomainController -Filter * | Where-Object { $_.Enabled })").
		Add("$sysvol = Get-SmbShare -Name SYSVOL -ErrorAction SilentlyContinue").
		Addf("if ($dcs.Count -ge %d -and $sysvol) { 'converged' } else { 'pending' }", expectedDCs).
		Script()
}

// JoinDomainScript joins the guest to the domain and reboots. The machine
// account lands in ouPath when given.
func JoinDomainScript(domainFQDN string, domainAdmin Credentials, ouPath string) string {
	params := map[string]interface{}{
		"DomainName": domainFQDN,
		"Credential": powershell.Credential(domainAdmin.Username, domainAdmin.Password),
	}
	if ouPath != "" {
		params["OUPath"] = ouPath
	}
	return powershell.New().
		Cmdlet("Add-Computer", params, "Restart", "Force").
		Script()
}

// IsDomainControllerScript probes the machine's domain role; 4 and 5 are
// backup and primary domain controller.
func IsDomainControllerScript() string {
	return powershell.New().
		Add("if ((Get-CimInstance -ClassName Win32_ComputerSystem).DomainRole -ge 4) { 'dc' } else { 'member' }").
		Script()
}

// DomainMemberScript probes whether the guest reports itself joined.
func DomainMemberScript(domainFQDN string) string {
	return powershell.New().
		Addf("if ((Get-CimInstance -ClassName Win32_ComputerSystem).Domain -eq %s) { 'joined' } else { 'workgroup' }",
			powershell.Quote(domainFQDN)).
		Script()
}

// CreateOUScript creates an organizational unit if missing.
func CreateOUScript(name, parentDN string) string {
	dn := fmt.Sprintf("OU=%s,%s", name, parentDN)
	return powershell.New().
		Addf("if (-not (Get-ADOrganizationalUnit -Filter \"DistinguishedName -eq '%s'\" -ErrorAction SilentlyContinue)) { New-ADOrganizationalUnit -Name %s -Path %s -ProtectedFromAccidentalDeletion $false }",
			dn, powershell.Quote(name), powershell.Quote(parentDN)).
		Script()
}

// CreateUserScript creates a domain user with a preset password.
func CreateUserScript(name, samAccountName, upnSuffix, password, ouPath string) string {
	params := map[string]interface{}{
		"Name":              name,
		"SamAccountName":    samAccountName,
		"UserPrincipalName": fmt.Sprintf("%s@%s", samAccountName, upnSuffix),
		"AccountPassword":   powershell.SecureString(password),
		"Enabled":           true,
	}
	if ouPath != "" {
		params["Path"] = ouPath
	}
	return powershell.New().
		Addf("if (-not (Get-ADUser -Filter \"SamAccountName -eq '%s'\" -ErrorAction SilentlyContinue)) { %s }",
			samAccountName, powershell.New().Cmdlet("New-ADUser", params).Raw()).
		Script()
}

// CreateGroupScript creates a global security group with members. The
// group lands in ouPath when given, the default container otherwise.
func CreateGroupScript(name, ouPath string, members []string) string {
	params := map[string]interface{}{
		"Name":       name,
		"GroupScope": "Global",
	}
	if ouPath != "" {
		params["Path"] = ouPath
	}
	b := powershell.New().
		Addf("if (-not (Get-ADGroup -Filter \"Name -eq '%s'\" -ErrorAction SilentlyContinue)) { %s }",
			name, powershell.New().Cmdlet("New-ADGroup", params).Raw())
	if len(members) > 0 {
		b.Cmdlet("Add-ADGroupMember", map[string]interface{}{
			"Identity": name,
			"Members":  members,
		})
	}
	return b.Script()
}

// cloneableGroup is the well-known group gating virtualization-safe DC cloning.
const cloneableGroup = "Cloneable Domain Controllers"

// AddCloneSourceScript adds the source DC's machine account to the
// cloneable-DC group.
func AddCloneSourceScript(dcName string) string {
	return powershell.New().
		Cmdlet("Add-ADGroupMember", map[string]interface{}{
			"Identity": cloneableGroup,
			"Members":  dcName + "$",
		}).
		Script()
}

// CloneMembershipVisibleScript probes, on an arbitrary DC, whether the
// cloneable-group membership has replicated to it.
func CloneMembershipVisibleScript(dcName string) string {
	return powershell.New().
		Addf("$members = Get-ADGroupMember -Identity %s | Select-Object -ExpandProperty SamAccountName", powershell.Quote(cloneableGroup)).
		Addf("if ($members -contains %s) { 'visible' } else { 'pending' }", powershell.Quote(dcName+"$")).
		Script()
}

// CloneConfigScript verifies no excluded applications block cloning, then
// writes the clone configuration file with the clone's identity.
func CloneConfigScript(cloneName, ip string, prefixLength int, gateway string, dns []string) string {
	return powershell.New().
		Add("$excluded = Get-ADDCCloningExcludedApplicationList").
		Add("if ($excluded) { Get-ADDCCloningExcludedApplicationList -GenerateXml -Force | Out-Null }").
		Cmdlet("New-ADDCCloneConfigFile", map[string]interface{}{
			"CloneComputerName":  cloneName,
			"IPv4Address":        ip,
			"IPv4SubnetMask":     prefixToMask(prefixLength),
			"IPv4DefaultGateway": gateway,
			"IPv4DNSResolver":    dns,
		}, "Static").
		Script()
}

// AdvertisingDCScript probes, from an existing DC, whether the named DC
// advertises as a domain controller.
func AdvertisingDCScript(dcName string) string {
	return powershell.New().
		Addf("$dc = Get-ADDomainController -Filter \"Name -eq '%s'\" -ErrorAction SilentlyContinue", dcName).
		Add("if ($dc) { 'advertising' } else { 'absent' }").
		Script()
}

// NewGPOScript creates a GPO (when missing), applies registry values, and
// links it to the target DN.
type GPORegistryValue struct {
	Key       string
	ValueName string
	Type      string // String, DWord, ...
	Value     interface{}
}

func NewGPOScript(name, targetDN string, values []GPORegistryValue) string {
	b := powershell.New().
		Addf("if (-not (Get-GPO -Name %s -ErrorAction SilentlyContinue)) { New-GPO -Name %s | Out-Null }",
			powershell.Quote(name), powershell.Quote(name))
	for _, v := range values {
		b.Cmdlet("Set-GPRegistryValue", map[string]interface{}{
			"Name":      name,
			"Key":       v.Key,
			"ValueName": v.ValueName,
			"Type":      v.Type,
			"Value":     v.Value,
		})
	}
	b.Addf("if (-not ((Get-GPInheritance -Target %s).GpoLinks | Where-Object DisplayName -eq %s)) { New-GPLink -Name %s -Target %s | Out-Null }",
		powershell.Quote(targetDN), powershell.Quote(name), powershell.Quote(name), powershell.Quote(targetDN))
	return b.Script()
}

// WSUSClientGPOValues renders the registry values pointing clients at the
// lab WSUS server.
func WSUSClientGPOValues(wsusURL string) []GPORegistryValue {
	const wuKey = `HKLM\Software\Policies\Microsoft\Windows\WindowsUpdate`
	return []GPORegistryValue{
		{Key: wuKey, ValueName: "WUServer", Type: "String", Value: wsusURL},
		{Key: wuKey, ValueName: "WUStatusServer", Type: "String", Value: wsusURL},
		{Key: wuKey + `\AU`, ValueName: "UseWUServer", Type: "DWord", Value: 1},
		{Key: wuKey + `\AU`, ValueName: "NoAutoUpdate", Type: "DWord", Value: 0},
	}
}

func prefixToMask(prefix int) string {
	if prefix < 0 || prefix > 32 {
		prefix = 24
	}
	mask := ^uint32(0) << (32 - uint(prefix))
	return fmt.Sprintf("%d.%d.%d.%d", byte(mask>>24), byte(mask>>16), byte(mask>>8), byte(mask))
}
