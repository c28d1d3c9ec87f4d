package guest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInstallForestScript(t *testing.T) {
	script := InstallForestScript("lab.local", "LAB", "Recovery!1")

	assert.True(t, strings.HasPrefix(script, "$ErrorActionPreference = 'Stop'"))
	assert.Contains(t, script, "Install-WindowsFeature -Name 'AD-Domain-Services' -IncludeManagementTools")
	assert.Contains(t, script, "Import-Module ADDSDeployment")
	assert.Contains(t, script, "Install-ADDSForest")
	assert.Contains(t, script, "-DomainName 'lab.local'")
	assert.Contains(t, script, "-DomainNetbiosName 'LAB'")
	assert.Contains(t, script, "ConvertTo-SecureString 'Recovery!1' -AsPlainText -Force")
	assert.Contains(t, script, "-Force $true")
	assert.Contains(t, script, "-InstallDns $true")
}

func TestInstallReplicaScript(t *testing.T) {
	script := InstallReplicaScript("lab.local", "Recovery!1", Credentials{
		Username: "LAB\\Administrator",
		Password: "p@ss",
	})

	assert.Contains(t, script, "Install-ADDSDomainController")
	assert.Contains(t, script, "PSCredential('LAB\\Administrator'")
	assert.Contains(t, script, "-DomainName 'lab.local'")
	assert.NotContains(t, script, "Install-ADDSForest")
}

func TestDirectoryReadyScript(t *testing.T) {
	script := DirectoryReadyScript("lab.local")
	assert.Contains(t, script, "Get-Service -Name ADWS")
	assert.Contains(t, script, "Get-Service -Name NTDS")
	assert.Contains(t, script, "Get-ADDomain -Identity 'lab.local'")
	assert.Contains(t, script, "'ready'")
}

func TestReplicationConvergedScript(t *testing.T) {
	script := ReplicationConvergedScript(2)
	assert.Contains(t, script, "Get-ADDomainController -Filter *")
	assert.Contains(t, script, "$dcs.Count -ge 2")
	assert.Contains(t, script, "Get-SmbShare -Name SYSVOL")
}

func TestJoinDomainScript(t *testing.T) {
	withOU := JoinDomainScript("lab.local", Credentials{Username: "LAB\\Administrator", Password: "x"}, "OU=Servers,DC=lab,DC=local")
	assert.Contains(t, withOU, "Add-Computer")
	assert.Contains(t, withOU, "-OUPath 'OU=Servers,DC=lab,DC=local'")
	assert.Contains(t, withOU, "-Restart -Force")

	withoutOU := JoinDomainScript("lab.local", Credentials{Username: "LAB\\Administrator", Password: "x"}, "")
	assert.NotContains(t, withoutOU, "-OUPath")
}

func TestCloneScripts(t *testing.T) {
	add := AddCloneSourceScript("DC01")
	assert.Contains(t, add, "Add-ADGroupMember")
	assert.Contains(t, add, "'Cloneable Domain Controllers'")
	assert.Contains(t, add, "'DC01$'")

	visible := CloneMembershipVisibleScript("DC01")
	assert.Contains(t, visible, "Get-ADGroupMember")
	assert.Contains(t, visible, "'DC01$'")
	assert.Contains(t, visible, "'visible'")

	cfg := CloneConfigScript("DC03", "192.168.210.12", 24, "192.168.210.1", []string{"192.168.210.10"})
	assert.Contains(t, cfg, "Get-ADDCCloningExcludedApplicationList")
	assert.Contains(t, cfg, "New-ADDCCloneConfigFile")
	assert.Contains(t, cfg, "-CloneComputerName 'DC03'")
	assert.Contains(t, cfg, "-IPv4SubnetMask '255.255.255.0'")
	assert.Contains(t, cfg, "-IPv4DNSResolver @('192.168.210.10')")
	assert.Contains(t, cfg, "-Static")
}

func TestNewGPOScript(t *testing.T) {
	script := NewGPOScript("WSUS Clients", "DC=lab,DC=local", WSUSClientGPOValues("http://wsus01.lab.local:8530"))

	assert.Contains(t, script, "New-GPO -Name 'WSUS Clients'")
	assert.Contains(t, script, "Set-GPRegistryValue")
	assert.Contains(t, script, "'http://wsus01.lab.local:8530'")
	assert.Contains(t, script, "-ValueName 'UseWUServer'")
	assert.Contains(t, script, "New-GPLink -Name 'WSUS Clients' -Target 'DC=lab,DC=local'")
}

func TestCreateUserScriptIsIdempotent(t *testing.T) {
	script := CreateUserScript("Jane Ops", "jane.ops", "lab.local", "S3cret!", "OU=People,DC=lab,DC=local")
	assert.Contains(t, script, "Get-ADUser -Filter \"SamAccountName -eq 'jane.ops'\"")
	assert.Contains(t, script, "New-ADUser")
	assert.Contains(t, script, "-UserPrincipalName 'jane.ops@lab.local'")
	assert.Contains(t, script, "-Path 'OU=People,DC=lab,DC=local'")
}

func TestCreateGroupScriptOmitsPathWithoutOU(t *testing.T) {
	script := CreateGroupScript("LabAdmins", "", []string{"jane.ops"})
	assert.Contains(t, script, "New-ADGroup -GroupScope 'Global' -Name 'LabAdmins'")
	assert.NotContains(t, script, "-Path")
	assert.Contains(t, script, "Add-ADGroupMember -Identity 'LabAdmins' -Members @('jane.ops')")

	script = CreateGroupScript("LabAdmins", "OU=People,DC=lab,DC=local", nil)
	assert.Contains(t, script, "-Path 'OU=People,DC=lab,DC=local'")
	assert.NotContains(t, script, "Add-ADGroupMember")
}

func TestPrefixToMask(t *testing.T) {
	tests := []struct {
		prefix int
		want   string
	}{
		{24, "255.255.255.0"},
		{16, "255.255.0.0"},
		{25, "255.255.255.128"},
		{8, "255.0.0.0"},
		{99, "255.255.255.0"}, // out of range falls back to /24
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, prefixToMask(tt.prefix))
	}
}
