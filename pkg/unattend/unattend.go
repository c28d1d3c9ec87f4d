// Package unattend renders autounattend.xml answer files consumed by
// Windows Setup. The document is rendered from a template; values are
// XML-escaped on the way in.
package unattend

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"text/template"

	"github.com/r11/hyperv-commander/pkg/validation"
)

// StaticIP configures the guest's first adapter during specialize.
type StaticIP struct {
	Address      string
	PrefixLength int
	Gateway      string
	DNS          []string
}

// Config is everything machine-specific in the answer file.
type Config struct {
	ComputerName  string
	AdminPassword string
	ImageName     string // edition inside install.wim, e.g. "Windows Server 2022 SERVERSTANDARD"
	ProductKey    string // optional; KMS client keys are common in labs
	Locale        string // default en-US
	TimeZone      string // default UTC
	Static        *StaticIP
	ExtraCommands []string // appended to the first-logon sequence
}

func (c *Config) defaults() {
	if c.Locale == "" {
		c.Locale = "en-US"
	}
	if c.TimeZone == "" {
		c.TimeZone = "UTC"
	}
}

// Validate rejects configs that would produce an unusable answer file.
func (c *Config) Validate() error {
	if err := validation.ValidateComputerName(c.ComputerName); err != nil {
		return err
	}
	if c.AdminPassword == "" {
		return fmt.Errorf("administrator password cannot be empty")
	}
	if c.ImageName == "" {
		return fmt.Errorf("image name cannot be empty")
	}
	if c.Static != nil {
		if err := validation.ValidateIP(c.Static.Address); err != nil {
			return err
		}
		if err := validation.ValidateGateway(c.Static.Gateway); err != nil {
			return err
		}
		if err := validation.ValidateDNS(c.Static.DNS); err != nil {
			return err
		}
		if c.Static.PrefixLength < 8 || c.Static.PrefixLength > 30 {
			return fmt.Errorf("prefix length /%d is outside reasonable range (/8 to /30)", c.Static.PrefixLength)
		}
	}
	return nil
}

type templateData struct {
	Config
	// first-logon commands with their 1-based order numbers
	Commands []orderedCommand
}

type orderedCommand struct {
	Order   int
	Command string
}

// winrmBootstrap is run at first logon so the orchestrator can reach the
// guest. Order matters: the network profile must be private before
// Enable-PSRemoting will open the firewall.
var winrmBootstrap = []string{
	`powershell -Command "Set-NetConnectionProfile -NetworkCategory Private"`,
	`powershell -Command "Enable-PSRemoting -Force -SkipNetworkProfileCheck"`,
	`powershell -Command "Set-Item WSMan:\localhost\Service\Auth\Negotiate -Value $true"`,
}

// Render produces the answer-file document.
func Render(cfg Config) ([]byte, error) {
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid unattend config: %w", err)
	}

	data := templateData{Config: cfg}
	for i, cmd := range append(append([]string{}, winrmBootstrap...), cfg.ExtraCommands...) {
		data.Commands = append(data.Commands, orderedCommand{Order: i + 1, Command: cmd})
	}

	var buf bytes.Buffer
	if err := answerTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render answer file: %w", err)
	}
	return buf.Bytes(), nil
}

var answerTemplate = template.Must(template.New("autounattend").Funcs(template.FuncMap{
	"esc": escapeXML,
}).Parse(`<?xml version="1.0" encoding="utf-8"?>
<unattend xmlns="urn:schemas-microsoft-com:unattend" xmlns:wcm="http://schemas.microsoft.com/WMIConfig/2002/State">
  <settings pass="windowsPE">
    <component name="Microsoft-Windows-International-Core-WinPE" processorArchitecture="amd64" publicKeyToken="31bf3856ad364e35" language="neutral" versionScope="nonSxS">
      <SetupUILanguage>
        <UILanguage>{{esc .Locale}}</UILanguage>
      </SetupUILanguage>
      <InputLocale>{{esc .Locale}}</InputLocale>
      <SystemLocale>{{esc .Locale}}</SystemLocale>
      <UILanguage>{{esc .Locale}}</UILanguage>
      <UserLocale>{{esc .Locale}}</UserLocale>
    </component>
    <component name="Microsoft-Windows-Setup" processorArchitecture="amd64" publicKeyToken="31bf3856ad364e35" language="neutral" versionScope="nonSxS">
      <DiskConfiguration>
        <Disk wcm:action="add">
          <DiskID>0</DiskID>
          <WillWipeDisk>true</WillWipeDisk>
          <CreatePartitions>
            <CreatePartition wcm:action="add">
              <Order>1</Order>
              <Type>EFI</Type>
              <Size>260</Size>
            </CreatePartition>
            <CreatePartition wcm:action="add">
              <Order>2</Order>
              <Type>MSR</Type>
              <Size>128</Size>
            </CreatePartition>
            <CreatePartition wcm:action="add">
              <Order>3</Order>
              <Type>Primary</Type>
              <Extend>true</Extend>
            </CreatePartition>
          </CreatePartitions>
          <ModifyPartitions>
            <ModifyPartition wcm:action="add">
              <Order>1</Order>
              <PartitionID>1</PartitionID>
              <Format>FAT32</Format>
            </ModifyPartition>
            <ModifyPartition wcm:action="add">
              <Order>2</Order>
              <PartitionID>3</PartitionID>
              <Format>NTFS</Format>
              <Letter>C</Letter>
            </ModifyPartition>
          </ModifyPartitions>
        </Disk>
      </DiskConfiguration>
      <ImageInstall>
        <OSImage>
          <InstallFrom>
            <MetaData wcm:action="add">
              <Key>/IMAGE/NAME</Key>
              <Value>{{esc .ImageName}}</Value>
            </MetaData>
          </InstallFrom>
          <InstallTo>
            <DiskID>0</DiskID>
            <PartitionID>3</PartitionID>
          </InstallTo>
        </OSImage>
      </ImageInstall>
      <UserData>
        <AcceptEula>true</AcceptEula>
{{- if .ProductKey}}
        <ProductKey>
          <Key>{{esc .ProductKey}}</Key>
        </ProductKey>
{{- end}}
      </UserData>
    </component>
  </settings>
  <settings pass="specialize">
    <component name="Microsoft-Windows-Shell-Setup" processorArchitecture="amd64" publicKeyToken="31bf3856ad364e35" language="neutral" versionScope="nonSxS">
      <ComputerName>{{esc .ComputerName}}</ComputerName>
      <TimeZone>{{esc .TimeZone}}</TimeZone>
    </component>
{{- if .Static}}
    <component name="Microsoft-Windows-TCPIP" processorArchitecture="amd64" publicKeyToken="31bf3856ad364e35" language="neutral" versionScope="nonSxS">
      <Interfaces>
        <Interface wcm:action="add">
          <Identifier>Ethernet</Identifier>
          <Ipv4Settings>
            <DhcpEnabled>false</DhcpEnabled>
          </Ipv4Settings>
          <UnicastIpAddresses>
            <IpAddress wcm:action="add" wcm:keyValue="1">{{esc .Static.Address}}/{{.Static.PrefixLength}}</IpAddress>
          </UnicastIpAddresses>
          <Routes>
            <Route wcm:action="add">
              <Identifier>0</Identifier>
              <Prefix>0.0.0.0/0</Prefix>
              <NextHopAddress>{{esc .Static.Gateway}}</NextHopAddress>
            </Route>
          </Routes>
        </Interface>
      </Interfaces>
    </component>
    <component name="Microsoft-Windows-DNS-Client" processorArchitecture="amd64" publicKeyToken="31bf3856ad364e35" language="neutral" versionScope="nonSxS">
      <Interfaces>
        <Interface wcm:action="add">
          <Identifier>Ethernet</Identifier>
          <DNSServerSearchOrder>
{{- range $i, $dns := .Static.DNS}}
            <IpAddress wcm:action="add" wcm:keyValue="{{$i}}">{{esc $dns}}</IpAddress>
{{- end}}
          </DNSServerSearchOrder>
        </Interface>
      </Interfaces>
    </component>
{{- end}}
  </settings>
  <settings pass="oobeSystem">
    <component name="Microsoft-Windows-Shell-Setup" processorArchitecture="amd64" publicKeyToken="31bf3856ad364e35" language="neutral" versionScope="nonSxS">
      <UserAccounts>
        <AdministratorPassword>
          <Value>{{esc .AdminPassword}}</Value>
          <PlainText>true</PlainText>
        </AdministratorPassword>
      </UserAccounts>
      <AutoLogon>
        <Enabled>true</Enabled>
        <LogonCount>1</LogonCount>
        <Username>Administrator</Username>
        <Password>
          <Value>{{esc .AdminPassword}}</Value>
          <PlainText>true</PlainText>
        </Password>
      </AutoLogon>
      <OOBE>
        <HideEULAPage>true</HideEULAPage>
        <HideLocalAccountScreen>true</HideLocalAccountScreen>
        <HideOnlineAccountScreens>true</HideOnlineAccountScreens>
        <ProtectYourPC>3</ProtectYourPC>
      </OOBE>
      <FirstLogonCommands>
{{- range .Commands}}
        <SynchronousCommand wcm:action="add">
          <Order>{{.Order}}</Order>
          <CommandLine>{{esc .Command}}</CommandLine>
        </SynchronousCommand>
{{- end}}
      </FirstLogonCommands>
    </component>
  </settings>
</unattend>
`))

func escapeXML(s string) string {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return s
	}
	return buf.String()
}
