package unattend

import (
	"encoding/xml"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		ComputerName:  "DC01",
		AdminPassword: "P@ssw0rd!",
		ImageName:     "Windows Server 2022 SERVERSTANDARD",
		Static: &StaticIP{
			Address:      "192.168.210.10",
			PrefixLength: 24,
			Gateway:      "192.168.210.1",
			DNS:          []string{"192.168.210.10"},
		},
	}
}

func TestRender(t *testing.T) {
	out, err := Render(validConfig())
	require.NoError(t, err)
	doc := string(out)

	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="utf-8"?>`))
	assert.Contains(t, doc, "<ComputerName>DC01</ComputerName>")
	assert.Contains(t, doc, "<Value>Windows Server 2022 SERVERSTANDARD</Value>")
	assert.Contains(t, doc, "<TimeZone>UTC</TimeZone>")
	assert.Contains(t, doc, "<UILanguage>en-US</UILanguage>")
	assert.Contains(t, doc, `>192.168.210.10/24</IpAddress>`)
	assert.Contains(t, doc, "<NextHopAddress>192.168.210.1</NextHopAddress>")
	assert.Contains(t, doc, "Enable-PSRemoting -Force -SkipNetworkProfileCheck")
	assert.NotContains(t, doc, "<ProductKey>")

	// must stay well-formed XML
	dec := xml.NewDecoder(strings.NewReader(doc))
	for {
		_, err := dec.Token()
		if err != nil {
			assert.Equal(t, "EOF", err.Error())
			break
		}
	}
}

func TestRenderEscapesValues(t *testing.T) {
	cfg := validConfig()
	cfg.AdminPassword = `a<b&"c"`

	out, err := Render(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Value>a&lt;b&amp;&#34;c&#34;</Value>")
	assert.NotContains(t, string(out), `<Value>a<b`)
}

func TestRenderDHCPWhenNoStatic(t *testing.T) {
	cfg := validConfig()
	cfg.Static = nil

	out, err := Render(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "Microsoft-Windows-TCPIP")
	assert.NotContains(t, string(out), "Microsoft-Windows-DNS-Client")
}

func TestRenderProductKeyAndExtraCommands(t *testing.T) {
	cfg := validConfig()
	cfg.ProductKey = "VDYBN-27WPP-V4HQT-9VMD4-VMK7H"
	cfg.ExtraCommands = []string{`cmd /c echo done > C:\provisioned.txt`}

	out, err := Render(cfg)
	require.NoError(t, err)
	assert.Contains(t, string(out), "<Key>VDYBN-27WPP-V4HQT-9VMD4-VMK7H</Key>")
	// extra commands come after the WinRM bootstrap
	assert.Contains(t, string(out), "<Order>4</Order>")
	assert.Contains(t, string(out), "echo done")
}

func TestRenderRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty computer name", func(c *Config) { c.ComputerName = "" }},
		{"long computer name", func(c *Config) { c.ComputerName = "THISNAMEISWAYTOOLONG" }},
		{"empty password", func(c *Config) { c.AdminPassword = "" }},
		{"empty image", func(c *Config) { c.ImageName = "" }},
		{"bad static address", func(c *Config) { c.Static.Address = "not-an-ip" }},
		{"bad prefix", func(c *Config) { c.Static.PrefixLength = 33 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			_, err := Render(cfg)
			assert.Error(t, err)
		})
	}
}
