package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateVMName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"simple name", "DC01", false},
		{"with hyphen", "LAB-FS01", false},
		{"empty", "", true},
		{"path separator", "DC01\\x", true},
		{"quote", "DC'01", true},
		{"dollar", "DC$01", true},
		{"leading space", " DC01", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVMName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateComputerName(t *testing.T) {
	assert.NoError(t, ValidateComputerName("DC01"))
	assert.Error(t, ValidateComputerName(""))
	assert.Error(t, ValidateComputerName("THIS-NAME-IS-TOO-LONG"))
	assert.Error(t, ValidateComputerName("-dc01"))
	assert.Error(t, ValidateComputerName("dc01-"))
}

func TestValidateDomainFQDN(t *testing.T) {
	assert.NoError(t, ValidateDomainFQDN("corp.example.com"))
	assert.NoError(t, ValidateDomainFQDN("lab.local"))
	assert.Error(t, ValidateDomainFQDN(""))
	assert.Error(t, ValidateDomainFQDN("singlelabel"))
	assert.Error(t, ValidateDomainFQDN("bad_label.local"))
}

func TestValidateNetBIOSName(t *testing.T) {
	assert.NoError(t, ValidateNetBIOSName("LAB"))
	assert.Error(t, ValidateNetBIOSName(""))
	assert.Error(t, ValidateNetBIOSName("NAMEISWAYTOOLONG"))
}

func TestValidateOUPath(t *testing.T) {
	assert.NoError(t, ValidateOUPath(""))
	assert.NoError(t, ValidateOUPath("OU=Servers,DC=lab,DC=local"))
	assert.NoError(t, ValidateOUPath("CN=Computers,DC=lab,DC=local"))
	assert.Error(t, ValidateOUPath("OU=Servers,DC="))
	assert.Error(t, ValidateOUPath("XX=Servers,DC=lab,DC=local"))
}

func TestValidateCIDR(t *testing.T) {
	assert.NoError(t, ValidateCIDR("192.168.210.0/24"))
	assert.Error(t, ValidateCIDR("not-a-cidr"))
	assert.Error(t, ValidateCIDR("8.8.8.0/24"))
	assert.Error(t, ValidateCIDR("192.168.210.0/31"))
}

func TestValidateIPAndGatewayAndDNS(t *testing.T) {
	assert.NoError(t, ValidateIP("192.168.210.10"))
	assert.Error(t, ValidateIP("999.1.1.1"))
	assert.Error(t, ValidateIP("fe80::1"))

	assert.NoError(t, ValidateGateway(""))
	assert.NoError(t, ValidateGateway("192.168.210.1"))
	assert.Error(t, ValidateGateway("nope"))

	assert.NoError(t, ValidateDNS(nil))
	assert.NoError(t, ValidateDNS([]string{"192.168.210.10"}))
	assert.Error(t, ValidateDNS([]string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"}))
	assert.Error(t, ValidateDNS([]string{"bogus"}))
}

func TestValidateResourceLimits(t *testing.T) {
	assert.NoError(t, ValidateResourceLimits(2, 4096))
	assert.Error(t, ValidateResourceLimits(0, 4096))
	assert.Error(t, ValidateResourceLimits(2, 128))
	assert.Error(t, ValidateResourceLimits(128, 4096))
}

func TestFQDNToDN(t *testing.T) {
	assert.Equal(t, "DC=lab,DC=local", FQDNToDN("lab.local"))
	assert.Equal(t, "DC=corp,DC=example,DC=com", FQDNToDN("corp.example.com"))
}
