package validation

import (
	"fmt"
	"net"
	"regexp"
	"strings"
)

var (
	computerPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,13}[a-zA-Z0-9])?$`)
	netbiosPattern  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-]{0,14}$`)
	dnsLabelPattern = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?$`)
)

// ValidateVMName validates a VM name according to Hyper-V conventions
func ValidateVMName(name string) error {
	if name == "" {
		return fmt.Errorf("VM name cannot be empty")
	}

	if len(name) > 100 {
		return fmt.Errorf("VM name cannot exceed 100 characters")
	}

	// Characters that break cmdlet quoting or the VM's on-disk paths
	invalidChars := []string{"\\", "/", ":", "*", "?", "\"", "<", ">", "|", "'", "`", "$"}
	for _, char := range invalidChars {
		if strings.Contains(name, char) {
			return fmt.Errorf("VM name cannot contain '%s'", char)
		}
	}

	if strings.HasPrefix(name, " ") || strings.HasSuffix(name, " ") {
		return fmt.Errorf("VM name cannot start or end with spaces")
	}

	return nil
}

// ValidateSwitchName validates a virtual switch name
func ValidateSwitchName(name string) error {
	if name == "" {
		return fmt.Errorf("switch name cannot be empty")
	}
	if len(name) > 100 {
		return fmt.Errorf("switch name cannot exceed 100 characters")
	}
	for _, char := range []string{"\"", "'", "`", "$"} {
		if strings.Contains(name, char) {
			return fmt.Errorf("switch name cannot contain '%s'", char)
		}
	}
	return nil
}

// ValidateIP validates a plain IPv4 address
func ValidateIP(addr string) error {
	if addr == "" {
		return fmt.Errorf("IP address cannot be empty")
	}
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("invalid IP address: %s", addr)
	}
	if ip.To4() == nil {
		return fmt.Errorf("only IPv4 addresses are supported: %s", addr)
	}
	return nil
}

// ValidateCIDR validates a CIDR notation IP address
func ValidateCIDR(cidr string) error {
	if cidr == "" {
		return fmt.Errorf("IP address cannot be empty")
	}

	ip, ipNet, err := net.ParseCIDR(cidr)
	if err != nil {
		return fmt.Errorf("invalid CIDR format: %v", err)
	}

	if ip.To4() == nil {
		return fmt.Errorf("only IPv4 addresses are supported")
	}

	if !isPrivateIP(ip) {
		return fmt.Errorf("IP address is not in a private range (10.0.0.0/8, 172.16.0.0/12, 192.168.0.0/16)")
	}

	ones, _ := ipNet.Mask.Size()
	if ones < 8 || ones > 30 {
		return fmt.Errorf("subnet mask /%d is outside reasonable range (/8 to /30)", ones)
	}

	return nil
}

// ValidateGateway validates a gateway IP address
func ValidateGateway(gateway string) error {
	if gateway == "" {
		return nil // Gateway is optional
	}
	return ValidateIP(gateway)
}

// ValidateDNS validates DNS server addresses
func ValidateDNS(dnsServers []string) error {
	if len(dnsServers) == 0 {
		return nil // DNS is optional
	}

	if len(dnsServers) > 3 {
		return fmt.Errorf("maximum of 3 DNS servers allowed")
	}

	for i, dns := range dnsServers {
		if err := ValidateIP(dns); err != nil {
			return fmt.Errorf("DNS server %d: %v", i+1, err)
		}
	}

	return nil
}

// ValidateComputerName validates a Windows computer name (NetBIOS limits apply)
func ValidateComputerName(name string) error {
	if name == "" {
		return fmt.Errorf("computer name cannot be empty")
	}

	if len(name) > 15 {
		return fmt.Errorf("computer name cannot exceed 15 characters")
	}

	if !computerPattern.MatchString(name) {
		return fmt.Errorf("computer name must contain only letters, numbers, and hyphens, and cannot start or end with a hyphen")
	}

	return nil
}

// ValidateDomainFQDN validates a fully qualified AD domain name
func ValidateDomainFQDN(fqdn string) error {
	if fqdn == "" {
		return fmt.Errorf("domain name cannot be empty")
	}

	if len(fqdn) > 255 {
		return fmt.Errorf("domain name cannot exceed 255 characters")
	}

	labels := strings.Split(fqdn, ".")
	if len(labels) < 2 {
		return fmt.Errorf("domain name must have at least two labels (e.g. corp.example.com)")
	}

	for _, label := range labels {
		if !dnsLabelPattern.MatchString(label) {
			return fmt.Errorf("invalid domain label: %q", label)
		}
	}

	return nil
}

// ValidateNetBIOSName validates the short domain name
func ValidateNetBIOSName(name string) error {
	if name == "" {
		return fmt.Errorf("NetBIOS name cannot be empty")
	}
	if !netbiosPattern.MatchString(name) {
		return fmt.Errorf("NetBIOS name must be 1-15 characters of letters, numbers, and hyphens")
	}
	return nil
}

// ValidateOUPath validates a distinguished name used as an OU or container target
func ValidateOUPath(dn string) error {
	if dn == "" {
		return nil // OU path is optional
	}

	for _, part := range strings.Split(dn, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			return fmt.Errorf("invalid distinguished name component: %q", part)
		}
		switch strings.ToUpper(kv[0]) {
		case "OU", "CN", "DC":
		default:
			return fmt.Errorf("unsupported distinguished name attribute: %q", kv[0])
		}
	}

	return nil
}

// FQDNToDN converts a domain FQDN into its directory root DN
// (lab.local becomes DC=lab,DC=local).
func FQDNToDN(fqdn string) string {
	labels := strings.Split(fqdn, ".")
	parts := make([]string, len(labels))
	for i, label := range labels {
		parts[i] = "DC=" + label
	}
	return strings.Join(parts, ",")
}

// ValidateResourceLimits validates CPU and memory resource limits
func ValidateResourceLimits(cpu int, memoryMB int64) error {
	if cpu <= 0 {
		return fmt.Errorf("CPU count must be greater than 0")
	}

	if cpu > 64 {
		return fmt.Errorf("CPU count cannot exceed 64")
	}

	if memoryMB < 512 {
		return fmt.Errorf("memory must be at least 512 MB")
	}

	if memoryMB > 1024*1024 {
		return fmt.Errorf("memory cannot exceed 1 TB")
	}

	return nil
}

// isPrivateIP checks if an IP address is in a private range
func isPrivateIP(ip net.IP) bool {
	private := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16", // Link-local
	}

	for _, cidr := range private {
		_, ipNet, _ := net.ParseCIDR(cidr)
		if ipNet.Contains(ip) {
			return true
		}
	}

	return false
}
