// Package lab turns a declarative lab manifest into an ordered stage
// pipeline for the orchestrator.
package lab

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/r11/hyperv-commander/pkg/guest"
	"github.com/r11/hyperv-commander/pkg/validation"
)

// Role drives which stages a machine contributes to the plan.
type Role string

const (
	RolePrimaryDC  Role = "primary-dc"
	RoleReplicaDC  Role = "replica-dc"
	RoleClonedDC   Role = "cloned-dc"
	RoleFileServer Role = "file-server"
	RoleWSUS       Role = "wsus"
	RoleMember     Role = "member"
)

// Manifest is the declarative desired state of one lab.
type Manifest struct {
	Name        string      `yaml:"name"`
	Domain      Domain      `yaml:"domain"`
	Networks    []Network   `yaml:"networks"`
	Machines    []Machine   `yaml:"machines"`
	Credentials Credentials `yaml:"credentials"`
	GPOs        []GPO       `yaml:"gpos,omitempty"`
	Tunables    Tunables    `yaml:"tunables,omitempty"`
}

// Domain describes the forest to build.
type Domain struct {
	FQDN          string        `yaml:"fqdn"`
	NetBIOS       string        `yaml:"netbios"`
	SafeModePass  CredentialRef `yaml:"safe_mode_password"`
	UsersOU       string        `yaml:"users_ou,omitempty"` // OU name created under the domain root
	Users         []DomainUser  `yaml:"users,omitempty"`
	Groups        []DomainGroup `yaml:"groups,omitempty"`
	DNSForwarders []string      `yaml:"dns_forwarders,omitempty"`
}

// DomainUser is one pre-created lab account. It lands in the users OU
// when one is declared.
type DomainUser struct {
	Name           string        `yaml:"name"`
	SamAccountName string        `yaml:"sam_account_name,omitempty"` // defaults to the name
	Password       CredentialRef `yaml:"password"`
}

// DomainGroup is one global security group with its initial members.
type DomainGroup struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members,omitempty"`
}

// Network is one virtual switch, optionally NATed.
type Network struct {
	Name      string `yaml:"name"`
	Type      string `yaml:"type"` // internal, private, external
	NATSubnet string `yaml:"nat_subnet,omitempty"`
	Gateway   string `yaml:"gateway,omitempty"`
}

// Machine is one VM and its in-guest configuration.
type Machine struct {
	Name         string   `yaml:"name"`
	Role         Role     `yaml:"role"`
	CPU          int      `yaml:"cpu"`
	MemoryMB     int64    `yaml:"memory_mb"`
	DiskGB       int      `yaml:"disk_gb"`
	Switch       string   `yaml:"switch"`
	InstallISO   string   `yaml:"install_iso,omitempty"`
	Image        string   `yaml:"image,omitempty"` // edition inside install.wim
	IP           string   `yaml:"ip,omitempty"`
	PrefixLength int      `yaml:"prefix_length,omitempty"`
	Gateway      string   `yaml:"gateway,omitempty"`
	DNS          []string `yaml:"dns,omitempty"`
	OU           string   `yaml:"ou,omitempty"` // machine account target on join

	CloneOf string     `yaml:"clone_of,omitempty"` // cloned-dc source machine
	DHCP    *DHCPScope `yaml:"dhcp,omitempty"`     // primary-dc only
	Shares  []Share    `yaml:"shares,omitempty"`   // file-server only
	WSUS    *WSUS      `yaml:"wsus,omitempty"`     // wsus role only
}

// DHCPScope configures the DHCP role on a domain controller.
type DHCPScope struct {
	Name       string   `yaml:"name"`
	StartRange string   `yaml:"start_range"`
	EndRange   string   `yaml:"end_range"`
	SubnetMask string   `yaml:"subnet_mask"`
	Router     string   `yaml:"router"`
	DNSServers []string `yaml:"dns_servers"`
}

// Share is one SMB share on a file server.
type Share struct {
	Name         string   `yaml:"name"`
	Path         string   `yaml:"path"`
	Description  string   `yaml:"description,omitempty"`
	FullAccess   []string `yaml:"full_access,omitempty"`
	ChangeAccess []string `yaml:"change_access,omitempty"`
	ReadAccess   []string `yaml:"read_access,omitempty"`
}

// WSUS configures the update-services role.
type WSUS struct {
	ContentDir      string   `yaml:"content_dir,omitempty"`
	Products        []string `yaml:"products,omitempty"`
	Classifications []string `yaml:"classifications,omitempty"`
	Port            int      `yaml:"port,omitempty"` // default 8530
}

// GPO is one group policy object to create and link.
type GPO struct {
	Name     string         `yaml:"name"`
	Target   string         `yaml:"target"` // DN to link against
	WSUSFrom string         `yaml:"wsus_from,omitempty"` // wsus machine whose URL to push
	Registry []RegistryItem `yaml:"registry,omitempty"`
}

// RegistryItem is one registry-backed policy value.
type RegistryItem struct {
	Key       string      `yaml:"key"`
	ValueName string      `yaml:"value_name"`
	Type      string      `yaml:"type"`
	Value     interface{} `yaml:"value"`
}

// Credentials name the two accounts the pipeline acts under.
type Credentials struct {
	LocalAdmin  CredentialRef `yaml:"local_admin"`
	DomainAdmin CredentialRef `yaml:"domain_admin"`
}

// CredentialRef resolves a secret from the manifest or the environment.
// Plain passwords in manifests are for throwaway labs; prefer env.
type CredentialRef struct {
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
}

// Resolve returns the credential with its password materialized.
func (r CredentialRef) Resolve() (guest.Credentials, error) {
	password := r.Password
	if r.PasswordEnv != "" {
		password = os.Getenv(r.PasswordEnv)
		if password == "" {
			return guest.Credentials{}, fmt.Errorf("environment variable %s is empty", r.PasswordEnv)
		}
	}
	if password == "" {
		return guest.Credentials{}, fmt.Errorf("no password for %q: set password or password_env", r.Username)
	}
	return guest.Credentials{Username: r.Username, Password: password}, nil
}

// Tunables bound the readiness polling.
type Tunables struct {
	ReadyTimeoutMinutes       int `yaml:"ready_timeout_minutes,omitempty"`       // default 10
	ReplicationTimeoutMinutes int `yaml:"replication_timeout_minutes,omitempty"` // default 30
}

// Load reads and validates a manifest file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Machine returns the named machine, or nil.
func (m *Manifest) Machine(name string) *Machine {
	for i := range m.Machines {
		if m.Machines[i].Name == name {
			return &m.Machines[i]
		}
	}
	return nil
}

// PrimaryDC returns the forest's first domain controller.
func (m *Manifest) PrimaryDC() *Machine {
	for i := range m.Machines {
		if m.Machines[i].Role == RolePrimaryDC {
			return &m.Machines[i]
		}
	}
	return nil
}

// DomainDN derives the directory root DN from the domain FQDN.
func (m *Manifest) DomainDN() string {
	return validation.FQDNToDN(m.Domain.FQDN)
}

// Validate rejects manifests that cannot possibly provision.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("lab name cannot be empty")
	}
	if err := validation.ValidateDomainFQDN(m.Domain.FQDN); err != nil {
		return err
	}
	if err := validation.ValidateNetBIOSName(m.Domain.NetBIOS); err != nil {
		return err
	}
	if err := validation.ValidateDNS(m.Domain.DNSForwarders); err != nil {
		return fmt.Errorf("dns_forwarders: %w", err)
	}
	if strings.Contains(m.Domain.UsersOU, "=") {
		return fmt.Errorf("users_ou is an OU name, not a distinguished name")
	}
	userNames := make(map[string]bool, len(m.Domain.Users))
	for _, u := range m.Domain.Users {
		if u.Name == "" {
			return fmt.Errorf("domain user needs a name")
		}
		if userNames[u.Name] {
			return fmt.Errorf("duplicate user %q", u.Name)
		}
		userNames[u.Name] = true
		if u.Password.Password == "" && u.Password.PasswordEnv == "" {
			return fmt.Errorf("user %q: set password or password_env", u.Name)
		}
	}
	for _, g := range m.Domain.Groups {
		if g.Name == "" {
			return fmt.Errorf("domain group needs a name")
		}
	}
	if len(m.Networks) == 0 {
		return fmt.Errorf("lab needs at least one network")
	}
	if len(m.Machines) == 0 {
		return fmt.Errorf("lab needs at least one machine")
	}

	switches := make(map[string]bool, len(m.Networks))
	for _, n := range m.Networks {
		if err := validation.ValidateSwitchName(n.Name); err != nil {
			return err
		}
		if switches[n.Name] {
			return fmt.Errorf("duplicate network %q", n.Name)
		}
		switches[n.Name] = true
		switch n.Type {
		case "internal", "private", "external":
		default:
			return fmt.Errorf("network %q: unknown type %q", n.Name, n.Type)
		}
		if n.NATSubnet != "" {
			if err := validation.ValidateCIDR(n.NATSubnet); err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
			if n.Gateway == "" {
				return fmt.Errorf("network %q: NAT requires a gateway address", n.Name)
			}
			if err := validation.ValidateGateway(n.Gateway); err != nil {
				return fmt.Errorf("network %q: %w", n.Name, err)
			}
		}
	}

	var primaries, replicas int
	names := make(map[string]bool, len(m.Machines))
	ips := make(map[string]string)
	for i := range m.Machines {
		mc := &m.Machines[i]
		if err := m.validateMachine(mc, switches, ips); err != nil {
			return err
		}
		if names[mc.Name] {
			return fmt.Errorf("duplicate machine %q", mc.Name)
		}
		names[mc.Name] = true
		switch mc.Role {
		case RolePrimaryDC:
			primaries++
		case RoleReplicaDC:
			replicas++
		}
	}
	if primaries != 1 {
		return fmt.Errorf("lab needs exactly one primary-dc, found %d", primaries)
	}

	for i := range m.Machines {
		mc := &m.Machines[i]
		if mc.Role != RoleClonedDC {
			continue
		}
		source := m.Machine(mc.CloneOf)
		if mc.CloneOf == "" || source == nil {
			return fmt.Errorf("cloned-dc %q: clone_of must name another machine", mc.Name)
		}
		if source.Role != RolePrimaryDC && source.Role != RoleReplicaDC {
			return fmt.Errorf("cloned-dc %q: clone source %q is not a domain controller", mc.Name, mc.CloneOf)
		}
	}

	for _, g := range m.GPOs {
		if g.Name == "" || g.Target == "" {
			return fmt.Errorf("gpo needs both name and target")
		}
		if err := validation.ValidateOUPath(g.Target); err != nil {
			return fmt.Errorf("gpo %q: %w", g.Name, err)
		}
		if g.WSUSFrom != "" {
			w := m.Machine(g.WSUSFrom)
			if w == nil || w.Role != RoleWSUS {
				return fmt.Errorf("gpo %q: wsus_from %q is not a wsus machine", g.Name, g.WSUSFrom)
			}
		}
	}

	if m.Credentials.LocalAdmin.Username == "" {
		return fmt.Errorf("credentials.local_admin.username cannot be empty")
	}
	if m.Credentials.DomainAdmin.Username == "" {
		return fmt.Errorf("credentials.domain_admin.username cannot be empty")
	}
	return nil
}

func (m *Manifest) validateMachine(mc *Machine, switches map[string]bool, ips map[string]string) error {
	if err := validation.ValidateVMName(mc.Name); err != nil {
		return err
	}
	if err := validation.ValidateComputerName(mc.Name); err != nil {
		return err
	}
	switch mc.Role {
	case RolePrimaryDC, RoleReplicaDC, RoleClonedDC, RoleFileServer, RoleWSUS, RoleMember:
	default:
		return fmt.Errorf("machine %q: unknown role %q", mc.Name, mc.Role)
	}
	if !switches[mc.Switch] {
		return fmt.Errorf("machine %q: unknown switch %q", mc.Name, mc.Switch)
	}

	// Clones inherit hardware and identity from their source.
	if mc.Role == RoleClonedDC {
		if mc.IP == "" {
			return fmt.Errorf("cloned-dc %q: static ip is required for the clone config", mc.Name)
		}
	} else {
		if err := validation.ValidateResourceLimits(mc.CPU, mc.MemoryMB); err != nil {
			return fmt.Errorf("machine %q: %w", mc.Name, err)
		}
		if mc.DiskGB < 20 {
			return fmt.Errorf("machine %q: disk must be at least 20 GB", mc.Name)
		}
		if mc.InstallISO == "" {
			return fmt.Errorf("machine %q: install_iso is required", mc.Name)
		}
	}

	if mc.IP != "" {
		if err := validation.ValidateIP(mc.IP); err != nil {
			return fmt.Errorf("machine %q: %w", mc.Name, err)
		}
		if prev, dup := ips[mc.IP]; dup {
			return fmt.Errorf("machines %q and %q share IP %s", prev, mc.Name, mc.IP)
		}
		ips[mc.IP] = mc.Name
		if mc.PrefixLength == 0 {
			mc.PrefixLength = 24
		}
	}
	if mc.IP == "" && (mc.Role == RolePrimaryDC || mc.Role == RoleReplicaDC) {
		return fmt.Errorf("machine %q: domain controllers need a static ip", mc.Name)
	}
	if mc.OU != "" {
		if err := validation.ValidateOUPath(mc.OU); err != nil {
			return fmt.Errorf("machine %q: %w", mc.Name, err)
		}
	}
	if mc.DHCP != nil && mc.Role != RolePrimaryDC {
		return fmt.Errorf("machine %q: dhcp is only valid on the primary-dc", mc.Name)
	}
	if len(mc.Shares) > 0 && mc.Role != RoleFileServer {
		return fmt.Errorf("machine %q: shares are only valid on a file-server", mc.Name)
	}
	if mc.WSUS != nil && mc.Role != RoleWSUS {
		return fmt.Errorf("machine %q: wsus config is only valid on the wsus role", mc.Name)
	}
	return nil
}
