package lab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/r11/hyperv-commander/internal/defaults"
	"github.com/r11/hyperv-commander/pkg/guest"
	"github.com/r11/hyperv-commander/pkg/hyperv"
	"github.com/r11/hyperv-commander/pkg/iso"
	"github.com/r11/hyperv-commander/pkg/orchestrator"
	"github.com/r11/hyperv-commander/pkg/retry"
	"github.com/r11/hyperv-commander/pkg/unattend"
)

// GuestRunner executes a script on one guest; satisfied by
// guest.Executor.
type GuestRunner interface {
	Run(ctx context.Context, target guest.Target, script string) (string, error)
}

// Environment holds the clients and host paths the stages act through.
type Environment struct {
	Host      *hyperv.Client
	Guest     GuestRunner
	MediaDir  string // answer ISOs land here
	VMDir     string // VM configuration and disks
	ExportDir string // clone exports
}

// Planner synthesizes the stage pipeline for one manifest.
type Planner struct {
	m   *Manifest
	env Environment

	localAdmin    guest.Credentials
	domainAdmin   guest.Credentials
	userPasswords map[string]string
	readyPolicy   retry.Policy
	replPolicy    retry.Policy
}

// NewPlanner resolves credentials and tunables up front so a bad
// environment fails before any host mutation.
func NewPlanner(m *Manifest, env Environment) (*Planner, error) {
	localAdmin, err := m.Credentials.LocalAdmin.Resolve()
	if err != nil {
		return nil, fmt.Errorf("local_admin: %w", err)
	}
	domainAdmin, err := m.Credentials.DomainAdmin.Resolve()
	if err != nil {
		return nil, fmt.Errorf("domain_admin: %w", err)
	}
	// Qualify the domain account so NTLM picks the domain, not the
	// local SAM.
	if !strings.Contains(domainAdmin.Username, "\\") && !strings.Contains(domainAdmin.Username, "@") {
		domainAdmin.Username = m.Domain.NetBIOS + "\\" + domainAdmin.Username
	}

	readyPolicy := retry.DefaultPolicy()
	if m.Tunables.ReadyTimeoutMinutes > 0 {
		readyPolicy.MaxElapsed = time.Duration(m.Tunables.ReadyTimeoutMinutes) * time.Minute
	}
	replPolicy := retry.ReplicationPolicy()
	if m.Tunables.ReplicationTimeoutMinutes > 0 {
		replPolicy.MaxElapsed = time.Duration(m.Tunables.ReplicationTimeoutMinutes) * time.Minute
	}

	userPasswords := make(map[string]string, len(m.Domain.Users))
	for _, u := range m.Domain.Users {
		creds, err := u.Password.Resolve()
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.Name, err)
		}
		userPasswords[u.Name] = creds.Password
	}

	return &Planner{
		m:             m,
		env:           env,
		localAdmin:    localAdmin,
		domainAdmin:   domainAdmin,
		userPasswords: userPasswords,
		readyPolicy:   readyPolicy,
		replPolicy:    replPolicy,
	}, nil
}

// Stages synthesizes the full pipeline in no particular order; the
// orchestrator sorts by dependency.
func (p *Planner) Stages() ([]orchestrator.Stage, error) {
	pd := p.m.PrimaryDC()
	if pd == nil {
		return nil, fmt.Errorf("manifest has no primary-dc")
	}

	var stages []orchestrator.Stage
	for _, n := range p.m.Networks {
		stages = append(stages, p.switchStage(n))
	}

	for i := range p.m.Machines {
		mc := &p.m.Machines[i]
		if mc.Role == RoleClonedDC {
			continue // clones get no install media or fresh VM
		}
		stages = append(stages,
			p.isoStage(mc, pd),
			p.vmStage(mc),
			p.reachableStage(mc),
			p.ejectStage(mc),
		)
	}

	stages = append(stages, p.forestStage(pd), p.directoryReadyStage(pd))
	if len(p.m.Domain.DNSForwarders) > 0 || p.networkFor(pd) != nil {
		stages = append(stages, p.dnsStage(pd))
	}
	if pd.DHCP != nil {
		stages = append(stages, p.dhcpStage(pd))
	}
	if p.m.Domain.UsersOU != "" || len(p.m.Domain.Users) > 0 || len(p.m.Domain.Groups) > 0 {
		stages = append(stages, p.accountsStage(pd))
	}

	// Replicas promote one at a time, in name order (scheduler ties
	// break on stage ID), so each one can only converge against the
	// DCs promoted before it.
	var replicaNames []string
	for i := range p.m.Machines {
		if p.m.Machines[i].Role == RoleReplicaDC {
			replicaNames = append(replicaNames, p.m.Machines[i].Name)
		}
	}
	sort.Strings(replicaNames)
	expectedDCs := make(map[string]int, len(replicaNames))
	for i, name := range replicaNames {
		expectedDCs[name] = i + 2
	}

	for i := range p.m.Machines {
		mc := &p.m.Machines[i]
		switch mc.Role {
		case RoleReplicaDC:
			stages = append(stages, p.joinStage(mc, pd), p.replicaStage(mc, pd, expectedDCs[mc.Name]))
		case RoleFileServer:
			stages = append(stages, p.joinStage(mc, pd))
			if len(mc.Shares) > 0 {
				stages = append(stages, p.sharesStage(mc))
			}
		case RoleWSUS:
			stages = append(stages, p.joinStage(mc, pd), p.wsusStage(mc))
		case RoleMember:
			stages = append(stages, p.joinStage(mc, pd))
		}
	}

	for _, g := range p.m.GPOs {
		stages = append(stages, p.gpoStage(g, pd))
	}

	cloneSources := make(map[string]bool)
	for i := range p.m.Machines {
		mc := &p.m.Machines[i]
		if mc.Role != RoleClonedDC {
			continue
		}
		source := p.m.Machine(mc.CloneOf)
		if !cloneSources[source.Name] {
			cloneSources[source.Name] = true
			stages = append(stages, p.cloneSourceStage(source, pd))
		}
		stages = append(stages, p.cloneConfigStage(mc, source), p.cloneStage(mc, source, pd))
	}

	return stages, nil
}

func switchStageID(name string) string { return "host/switch:" + name }
func isoStageID(name string) string { return "host/iso:" + name }
func vmStageID(name string) string { return "host/vm:" + name }
func reachableStageID(name string) string { return name + "/reachable" }
func joinStageID(name string) string { return name + "/join" }

func (p *Planner) networkFor(mc *Machine) *Network {
	for i := range p.m.Networks {
		if p.m.Networks[i].Name == mc.Switch {
			return &p.m.Networks[i]
		}
	}
	return nil
}

// targetFor resolves the guest address: the static IP when declared,
// otherwise the first address the integration services report.
func (p *Planner) targetFor(mc *Machine, creds guest.Credentials) func(ctx context.Context) (guest.Target, error) {
	return func(ctx context.Context) (guest.Target, error) {
		if mc.IP != "" {
			return guest.Target{Hostname: mc.IP, Creds: creds}, nil
		}
		addrs, err := p.env.Host.VMIPAddresses(ctx, mc.Name)
		if err != nil {
			return guest.Target{}, fmt.Errorf("resolve address of %s: %w", mc.Name, err)
		}
		if len(addrs) == 0 {
			return guest.Target{}, fmt.Errorf("%s has not reported an address yet", mc.Name)
		}
		return guest.Target{Hostname: addrs[0], Creds: creds}, nil
	}
}

// probe builds a Ready predicate: run the script, succeed when the
// output carries the marker.
func (p *Planner) probe(targetFn func(ctx context.Context) (guest.Target, error), script, marker string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		target, err := targetFn(ctx)
		if err != nil {
			return err
		}
		out, err := p.env.Guest.Run(ctx, target, script)
		if err != nil {
			return err
		}
		if !strings.Contains(out, marker) {
			return fmt.Errorf("probe reported %q", strings.TrimSpace(out))
		}
		return nil
	}
}

// checkProbe is probe with Check semantics: satisfied / not / unknown.
func (p *Planner) checkProbe(targetFn func(ctx context.Context) (guest.Target, error), script, marker string) func(ctx context.Context) (bool, error) {
	return func(ctx context.Context) (bool, error) {
		target, err := targetFn(ctx)
		if err != nil {
			return false, err
		}
		out, err := p.env.Guest.Run(ctx, target, script)
		if err != nil {
			return false, err
		}
		return strings.Contains(out, marker), nil
	}
}

// runScript builds a Run body executing one script on the guest.
func (p *Planner) runScript(targetFn func(ctx context.Context) (guest.Target, error), script string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		target, err := targetFn(ctx)
		if err != nil {
			return err
		}
		_, err = p.env.Guest.Run(ctx, target, script)
		return err
	}
}

// runRebooting is runScript for commands that reboot the guest: a
// dropped connection is the expected outcome, only an explicit non-zero
// exit is a failure.
func (p *Planner) runRebooting(targetFn func(ctx context.Context) (guest.Target, error), script string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		target, err := targetFn(ctx)
		if err != nil {
			return err
		}
		_, err = p.env.Guest.Run(ctx, target, script)
		if err != nil {
			var exitErr *guest.ExitError
			if errors.As(err, &exitErr) {
				return err
			}
			log.Debug().Err(err).Str("host", target.Hostname).Msg("Connection dropped during reboot command")
		}
		return nil
	}
}

func (p *Planner) switchStage(n Network) orchestrator.Stage {
	return orchestrator.Stage{
		ID:   switchStageID(n.Name),
		Node: "host",
		Name: fmt.Sprintf("create virtual switch %s", n.Name),
		Check: func(ctx context.Context) (bool, error) {
			return p.env.Host.SwitchExists(ctx, n.Name)
		},
		Run: func(ctx context.Context) error {
			return p.env.Host.CreateSwitch(ctx, hyperv.SwitchSpec{
				Name:      n.Name,
				Type:      n.Type,
				NATSubnet: n.NATSubnet,
				GatewayIP: n.Gateway,
			})
		},
	}
}

func (p *Planner) answerISOPath(mc *Machine) string {
	return filepath.Join(p.env.MediaDir, mc.Name+"-answer.iso")
}

func (p *Planner) isoStage(mc *Machine, pd *Machine) orchestrator.Stage {
	path := p.answerISOPath(mc)
	return orchestrator.Stage{
		ID:   isoStageID(mc.Name),
		Node: "host",
		Name: fmt.Sprintf("build answer media for %s", mc.Name),
		Check: func(ctx context.Context) (bool, error) {
			_, err := os.Stat(path)
			if err == nil {
				return true, nil
			}
			if os.IsNotExist(err) {
				return false, nil
			}
			return false, err
		},
		Run: func(ctx context.Context) error {
			cfg := unattend.Config{
				ComputerName:  mc.Name,
				AdminPassword: p.localAdmin.Password,
				ImageName:     mc.Image,
			}
			if cfg.ImageName == "" {
				cfg.ImageName = defaults.DefaultImage
			}
			if mc.IP != "" {
				static := &unattend.StaticIP{
					Address:      mc.IP,
					PrefixLength: mc.PrefixLength,
					Gateway:      mc.Gateway,
					DNS:          mc.DNS,
				}
				if static.PrefixLength == 0 {
					static.PrefixLength = 24
				}
				if static.Gateway == "" {
					if n := p.networkFor(mc); n != nil {
						static.Gateway = n.Gateway
					}
				}
				if len(static.DNS) == 0 && mc.Name != pd.Name {
					static.DNS = []string{pd.IP}
				}
				if len(static.DNS) == 0 {
					static.DNS = []string{mc.IP}
				}
				cfg.Static = static
			}
			xml, err := unattend.Render(cfg)
			if err != nil {
				return err
			}
			return iso.Build(path, "ANSWER", []iso.File{
				{Name: "autounattend.xml", Content: xml},
			})
		},
	}
}

func (p *Planner) vmStage(mc *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        vmStageID(mc.Name),
		Node:      "host",
		Name:      fmt.Sprintf("create and start VM %s", mc.Name),
		DependsOn: []string{switchStageID(mc.Switch), isoStageID(mc.Name)},
		Check: func(ctx context.Context) (bool, error) {
			return p.env.Host.VMExists(ctx, mc.Name)
		},
		Run: func(ctx context.Context) error {
			err := p.env.Host.CreateVM(ctx, hyperv.VMSpec{
				Name:       mc.Name,
				CPU:        mc.CPU,
				MemoryMB:   mc.MemoryMB,
				DiskGB:     mc.DiskGB,
				SwitchName: mc.Switch,
				VMPath:     p.env.VMDir,
				InstallISO: mc.InstallISO,
				AnswerISO:  p.answerISOPath(mc),
			})
			if err != nil {
				return err
			}
			return p.env.Host.StartVM(ctx, mc.Name)
		},
	}
}

func (p *Planner) reachableStage(mc *Machine) orchestrator.Stage {
	// Unattended install plus first boot runs far beyond a service-start
	// window.
	policy := p.replPolicy
	return orchestrator.Stage{
		ID:          reachableStageID(mc.Name),
		Node:        mc.Name,
		Name:        fmt.Sprintf("wait for %s to answer over WinRM", mc.Name),
		DependsOn:   []string{vmStageID(mc.Name)},
		Ready:       p.probe(p.targetFor(mc, p.localAdmin), guest.PingScript(), "pong"),
		ReadyPolicy: policy,
	}
}

// ejectStage drops the DVD drives once the installed guest answers, so
// later reboots cannot land back in Windows Setup.
func (p *Planner) ejectStage(mc *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        "host/eject:" + mc.Name,
		Node:      "host",
		Name:      fmt.Sprintf("eject install media from %s", mc.Name),
		DependsOn: []string{reachableStageID(mc.Name)},
		Run: func(ctx context.Context) error {
			return p.env.Host.EjectMedia(ctx, mc.Name)
		},
	}
}

func (p *Planner) forestStage(pd *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        pd.Name + "/forest",
		Node:      pd.Name,
		Name:      fmt.Sprintf("promote %s to first forest domain controller", pd.Name),
		DependsOn: []string{reachableStageID(pd.Name)},
		Check:     p.checkProbe(p.targetFor(pd, p.localAdmin), guest.IsDomainControllerScript(), "dc"),
		Run: p.runRebooting(p.targetFor(pd, p.localAdmin),
			guest.InstallForestScript(p.m.Domain.FQDN, p.m.Domain.NetBIOS, p.safeModePassword())),
	}
}

func (p *Planner) safeModePassword() string {
	creds, err := p.m.Domain.SafeModePass.Resolve()
	if err != nil {
		// fall back to the local admin password, the common lab choice
		return p.localAdmin.Password
	}
	return creds.Password
}

func (p *Planner) directoryReadyStage(pd *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        pd.Name + "/directory-ready",
		Node:      pd.Name,
		Name:      "wait for the directory to answer",
		DependsOn: []string{pd.Name + "/forest"},
		Ready: p.probe(p.targetFor(pd, p.domainAdmin),
			guest.DirectoryReadyScript(p.m.Domain.FQDN), "ready"),
		ReadyPolicy: p.replPolicy,
	}
}

func (p *Planner) dnsStage(pd *Machine) orchestrator.Stage {
	var scripts []string
	if len(p.m.Domain.DNSForwarders) > 0 {
		scripts = append(scripts, guest.DNSForwardersScript(p.m.Domain.DNSForwarders))
	}
	if n := p.networkFor(pd); n != nil && n.NATSubnet != "" {
		scripts = append(scripts, guest.DNSReverseZoneScript(n.NATSubnet))
	}
	return orchestrator.Stage{
		ID:        pd.Name + "/dns",
		Node:      pd.Name,
		Name:      "configure DNS forwarders and reverse zone",
		DependsOn: []string{pd.Name + "/directory-ready"},
		Run: func(ctx context.Context) error {
			for _, script := range scripts {
				if err := p.runScript(p.targetFor(pd, p.domainAdmin), script)(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (p *Planner) dhcpStage(pd *Machine) orchestrator.Stage {
	deps := []string{pd.Name + "/directory-ready"}
	if len(p.m.Domain.DNSForwarders) > 0 || p.networkFor(pd) != nil {
		deps = []string{pd.Name + "/dns"}
	}
	spec := guest.DHCPScopeSpec{
		Name:       pd.DHCP.Name,
		StartRange: pd.DHCP.StartRange,
		EndRange:   pd.DHCP.EndRange,
		SubnetMask: pd.DHCP.SubnetMask,
		Router:     pd.DHCP.Router,
		DNSServers: pd.DHCP.DNSServers,
		DNSDomain:  p.m.Domain.FQDN,
		DCFQDN:     strings.ToLower(pd.Name) + "." + p.m.Domain.FQDN,
	}
	if len(spec.DNSServers) == 0 {
		spec.DNSServers = []string{pd.IP}
	}
	return orchestrator.Stage{
		ID:          pd.Name + "/dhcp",
		Node:        pd.Name,
		Name:        "install and authorize DHCP",
		DependsOn:   deps,
		Run:         p.runScript(p.targetFor(pd, p.domainAdmin), guest.InstallDHCPScript(spec)),
		Ready:       p.probe(p.targetFor(pd, p.domainAdmin), guest.DHCPReadyScript(spec.Name), "ready"),
		ReadyPolicy: p.readyPolicy,
	}
}

// accountsStage pre-creates the lab OU, users, and groups on the
// primary DC.
func (p *Planner) accountsStage(pd *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        pd.Name + "/accounts",
		Node:      pd.Name,
		Name:      "create lab OU, users, and groups",
		DependsOn: []string{pd.Name + "/directory-ready"},
		Run: func(ctx context.Context) error {
			targetFn := p.targetFor(pd, p.domainAdmin)
			ouPath := ""
			if p.m.Domain.UsersOU != "" {
				ouPath = "OU=" + p.m.Domain.UsersOU + "," + p.m.DomainDN()
				if err := p.runScript(targetFn, guest.CreateOUScript(p.m.Domain.UsersOU, p.m.DomainDN()))(ctx); err != nil {
					return fmt.Errorf("ou %s: %w", p.m.Domain.UsersOU, err)
				}
			}
			for _, u := range p.m.Domain.Users {
				sam := u.SamAccountName
				if sam == "" {
					sam = u.Name
				}
				script := guest.CreateUserScript(u.Name, sam, p.m.Domain.FQDN, p.userPasswords[u.Name], ouPath)
				if err := p.runScript(targetFn, script)(ctx); err != nil {
					return fmt.Errorf("user %s: %w", u.Name, err)
				}
			}
			for _, g := range p.m.Domain.Groups {
				if err := p.runScript(targetFn, guest.CreateGroupScript(g.Name, ouPath, g.Members))(ctx); err != nil {
					return fmt.Errorf("group %s: %w", g.Name, err)
				}
			}
			return nil
		},
	}
}

func (p *Planner) joinStage(mc *Machine, pd *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        joinStageID(mc.Name),
		Node:      mc.Name,
		Name:      fmt.Sprintf("join %s to %s", mc.Name, p.m.Domain.FQDN),
		DependsOn: []string{reachableStageID(mc.Name), pd.Name + "/directory-ready"},
		Check: p.checkProbe(p.targetFor(mc, p.localAdmin),
			guest.DomainMemberScript(p.m.Domain.FQDN), "joined"),
		Run: p.runRebooting(p.targetFor(mc, p.localAdmin),
			guest.JoinDomainScript(p.m.Domain.FQDN, p.domainAdmin, mc.OU)),
		Ready: p.probe(p.targetFor(mc, p.domainAdmin),
			guest.DomainMemberScript(p.m.Domain.FQDN), "joined"),
		ReadyPolicy: p.readyPolicy,
	}
}

func (p *Planner) sharesStage(mc *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        mc.Name + "/shares",
		Node:      mc.Name,
		Name:      fmt.Sprintf("create %d SMB shares", len(mc.Shares)),
		DependsOn: []string{joinStageID(mc.Name)},
		Run: func(ctx context.Context) error {
			for _, share := range mc.Shares {
				script := guest.CreateShareScript(guest.ShareSpec{
					Name:         share.Name,
					Path:         share.Path,
					Description:  share.Description,
					FullAccess:   share.FullAccess,
					ChangeAccess: share.ChangeAccess,
					ReadAccess:   share.ReadAccess,
				})
				if err := p.runScript(p.targetFor(mc, p.domainAdmin), script)(ctx); err != nil {
					return fmt.Errorf("share %s: %w", share.Name, err)
				}
			}
			return nil
		},
	}
}

func (p *Planner) wsusStage(mc *Machine) orchestrator.Stage {
	spec := guest.WSUSSpec{}
	if mc.WSUS != nil {
		spec.ContentDir = mc.WSUS.ContentDir
		spec.Products = mc.WSUS.Products
		spec.Classifications = mc.WSUS.Classifications
	}
	return orchestrator.Stage{
		ID:        mc.Name + "/wsus",
		Node:      mc.Name,
		Name:      "install and configure WSUS",
		DependsOn: []string{joinStageID(mc.Name)},
		Run: func(ctx context.Context) error {
			targetFn := p.targetFor(mc, p.domainAdmin)
			if err := p.runScript(targetFn, guest.InstallWSUSScript(spec))(ctx); err != nil {
				return err
			}
			return p.runScript(targetFn, guest.ConfigureWSUSScript(spec))(ctx)
		},
		Ready:       p.probe(p.targetFor(mc, p.domainAdmin), guest.WSUSReadyScript(), "ready"),
		ReadyPolicy: p.readyPolicy,
	}
}

func (p *Planner) replicaStage(mc *Machine, pd *Machine, expectedDCs int) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        mc.Name + "/replica",
		Node:      mc.Name,
		Name:      fmt.Sprintf("promote %s to replica domain controller", mc.Name),
		DependsOn: []string{joinStageID(mc.Name)},
		Check: p.checkProbe(p.targetFor(mc, p.domainAdmin),
			guest.IsDomainControllerScript(), "dc"),
		Run: p.runRebooting(p.targetFor(mc, p.domainAdmin),
			guest.InstallReplicaScript(p.m.Domain.FQDN, p.safeModePassword(), p.domainAdmin)),
		// Convergence is observed from the primary: every DC promoted so
		// far advertising and SYSVOL shared.
		Ready: p.probe(p.targetFor(pd, p.domainAdmin),
			guest.ReplicationConvergedScript(expectedDCs), "converged"),
		ReadyPolicy: p.replPolicy,
	}
}

func (p *Planner) gpoStage(g GPO, pd *Machine) orchestrator.Stage {
	deps := []string{pd.Name + "/directory-ready"}
	values := make([]guest.GPORegistryValue, 0, len(g.Registry)+4)
	for _, item := range g.Registry {
		values = append(values, guest.GPORegistryValue{
			Key:       item.Key,
			ValueName: item.ValueName,
			Type:      item.Type,
			Value:     item.Value,
		})
	}
	if g.WSUSFrom != "" {
		w := p.m.Machine(g.WSUSFrom)
		port := defaults.DefaultWSUSPort
		if w.WSUS != nil && w.WSUS.Port > 0 {
			port = w.WSUS.Port
		}
		url := fmt.Sprintf("http://%s.%s:%d", strings.ToLower(w.Name), p.m.Domain.FQDN, port)
		values = append(values, guest.WSUSClientGPOValues(url)...)
		deps = append(deps, w.Name+"/wsus")
	}
	return orchestrator.Stage{
		ID:        "host/gpo:" + g.Name,
		Node:      pd.Name,
		Name:      fmt.Sprintf("create and link GPO %s", g.Name),
		DependsOn: deps,
		Run: p.runScript(p.targetFor(pd, p.domainAdmin),
			guest.NewGPOScript(g.Name, g.Target, values)),
	}
}

func (p *Planner) cloneSourceStage(source *Machine, pd *Machine) orchestrator.Stage {
	dep := pd.Name + "/directory-ready"
	if source.Role == RoleReplicaDC {
		dep = source.Name + "/replica"
	}
	return orchestrator.Stage{
		ID:        source.Name + "/clone-source",
		Node:      source.Name,
		Name:      fmt.Sprintf("mark %s cloneable", source.Name),
		DependsOn: []string{dep},
		Run: p.runScript(p.targetFor(pd, p.domainAdmin),
			guest.AddCloneSourceScript(source.Name)),
		// The membership must replicate to the source DC itself before
		// the clone config is valid.
		Ready: p.probe(p.targetFor(source, p.domainAdmin),
			guest.CloneMembershipVisibleScript(source.Name), "visible"),
		ReadyPolicy: p.replPolicy,
	}
}

func (p *Planner) cloneConfigStage(mc *Machine, source *Machine) orchestrator.Stage {
	gateway := mc.Gateway
	if gateway == "" {
		if n := p.networkFor(mc); n != nil {
			gateway = n.Gateway
		}
	}
	dns := mc.DNS
	if len(dns) == 0 && source.IP != "" {
		dns = []string{source.IP}
	}
	prefix := mc.PrefixLength
	if prefix == 0 {
		prefix = 24
	}
	return orchestrator.Stage{
		ID:        source.Name + "/clone-config:" + mc.Name,
		Node:      source.Name,
		Name:      fmt.Sprintf("write clone config for %s", mc.Name),
		DependsOn: []string{source.Name + "/clone-source"},
		Run: p.runScript(p.targetFor(source, p.domainAdmin),
			guest.CloneConfigScript(mc.Name, mc.IP, prefix, gateway, dns)),
	}
}

func (p *Planner) cloneStage(mc *Machine, source *Machine, pd *Machine) orchestrator.Stage {
	return orchestrator.Stage{
		ID:        "host/clone:" + mc.Name,
		Node:      "host",
		Name:      fmt.Sprintf("clone %s from %s", mc.Name, source.Name),
		DependsOn: []string{source.Name + "/clone-config:" + mc.Name},
		Check: func(ctx context.Context) (bool, error) {
			return p.env.Host.VMExists(ctx, mc.Name)
		},
		Run: func(ctx context.Context) error {
			// Cloning requires the source cold; export, import as a new
			// identity, then bring both up. The clone boots into the
			// virtualization-safe cloning path because the config file
			// is present.
			if err := p.env.Host.StopVM(ctx, source.Name, false); err != nil {
				return fmt.Errorf("stop clone source: %w", err)
			}
			// A resumed run may find a stale export from the failed
			// attempt; Export-VM refuses to overwrite it.
			if err := p.env.Host.RemoveExport(ctx, source.Name, p.env.ExportDir); err != nil {
				return fmt.Errorf("clear stale export: %w", err)
			}
			if err := p.env.Host.ExportVM(ctx, source.Name, p.env.ExportDir); err != nil {
				return fmt.Errorf("export clone source: %w", err)
			}
			if err := p.env.Host.ImportVMCopy(ctx, source.Name, p.env.ExportDir, mc.Name, p.env.VMDir); err != nil {
				return fmt.Errorf("import clone: %w", err)
			}
			if err := p.env.Host.StartVM(ctx, source.Name); err != nil {
				return fmt.Errorf("restart clone source: %w", err)
			}
			return p.env.Host.StartVM(ctx, mc.Name)
		},
		Ready: p.probe(p.targetFor(pd, p.domainAdmin),
			guest.AdvertisingDCScript(mc.Name), "advertising"),
		ReadyPolicy: p.replPolicy,
	}
}

// Destroy tears a lab down: every VM removed, every switch removed.
// Missing resources are not errors.
func Destroy(ctx context.Context, m *Manifest, env Environment) error {
	// Deterministic order for logs.
	machines := make([]string, 0, len(m.Machines))
	for _, mc := range m.Machines {
		machines = append(machines, mc.Name)
	}
	sort.Strings(machines)

	for _, name := range machines {
		exists, err := env.Host.VMExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := env.Host.StopVM(ctx, name, true); err != nil {
			log.Warn().Err(err).Str("vm", name).Msg("Failed to stop VM before removal")
		}
		if err := env.Host.RemoveVM(ctx, name); err != nil {
			return fmt.Errorf("remove VM %s: %w", name, err)
		}
		log.Info().Str("vm", name).Msg("VM removed")
	}

	for _, n := range m.Networks {
		exists, err := env.Host.SwitchExists(ctx, n.Name)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}
		if err := env.Host.RemoveSwitch(ctx, n.Name); err != nil {
			return fmt.Errorf("remove switch %s: %w", n.Name, err)
		}
		log.Info().Str("switch", n.Name).Msg("Switch removed")
	}
	return nil
}
