package lab

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r11/hyperv-commander/pkg/guest"
	"github.com/r11/hyperv-commander/pkg/hyperv"
	"github.com/r11/hyperv-commander/pkg/orchestrator"
)

type fakeHostRunner struct {
	scripts []string
	output  string
}

func (f *fakeHostRunner) Run(ctx context.Context, script string) (string, error) {
	f.scripts = append(f.scripts, script)
	return f.output, nil
}

func (f *fakeHostRunner) Close() error { return nil }

type fakeGuestRunner struct {
	calls []struct {
		Target guest.Target
		Script string
	}
	output string
}

func (f *fakeGuestRunner) Run(ctx context.Context, target guest.Target, script string) (string, error) {
	f.calls = append(f.calls, struct {
		Target guest.Target
		Script string
	}{target, script})
	return f.output, nil
}

func fullManifest() *Manifest {
	m := validManifest()
	m.Domain.DNSForwarders = []string{"1.1.1.1"}
	m.Machines[0].DHCP = &DHCPScope{
		Name:       "lab-scope",
		StartRange: "192.168.210.100",
		EndRange:   "192.168.210.200",
		SubnetMask: "255.255.255.0",
		Router:     "192.168.210.1",
	}
	m.Machines = append(m.Machines,
		Machine{
			Name: "DC02", Role: RoleReplicaDC,
			CPU: 2, MemoryMB: 4096, DiskGB: 60,
			Switch: "lab-net", InstallISO: `C:\iso\ws2022.iso`,
			IP: "192.168.210.11",
		},
		Machine{
			Name: "WSUS01", Role: RoleWSUS,
			CPU: 2, MemoryMB: 4096, DiskGB: 100,
			Switch: "lab-net", InstallISO: `C:\iso\ws2022.iso`,
			IP:   "192.168.210.30",
			WSUS: &WSUS{Products: []string{"Windows Server 2022"}},
		},
		Machine{
			Name: "DC03", Role: RoleClonedDC,
			Switch: "lab-net", CloneOf: "DC01",
			IP: "192.168.210.12",
		},
	)
	m.GPOs = []GPO{
		{Name: "WSUS Clients", Target: "DC=lab,DC=local", WSUSFrom: "WSUS01"},
	}
	return m
}

func testEnv(t *testing.T) (Environment, *fakeGuestRunner) {
	t.Helper()
	dir := t.TempDir()
	guestRunner := &fakeGuestRunner{}
	return Environment{
		Host:      hyperv.NewClient(&fakeHostRunner{}),
		Guest:     guestRunner,
		MediaDir:  dir,
		VMDir:     dir,
		ExportDir: dir,
	}, guestRunner
}

func stageIndex(t *testing.T, ordered []orchestrator.Stage, id string) int {
	t.Helper()
	for i, s := range ordered {
		if s.ID == id {
			return i
		}
	}
	t.Fatalf("stage %s not in plan", id)
	return -1
}

func TestPlannerSynthesizesFullPipeline(t *testing.T) {
	m := fullManifest()
	require.NoError(t, m.Validate())
	env, _ := testEnv(t)

	planner, err := NewPlanner(m, env)
	require.NoError(t, err)
	stages, err := planner.Stages()
	require.NoError(t, err)

	ids := make(map[string]bool, len(stages))
	for _, s := range stages {
		ids[s.ID] = true
	}
	for _, want := range []string{
		"host/switch:lab-net",
		"host/iso:DC01", "host/vm:DC01", "DC01/reachable", "host/eject:DC01",
		"DC01/forest", "DC01/directory-ready", "DC01/dns", "DC01/dhcp",
		"FS01/join", "FS01/shares", "host/eject:FS01",
		"DC02/join", "DC02/replica",
		"WSUS01/join", "WSUS01/wsus",
		"host/gpo:WSUS Clients",
		"DC01/clone-source", "DC01/clone-config:DC03", "host/clone:DC03",
	} {
		assert.True(t, ids[want], "missing stage %s", want)
	}

	// clones get no fresh VM, media, or eject
	assert.False(t, ids["host/iso:DC03"])
	assert.False(t, ids["host/vm:DC03"])
	assert.False(t, ids["host/eject:DC03"])

	// no lab accounts declared, no accounts stage
	assert.False(t, ids["DC01/accounts"])
}

func TestPlannerOrderingConstraints(t *testing.T) {
	m := fullManifest()
	require.NoError(t, m.Validate())
	env, _ := testEnv(t)

	planner, err := NewPlanner(m, env)
	require.NoError(t, err)
	stages, err := planner.Stages()
	require.NoError(t, err)
	ordered, err := orchestrator.Sort(stages)
	require.NoError(t, err)

	before := func(a, b string) {
		assert.Less(t, stageIndex(t, ordered, a), stageIndex(t, ordered, b), "%s must precede %s", a, b)
	}

	before("host/switch:lab-net", "host/vm:DC01")
	before("host/iso:DC01", "host/vm:DC01")
	before("host/vm:DC01", "DC01/reachable")
	before("DC01/reachable", "host/eject:DC01")
	before("DC01/reachable", "DC01/forest")
	before("DC01/forest", "DC01/directory-ready")
	before("DC01/directory-ready", "DC01/dns")
	before("DC01/dns", "DC01/dhcp")
	before("DC01/directory-ready", "FS01/join")
	before("FS01/join", "FS01/shares")
	before("DC02/join", "DC02/replica")
	before("WSUS01/wsus", "host/gpo:WSUS Clients")
	before("DC01/directory-ready", "DC01/clone-source")
	before("DC01/clone-source", "DC01/clone-config:DC03")
	before("DC01/clone-config:DC03", "host/clone:DC03")
}

func TestPlannerQualifiesDomainAdmin(t *testing.T) {
	m := fullManifest()
	env, _ := testEnv(t)

	planner, err := NewPlanner(m, env)
	require.NoError(t, err)
	assert.Equal(t, "LAB\\Administrator", planner.domainAdmin.Username)

	m.Credentials.DomainAdmin.Username = "LAB\\admin"
	planner, err = NewPlanner(m, env)
	require.NoError(t, err)
	assert.Equal(t, "LAB\\admin", planner.domainAdmin.Username)
}

func TestPlannerFailsWithoutCredentials(t *testing.T) {
	m := fullManifest()
	m.Credentials.DomainAdmin = CredentialRef{Username: "admin", PasswordEnv: "HVC_MISSING_VAR"}
	env, _ := testEnv(t)

	_, err := NewPlanner(m, env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "domain_admin")
}

func TestProbeMatchesMarker(t *testing.T) {
	m := fullManifest()
	env, guestRunner := testEnv(t)
	planner, err := NewPlanner(m, env)
	require.NoError(t, err)

	targetFn := planner.targetFor(m.PrimaryDC(), planner.localAdmin)

	guestRunner.output = "pong"
	probe := planner.probe(targetFn, "Write-Output 'pong'", "pong")
	require.NoError(t, probe(context.Background()))
	require.Len(t, guestRunner.calls, 1)
	assert.Equal(t, "192.168.210.10", guestRunner.calls[0].Target.Hostname)
	assert.Equal(t, "Administrator", guestRunner.calls[0].Target.Creds.Username)

	guestRunner.output = "not-ready"
	err = probe(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not-ready")
}

func TestReplicaConvergenceObservedFromPrimary(t *testing.T) {
	m := fullManifest()
	env, guestRunner := testEnv(t)
	planner, err := NewPlanner(m, env)
	require.NoError(t, err)

	stages, err := planner.Stages()
	require.NoError(t, err)

	var replica orchestrator.Stage
	for _, s := range stages {
		if s.ID == "DC02/replica" {
			replica = s
		}
	}
	require.NotNil(t, replica.Ready)

	guestRunner.output = "converged"
	require.NoError(t, replica.Ready(context.Background()))
	// the probe lands on the primary, not the replica
	assert.Equal(t, "192.168.210.10", guestRunner.calls[len(guestRunner.calls)-1].Target.Hostname)
	assert.Equal(t, "LAB\\Administrator", guestRunner.calls[len(guestRunner.calls)-1].Target.Creds.Username)
}

func TestReplicaConvergenceCountsPromoteIncrementally(t *testing.T) {
	m := fullManifest()
	m.Machines = append(m.Machines, Machine{
		Name: "DC04", Role: RoleReplicaDC,
		CPU: 2, MemoryMB: 4096, DiskGB: 60,
		Switch: "lab-net", InstallISO: `C:\iso\ws2022.iso`,
		IP: "192.168.210.13",
	})
	require.NoError(t, m.Validate())

	env, guestRunner := testEnv(t)
	planner, err := NewPlanner(m, env)
	require.NoError(t, err)
	stages, err := planner.Stages()
	require.NoError(t, err)

	guestRunner.output = "converged"
	readyScript := func(id string) string {
		for _, s := range stages {
			if s.ID == id {
				require.NoError(t, s.Ready(context.Background()))
				return guestRunner.calls[len(guestRunner.calls)-1].Script
			}
		}
		t.Fatalf("stage %s not in plan", id)
		return ""
	}

	// Replicas promote in name order, so the first can only ever see
	// two DCs; demanding the final count would poll forever.
	assert.Contains(t, readyScript("DC02/replica"), "$dcs.Count -ge 2")
	assert.Contains(t, readyScript("DC04/replica"), "$dcs.Count -ge 3")
}

func TestAccountsStageCreatesOUUsersGroups(t *testing.T) {
	m := fullManifest()
	m.Domain.UsersOU = "LabUsers"
	m.Domain.Users = []DomainUser{{Name: "jdoe", Password: CredentialRef{Password: "P@ss1"}}}
	m.Domain.Groups = []DomainGroup{{Name: "LabAdmins", Members: []string{"jdoe"}}}
	require.NoError(t, m.Validate())

	env, guestRunner := testEnv(t)
	planner, err := NewPlanner(m, env)
	require.NoError(t, err)
	stages, err := planner.Stages()
	require.NoError(t, err)

	var accounts orchestrator.Stage
	for _, s := range stages {
		if s.ID == "DC01/accounts" {
			accounts = s
		}
	}
	require.NotNil(t, accounts.Run)
	assert.Contains(t, accounts.DependsOn, "DC01/directory-ready")

	require.NoError(t, accounts.Run(context.Background()))
	require.Len(t, guestRunner.calls, 3)
	assert.Contains(t, guestRunner.calls[0].Script, "New-ADOrganizationalUnit")
	assert.Contains(t, guestRunner.calls[1].Script, "New-ADUser")
	assert.Contains(t, guestRunner.calls[1].Script, "-Path 'OU=LabUsers,DC=lab,DC=local'")
	assert.Contains(t, guestRunner.calls[2].Script, "New-ADGroup")
	assert.Contains(t, guestRunner.calls[2].Script, "Add-ADGroupMember")
}

func TestCloneRunClearsStaleExport(t *testing.T) {
	m := fullManifest()
	dir := t.TempDir()
	hostRunner := &fakeHostRunner{}
	env := Environment{
		Host:      hyperv.NewClient(hostRunner),
		Guest:     &fakeGuestRunner{},
		MediaDir:  dir,
		VMDir:     dir,
		ExportDir: dir,
	}
	planner, err := NewPlanner(m, env)
	require.NoError(t, err)
	stages, err := planner.Stages()
	require.NoError(t, err)

	var clone orchestrator.Stage
	for _, s := range stages {
		if s.ID == "host/clone:DC03" {
			clone = s
		}
	}
	require.NotNil(t, clone.Run)
	require.NoError(t, clone.Run(context.Background()))

	removeAt, exportAt := -1, -1
	for i, script := range hostRunner.scripts {
		if removeAt == -1 && strings.Contains(script, "Remove-Item") {
			removeAt = i
		}
		if strings.Contains(script, "Export-VM") {
			exportAt = i
		}
	}
	require.GreaterOrEqual(t, removeAt, 0, "stale export must be cleared")
	require.GreaterOrEqual(t, exportAt, 0)
	assert.Less(t, removeAt, exportAt, "clearing must happen before the new export")
}

func TestISOStageWritesAnswerMedia(t *testing.T) {
	m := fullManifest()
	env, _ := testEnv(t)
	planner, err := NewPlanner(m, env)
	require.NoError(t, err)

	stages, err := planner.Stages()
	require.NoError(t, err)

	var isoStage orchestrator.Stage
	for _, s := range stages {
		if s.ID == "host/iso:FS01" {
			isoStage = s
		}
	}
	require.NotNil(t, isoStage.Run)

	satisfied, err := isoStage.Check(context.Background())
	require.NoError(t, err)
	assert.False(t, satisfied)

	require.NoError(t, isoStage.Run(context.Background()))

	satisfied, err = isoStage.Check(context.Background())
	require.NoError(t, err)
	assert.True(t, satisfied, "answer media must exist after the stage runs")
}
