package defaults

const (
	DefaultCPU      = 2
	DefaultRAMMB    = 4096
	DefaultDiskGB   = 60
	DefaultImage    = "Windows Server 2022 SERVERSTANDARD"
	DefaultSwitch   = "hvc-lab"
	DefaultWSUSPort = 8530
)
