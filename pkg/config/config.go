// Package config loads the host-connection and path configuration. All
// keys can be overridden through HVC_-prefixed environment variables
// (HVC_HOST_TRANSPORT, HVC_METRICS_PORT, ...).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Host    HostConfig    `yaml:"host"`
	Paths   PathsConfig   `yaml:"paths"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// HostConfig selects how hvc reaches the Hyper-V host. The default is
// running directly on the host; ssh drives a remote one.
type HostConfig struct {
	Transport string `yaml:"transport"` // local, ssh
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	User      string `yaml:"user"`
	Password  string `yaml:"password"`
	SSHKey    string `yaml:"ssh_key"`
}

type PathsConfig struct {
	StateDB   string `yaml:"state_db"`
	AuditLog  string `yaml:"audit_log"`
	MediaDir  string `yaml:"media_dir"`
	VMDir     string `yaml:"vm_dir"`
	ExportDir string `yaml:"export_dir"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load reads configuration from the given file, falling back to the
// default locations and then to built-in defaults. Environment
// variables override file values either way.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hvc")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".hvc"))
		}
	}

	v.SetEnvPrefix("HVC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// Only the default search locations may come up empty; an
		// explicitly named file must exist.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	config := &Config{
		Host: HostConfig{
			Transport: v.GetString("host.transport"),
			Host:      v.GetString("host.host"),
			Port:      v.GetInt("host.port"),
			User:      v.GetString("host.user"),
			Password:  v.GetString("host.password"),
			SSHKey:    v.GetString("host.ssh_key"),
		},
		Paths: PathsConfig{
			StateDB:   v.GetString("paths.state_db"),
			AuditLog:  v.GetString("paths.audit_log"),
			MediaDir:  v.GetString("paths.media_dir"),
			VMDir:     v.GetString("paths.vm_dir"),
			ExportDir: v.GetString("paths.export_dir"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("metrics.enabled"),
			Port:    v.GetInt("metrics.port"),
			Path:    v.GetString("metrics.path"),
		},
	}

	if config.Host.Transport == "ssh" && config.Host.Host == "" {
		return nil, fmt.Errorf("host.transport is ssh but host.host is empty")
	}
	return config, nil
}

func setDefaults(v *viper.Viper) {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	base := filepath.Join(home, ".hvc")

	v.SetDefault("host.transport", "local")
	v.SetDefault("host.port", 22)
	v.SetDefault("paths.state_db", filepath.Join(base, "state.db"))
	v.SetDefault("paths.audit_log", filepath.Join(base, "audit.json"))
	v.SetDefault("paths.media_dir", filepath.Join(base, "media"))
	v.SetDefault("paths.vm_dir", `C:\hvc\vms`)
	v.SetDefault("paths.export_dir", `C:\hvc\exports`)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}
