package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBaseURL         = "https://labs.hackthebox.com/api/"
	DefaultAPIVersion      = "v4"
	DefaultUserAgent       = "labvpn"
	DefaultMaxRetries      = 10
	DefaultAPITimeout      = 30 * time.Second
	DefaultInterfacePrefix = "tun_htb"
	DefaultOpenVPNBinary   = "openvpn"
	DefaultServiceDomain   = "hackthebox."
	DefaultProbe           = "ping"
	DefaultProbeCount      = 2
	DefaultPollInterval    = 5 * time.Second
	DefaultInitialDelay    = 3 * time.Second
)

// DefaultSTUNServers are used by the egress check when none are configured.
var DefaultSTUNServers = []string{
	"stun.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

// Config holds every setting the CLI reads from disk.
type Config struct {
	API       APIConfig       `yaml:"api"`
	VPN       VPNConfig       `yaml:"vpn"`
	Benchmark BenchmarkConfig `yaml:"benchmark"`
	Instance  InstanceConfig  `yaml:"instance"`
}

// APIConfig configures the remote lab service client.
type APIConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Version    string        `yaml:"version"`
	Token      string        `yaml:"token,omitempty"`
	UserAgent  string        `yaml:"user_agent"`
	MaxRetries int           `yaml:"max_retries"`
	Timeout    time.Duration `yaml:"timeout"`
}

// VPNConfig configures local tunnel handling.
type VPNConfig struct {
	InterfacePrefix string   `yaml:"interface_prefix"`
	OpenVPNBinary   string   `yaml:"openvpn_binary"`
	ServiceDomain   string   `yaml:"service_domain"`
	WorkDir         string   `yaml:"work_dir"`
	TCP             bool     `yaml:"tcp"`
	STUNServers     []string `yaml:"stun_servers"`
}

// BenchmarkConfig configures latency probing.
type BenchmarkConfig struct {
	Probe        string `yaml:"probe"`
	ProbeCount   int    `yaml:"probe_count"`
	HistoryPath  string `yaml:"history_path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// InstanceConfig configures lab machine polling.
type InstanceConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	InitialDelay time.Duration `yaml:"initial_delay"`
}

// DefaultPath returns ~/.config/labvpn/config.yaml.
func DefaultPath() string {
	return filepath.Join(dataDir(), "config.yaml")
}

func dataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".labvpn"
	}
	return filepath.Join(dir, "labvpn")
}

// Load reads and parses a YAML config file. A missing file yields defaults.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return Config{}, err
		}
		ApplyDefaults(&cfg)
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return cfg, nil
}

// Save writes a YAML config file to disk.
func Save(path string, cfg Config) error {
	ApplyDefaults(&cfg)
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks values that defaults cannot repair.
func Validate(cfg Config) error {
	if !strings.HasPrefix(cfg.API.BaseURL, "http://") && !strings.HasPrefix(cfg.API.BaseURL, "https://") {
		return fmt.Errorf("api.base_url must be an http(s) URL")
	}
	if cfg.API.MaxRetries < 0 {
		return fmt.Errorf("api.max_retries must not be negative")
	}
	if cfg.API.Timeout < 0 {
		return fmt.Errorf("api.timeout must not be negative")
	}
	if strings.ContainsAny(cfg.VPN.InterfacePrefix, " /\t") {
		return fmt.Errorf("vpn.interface_prefix %q is not a valid interface name", cfg.VPN.InterfacePrefix)
	}
	// Linux caps interface names at 15 bytes; three digits of suffix must fit.
	if len(cfg.VPN.InterfacePrefix) > 12 {
		return fmt.Errorf("vpn.interface_prefix %q is too long", cfg.VPN.InterfacePrefix)
	}
	switch cfg.Benchmark.Probe {
	case "ping", "icmp":
	default:
		return fmt.Errorf("benchmark.probe must be ping or icmp")
	}
	if cfg.Benchmark.ProbeCount < 1 {
		return fmt.Errorf("benchmark.probe_count must be positive")
	}
	if cfg.Instance.PollInterval <= 0 {
		return fmt.Errorf("instance.poll_interval must be positive")
	}
	return nil
}

// ApplyDefaults fills in default values when empty.
func ApplyDefaults(cfg *Config) {
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = DefaultBaseURL
	}
	if cfg.API.Version == "" {
		cfg.API.Version = DefaultAPIVersion
	}
	if cfg.API.UserAgent == "" {
		cfg.API.UserAgent = DefaultUserAgent
	}
	if cfg.API.MaxRetries == 0 {
		cfg.API.MaxRetries = DefaultMaxRetries
	}
	if cfg.API.Timeout == 0 {
		cfg.API.Timeout = DefaultAPITimeout
	}

	if cfg.VPN.InterfacePrefix == "" {
		cfg.VPN.InterfacePrefix = DefaultInterfacePrefix
	}
	if cfg.VPN.OpenVPNBinary == "" {
		cfg.VPN.OpenVPNBinary = DefaultOpenVPNBinary
	}
	if cfg.VPN.ServiceDomain == "" {
		cfg.VPN.ServiceDomain = DefaultServiceDomain
	}
	if cfg.VPN.WorkDir == "" {
		cfg.VPN.WorkDir = filepath.Join(os.TempDir(), "labvpn")
	}
	if len(cfg.VPN.STUNServers) == 0 {
		cfg.VPN.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}

	if cfg.Benchmark.Probe == "" {
		cfg.Benchmark.Probe = DefaultProbe
	}
	if cfg.Benchmark.ProbeCount == 0 {
		cfg.Benchmark.ProbeCount = DefaultProbeCount
	}
	if cfg.Benchmark.HistoryPath == "" {
		cfg.Benchmark.HistoryPath = filepath.Join(dataDir(), "benchmarks.csv")
	}
	if cfg.Benchmark.SnapshotPath == "" {
		cfg.Benchmark.SnapshotPath = filepath.Join(dataDir(), "restore.yaml")
	}

	if cfg.Instance.PollInterval == 0 {
		cfg.Instance.PollInterval = DefaultPollInterval
	}
	if cfg.Instance.InitialDelay == 0 {
		cfg.Instance.InitialDelay = DefaultInitialDelay
	}
}

// APIURL joins the base URL and API version.
func (c APIConfig) APIURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.Trim(c.Version, "/") + "/"
}
