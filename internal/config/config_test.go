package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/zalando/go-keyring"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	ApplyDefaults(&cfg)

	if cfg.VPN.InterfacePrefix != DefaultInterfacePrefix {
		t.Fatalf("interface_prefix=%q", cfg.VPN.InterfacePrefix)
	}
	if cfg.VPN.ServiceDomain != DefaultServiceDomain {
		t.Fatalf("service_domain=%q", cfg.VPN.ServiceDomain)
	}
	if cfg.Benchmark.ProbeCount != DefaultProbeCount {
		t.Fatalf("probe_count=%d", cfg.Benchmark.ProbeCount)
	}
	if cfg.Instance.PollInterval != DefaultPollInterval {
		t.Fatalf("poll_interval=%s", cfg.Instance.PollInterval)
	}
	if cfg.API.Timeout != DefaultAPITimeout {
		t.Fatalf("timeout=%s", cfg.API.Timeout)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"base url":     func(c *Config) { c.API.BaseURL = "labs.example" },
		"prefix space": func(c *Config) { c.VPN.InterfacePrefix = "tun htb" },
		"prefix long":  func(c *Config) { c.VPN.InterfacePrefix = "averyverylongname" },
		"probe":        func(c *Config) { c.Benchmark.Probe = "tcp" },
		"count":        func(c *Config) { c.Benchmark.ProbeCount = -1 },
		"timeout":      func(c *Config) { c.API.Timeout = -time.Second },
	}
	for name, mutate := range cases {
		var cfg Config
		ApplyDefaults(&cfg)
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.API.BaseURL != DefaultBaseURL {
		t.Fatalf("base_url=%q", cfg.API.BaseURL)
	}
}

func TestSave_RoundTripWrites0600(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	in := Config{
		VPN:      VPNConfig{InterfacePrefix: "tun_lab", TCP: true},
		Instance: InstanceConfig{PollInterval: 2 * time.Second},
	}
	if err := Save(path, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	out, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if out.VPN.InterfacePrefix != "tun_lab" || !out.VPN.TCP {
		t.Fatalf("vpn=%+v", out.VPN)
	}
	if out.Instance.PollInterval != 2*time.Second {
		t.Fatalf("poll_interval=%s", out.Instance.PollInterval)
	}
}

func TestAPIURL(t *testing.T) {
	t.Parallel()

	c := APIConfig{BaseURL: "https://labs.example/api", Version: "v4"}
	if got := c.APIURL(); got != "https://labs.example/api/v4/" {
		t.Fatalf("got=%q", got)
	}
}

type memKeyring map[string]string

func (m memKeyring) Get(service, user string) (string, error) {
	v, ok := m[service+"/"+user]
	if !ok {
		return "", keyring.ErrNotFound
	}
	return v, nil
}

func (m memKeyring) Set(service, user, secret string) error {
	m[service+"/"+user] = secret
	return nil
}

func TestResolveToken_Order(t *testing.T) {
	t.Setenv(TokenEnv, "")

	kr := memKeyring{}
	if _, err := ResolveToken(Config{}, kr); !errors.Is(err, ErrNoToken) {
		t.Fatalf("err=%v", err)
	}

	if err := StoreToken(kr, " from-keyring \n"); err != nil {
		t.Fatalf("StoreToken: %v", err)
	}
	tok, err := ResolveToken(Config{}, kr)
	if err != nil || tok != "from-keyring" {
		t.Fatalf("tok=%q err=%v", tok, err)
	}

	cfg := Config{API: APIConfig{Token: "from-file"}}
	if tok, _ := ResolveToken(cfg, kr); tok != "from-file" {
		t.Fatalf("tok=%q", tok)
	}

	t.Setenv(TokenEnv, "from-env")
	if tok, _ := ResolveToken(cfg, kr); tok != "from-env" {
		t.Fatalf("tok=%q", tok)
	}
}

func TestStoreToken_RejectsEmpty(t *testing.T) {
	t.Parallel()

	if err := StoreToken(memKeyring{}, "  "); err == nil {
		t.Fatalf("expected error")
	}
}
