package main

import (
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/apex/log"

	"labvpn/internal/addrutil"
	"labvpn/internal/api"
	"labvpn/internal/assignment"
	"labvpn/internal/benchmark"
	"labvpn/internal/catalog"
	"labvpn/internal/config"
	"labvpn/internal/execx"
	"labvpn/internal/instance"
	"labvpn/internal/netcheck"
	"labvpn/internal/probe"
	"labvpn/internal/profile"
	"labvpn/internal/store"
	"labvpn/internal/switcher"
	"labvpn/internal/tunnel"
)

// app wires the packages for one command invocation.
type app struct {
	cfg      config.Config
	client   *api.Client
	catalog  *catalog.Catalog
	registry *assignment.Registry
	switcher *switcher.Switcher
	profiles *profile.Store
	runner   *execx.OSRunner
}

func newApp(cfg config.Config) *app {
	token, err := config.ResolveToken(cfg, config.SystemKeyring{})
	if err != nil {
		fatal(err)
	}

	client := api.NewClient(cfg.API.APIURL(), token,
		api.WithUserAgent(cfg.API.UserAgent),
		api.WithMaxRetries(cfg.API.MaxRetries),
		api.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
	)
	registry := assignment.New(client, log.Log)
	sw := switcher.New(client, registry, log.Log)

	if err := os.MkdirAll(cfg.VPN.WorkDir, 0o700); err != nil {
		fatal(err)
	}

	return &app{
		cfg:      cfg,
		client:   client,
		catalog:  catalog.New(client, catalog.NewCache(), log.Log),
		registry: registry,
		switcher: sw,
		profiles: profile.NewStore(client, sw, log.Log),
		runner:   execx.NewOSRunner(),
	}
}

func (a *app) tunnels(confirm tunnel.ConfirmFunc) *tunnel.Manager {
	return tunnel.NewManager(tunnel.Config{
		Binary:          a.cfg.VPN.OpenVPNBinary,
		InterfacePrefix: a.cfg.VPN.InterfacePrefix,
		ServiceDomain:   a.cfg.VPN.ServiceDomain,
		WorkDir:         a.cfg.VPN.WorkDir,
	}, tunnel.Deps{
		Registry:   a.registry,
		Switcher:   a.switcher,
		Profiles:   a.profiles,
		Interfaces: tunnel.SystemInterfaces{},
		Spawner:    a.runner,
		Runner:     a.runner,
		Signaler:   a.runner,
		Confirm:    confirm,
		Logger:     log.Log,
	})
}

func (a *app) prober() probe.Prober {
	if a.cfg.Benchmark.Probe == "icmp" {
		return probe.NewICMPProber()
	}
	return probe.NewPingProber(a.runner)
}

func (a *app) snapshots() store.SnapshotFile {
	return store.SnapshotFile{Path: a.cfg.Benchmark.SnapshotPath}
}

func (a *app) benchmark() *benchmark.Engine {
	return benchmark.NewEngine(benchmark.Config{
		ProbeCount: a.cfg.Benchmark.ProbeCount,
		WorkDir:    a.cfg.VPN.WorkDir,
		TCP:        a.cfg.VPN.TCP,
	}, benchmark.Deps{
		Catalog:   a.catalog,
		Registry:  a.registry,
		Switcher:  a.switcher,
		Profiles:  a.profiles,
		Prober:    a.prober(),
		Snapshots: a.snapshots(),
		Logger:    log.Log,
	})
}

func (a *app) correlator(tunnels *tunnel.Manager) *instance.Correlator {
	return instance.NewCorrelator(a.client, a.registry, tunnels, instance.PollPolicy{
		Interval:     a.cfg.Instance.PollInterval,
		InitialDelay: a.cfg.Instance.InitialDelay,
	}, log.Log)
}

func (a *app) egress() *netcheck.Checker {
	return &netcheck.Checker{
		Servers:    a.cfg.VPN.STUNServers,
		Timeout:    3 * time.Second,
		LocalAddrs: localAddrs,
	}
}

func localAddrs() ([]netip.Addr, error) {
	ifaces, err := tunnel.SystemInterfaces{}.Interfaces()
	if err != nil {
		return nil, err
	}
	var out []netip.Addr
	for _, iface := range ifaces {
		for _, s := range iface.Addrs {
			if addr, ok := addrutil.IP(s); ok {
				out = append(out, addr)
			}
		}
	}
	return out, nil
}

// tunnelInterfaces lists local interfaces carrying the configured prefix.
func (a *app) tunnelInterfaces() []tunnel.Interface {
	ifaces, err := tunnel.SystemInterfaces{}.Interfaces()
	if err != nil {
		log.WithError(err).Warn("cannot list interfaces")
		return nil
	}
	var out []tunnel.Interface
	for _, iface := range ifaces {
		if strings.HasPrefix(iface.Name, a.cfg.VPN.InterfacePrefix) {
			out = append(out, iface)
		}
	}
	return out
}
