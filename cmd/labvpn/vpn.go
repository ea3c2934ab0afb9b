package main

import (
	"cmp"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/google/uuid"

	"labvpn/internal/benchmark"
	"labvpn/internal/catalog"
	"labvpn/internal/metrics"
	"labvpn/internal/model"
	"labvpn/internal/profile"
	"labvpn/internal/progress"
	"labvpn/internal/switcher"
	"labvpn/internal/tunnel"
)

func handleVPN(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "vpn subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "list":
		vpnList(args[1:])
	case "status":
		vpnStatus(args[1:])
	case "switch":
		vpnSwitch(args[1:])
	case "download":
		vpnDownload(args[1:])
	case "start":
		vpnStart(args[1:])
	case "stop":
		vpnStop(args[1:])
	case "benchmark":
		vpnBenchmark(args[1:])
	case "restore":
		vpnRestore(args[1:])
	case "history":
		vpnHistory(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown vpn subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func vpnList(args []string) {
	fs := flag.NewFlagSet("vpn list", flag.ExitOnError)
	common := addCommonFlags(fs)
	scopes := fs.String("scope", "", "comma-separated scopes (default all)")
	location := fs.String("location", "", "only servers in this location")
	assignedOnly := fs.Bool("assigned", false, "only servers assigned to the account")
	_ = fs.Parse(args)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	servers, err := a.catalog.Fetch(ctx, parseScopes(*scopes), *location)
	if err != nil {
		fatal(err)
	}
	registry, err := a.registry.Fetch(ctx)
	if err != nil {
		fatal(err)
	}
	servers = catalog.MarkAssigned(servers, registry)

	t := newTable("ID", "NAME", "LOCATION", "PRODUCTS", "CLIENTS", "FULL", "ASSIGNED")
	n := 0
	for _, s := range catalog.Sorted(servers) {
		if *assignedOnly && !s.Assigned {
			continue
		}
		t.Row(strconv.Itoa(s.ID), s.Name, s.Location, s.ProductLabel(),
			strconv.Itoa(s.CurrentClients), yesNo(s.Full), yesNo(s.Assigned))
		n++
	}
	if n == 0 {
		fmt.Fprintln(os.Stdout, "no servers")
		return
	}
	fmt.Fprintln(os.Stdout, t)
}

func vpnStatus(args []string) {
	fs := flag.NewFlagSet("vpn status", flag.ExitOnError)
	common := addCommonFlags(fs)
	egress := fs.Bool("egress", false, "check the public egress address via STUN")
	_ = fs.Parse(args)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	registry, err := a.registry.Fetch(ctx)
	if err != nil {
		fatal(err)
	}
	if len(registry) == 0 {
		fmt.Fprintln(os.Stdout, "no assigned servers")
	} else {
		t := newTable("CATEGORY", "ID", "SERVER", "LOCATION", "ACCESS", "ADDR")
		for _, conn := range sortedAssignments(registry) {
			category := conn.Category
			if conn.LabName != "" {
				category += " (" + conn.LabName + ")"
			}
			t.Row(category, strconv.Itoa(conn.Server.ID), conn.Server.Name, conn.Server.Location,
				yesNo(conn.CanAccess), conn.LocalAddrV4)
		}
		fmt.Fprintln(os.Stdout, t)
	}

	active, err := a.registry.ActiveConnections(ctx)
	if err != nil {
		log.WithError(err).Warn("live connection status unavailable")
	}
	for _, conn := range active {
		fmt.Fprintf(os.Stdout, "connected: %s %s:%d as %s v4=%s v6=%s down=%s up=%s\n",
			conn.Server.Name, conn.Hostname, conn.Port, conn.Username, conn.AddrV4, conn.AddrV6, conn.Down, conn.Up)
	}
	for _, iface := range a.tunnelInterfaces() {
		fmt.Fprintf(os.Stdout, "local interface: %s %s\n", iface.Name, strings.Join(iface.Addrs, ","))
	}

	if *egress {
		rep, err := a.egress().Check(ctx)
		if err != nil {
			fatal(err)
		}
		for _, m := range rep.Mappings {
			if m.Err != nil {
				log.WithField("server", m.Server).WithError(m.Err).Debug("stun failed")
			}
		}
		fmt.Fprintf(os.Stdout, "egress: public=%s nat=%s direct=%s\n", rep.Public, rep.NAT, yesNo(rep.Direct))
	}
}

func vpnSwitch(args []string) {
	fs := flag.NewFlagSet("vpn switch", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.Int("id", 0, "server id")
	_ = fs.Parse(args)
	requireID("id", *id)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	conn, err := a.switcher.Switch(ctx, *id)
	var blocked *switcher.BlockedError
	if errors.As(err, &blocked) {
		fatal(fmt.Errorf("%w: stop the active instance first (labvpn machine stop)", err))
	}
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "assigned %s server %d (%s)\n", conn.Category, conn.Server.ID, conn.Server.Name)
}

func vpnDownload(args []string) {
	fs := flag.NewFlagSet("vpn download", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.Int("id", 0, "server id")
	out := fs.String("out", "", "output file (default a temp file)")
	tcp := fs.Bool("tcp", false, "download the TCP profile")
	_ = fs.Parse(args)
	requireID("id", *id)

	cfg := common.load()
	a := newApp(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	path, err := a.profiles.Download(ctx, *id, profile.Options{Path: *out, Dir: cfg.VPN.WorkDir, TCP: *tcp || cfg.VPN.TCP})
	if err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, path)
}

func vpnStart(args []string) {
	fs := flag.NewFlagSet("vpn start", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.Int("id", 0, "server id")
	profilePath := fs.String("profile", "", "where to save the profile")
	tcp := fs.Bool("tcp", false, "use the TCP profile")
	yes := fs.Bool("yes", false, "switch servers without asking")
	_ = fs.Parse(args)
	requireID("id", *id)

	cfg := common.load()
	a := newApp(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	spin := progress.Start(os.Stderr, fmt.Sprintf("connecting to server %d", *id))
	sess, err := a.tunnels(pausing(spin, confirmer(*yes))).Start(ctx, tunnel.StartRequest{
		ServerID:    *id,
		ProfilePath: *profilePath,
		TCP:         *tcp || cfg.VPN.TCP,
	})
	spin.Stop()
	if err != nil {
		fatal(err)
	}
	printSession(sess)
}

func printSession(sess tunnel.Session) {
	fmt.Fprintf(os.Stdout, "tunnel %s established on %s (pid %d)\n", sess.ID, sess.Interface, sess.PID)
	if sess.AddrV4 != "" {
		fmt.Fprintf(os.Stdout, "  ipv4 %s\n", sess.AddrV4)
	}
	if sess.AddrV6 != "" {
		fmt.Fprintf(os.Stdout, "  ipv6 %s\n", sess.AddrV6)
	}
	if sess.LogPath != "" {
		fmt.Fprintf(os.Stdout, "  startup log  %s\n", sess.LogPath)
	}
}

func vpnStop(args []string) {
	fs := flag.NewFlagSet("vpn stop", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	n, err := a.tunnels(nil).Stop(ctx)
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "stopped %d tunnel(s)\n", n)
}

func vpnBenchmark(args []string) {
	fs := flag.NewFlagSet("vpn benchmark", flag.ExitOnError)
	common := addCommonFlags(fs)
	scopes := fs.String("scope", "", "comma-separated scopes (default all)")
	location := fs.String("location", "", "only servers in this location")
	accessible := fs.Bool("accessible", false, "only servers assigned to the account")
	noHistory := fs.Bool("no-history", false, "do not append results to the history file")
	_ = fs.Parse(args)

	cfg := common.load()
	a := newApp(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	if snap, _ := a.snapshots().Load(); snap != nil {
		fatal(fmt.Errorf("benchmark %s was interrupted before restoring; run `labvpn vpn restore` first", snap.RunID))
	}

	runID := uuid.NewString()
	var spin *progress.Spinner
	results, err := a.benchmark().Run(ctx, benchmark.Options{
		Scopes:         parseScopes(*scopes),
		Location:       *location,
		OnlyAccessible: *accessible,
		RunID:          runID,
		OnProgress: func(i, n int, s model.VpnServer) {
			msg := fmt.Sprintf("[%d/%d] %s", i+1, n, s.Name)
			if spin == nil {
				spin = progress.Start(os.Stderr, msg)
				return
			}
			spin.Update(msg)
		},
	})
	spin.Stop()

	if len(results) > 0 {
		t := newTable("ID", "NAME", "LOCATION", "HOST", "LATENCY", "ASSIGNED")
		for _, r := range results {
			t.Row(strconv.Itoa(r.Server.ID), r.Server.Name, r.Server.Location, r.Hostname,
				formatLatency(r.LatencyMs), yesNo(r.WasAssigned))
		}
		fmt.Fprintln(os.Stdout, t)

		if !*noHistory {
			if herr := metrics.AppendCSV(cfg.Benchmark.HistoryPath, metrics.FromResults(runID, time.Now().UTC(), results)); herr != nil {
				log.WithError(herr).Warn("cannot write benchmark history")
			}
		}
	}
	if errors.Is(err, benchmark.ErrRestoreFailed) {
		fatal(fmt.Errorf("%w\nthe previous assignments are saved; retry with `labvpn vpn restore`", err))
	}
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "benchmark interrupted; assignments restored")
		os.Exit(130)
	}
	fatal(err)
}

func vpnRestore(args []string) {
	fs := flag.NewFlagSet("vpn restore", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	snap, err := a.benchmark().Restore(ctx)
	if err != nil {
		fatal(err)
	}
	if snap == nil {
		fmt.Fprintln(os.Stdout, "nothing to restore")
		return
	}
	fmt.Fprintf(os.Stdout, "restored %d assignment(s) from benchmark %s\n", len(snap.Assignments), snap.RunID)
}

func vpnHistory(args []string) {
	fs := flag.NewFlagSet("vpn history", flag.ExitOnError)
	common := addCommonFlags(fs)
	window := fs.Duration("window", 7*24*time.Hour, "time window")
	_ = fs.Parse(args)

	cfg := common.load()
	items, err := metrics.ReadCSV(cfg.Benchmark.HistoryPath)
	if errors.Is(err, os.ErrNotExist) {
		fmt.Fprintln(os.Stdout, "no benchmark history")
		return
	}
	if err != nil {
		fatal(err)
	}

	summaries := metrics.Summarize(items, time.Now().UTC().Add(-*window))
	if len(summaries) == 0 {
		fmt.Fprintln(os.Stdout, "no samples in window")
		return
	}
	t := newTable("ID", "NAME", "RUNS", "LOST", "AVG", "P95", "MIN", "MAX", "LAST")
	for _, s := range summaries {
		reachable := s.Count > s.Unreachable
		cells := []string{strconv.Itoa(s.ServerID), s.ServerName, strconv.Itoa(s.Count), strconv.Itoa(s.Unreachable)}
		for _, v := range []float64{s.AvgMs, s.P95Ms, s.MinMs, s.MaxMs} {
			if reachable {
				cells = append(cells, fmt.Sprintf("%.1fms", v))
			} else {
				cells = append(cells, "-")
			}
		}
		cells = append(cells, s.To.Local().Format(time.DateTime))
		t.Row(cells...)
	}
	fmt.Fprintln(os.Stdout, t)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func sortedAssignments(registry map[int]model.AssignedConnection) []model.AssignedConnection {
	out := make([]model.AssignedConnection, 0, len(registry))
	for _, conn := range registry {
		out = append(out, conn)
	}
	slices.SortFunc(out, func(a, b model.AssignedConnection) int {
		if c := cmp.Compare(a.Category, b.Category); c != 0 {
			return c
		}
		return cmp.Compare(a.Server.ID, b.Server.ID)
	})
	return out
}

func formatLatency(ms *float64) string {
	if ms == nil {
		return "unreachable"
	}
	return fmt.Sprintf("%.1fms", *ms)
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
