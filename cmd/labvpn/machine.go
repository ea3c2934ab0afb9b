package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"labvpn/internal/instance"
	"labvpn/internal/model"
	"labvpn/internal/progress"
)

func handleMachine(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "machine subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "start":
		machineStart(args[1:])
	case "stop":
		machineStop(args[1:])
	case "status":
		machineStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown machine subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func machineStart(args []string) {
	fs := flag.NewFlagSet("machine start", flag.ExitOnError)
	common := addCommonFlags(fs)
	id := fs.Int("id", 0, "machine id")
	withTunnel := fs.Bool("tunnel", false, "start the tunnel to the machine's server")
	replace := fs.Bool("replace", false, "stop another active machine first")
	profilePath := fs.String("profile", "", "where to save the profile")
	tcp := fs.Bool("tcp", false, "use the TCP profile")
	yes := fs.Bool("yes", false, "switch servers without asking")
	_ = fs.Parse(args)
	requireID("id", *id)

	cfg := common.load()
	a := newApp(cfg)
	ctx, cancel := signalContext()
	defer cancel()

	spin := progress.Start(os.Stderr, fmt.Sprintf("starting machine %d", *id))
	confirm := pausing(spin, confirmer(*yes))
	tunnels := a.tunnels(confirm)
	c := a.correlator(tunnels)
	opts := instance.StartOptions{
		Tunnel:      *withTunnel,
		ProfilePath: *profilePath,
		TCP:         *tcp || cfg.VPN.TCP,
		Replace:     *replace,
	}

	inst, err := c.StartInstance(ctx, *id, opts)
	var other *instance.OtherInstanceError
	if errors.As(err, &other) && !*replace {
		ok, cerr := confirm(ctx, fmt.Sprintf("%s. Stop it and start machine %d?", other.Error(), *id))
		if cerr != nil {
			spin.Stop()
			fatal(cerr)
		}
		if !ok {
			spin.Stop()
			fatal(err)
		}
		opts.Replace = true
		inst, err = c.StartInstance(ctx, *id, opts)
	}
	spin.Stop()
	if ctx.Err() != nil {
		fmt.Fprintln(os.Stderr, "stopped waiting; the machine keeps starting remotely")
		os.Exit(130)
	}
	if err != nil {
		fatal(err)
	}

	printInstance(inst)
	if sess, ok := tunnels.Session(); ok {
		printSession(sess)
	}
}

func machineStop(args []string) {
	fs := flag.NewFlagSet("machine stop", flag.ExitOnError)
	common := addCommonFlags(fs)
	withTunnel := fs.Bool("tunnel", false, "also stop the tunnel")
	_ = fs.Parse(args)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	spin := progress.Start(os.Stderr, "stopping machine")
	inst, err := a.correlator(a.tunnels(nil)).StopInstance(ctx, instance.StopOptions{Tunnel: *withTunnel})
	spin.Stop()
	if errors.Is(err, instance.ErrNoActiveInstance) {
		fmt.Fprintln(os.Stdout, "no active machine")
		return
	}
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "machine %s (%d) stopped\n", inst.Name, inst.ID)
}

func machineStatus(args []string) {
	fs := flag.NewFlagSet("machine status", flag.ExitOnError)
	common := addCommonFlags(fs)
	_ = fs.Parse(args)

	a := newApp(common.load())
	ctx, cancel := signalContext()
	defer cancel()

	inst, err := a.correlator(a.tunnels(nil)).Active(ctx)
	if errors.Is(err, instance.ErrNoActiveInstance) {
		fmt.Fprintln(os.Stdout, "no active machine")
		return
	}
	if err != nil {
		fatal(err)
	}
	printInstance(inst)
}

func printInstance(inst model.ActiveInstance) {
	ip := inst.IP
	if inst.Spawning {
		ip = "assigning"
	}
	if ip == "" {
		ip = "-"
	}
	fmt.Fprintf(os.Stdout, "machine %s (%d) ip=%s type=%s server=%s", inst.Name, inst.ID, ip, inst.Type, inst.LabServer)
	if !inst.ExpiresAt.IsZero() {
		fmt.Fprintf(os.Stdout, " expires=%s", inst.ExpiresAt.Local().Format(time.DateTime))
	}
	fmt.Fprintln(os.Stdout)
}
