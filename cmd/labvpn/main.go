package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/apex/log"
	"golang.org/x/term"

	"labvpn/internal/config"
	"labvpn/internal/model"
	"labvpn/internal/progress"
)

const usage = `labvpn - lab VPN session manager

Usage:
  labvpn vpn list [--scope labs,prolab] [--location EU] [--assigned]
  labvpn vpn status [--egress]
  labvpn vpn switch --id <server>
  labvpn vpn download --id <server> [--out <file>] [--tcp]
  labvpn vpn start --id <server> [--profile <file>] [--tcp] [--yes]
  labvpn vpn stop
  labvpn vpn benchmark [--scope <list>] [--location <loc>] [--accessible]
  labvpn vpn restore
  labvpn vpn history [--window 168h]
  labvpn machine start --id <machine> [--tunnel] [--replace] [--tcp]
  labvpn machine stop [--tunnel]
  labvpn machine status
  labvpn token set [--token <value>]

Every command accepts --config <path> (default ~/.config/labvpn/config.yaml)
and --verbose.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cmd := os.Args[1]
	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "vpn":
		handleVPN(os.Args[2:])
	case "machine":
		handleMachine(os.Args[2:])
	case "token":
		handleToken(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

// commonFlags are registered on every subcommand.
type commonFlags struct {
	configPath *string
	verbose    *bool
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		configPath: fs.String("config", "", "path to YAML config"),
		verbose:    fs.Bool("verbose", false, "log debug output"),
	}
}

func (c commonFlags) load() config.Config {
	log.SetHandler(NewHandler(os.Stderr))
	log.SetLevel(log.InfoLevel)
	if *c.verbose {
		log.SetLevel(log.DebugLevel)
	}

	path := *c.configPath
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fatal(err)
	}
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}
	log.WithField("path", path).Debug("config loaded")
	return cfg
}

func handleToken(args []string) {
	if len(args) == 0 || args[0] != "set" {
		fmt.Fprint(os.Stderr, "token subcommand required: set\n")
		os.Exit(2)
	}
	fs := flag.NewFlagSet("token set", flag.ExitOnError)
	common := addCommonFlags(fs)
	value := fs.String("token", "", "API token (prompted for when empty)")
	_ = fs.Parse(args[1:])
	common.load()

	tok := *value
	if tok == "" {
		var err error
		tok, err = readSecret("API token: ")
		if err != nil {
			fatal(err)
		}
	}
	if err := config.StoreToken(config.SystemKeyring{}, tok); err != nil {
		fatal(err)
	}
	fmt.Fprintln(os.Stdout, "token stored in the system keyring")
}

func readSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		return strings.TrimSpace(line), nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// confirmer asks on the terminal. Without a terminal the answer is no unless
// assumeYes is set.
func confirmer(assumeYes bool) func(ctx context.Context, prompt string) (bool, error) {
	return func(ctx context.Context, prompt string) (bool, error) {
		if assumeYes {
			return true, nil
		}
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return false, nil
		}
		fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}

// pausing clears spin off the terminal for as long as confirm is prompting.
func pausing(spin *progress.Spinner, confirm func(ctx context.Context, prompt string) (bool, error)) func(ctx context.Context, prompt string) (bool, error) {
	return func(ctx context.Context, prompt string) (bool, error) {
		spin.Pause()
		defer spin.Resume()
		return confirm(ctx, prompt)
	}
}

func parseScopes(value string) []model.Scope {
	var scopes []model.Scope
	for _, part := range splitList(value) {
		scope, ok := model.ParseScope(part)
		if !ok {
			fatal(fmt.Errorf("unknown scope %q", part))
		}
		scopes = append(scopes, scope)
	}
	return scopes
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func requireID(name string, id int) {
	if id <= 0 {
		fatal(fmt.Errorf("--%s is required", name))
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}
