package tunnel

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"labvpn/internal/execx"
	"labvpn/internal/profile"
)

// runningProcess is one line of `pgrep -fa`.
type runningProcess struct {
	PID  int
	Args []string
}

// Stop terminates every OpenVPN process whose profile points at the service
// domain and returns how many were signalled. Processes of other VPNs are
// left alone.
func (m *Manager) Stop(ctx context.Context) (int, error) {
	procs, err := m.listProcesses()
	if err != nil {
		return 0, err
	}

	stopped := 0
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return stopped, err
		}
		path := configPath(p.Args)
		if path == "" {
			continue
		}
		match, err := m.servesDomain(path)
		if err != nil {
			m.deps.Logger.Warnf("tunnel: skipping pid %d: %v", p.PID, err)
			continue
		}
		if !match {
			continue
		}
		if err := m.deps.Signaler.Signal(p.PID, syscall.SIGTERM); err != nil {
			m.deps.Logger.Warnf("tunnel: signal pid %d: %v", p.PID, err)
			continue
		}
		m.deps.Logger.Infof("stopped openvpn pid %d (%s)", p.PID, path)
		stopped++

		m.mu.Lock()
		if m.session != nil && m.session.PID == p.PID {
			m.session = nil
		}
		m.mu.Unlock()
	}

	if stopped == 0 {
		m.deps.Logger.Warn("no running tunnel to the service was found")
	}
	return stopped, nil
}

func (m *Manager) servesDomain(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	return profile.ServesDomain(f, m.cfg.ServiceDomain)
}

func (m *Manager) listProcesses() ([]runningProcess, error) {
	out, err := m.deps.Runner.Output("pgrep", "-fa", "openvpn")
	if err != nil {
		// pgrep exits 1 when nothing matches.
		var exitErr *execx.ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("list openvpn processes: %w", err)
	}
	return parsePgrep(out), nil
}

func parsePgrep(out string) []runningProcess {
	var procs []runningProcess
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil || pid <= 0 {
			continue
		}
		procs = append(procs, runningProcess{PID: pid, Args: fields[1:]})
	}
	return procs
}

// configPath extracts the profile path from an OpenVPN command line: the
// argument of --config, or else a bare *.ovpn argument.
func configPath(args []string) string {
	for i, a := range args {
		if a == "--config" && i+1 < len(args) {
			return args[i+1]
		}
		if v, ok := strings.CutPrefix(a, "--config="); ok {
			return v
		}
	}
	for _, a := range args {
		if strings.HasSuffix(a, ".ovpn") {
			return a
		}
	}
	return ""
}
