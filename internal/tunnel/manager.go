// Package tunnel establishes and tears down the local OpenVPN tunnel.
package tunnel

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"labvpn/internal/addrutil"
	"labvpn/internal/execx"
	"labvpn/internal/model"
	"labvpn/internal/profile"
)

var (
	// ErrTunnelActive is returned when a tunnel to the service is already up.
	ErrTunnelActive = errors.New("a tunnel is already active")

	// ErrNotConfirmed is returned when the user declined switching servers.
	ErrNotConfirmed = errors.New("switch not confirmed")

	// ErrProcessFailed is returned when OpenVPN reported a fatal error.
	ErrProcessFailed = errors.New("openvpn exited with a fatal error")

	// ErrProcessExited is returned when OpenVPN ended its output before the
	// tunnel was established.
	ErrProcessExited = errors.New("openvpn exited before the tunnel was established")
)

// Registry reads assignments and live connections.
type Registry interface {
	Fetch(ctx context.Context) (map[int]model.AssignedConnection, error)
	ActiveConnections(ctx context.Context) ([]model.ActiveConnection, error)
}

// Switcher binds the account to a server.
type Switcher interface {
	Switch(ctx context.Context, serverID int) (model.AssignedConnection, error)
}

// Profiles downloads connection profiles.
type Profiles interface {
	Download(ctx context.Context, serverID int, opts profile.Options) (string, error)
}

// ConfirmFunc asks the user a yes/no question.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

// Config holds the tunnel settings.
type Config struct {
	Binary          string
	InterfacePrefix string
	ServiceDomain   string
	WorkDir         string
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Registry   Registry
	Switcher   Switcher
	Profiles   Profiles
	Interfaces InterfaceLister
	Spawner    execx.Spawner
	Runner     execx.Runner
	Signaler   execx.Signaler
	// Confirm is asked before switching to an unassigned server. Nil
	// switches without asking.
	Confirm ConfirmFunc
	Logger  model.Logger
}

// Session is one tunnel owned by the Manager.
type Session struct {
	ID          string
	ServerID    int
	Interface   string
	ProfilePath string
	PID         int
	State       State
	AddrV4      string
	AddrV6      string
	// LogPath holds the OpenVPN output up to establishment or failure.
	LogPath     string
	StartedAt   time.Time
}

// StartRequest selects the server and profile of a new tunnel.
type StartRequest struct {
	ServerID    int
	ProfilePath string
	TCP         bool
}

// Manager owns at most one tunnel session at a time.
type Manager struct {
	cfg  Config
	deps Deps

	mu      sync.Mutex
	session *Session
}

func NewManager(cfg Config, deps Deps) *Manager {
	return &Manager{cfg: cfg, deps: deps}
}

// Session returns a copy of the current session.
func (m *Manager) Session() (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return Session{}, false
	}
	return *m.session, true
}

// Start brings up a tunnel to req.ServerID and returns once OpenVPN reports
// the tunnel established. Cancelling ctx before that terminates the process.
func (m *Manager) Start(ctx context.Context, req StartRequest) (Session, error) {
	if err := m.preflight(ctx); err != nil {
		return Session{}, err
	}

	assigned, err := m.deps.Registry.Fetch(ctx)
	if err != nil {
		return Session{}, err
	}
	if _, ok := assigned[req.ServerID]; !ok {
		if m.deps.Confirm != nil {
			ok, err := m.deps.Confirm(ctx, fmt.Sprintf("Server %d is not assigned to the account. Switch to it?", req.ServerID))
			if err != nil {
				return Session{}, err
			}
			if !ok {
				return Session{}, ErrNotConfirmed
			}
		}
		if _, err := m.deps.Switcher.Switch(ctx, req.ServerID); err != nil {
			return Session{}, err
		}
	}

	sess := &Session{
		ID:        uuid.NewString(),
		ServerID:  req.ServerID,
		State:     Idle,
		StartedAt: time.Now().UTC(),
	}
	step := func(ev Event) {
		next := Transition(sess.State, ev)
		if next != sess.State {
			m.deps.Logger.Debugf("tunnel %s: %s -> %s", sess.ID, sess.State, next)
			sess.State = next
		}
	}

	step(Event{Kind: EventDownload})
	path, err := m.deps.Profiles.Download(ctx, req.ServerID, profile.Options{
		Path: req.ProfilePath,
		Dir:  m.cfg.WorkDir,
		TCP:  req.TCP,
	})
	if err != nil {
		return Session{}, err
	}
	sess.ProfilePath = path

	ifaces, err := m.deps.Interfaces.Interfaces()
	if err != nil {
		return Session{}, fmt.Errorf("list interfaces: %w", err)
	}
	name, err := AllocateInterface(m.cfg.InterfacePrefix, interfaceNames(ifaces))
	if err != nil {
		return Session{}, err
	}
	sess.Interface = name
	step(Event{Kind: EventInterface})

	proc, err := m.deps.Spawner.Spawn(m.cfg.Binary, "--config", path, "--dev", name)
	if err != nil {
		return Session{}, fmt.Errorf("start %s: %w", m.cfg.Binary, err)
	}
	sess.PID = proc.Pid()
	step(Event{Kind: EventSpawned})
	m.deps.Logger.Infof("started %s (pid %d) on %s", m.cfg.Binary, sess.PID, name)

	m.mu.Lock()
	m.session = sess
	m.mu.Unlock()

	return m.supervise(ctx, proc, sess, step)
}

// supervise consumes process output until the session reaches a terminal
// state. Everything consumed until then is kept in the session's startup log.
func (m *Manager) supervise(ctx context.Context, proc execx.Process, sess *Session, step func(Event)) (Session, error) {
	stopKill := context.AfterFunc(ctx, func() {
		_ = proc.Signal(syscall.SIGTERM)
	})

	startup := m.openStartupLog(sess.Interface)
	m.mu.Lock()
	sess.LogPath = startup.path
	m.mu.Unlock()

	out := bufio.NewReader(io.TeeReader(proc.Output(), startup))
	var last Event
	for ev := range Events(out) {
		switch ev.Kind {
		case EventAddrV4:
			m.mu.Lock()
			sess.AddrV4 = ev.Addr
			m.mu.Unlock()
		case EventAddrV6:
			m.mu.Lock()
			sess.AddrV6 = ev.Addr
			m.mu.Unlock()
		case EventError:
			m.deps.Logger.Warnf("openvpn: %s", ev.Line)
		}
		m.mu.Lock()
		step(ev)
		m.mu.Unlock()
		last = ev
		if sess.State.Terminal() {
			break
		}
	}
	startup.Close()

	if sess.State == Established && stopKill() {
		m.drain(out, proc, sess)
		m.mu.Lock()
		established := *sess
		m.mu.Unlock()
		m.deps.Logger.Infof("tunnel %s established on %s (%s)", established.ID, established.Interface, established.AddrV4)
		return established, nil
	}

	stopKill()
	_ = proc.Wait()
	m.mu.Lock()
	sess.State = Failed
	m.session = nil
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return *sess, err
	}
	var err error = ErrProcessExited
	if last.Kind == EventFatal {
		err = fmt.Errorf("%w: %s", ErrProcessFailed, last.Line)
	}
	if sess.LogPath != "" {
		err = fmt.Errorf("%w (output in %s)", err, sess.LogPath)
	}
	return *sess, err
}

// drain keeps reading the process output so the pipe never fills, and drops
// the session once the process exits.
func (m *Manager) drain(out io.Reader, proc execx.Process, sess *Session) {
	go func() {
		_, _ = io.Copy(io.Discard, out)
		_ = proc.Wait()
		m.mu.Lock()
		if m.session != nil && m.session.ID == sess.ID {
			m.session = nil
		}
		m.mu.Unlock()
	}()
}

// startupLog records process output until it is closed. Later writes are
// dropped, and write errors never reach the reader it is teed from.
type startupLog struct {
	path string

	mu sync.Mutex
	f  *os.File
}

func (l *startupLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f != nil {
		_, _ = l.f.Write(p)
	}
	return len(p), nil
}

func (l *startupLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// openStartupLog creates <work_dir>/<iface>.log. Without a work dir, or when
// the file cannot be created, output is not recorded.
func (m *Manager) openStartupLog(iface string) *startupLog {
	if m.cfg.WorkDir == "" {
		return &startupLog{}
	}
	if err := os.MkdirAll(m.cfg.WorkDir, 0o700); err != nil {
		m.deps.Logger.Warnf("tunnel: startup log unavailable: %v", err)
		return &startupLog{}
	}
	path := filepath.Join(m.cfg.WorkDir, iface+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		m.deps.Logger.Warnf("tunnel: startup log unavailable: %v", err)
		return &startupLog{}
	}
	return &startupLog{path: path, f: f}
}

// preflight refuses to start while a tunnel to the service is already up,
// either owned by this Manager or visible as a bound local address.
func (m *Manager) preflight(ctx context.Context) error {
	if sess, ok := m.Session(); ok && sess.State == Established {
		return fmt.Errorf("%w: %s on %s", ErrTunnelActive, sess.ID, sess.Interface)
	}

	conns, err := m.deps.Registry.ActiveConnections(ctx)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}
	ifaces, err := m.deps.Interfaces.Interfaces()
	if err != nil {
		return fmt.Errorf("list interfaces: %w", err)
	}
	for _, conn := range conns {
		if conn.AddrV4 == "" {
			continue
		}
		for _, iface := range ifaces {
			for _, addr := range iface.Addrs {
				if addrutil.SameIP(addr, conn.AddrV4) {
					return fmt.Errorf("%w: %s is bound to %s (%s)", ErrTunnelActive, conn.AddrV4, iface.Name, conn.Server.Name)
				}
			}
		}
	}
	return nil
}
