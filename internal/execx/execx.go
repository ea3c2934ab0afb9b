package execx

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
)

// Runner abstracts command execution so packages can be unit-tested without
// touching real processes (ping/pgrep).
type Runner interface {
	Output(name string, args ...string) (string, error)
}

// Process is a started child whose combined output can be read line by line.
type Process interface {
	Pid() int
	Output() io.Reader
	Signal(sig os.Signal) error
	Wait() error
}

// Spawner starts long-running children.
type Spawner interface {
	Spawn(name string, args ...string) (Process, error)
}

// Signaler delivers a signal to an arbitrary pid.
type Signaler interface {
	Signal(pid int, sig syscall.Signal) error
}

// OSRunner executes commands on the host via os/exec.
type OSRunner struct{}

func NewOSRunner() *OSRunner {
	return &OSRunner{}
}

// Output returns the trimmed combined output. A non-zero exit yields an
// *ExitError that still carries the output.
func (r *OSRunner) Output(name string, args ...string) (string, error) {
	cmd := exec.Command(name, args...)
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	out := strings.TrimSpace(buf.String())
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out, &ExitError{Code: exitErr.ExitCode(), Output: out}
		}
		return "", err
	}
	return out, nil
}

// Spawn starts name in a new session so that it outlives the CLI and does
// not receive the terminal's SIGINT. Stdout and stderr share one pipe.
func (r *OSRunner) Spawn(name string, args ...string) (Process, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(name, args...)
	cmd.Stdout = pw
	cmd.Stderr = pw
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	pw.Close()

	return &osProcess{cmd: cmd, out: pr}, nil
}

// Signal delivers sig to pid.
func (r *OSRunner) Signal(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

type osProcess struct {
	cmd *exec.Cmd
	out *os.File
}

func (p *osProcess) Pid() int          { return p.cmd.Process.Pid }
func (p *osProcess) Output() io.Reader { return p.out }

func (p *osProcess) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

func (p *osProcess) Wait() error {
	err := p.cmd.Wait()
	p.out.Close()
	return err
}

// ExitError is a command that ran but exited non-zero.
type ExitError struct {
	Code   int
	Output string
}

func (e *ExitError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("exit status %d: %s", e.Code, e.Output)
	}
	return fmt.Sprintf("exit status %d", e.Code)
}
