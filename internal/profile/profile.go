// Package profile downloads OpenVPN profiles and reads their directives.
package profile

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

// notAssignedMarker appears in the response when the account is not bound to
// the requested server.
const notAssignedMarker = "You are not assigned"

var (
	// ErrNotAssigned is returned when the profile is still refused after a
	// switch and one retry.
	ErrNotAssigned = errors.New("not assigned to server")

	// ErrNoRemote is returned when a profile has no remote directive.
	ErrNoRemote = errors.New("profile has no remote directive")
)

// Remote downloads raw profiles.
type Remote interface {
	DownloadProfile(ctx context.Context, serverID int, tcp bool) ([]byte, error)
}

// Switcher binds the account to a server.
type Switcher interface {
	Switch(ctx context.Context, serverID int) (model.AssignedConnection, error)
}

// Options controls where and how a profile is saved.
type Options struct {
	// Path is the destination file. Empty means a new temp file in Dir.
	Path string
	Dir  string
	TCP  bool
}

// Store fetches profiles, switching the account first when needed.
type Store struct {
	remote   Remote
	switcher Switcher
	logger   model.Logger
}

func NewStore(remote Remote, switcher Switcher, logger model.Logger) *Store {
	return &Store{remote: remote, switcher: switcher, logger: logger}
}

// Download saves the profile of serverID and returns its path.
func (s *Store) Download(ctx context.Context, serverID int, opts Options) (string, error) {
	if _, err := s.switcher.Switch(ctx, serverID); err != nil {
		return "", err
	}

	data, err := s.fetch(ctx, serverID, opts.TCP)
	if errors.Is(err, ErrNotAssigned) {
		s.logger.Warnf("profile: server %d refused the download, switching again", serverID)
		if _, err := s.switcher.Switch(ctx, serverID); err != nil {
			return "", err
		}
		data, err = s.fetch(ctx, serverID, opts.TCP)
	}
	if err != nil {
		return "", err
	}

	return write(data, opts)
}

func (s *Store) fetch(ctx context.Context, serverID int, tcp bool) ([]byte, error) {
	data, err := s.remote.DownloadProfile(ctx, serverID, tcp)
	if err != nil {
		var reqErr *api.RequestError
		if errors.As(err, &reqErr) && strings.Contains(reqErr.Message, notAssignedMarker) {
			return nil, fmt.Errorf("server %d: %w", serverID, ErrNotAssigned)
		}
		return nil, fmt.Errorf("download profile of server %d: %w", serverID, err)
	}
	if bytes.Contains(data, []byte(notAssignedMarker)) {
		return nil, fmt.Errorf("server %d: %w", serverID, ErrNotAssigned)
	}
	return data, nil
}

func write(data []byte, opts Options) (string, error) {
	if opts.Path != "" {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
			return "", err
		}
		if err := os.WriteFile(opts.Path, data, 0o600); err != nil {
			return "", err
		}
		return opts.Path, nil
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o700); err != nil {
			return "", err
		}
	}
	f, err := os.CreateTemp(opts.Dir, "labvpn-*.ovpn")
	if err != nil {
		return "", err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}
