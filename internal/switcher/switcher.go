// Package switcher changes which server the account is bound to.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

// blockedMarker is the remote message returned while a lab instance pins the
// current assignment.
const blockedMarker = "active machine before switching VPN"

var (
	// ErrSwitchBlocked means the switch was refused because a lab instance is
	// running. Callers must stop the instance first; retrying cannot succeed.
	ErrSwitchBlocked = errors.New("switch blocked by active instance")

	// ErrSwitchRejected means the remote refused the switch for another reason.
	ErrSwitchRejected = errors.New("switch rejected")
)

// BlockedError carries the remote message of a blocked switch.
type BlockedError struct {
	ServerID int
	Message  string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("switch to server %d: %s", e.ServerID, e.Message)
}

func (e *BlockedError) Unwrap() error { return ErrSwitchBlocked }

// Registry reads the current bindings.
type Registry interface {
	Fetch(ctx context.Context) (map[int]model.AssignedConnection, error)
}

// Remote performs the switch call.
type Remote interface {
	SwitchServer(ctx context.Context, serverID int) (api.SwitchResponse, error)
}

// Switcher binds the account to a server.
type Switcher struct {
	remote   Remote
	registry Registry
	logger   model.Logger
}

func New(remote Remote, registry Registry, logger model.Logger) *Switcher {
	return &Switcher{remote: remote, registry: registry, logger: logger}
}

// Switch binds the account to serverID and returns the resulting binding.
// It is a no-op when serverID is already bound.
func (s *Switcher) Switch(ctx context.Context, serverID int) (model.AssignedConnection, error) {
	current, err := s.registry.Fetch(ctx)
	if err != nil {
		return model.AssignedConnection{}, err
	}
	if conn, ok := current[serverID]; ok {
		s.logger.Debugf("switch: server %d already assigned (%s)", serverID, conn.Category)
		return conn, nil
	}

	resp, err := s.remote.SwitchServer(ctx, serverID)
	if err != nil {
		var reqErr *api.RequestError
		if errors.As(err, &reqErr) && strings.Contains(reqErr.Message, blockedMarker) {
			return model.AssignedConnection{}, &BlockedError{ServerID: serverID, Message: reqErr.Message}
		}
		return model.AssignedConnection{}, fmt.Errorf("switch to server %d: %w", serverID, err)
	}
	if strings.Contains(resp.Message, blockedMarker) {
		return model.AssignedConnection{}, &BlockedError{ServerID: serverID, Message: resp.Message}
	}
	if !resp.Status {
		return model.AssignedConnection{}, fmt.Errorf("switch to server %d: %w: %s", serverID, ErrSwitchRejected, resp.Message)
	}
	s.logger.Infof("switched to server %d", serverID)

	after, err := s.registry.Fetch(ctx)
	if err != nil {
		return model.AssignedConnection{}, err
	}
	if conn, ok := after[serverID]; ok {
		return conn, nil
	}

	conn := model.AssignedConnection{Category: "unknown", Server: model.ServerRef{ID: serverID}, CanAccess: true}
	if resp.Data != nil {
		conn.Server.Name = resp.Data.FriendlyName
		conn.Server.Location = resp.Data.Location
		conn.Server.CurrentClients = resp.Data.CurrentClients
	}
	return conn, nil
}
