// Package instance starts and stops the remote lab instance and keeps the
// local tunnel in step with it.
package instance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"labvpn/internal/api"
	"labvpn/internal/model"
	"labvpn/internal/tunnel"
)

var (
	// ErrNoActiveInstance is returned when the account has no running instance.
	ErrNoActiveInstance = errors.New("no active instance")

	// ErrInstanceRejected is returned when the remote refuses a start or stop.
	ErrInstanceRejected = errors.New("instance request rejected")

	// ErrNoServer is returned when no server can be resolved for the tunnel.
	ErrNoServer = errors.New("no vpn server bound to the instance")
)

// OtherInstanceError reports that a different instance is already running.
type OtherInstanceError struct {
	Active model.ActiveInstance
}

func (e *OtherInstanceError) Error() string {
	return fmt.Sprintf("instance %q (id %d) is already active", e.Active.Name, e.Active.ID)
}

// Remote is the instance part of the service API.
type Remote interface {
	SpawnMachine(ctx context.Context, machineID int) (api.MachineActionResponse, error)
	TerminateMachine(ctx context.Context, machineID int) (api.MachineActionResponse, error)
	ActiveMachine(ctx context.Context) (*api.ActiveMachine, error)
}

// Registry reads current assignments.
type Registry interface {
	Fetch(ctx context.Context) (map[int]model.AssignedConnection, error)
}

// Tunnel is the local connection manager.
type Tunnel interface {
	Start(ctx context.Context, req tunnel.StartRequest) (tunnel.Session, error)
	Stop(ctx context.Context) (int, error)
}

type StartOptions struct {
	Tunnel      bool
	ProfilePath string
	TCP         bool
	// Replace stops a different active instance instead of failing.
	Replace bool
}

type StopOptions struct {
	Tunnel bool
}

// Correlator ties instance lifecycle to the tunnel.
type Correlator struct {
	remote   Remote
	registry Registry
	tunnel   Tunnel
	poll     PollPolicy
	logger   model.Logger
}

func NewCorrelator(remote Remote, registry Registry, tun Tunnel, poll PollPolicy, logger model.Logger) *Correlator {
	return &Correlator{remote: remote, registry: registry, tunnel: tun, poll: poll, logger: logger}
}

// Active returns the running instance.
func (c *Correlator) Active(ctx context.Context) (model.ActiveInstance, error) {
	raw, err := c.remote.ActiveMachine(ctx)
	if err != nil {
		return model.ActiveInstance{}, err
	}
	if raw == nil {
		return model.ActiveInstance{}, ErrNoActiveInstance
	}
	return c.convert(raw), nil
}

// StartInstance spawns machineID and waits until it has finished spawning.
// With opts.Tunnel the tunnel to the instance's server is started as soon as
// the instance is visible. Cancelling ctx abandons the wait; the remote start
// is left running.
func (c *Correlator) StartInstance(ctx context.Context, machineID int, opts StartOptions) (model.ActiveInstance, error) {
	current, err := c.remote.ActiveMachine(ctx)
	if err != nil {
		return model.ActiveInstance{}, err
	}

	var inst model.ActiveInstance
	switch {
	case current != nil && current.ID == machineID:
		c.logger.Warnf("instance %d is already active", machineID)
		inst = c.convert(current)
	default:
		if current != nil {
			if !opts.Replace {
				return model.ActiveInstance{}, &OtherInstanceError{Active: c.convert(current)}
			}
			if _, err := c.StopInstance(ctx, StopOptions{}); err != nil {
				return model.ActiveInstance{}, fmt.Errorf("stop instance %d: %w", current.ID, err)
			}
		}

		resp, err := c.remote.SpawnMachine(ctx, machineID)
		if err != nil {
			return model.ActiveInstance{}, err
		}
		if !resp.Accepted() {
			return model.ActiveInstance{}, fmt.Errorf("%w: %s", ErrInstanceRejected, resp.Message)
		}
		c.logger.Infof("instance %d: %s", machineID, resp.Message)

		// The first poll only waits for the instance to appear.
		err = c.poll.Wait(ctx, func(ctx context.Context) (bool, error) {
			raw, err := c.remote.ActiveMachine(ctx)
			if err != nil || raw == nil {
				return false, err
			}
			inst = c.convert(raw)
			return true, nil
		})
		if err != nil {
			return model.ActiveInstance{}, err
		}
	}

	if opts.Tunnel {
		if err := c.startTunnel(ctx, inst, opts); err != nil {
			return inst, err
		}
	}

	if !inst.Spawning {
		return inst, nil
	}
	wait := c.poll
	wait.InitialDelay = wait.Interval
	err = wait.Wait(ctx, func(ctx context.Context) (bool, error) {
		raw, err := c.remote.ActiveMachine(ctx)
		if err != nil {
			return false, err
		}
		if raw == nil {
			return false, ErrNoActiveInstance
		}
		inst = c.convert(raw)
		c.logger.Debugf("instance %d spawning=%t", inst.ID, inst.Spawning)
		return !inst.Spawning, nil
	})
	return inst, err
}

// StopInstance terminates the active instance and waits until it is gone.
func (c *Correlator) StopInstance(ctx context.Context, opts StopOptions) (model.ActiveInstance, error) {
	inst, err := c.Active(ctx)
	if err != nil {
		return model.ActiveInstance{}, err
	}

	resp, err := c.remote.TerminateMachine(ctx, inst.ID)
	if err != nil {
		return inst, err
	}
	if !resp.Accepted() {
		return inst, fmt.Errorf("%w: %s", ErrInstanceRejected, resp.Message)
	}
	c.logger.Infof("instance %d: %s", inst.ID, resp.Message)

	err = c.poll.Wait(ctx, func(ctx context.Context) (bool, error) {
		raw, err := c.remote.ActiveMachine(ctx)
		if err != nil {
			return false, err
		}
		return raw == nil || raw.ID != inst.ID, nil
	})
	if err != nil {
		return inst, err
	}

	if opts.Tunnel {
		if _, err := c.tunnel.Stop(ctx); err != nil {
			return inst, err
		}
	}
	return inst, nil
}

func (c *Correlator) startTunnel(ctx context.Context, inst model.ActiveInstance, opts StartOptions) error {
	serverID, err := c.resolveServer(ctx, inst)
	if err != nil {
		return err
	}
	sess, err := c.tunnel.Start(ctx, tunnel.StartRequest{ServerID: serverID, ProfilePath: opts.ProfilePath, TCP: opts.TCP})
	if errors.Is(err, tunnel.ErrTunnelActive) {
		c.logger.Warnf("instance %d: tunnel already active, not starting another", inst.ID)
		return nil
	}
	if err != nil {
		return err
	}
	c.logger.Infof("instance %d: tunnel %s up on %s", inst.ID, sess.ID, sess.Interface)
	return nil
}

// resolveServer prefers the server the instance declares, then the assigned
// server whose category matches the instance type.
func (c *Correlator) resolveServer(ctx context.Context, inst model.ActiveInstance) (int, error) {
	if inst.VpnServerID > 0 {
		return inst.VpnServerID, nil
	}
	registry, err := c.registry.Fetch(ctx)
	if err != nil {
		return 0, err
	}
	want := normalizeCategory(inst.Type)
	for id, conn := range registry {
		if normalizeCategory(conn.Category) == want {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: instance %d (%s)", ErrNoServer, inst.ID, inst.Type)
}

func normalizeCategory(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "_")
}

var expiryLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"}

func (c *Correlator) convert(raw *api.ActiveMachine) model.ActiveInstance {
	inst := model.ActiveInstance{
		ID:        raw.ID,
		Name:      raw.Name,
		Spawning:  raw.IsSpawning,
		Type:      raw.Type,
		LabServer: raw.LabServer,
	}
	if raw.IP != nil {
		inst.IP = *raw.IP
	}
	if raw.VpnServerID != nil {
		inst.VpnServerID = *raw.VpnServerID
	}
	if raw.ExpiresAt != "" {
		for _, layout := range expiryLayouts {
			if t, err := time.Parse(layout, raw.ExpiresAt); err == nil {
				inst.ExpiresAt = t
				break
			}
		}
		if inst.ExpiresAt.IsZero() {
			c.logger.Debugf("instance %d: unparsed expiry %q", raw.ID, raw.ExpiresAt)
		}
	}
	return inst
}
