// Package netcheck reports how the host reaches the internet while a tunnel
// is up, using STUN binding requests.
package netcheck

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/pion/stun/v3"
)

const (
	NATUnknown   = "unknown"
	NATSymmetric = "symmetric"
	NATCone      = "cone_or_restricted"
)

// ErrNoServers is returned when no STUN server is configured.
var ErrNoServers = errors.New("no STUN servers configured")

// Mapping is the address one STUN server saw for us.
type Mapping struct {
	Server string
	Addr   netip.AddrPort
	Err    error
}

// Report summarizes an egress check.
type Report struct {
	Mappings []Mapping
	// Public is the first mapped address, invalid when every server failed.
	Public netip.Addr
	NAT    string
	// Direct is true when the public address is bound to a local interface.
	Direct bool
}

// BindFunc asks one STUN server for our mapped address.
type BindFunc func(ctx context.Context, server string) (netip.AddrPort, error)

// Checker runs egress checks against a list of STUN servers.
type Checker struct {
	Servers []string
	Timeout time.Duration
	// Bind defaults to a UDP STUN binding request.
	Bind BindFunc
	// LocalAddrs lists the host's own addresses.
	LocalAddrs func() ([]netip.Addr, error)
}

// Check queries every server in turn. It fails only when none answered.
func (c *Checker) Check(ctx context.Context) (Report, error) {
	if len(c.Servers) == 0 {
		return Report{NAT: NATUnknown}, ErrNoServers
	}
	bind := c.Bind
	if bind == nil {
		bind = bindUDP
	}

	rep := Report{NAT: NATUnknown}
	var ok []netip.AddrPort
	var lastErr error
	for _, server := range c.Servers {
		callCtx := ctx
		var cancel context.CancelFunc = func() {}
		if c.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, c.Timeout)
		}
		addr, err := bind(callCtx, server)
		cancel()

		rep.Mappings = append(rep.Mappings, Mapping{Server: server, Addr: addr, Err: err})
		if err != nil {
			lastErr = fmt.Errorf("stun %s: %w", server, err)
			continue
		}
		ok = append(ok, addr)
	}
	if len(ok) == 0 {
		return rep, lastErr
	}

	rep.Public = ok[0].Addr()
	rep.NAT = classify(ok)
	if c.LocalAddrs != nil {
		locals, err := c.LocalAddrs()
		if err != nil {
			return rep, err
		}
		for _, a := range locals {
			if a == rep.Public {
				rep.Direct = true
				break
			}
		}
	}
	return rep, nil
}

// classify compares the mappings seen by different servers. A changing
// mapping means the NAT allocates per destination.
func classify(addrs []netip.AddrPort) string {
	if len(addrs) < 2 {
		return NATUnknown
	}
	for _, a := range addrs[1:] {
		if a != addrs[0] {
			return NATSymmetric
		}
	}
	return NATCone
}

func bindUDP(ctx context.Context, server string) (netip.AddrPort, error) {
	raw := strings.TrimSpace(server)
	if raw == "" {
		return netip.AddrPort{}, errors.New("empty STUN server")
	}
	if !strings.HasPrefix(raw, "stun:") {
		raw = "stun:" + raw
	}
	uri, err := stun.ParseURI(raw)
	if err != nil {
		return netip.AddrPort{}, err
	}
	client, err := stun.DialURI(uri, &stun.DialConfig{})
	if err != nil {
		return netip.AddrPort{}, err
	}
	defer client.Close()

	type answer struct {
		addr stun.XORMappedAddress
		err  error
	}
	done := make(chan answer, 1)
	go func() {
		var a answer
		err := client.Do(stun.MustBuild(stun.TransactionID, stun.BindingRequest), func(ev stun.Event) {
			if ev.Error != nil {
				a.err = ev.Error
				return
			}
			a.err = a.addr.GetFrom(ev.Message)
		})
		if err != nil {
			a.err = err
		}
		done <- a
	}()

	select {
	case a := <-done:
		if a.err != nil {
			return netip.AddrPort{}, a.err
		}
		ip, ok := netip.AddrFromSlice(a.addr.IP)
		if !ok {
			return netip.AddrPort{}, fmt.Errorf("bad mapped address %v", a.addr.IP)
		}
		return netip.AddrPortFrom(ip.Unmap(), uint16(a.addr.Port)), nil
	case <-ctx.Done():
		return netip.AddrPort{}, ctx.Err()
	}
}
