package netcheck

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

func fixedBind(m map[string]string) BindFunc {
	return func(ctx context.Context, server string) (netip.AddrPort, error) {
		s, ok := m[server]
		if !ok {
			return netip.AddrPort{}, errors.New("timeout")
		}
		return netip.MustParseAddrPort(s), nil
	}
}

func TestCheckCone(t *testing.T) {
	t.Parallel()

	c := &Checker{
		Servers: []string{"a:3478", "b:3478"},
		Bind:    fixedBind(map[string]string{"a:3478": "203.0.113.9:40000", "b:3478": "203.0.113.9:40000"}),
	}
	rep, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rep.NAT != NATCone || rep.Public != netip.MustParseAddr("203.0.113.9") {
		t.Fatalf("report=%+v", rep)
	}
	if rep.Direct {
		t.Fatalf("direct without local addresses")
	}
}

func TestCheckSymmetricAndPartialFailure(t *testing.T) {
	t.Parallel()

	c := &Checker{
		Servers: []string{"a", "down", "b"},
		Bind:    fixedBind(map[string]string{"a": "203.0.113.9:40000", "b": "203.0.113.9:40001"}),
	}
	rep, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rep.NAT != NATSymmetric {
		t.Fatalf("nat=%q", rep.NAT)
	}
	if len(rep.Mappings) != 3 || rep.Mappings[1].Err == nil {
		t.Fatalf("mappings=%+v", rep.Mappings)
	}
}

func TestCheckSingleServerUnknown(t *testing.T) {
	t.Parallel()

	c := &Checker{
		Servers: []string{"a"},
		Bind:    fixedBind(map[string]string{"a": "198.51.100.4:5000"}),
		LocalAddrs: func() ([]netip.Addr, error) {
			return []netip.Addr{netip.MustParseAddr("10.10.14.7"), netip.MustParseAddr("198.51.100.4")}, nil
		},
	}
	rep, err := c.Check(context.Background())
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if rep.NAT != NATUnknown || !rep.Direct {
		t.Fatalf("report=%+v", rep)
	}
}

func TestCheckAllFail(t *testing.T) {
	t.Parallel()

	c := &Checker{Servers: []string{"a"}, Bind: fixedBind(nil)}
	if _, err := c.Check(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := (&Checker{}).Check(context.Background()); !errors.Is(err, ErrNoServers) {
		t.Fatalf("err=%v want ErrNoServers", err)
	}
}
