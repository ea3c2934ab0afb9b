package probe

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"labvpn/internal/execx"
)

const linuxPing = `PING edge-eu-vip-1.hackthebox.eu (5.6.7.8) 56(84) bytes of data.
64 bytes from 5.6.7.8: icmp_seq=1 ttl=54 time=24.1 ms
64 bytes from 5.6.7.8: icmp_seq=2 ttl=54 time=25.9 ms

--- edge-eu-vip-1.hackthebox.eu ping statistics ---
2 packets transmitted, 2 received, 0% packet loss, time 1001ms
rtt min/avg/max/mdev = 24.100/25.000/25.900/0.900 ms`

const unreachablePing = `PING edge-us-free-1.hackthebox.eu (9.9.9.9) 56(84) bytes of data.

--- edge-us-free-1.hackthebox.eu ping statistics ---
2 packets transmitted, 0 received, 100% packet loss, time 1021ms`

func TestParsePing(t *testing.T) {
	t.Parallel()

	res, err := ParsePing(linuxPing)
	if err != nil {
		t.Fatalf("ParsePing: %v", err)
	}
	if res.AvgMs != 25 || res.Sent != 2 || res.Received != 2 || len(res.RTTs) != 2 {
		t.Fatalf("res=%+v", res)
	}
	if res.RTTs[0] != time.Duration(24.1*float64(time.Millisecond)) {
		t.Fatalf("rtt0=%s", res.RTTs[0])
	}

	if _, err := ParsePing(unreachablePing); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err=%v", err)
	}
}

func TestParsePing_BSDSummary(t *testing.T) {
	t.Parallel()

	res, err := ParsePing("round-trip min/avg/max/stddev = 10.0/12.5/15.0/2.5 ms")
	if err != nil || res.AvgMs != 12.5 {
		t.Fatalf("res=%+v err=%v", res, err)
	}
}

type cannedRunner struct {
	out  string
	err  error
	args []string
}

func (c *cannedRunner) Output(name string, args ...string) (string, error) {
	c.args = append([]string{name}, args...)
	return c.out, c.err
}

var _ execx.Runner = (*cannedRunner)(nil)

func TestPingProber(t *testing.T) {
	t.Parallel()

	r := &cannedRunner{out: linuxPing}
	res, err := NewPingProber(r).Probe(context.Background(), "edge-eu-vip-1.hackthebox.eu", 2)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if res.AvgMs != 25 {
		t.Fatalf("avg=%v", res.AvgMs)
	}
	if got := r.args; len(got) != 4 || got[1] != "-c" || got[2] != "2" {
		t.Fatalf("args=%v", got)
	}

	r = &cannedRunner{out: unreachablePing, err: &execx.ExitError{Code: 1}}
	if _, err := NewPingProber(r).Probe(context.Background(), "x", 2); !errors.Is(err, ErrUnreachable) {
		t.Fatalf("err=%v", err)
	}
}

func TestMean(t *testing.T) {
	t.Parallel()

	got := mean([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond})
	if math.Abs(got-15) > 1e-9 {
		t.Fatalf("mean=%v", got)
	}
	if mean(nil) != 0 {
		t.Fatalf("mean(nil) != 0")
	}
}
