package probe

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"os"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// protocolICMP is the IANA protocol number passed to icmp.ParseMessage.
const protocolICMP = 1

// ICMPProber sends unprivileged ICMP echo requests. On Linux the user's group
// must be within net.ipv4.ping_group_range.
type ICMPProber struct {
	Timeout  time.Duration
	Interval time.Duration
}

func NewICMPProber() *ICMPProber {
	return &ICMPProber{Timeout: 2 * time.Second, Interval: 200 * time.Millisecond}
}

func (p *ICMPProber) Probe(ctx context.Context, host string, count int) (Result, error) {
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return Result{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	var dst net.IP
	for _, a := range addrs {
		if v4 := a.IP.To4(); v4 != nil {
			dst = v4
			break
		}
	}
	if dst == nil {
		return Result{}, fmt.Errorf("resolve %s: no IPv4 address", host)
	}

	conn, err := icmp.ListenPacket("udp4", "0.0.0.0")
	if err != nil {
		return Result{}, fmt.Errorf("open icmp socket: %w", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	defer stop()

	res := Result{}
	id := os.Getpid() & 0xffff
	buf := make([]byte, 1500)
	for seq := 0; seq < count; seq++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		if seq > 0 && p.Interval > 0 {
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(p.Interval):
			}
		}
		rtt, err := p.echo(conn, &net.UDPAddr{IP: dst}, id, seq, buf)
		res.Sent++
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			continue
		}
		res.Received++
		res.RTTs = append(res.RTTs, rtt)
	}
	if res.Received == 0 {
		return res, fmt.Errorf("icmp %s: %w", host, ErrUnreachable)
	}
	res.AvgMs = mean(res.RTTs)
	return res, nil
}

func (p *ICMPProber) echo(conn *icmp.PacketConn, dst net.Addr, id, seq int, buf []byte) (time.Duration, error) {
	request := icmp.Echo{
		ID:   id,
		Seq:  seq,
		Data: []byte(fmt.Sprintf("labvpn-%d", rand.Uint32())),
	}
	msg, err := (&icmp.Message{Type: ipv4.ICMPTypeEcho, Code: 0, Body: &request}).Marshal(nil)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	if _, err := conn.WriteTo(msg, dst); err != nil {
		return 0, err
	}
	if err := conn.SetReadDeadline(start.Add(p.Timeout)); err != nil {
		return 0, err
	}
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			return 0, err
		}
		reply, err := icmp.ParseMessage(protocolICMP, buf[:n])
		if err != nil || reply.Type != ipv4.ICMPTypeEchoReply {
			continue
		}
		echo, ok := reply.Body.(*icmp.Echo)
		// Unprivileged sockets rewrite the id, so only seq and payload are compared.
		if !ok || echo.Seq != request.Seq || string(echo.Data) != string(request.Data) {
			continue
		}
		return time.Since(start), nil
	}
}
