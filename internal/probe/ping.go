package probe

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"labvpn/internal/execx"
)

var (
	summaryRe = regexp.MustCompile(`min/avg/max/(?:mdev|stddev) = ([\d.]+)/([\d.]+)/([\d.]+)/([\d.]+) ms`)
	replyRe   = regexp.MustCompile(`time[=<]([\d.]+) ?ms`)
	countRe   = regexp.MustCompile(`(\d+) packets transmitted, (\d+) (?:packets )?received`)
)

// PingProber runs the system ping binary.
type PingProber struct {
	Runner execx.Runner
	Binary string
}

func NewPingProber(runner execx.Runner) *PingProber {
	return &PingProber{Runner: runner, Binary: "ping"}
}

func (p *PingProber) Probe(ctx context.Context, host string, count int) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	out, err := p.Runner.Output(p.Binary, "-c", strconv.Itoa(count), host)
	res, perr := ParsePing(out)
	if perr != nil {
		if err != nil {
			return Result{}, fmt.Errorf("ping %s: %w (%v)", host, ErrUnreachable, err)
		}
		return Result{}, fmt.Errorf("ping %s: %w", host, perr)
	}
	return res, nil
}

// ParsePing reads the per-reply times and the summary line of ping output.
func ParsePing(out string) (Result, error) {
	var res Result
	for _, m := range replyRe.FindAllStringSubmatch(out, -1) {
		ms, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		res.RTTs = append(res.RTTs, time.Duration(ms*float64(time.Millisecond)))
	}
	if m := countRe.FindStringSubmatch(out); m != nil {
		res.Sent, _ = strconv.Atoi(m[1])
		res.Received, _ = strconv.Atoi(m[2])
	}

	m := summaryRe.FindStringSubmatch(out)
	if m == nil {
		return Result{}, ErrUnreachable
	}
	avg, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return Result{}, fmt.Errorf("parse ping average %q: %w", m[2], err)
	}
	res.AvgMs = avg
	return res, nil
}
