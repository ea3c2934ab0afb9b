// Package probe measures round-trip latency to a host.
package probe

import (
	"context"
	"errors"
	"time"
)

// ErrUnreachable is returned when no probe got a reply.
var ErrUnreachable = errors.New("host unreachable")

// Result is the outcome of probing one host.
type Result struct {
	Sent     int
	Received int
	RTTs     []time.Duration
	// AvgMs is the mean round trip in milliseconds.
	AvgMs float64
}

// Prober sends count probes to host.
type Prober interface {
	Probe(ctx context.Context, host string, count int) (Result, error)
}

func mean(rtts []time.Duration) float64 {
	if len(rtts) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range rtts {
		sum += d
	}
	return float64(sum) / float64(len(rtts)) / float64(time.Millisecond)
}
