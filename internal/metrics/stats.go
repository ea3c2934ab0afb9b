package metrics

import (
	"math"
	"sort"
	"time"
)

// Summary is the latency statistics of one server over a window.
type Summary struct {
	ServerID    int
	ServerName  string
	Count       int
	Unreachable int
	From        time.Time
	To          time.Time
	AvgMs       float64
	P95Ms       float64
	MinMs       float64
	MaxMs       float64
}

// Summarize computes per-server statistics for records at or after since,
// ordered by average latency with never-reachable servers last.
func Summarize(items []Record, since time.Time) []Summary {
	byServer := make(map[int][]Record)
	for _, r := range items {
		if r.Timestamp.Before(since) {
			continue
		}
		byServer[r.ServerID] = append(byServer[r.ServerID], r)
	}

	out := make([]Summary, 0, len(byServer))
	for id, recs := range byServer {
		out = append(out, summarizeServer(id, recs))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		aOK, bOK := a.Count > a.Unreachable, b.Count > b.Unreachable
		if aOK != bOK {
			return aOK
		}
		if a.AvgMs != b.AvgMs {
			return a.AvgMs < b.AvgMs
		}
		return a.ServerID < b.ServerID
	})
	return out
}

func summarizeServer(id int, recs []Record) Summary {
	s := Summary{
		ServerID: id,
		Count:    len(recs),
		From:     recs[0].Timestamp,
		To:       recs[0].Timestamp,
	}

	values := make([]float64, 0, len(recs))
	var sum float64
	minMs := math.MaxFloat64
	maxMs := 0.0
	for _, r := range recs {
		if r.ServerName != "" {
			s.ServerName = r.ServerName
		}
		if r.Timestamp.Before(s.From) {
			s.From = r.Timestamp
		}
		if r.Timestamp.After(s.To) {
			s.To = r.Timestamp
		}
		if r.LatencyMs == nil {
			s.Unreachable++
			continue
		}
		v := *r.LatencyMs
		values = append(values, v)
		sum += v
		if v < minMs {
			minMs = v
		}
		if v > maxMs {
			maxMs = v
		}
	}

	if len(values) == 0 {
		return s
	}
	sort.Float64s(values)
	s.AvgMs = sum / float64(len(values))
	s.P95Ms = percentile(values, 0.95)
	s.MinMs = minMs
	s.MaxMs = maxMs
	return s
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	if p <= 0 {
		return values[0]
	}
	if p >= 1 {
		return values[len(values)-1]
	}
	idx := int(math.Ceil(p*float64(len(values)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(values) {
		idx = len(values) - 1
	}
	return values[idx]
}
