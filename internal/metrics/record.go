package metrics

import (
	"time"

	"labvpn/internal/model"
)

// Record is one benchmark measurement as stored in the history file.
type Record struct {
	Timestamp   time.Time
	RunID       string
	ServerID    int
	ServerName  string
	Location    string
	Hostname    string
	LatencyMs   *float64
	WasAssigned bool
}

// FromResults converts the results of one benchmark run.
func FromResults(runID string, at time.Time, results []model.BenchmarkResult) []Record {
	out := make([]Record, 0, len(results))
	for _, r := range results {
		rec := Record{
			Timestamp:   at.UTC(),
			RunID:       runID,
			ServerID:    r.Server.ID,
			ServerName:  r.Server.Name,
			Location:    r.Server.Location,
			Hostname:    r.Hostname,
			WasAssigned: r.WasAssigned,
		}
		if r.LatencyMs != nil {
			v := *r.LatencyMs
			rec.LatencyMs = &v
		}
		out = append(out, rec)
	}
	return out
}
