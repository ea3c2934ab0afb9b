package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// ReadCSV loads benchmark records from a CSV file.
func ReadCSV(path string) ([]Record, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readCSV(file)
}

func readCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	start := 0
	if len(records[0]) > 0 && records[0][0] == "timestamp" {
		start = 1
	}

	items := make([]Record, 0, len(records)-start)
	for i := start; i < len(records); i++ {
		rec := records[i]
		if len(rec) < len(header) {
			return nil, fmt.Errorf("invalid record at line %d", i+1)
		}
		ts, err := time.Parse(time.RFC3339Nano, rec[0])
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp at line %d: %w", i+1, err)
		}
		id, err := strconv.Atoi(rec[2])
		if err != nil {
			return nil, fmt.Errorf("invalid server id at line %d: %w", i+1, err)
		}
		item := Record{
			Timestamp:  ts,
			RunID:      rec[1],
			ServerID:   id,
			ServerName: rec[3],
			Location:   rec[4],
			Hostname:   rec[5],
		}
		if rec[6] != "" {
			if v, err := strconv.ParseFloat(rec[6], 64); err == nil {
				item.LatencyMs = &v
			}
		}
		item.WasAssigned, _ = strconv.ParseBool(rec[7])
		items = append(items, item)
	}

	return items, nil
}
