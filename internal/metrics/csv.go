package metrics

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

var header = []string{
	"timestamp",
	"run_id",
	"server_id",
	"server_name",
	"location",
	"hostname",
	"latency_ms",
	"was_assigned",
}

// WriteCSV writes records to CSV with a fixed column order. Unreachable
// servers have an empty latency.
func WriteCSV(w io.Writer, items []Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(header); err != nil {
		return err
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// AppendCSV appends records to path, writing the header only when the file
// is new or empty.
func AppendCSV(path string, items []Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	writer := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := writer.Write(header); err != nil {
			return err
		}
	}
	if err := writeRecords(writer, items); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

func writeRecords(writer *csv.Writer, items []Record) error {
	for _, r := range items {
		latency := ""
		if r.LatencyMs != nil {
			latency = strconv.FormatFloat(*r.LatencyMs, 'f', 3, 64)
		}
		record := []string{
			r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.RunID,
			strconv.Itoa(r.ServerID),
			r.ServerName,
			r.Location,
			r.Hostname,
			latency,
			strconv.FormatBool(r.WasAssigned),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	return nil
}
