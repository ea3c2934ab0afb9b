package store

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"labvpn/internal/model"
)

// Snapshot is the assignment state recorded before a benchmark run.
type Snapshot struct {
	RunID       string       `yaml:"run_id"`
	CreatedAt   time.Time    `yaml:"created_at"`
	Assignments []Assignment `yaml:"assignments"`
}

// Assignment is one recorded binding.
type Assignment struct {
	ServerID   int    `yaml:"server_id"`
	ServerName string `yaml:"server_name"`
	Category   string `yaml:"category"`
}

// NewSnapshot records the given registry, ordered by server id.
func NewSnapshot(runID string, registry map[int]model.AssignedConnection) *Snapshot {
	snap := &Snapshot{RunID: runID, CreatedAt: time.Now().UTC()}
	for id, conn := range registry {
		snap.Assignments = append(snap.Assignments, Assignment{
			ServerID:   id,
			ServerName: conn.Server.Name,
			Category:   conn.Category,
		})
	}
	sort.Slice(snap.Assignments, func(i, j int) bool {
		return snap.Assignments[i].ServerID < snap.Assignments[j].ServerID
	})
	return snap
}

// ServerIDs lists the recorded server ids.
func (s *Snapshot) ServerIDs() []int {
	ids := make([]int, 0, len(s.Assignments))
	for _, a := range s.Assignments {
		ids = append(ids, a.ServerID)
	}
	return ids
}

// SnapshotFile persists a single snapshot at Path.
type SnapshotFile struct {
	Path string
}

// Load returns the stored snapshot, or nil when there is none.
func (f SnapshotFile) Load() (*Snapshot, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Save writes snap to disk.
func (f SnapshotFile) Save(snap *Snapshot) error {
	if snap == nil {
		return nil
	}
	data, err := yaml.Marshal(snap)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(f.Path, data, 0o600)
}

// Remove deletes the stored snapshot. A missing file is not an error.
func (f SnapshotFile) Remove() error {
	err := os.Remove(f.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
