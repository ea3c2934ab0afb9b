package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"labvpn/internal/model"
)

func TestSnapshotFile_MissingFileReturnsNil(t *testing.T) {
	t.Parallel()

	f := SnapshotFile{Path: filepath.Join(t.TempDir(), "restore.yaml")}
	snap, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap != nil {
		t.Fatalf("snap=%+v", snap)
	}
	if err := f.Remove(); err != nil {
		t.Fatalf("Remove missing: %v", err)
	}
}

func TestSnapshotFile_SaveLoadRemove(t *testing.T) {
	t.Parallel()

	f := SnapshotFile{Path: filepath.Join(t.TempDir(), "state", "restore.yaml")}
	in := NewSnapshot("run-1", map[int]model.AssignedConnection{
		50: {Category: model.CategoryProlabs, Server: model.ServerRef{ID: 50, Name: "EU Dante 1"}},
		1:  {Category: "lab", Server: model.ServerRef{ID: 1, Name: "EU VIP 1"}},
	})
	if err := f.Save(in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	info, err := os.Stat(f.Path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%o", info.Mode().Perm())
	}

	out, err := f.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]int{1, 50}, out.ServerIDs()); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
	if out.RunID != "run-1" || out.CreatedAt.IsZero() {
		t.Fatalf("snap=%+v", out)
	}

	if err := f.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, err := os.Stat(f.Path); !os.IsNotExist(err) {
		t.Fatalf("file still present: %v", err)
	}
}
