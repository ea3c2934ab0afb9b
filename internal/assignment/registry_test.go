package assignment

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

type fakeSource struct {
	connections string
	status      string
	statusErr   error
}

func (f *fakeSource) Connections(ctx context.Context) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	err := json.Unmarshal([]byte(f.connections), &out)
	return out, err
}

func (f *fakeSource) ConnectionStatus(ctx context.Context) ([]api.ConnectionStatus, error) {
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	var out []api.ConnectionStatus
	if f.status == "" {
		return out, nil
	}
	err := json.Unmarshal([]byte(f.status), &out)
	return out, err
}

const connections = `{
  "lab": {"can_access": true, "assigned_server": {"id": 1, "friendly_name": "EU VIP 1", "current_clients": 12, "location": "EU"}},
  "starting_point": {"can_access": true, "assigned_server": null},
  "fortresses": {"can_access": false, "assigned_server": {"id": 0, "friendly_name": "none"}},
  "release_arena": {"can_access": true, "assigned_server": {"id": -1}},
  "pro_labs": {
    "dante": {"can_access": true, "assigned_server": {"id": 50, "friendly_name": "EU Dante 1", "location": "EU"}, "pro_lab": {"id": 3, "name": "Dante"}},
    "offshore": {"can_access": false, "assigned_server": null},
    "count": 2
  }
}`

func TestFetch_FlattensAndFilters(t *testing.T) {
	t.Parallel()

	r := New(&fakeSource{connections: connections}, model.NewTestLogger())
	got, err := r.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	want := map[int]model.AssignedConnection{
		1: {
			Category:  "lab",
			Server:    model.ServerRef{ID: 1, Name: "EU VIP 1", Location: "EU", CurrentClients: 12},
			CanAccess: true,
		},
		50: {
			Category:  model.CategoryProlabs,
			Server:    model.ServerRef{ID: 50, Name: "EU Dante 1", Location: "EU"},
			CanAccess: true,
			LabID:     3,
			LabName:   "Dante",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("registry (-want +got):\n%s", diff)
	}
	for id := range got {
		if id <= 0 {
			t.Fatalf("non-positive id %d in registry", id)
		}
	}
}

func TestFetch_EnrichesFromLiveStatus(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		connections: connections,
		status: `[{"type":"lab","server":{"id":1,"hostname":"edge-eu-vip-1.hackthebox.eu","port":1337,"friendly_name":"EU VIP 1"},
		  "connection":{"name":"alice","through_pwnbox":false,"ip4":"10.10.14.7","ip6":"dead:beef::1","down":"1.2 MB","up":3}}]`,
	}
	got, err := New(src, model.NewTestLogger()).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got[1].LocalAddrV4 != "10.10.14.7" || got[1].LocalAddrV6 != "dead:beef::1" || got[1].Username != "alice" {
		t.Fatalf("lab=%+v", got[1])
	}
	if got[50].LocalAddrV4 != "" {
		t.Fatalf("prolab enriched: %+v", got[50])
	}
}

func TestFetch_StatusFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	logger := model.NewTestLogger()
	src := &fakeSource{connections: connections, statusErr: errors.New("down")}
	got, err := New(src, logger).Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(got) != 2 || !logger.Contains("unavailable") {
		t.Fatalf("got=%v lines=%v", got, logger.Lines)
	}
}

func TestActiveConnections(t *testing.T) {
	t.Parallel()

	src := &fakeSource{status: `[{"type":"lab","server":{"id":1,"hostname":"edge","friendly_name":"EU VIP 1"},"connection":{"name":"alice","ip4":"10.10.14.7","down":null,"up":"5 KB"}}]`}
	got, err := New(src, model.NewTestLogger()).ActiveConnections(context.Background())
	if err != nil {
		t.Fatalf("ActiveConnections: %v", err)
	}
	if len(got) != 1 || got[0].AddrV4 != "10.10.14.7" || got[0].Up != "5 KB" || got[0].Down != "" {
		t.Fatalf("got=%+v", got)
	}
}
