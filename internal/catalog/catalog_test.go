package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

type fakeSource struct {
	trees   map[string]string
	prolabs map[int]string
	labs    []api.Prolab
	calls   map[string]int
	err     error
}

func newFakeSource() *fakeSource {
	return &fakeSource{trees: map[string]string{}, prolabs: map[int]string{}, calls: map[string]int{}}
}

func (f *fakeSource) decode(raw string) (api.ServersData, error) {
	var data api.ServersData
	if raw == "" {
		return data, nil
	}
	err := json.Unmarshal([]byte(raw), &data)
	return data, err
}

func (f *fakeSource) Servers(ctx context.Context, product string) (api.ServersData, error) {
	f.calls[product]++
	if f.err != nil {
		return api.ServersData{}, f.err
	}
	return f.decode(f.trees[product])
}

func (f *fakeSource) ProlabServers(ctx context.Context, labID int) (api.ServersData, error) {
	f.calls["prolab"]++
	return f.decode(f.prolabs[labID])
}

func (f *fakeSource) Prolabs(ctx context.Context) ([]api.Prolab, error) {
	f.calls["prolabs"]++
	return f.labs, nil
}

const labsTree = `{
  "assigned": {"id": 1, "location_type_friendly": "EU - VIP"},
  "options": {
    "EU": {"EU - VIP": {"servers": {
      "1": {"id": 1, "friendly_name": "EU VIP 1", "location": "EU", "current_clients": 12},
      "2": {"id": 2, "friendly_name": "EU VIP 2", "location": "EU", "full": true}
    }}},
    "US": {"US - Free": {"servers": {
      "5": {"id": 5, "friendly_name": "US Free 1", "location": "US"}
    }}}
  }
}`

const arenaTree = `{
  "assigned": null,
  "options": {
    "EU": {"EU - Release Arena": {"servers": [
      {"id": 2, "friendly_name": "EU VIP 2", "location": "EU", "full": true},
      {"id": 9, "friendly_name": "EU RA 1", "location": "EU"},
      {"friendly_name": "broken"}
    ]}}
  }
}`

func ids(servers map[int]model.VpnServer) []int {
	out := make([]int, 0, len(servers))
	for id := range servers {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

func TestFetch_CacheHitIssuesOneRemoteCall(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["labs"] = labsTree
	c := New(src, NewCache(), model.NewTestLogger())

	for i := 0; i < 3; i++ {
		servers, err := c.Fetch(context.Background(), []model.Scope{model.ScopeLabs}, "")
		if err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
		if diff := cmp.Diff([]int{1, 2, 5}, ids(servers)); diff != "" {
			t.Fatalf("ids (-want +got):\n%s", diff)
		}
	}
	if src.calls["labs"] != 1 {
		t.Fatalf("calls=%d", src.calls["labs"])
	}
}

func TestFetch_SharedCacheAcrossCatalogs(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["labs"] = labsTree
	cache := NewCache()

	if _, err := New(src, cache, model.NewTestLogger()).Fetch(context.Background(), []model.Scope{model.ScopeLabs}, ""); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if _, err := New(src, cache, model.NewTestLogger()).Fetch(context.Background(), []model.Scope{model.ScopeLabs}, ""); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if src.calls["labs"] != 1 {
		t.Fatalf("calls=%d", src.calls["labs"])
	}
}

func TestFetch_MergesProductLabelsInEitherOrder(t *testing.T) {
	t.Parallel()

	orders := [][]model.Scope{
		{model.ScopeLabs, model.ScopeReleaseArena},
		{model.ScopeReleaseArena, model.ScopeLabs},
	}
	for _, order := range orders {
		src := newFakeSource()
		src.trees["labs"] = labsTree
		src.trees["release_arena"] = arenaTree
		c := New(src, NewCache(), model.NewTestLogger())

		// Warm one scope so the merge mixes cached and fresh maps.
		if _, err := c.Fetch(context.Background(), order[:1], ""); err != nil {
			t.Fatalf("warm: %v", err)
		}
		servers, err := c.Fetch(context.Background(), order, "")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}

		got := append([]string(nil), servers[2].Products...)
		sort.Strings(got)
		if diff := cmp.Diff([]string{"labs", "release_arena"}, got); diff != "" {
			t.Fatalf("order=%v products (-want +got):\n%s", order, diff)
		}
		if diff := cmp.Diff([]string{"release_arena"}, servers[9].Products); diff != "" {
			t.Fatalf("server 9 products (-want +got):\n%s", diff)
		}
	}
}

func TestFetch_MergeDoesNotMutateCache(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["labs"] = labsTree
	src.trees["release_arena"] = arenaTree
	c := New(src, NewCache(), model.NewTestLogger())

	if _, err := c.Fetch(context.Background(), []model.Scope{model.ScopeLabs, model.ScopeReleaseArena}, ""); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	servers, err := c.Fetch(context.Background(), []model.Scope{model.ScopeLabs}, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := servers[2].ProductLabel(); got != "labs" {
		t.Fatalf("label=%q", got)
	}
}

func TestFetch_AssignedAndSkipsMissingIDs(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["labs"] = labsTree
	src.trees["release_arena"] = arenaTree
	logger := model.NewTestLogger()
	c := New(src, nil, logger)

	servers, err := c.Fetch(context.Background(), []model.Scope{model.ScopeLabs, model.ScopeReleaseArena}, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !servers[1].Assigned || servers[1].LocationType != "EU - VIP" {
		t.Fatalf("server 1=%+v", servers[1])
	}
	if servers[5].Assigned {
		t.Fatalf("server 5 assigned")
	}
	if diff := cmp.Diff([]int{1, 2, 5, 9}, ids(servers)); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
	if !logger.Contains("without id") {
		t.Fatalf("missing warning: %v", logger.Lines)
	}
}

func TestFetch_LocationFilterDoesNotPoisonCache(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["labs"] = labsTree
	c := New(src, NewCache(), model.NewTestLogger())

	us, err := c.Fetch(context.Background(), []model.Scope{model.ScopeLabs}, "us")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff([]int{5}, ids(us)); diff != "" {
		t.Fatalf("us ids (-want +got):\n%s", diff)
	}
	all, err := c.Fetch(context.Background(), []model.Scope{model.ScopeLabs}, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(all) != 3 || src.calls["labs"] != 1 {
		t.Fatalf("all=%d calls=%d", len(all), src.calls["labs"])
	}
}

func TestFetch_ProlabPerLabLabelsAndCache(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.labs = []api.Prolab{{ID: 3, Name: "Dante"}, {ID: 4, Name: "Offshore"}}
	src.prolabs[3] = `{"options":{"EU":{"EU - Dante":{"servers":{"50":{"id":50,"friendly_name":"EU Dante 1","location":"EU"}}}}}}`
	src.prolabs[4] = `{"options":{"US":{"US - Offshore":{"servers":{"60":{"id":60,"friendly_name":"US Offshore 1","location":"US"}}}}}}`
	c := New(src, NewCache(), model.NewTestLogger())

	for i := 0; i < 2; i++ {
		servers, err := c.Fetch(context.Background(), []model.Scope{model.ScopeProlab}, "")
		if err != nil {
			t.Fatalf("Fetch: %v", err)
		}
		if got := servers[50].ProductLabel(); got != "prolab | Dante" {
			t.Fatalf("label=%q", got)
		}
		if got := servers[60].ProductLabel(); got != "prolab | Offshore" {
			t.Fatalf("label=%q", got)
		}
	}
	if src.calls["prolab"] != 2 || src.calls["prolabs"] != 1 {
		t.Fatalf("calls=%v", src.calls)
	}
}

func TestFetch_EmptyOptionsArray(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["endgames"] = `{"assigned":null,"options":[]}`
	servers, err := New(src, nil, model.NewTestLogger()).Fetch(context.Background(), []model.Scope{model.ScopeEndgames}, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(servers) != 0 {
		t.Fatalf("servers=%v", servers)
	}
}

func TestFetch_EmptyScopeIsCached(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["endgames"] = `{"assigned":null,"options":[]}`
	c := New(src, NewCache(), model.NewTestLogger())
	for i := 0; i < 3; i++ {
		servers, err := c.Fetch(context.Background(), []model.Scope{model.ScopeEndgames}, "")
		if err != nil || len(servers) != 0 {
			t.Fatalf("Fetch #%d: servers=%v err=%v", i, servers, err)
		}
	}
	if src.calls["endgames"] != 1 {
		t.Fatalf("calls=%d", src.calls["endgames"])
	}
}

func TestFetch_EmptyRoleArrayIsSkipped(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.trees["labs"] = `{
  "assigned": null,
  "options": {
    "EU": {"EU - Free": [], "EU - VIP": {"servers": {"1": {"id": 1, "friendly_name": "EU VIP 1"}}}},
    "US": {"US - Free": null}
  }
}`
	servers, err := New(src, nil, model.NewTestLogger()).Fetch(context.Background(), []model.Scope{model.ScopeLabs}, "")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if diff := cmp.Diff([]int{1}, ids(servers)); diff != "" {
		t.Fatalf("ids (-want +got):\n%s", diff)
	}
}

func TestFetch_PropagatesTransportError(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	src.err = &api.RequestError{Status: 500, Message: "boom"}
	_, err := New(src, nil, model.NewTestLogger()).Fetch(context.Background(), []model.Scope{model.ScopeLabs}, "")
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err=%v", err)
	}
}

func TestMarkAssigned(t *testing.T) {
	t.Parallel()

	servers := map[int]model.VpnServer{1: {ID: 1, Assigned: true}, 2: {ID: 2}}
	registry := map[int]model.AssignedConnection{2: {Category: "lab"}}
	out := MarkAssigned(servers, registry)
	if out[1].Assigned || !out[2].Assigned {
		t.Fatalf("out=%+v", out)
	}
	if !servers[1].Assigned {
		t.Fatalf("input mutated")
	}
}
