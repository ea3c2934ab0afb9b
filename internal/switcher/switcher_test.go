package switcher

import (
	"context"
	"errors"
	"testing"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

// fakeRemote rebinds the account in its registry on every accepted switch.
type fakeRemote struct {
	registry *fakeRegistry
	calls    []int
	resp     api.SwitchResponse
	err      error
}

func (f *fakeRemote) SwitchServer(ctx context.Context, serverID int) (api.SwitchResponse, error) {
	f.calls = append(f.calls, serverID)
	if f.err != nil {
		return api.SwitchResponse{}, f.err
	}
	if f.resp.Status {
		f.registry.bound = map[int]model.AssignedConnection{
			serverID: {Category: "lab", Server: model.ServerRef{ID: serverID}},
		}
	}
	return f.resp, nil
}

type fakeRegistry struct {
	bound map[int]model.AssignedConnection
	err   error
}

func (f *fakeRegistry) Fetch(ctx context.Context) (map[int]model.AssignedConnection, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int]model.AssignedConnection, len(f.bound))
	for k, v := range f.bound {
		out[k] = v
	}
	return out, nil
}

func TestSwitch_IsIdempotent(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{bound: map[int]model.AssignedConnection{1: {Category: "lab", Server: model.ServerRef{ID: 1}}}}
	remote := &fakeRemote{registry: reg, resp: api.SwitchResponse{Status: true, Message: "ok"}}
	s := New(remote, reg, model.NewTestLogger())

	first, err := s.Switch(context.Background(), 2)
	if err != nil {
		t.Fatalf("Switch #1: %v", err)
	}
	second, err := s.Switch(context.Background(), 2)
	if err != nil {
		t.Fatalf("Switch #2: %v", err)
	}
	if len(remote.calls) != 1 {
		t.Fatalf("calls=%v", remote.calls)
	}
	if first.Server.ID != 2 || second.Server.ID != 2 || first.Category != "lab" {
		t.Fatalf("first=%+v second=%+v", first, second)
	}
}

func TestSwitch_BlockedInBody(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	msg := "You must stop your active machine before switching VPN servers."
	remote := &fakeRemote{registry: reg, resp: api.SwitchResponse{Status: false, Message: msg}}

	_, err := New(remote, reg, model.NewTestLogger()).Switch(context.Background(), 2)
	if !errors.Is(err, ErrSwitchBlocked) {
		t.Fatalf("err=%v", err)
	}
	var blocked *BlockedError
	if !errors.As(err, &blocked) || blocked.Message != msg {
		t.Fatalf("blocked=%+v", blocked)
	}
	if len(remote.calls) != 1 {
		t.Fatalf("blocked switch retried: %v", remote.calls)
	}
}

func TestSwitch_BlockedInErrorResponse(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	remote := &fakeRemote{registry: reg, err: &api.RequestError{Status: 400, Message: "Stop your active machine before switching VPN"}}

	_, err := New(remote, reg, model.NewTestLogger()).Switch(context.Background(), 2)
	if !errors.Is(err, ErrSwitchBlocked) {
		t.Fatalf("err=%v", err)
	}
}

func TestSwitch_RejectedAndTransportErrors(t *testing.T) {
	t.Parallel()

	reg := &fakeRegistry{}
	remote := &fakeRemote{registry: reg, resp: api.SwitchResponse{Status: false, Message: "server full"}}
	_, err := New(remote, reg, model.NewTestLogger()).Switch(context.Background(), 2)
	if !errors.Is(err, ErrSwitchRejected) || errors.Is(err, ErrSwitchBlocked) {
		t.Fatalf("err=%v", err)
	}

	remote = &fakeRemote{registry: reg, err: &api.RequestError{Status: 500, Message: "boom"}}
	_, err = New(remote, reg, model.NewTestLogger()).Switch(context.Background(), 2)
	var reqErr *api.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err=%v", err)
	}
}

// unboundRemote accepts the switch without the registry reflecting it.
type unboundRemote struct{}

func (unboundRemote) SwitchServer(ctx context.Context, serverID int) (api.SwitchResponse, error) {
	return api.SwitchResponse{
		Status: true,
		Data:   &api.SwitchData{FriendlyName: "US VIP 3", CurrentClients: 4, Location: "US"},
	}, nil
}

func TestSwitch_FallsBackToResponseData(t *testing.T) {
	t.Parallel()

	conn, err := New(unboundRemote{}, &fakeRegistry{}, model.NewTestLogger()).Switch(context.Background(), 7)
	if err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if conn.Server.ID != 7 || conn.Server.Name != "US VIP 3" || conn.Server.Location != "US" {
		t.Fatalf("conn=%+v", conn)
	}
}
