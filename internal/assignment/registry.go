// Package assignment reads which servers the account is currently bound to.
package assignment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

const proLabsKey = "pro_labs"

// Source is the remote side of the registry.
type Source interface {
	Connections(ctx context.Context) (map[string]json.RawMessage, error)
	ConnectionStatus(ctx context.Context) ([]api.ConnectionStatus, error)
}

// Registry maps assigned server ids to their binding.
type Registry struct {
	src    Source
	logger model.Logger
}

func New(src Source, logger model.Logger) *Registry {
	return &Registry{src: src, logger: logger}
}

// Fetch returns the current bindings keyed by server id. Categories without a
// bound server are absent.
func (r *Registry) Fetch(ctx context.Context) (map[int]model.AssignedConnection, error) {
	raw, err := r.src.Connections(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch assignments: %w", err)
	}
	out := parseConnections(raw, r.logger)
	if len(out) == 0 {
		return out, nil
	}

	live, err := r.src.ConnectionStatus(ctx)
	if err != nil {
		r.logger.Warnf("assignment: live connection status unavailable: %v", err)
		return out, nil
	}
	for _, st := range live {
		conn, ok := out[st.Server.ID]
		if !ok {
			continue
		}
		conn.LocalAddrV4 = st.Connection.IP4
		conn.LocalAddrV6 = st.Connection.IP6
		conn.ThroughRelay = st.Connection.ThroughPwnbox
		conn.Username = st.Connection.Name
		out[st.Server.ID] = conn
	}
	return out, nil
}

// ActiveConnections lists the tunnels the remote service currently sees.
func (r *Registry) ActiveConnections(ctx context.Context) ([]model.ActiveConnection, error) {
	live, err := r.src.ConnectionStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch connection status: %w", err)
	}
	out := make([]model.ActiveConnection, 0, len(live))
	for _, st := range live {
		out = append(out, model.ActiveConnection{
			Category: st.Type,
			Server: model.ServerRef{
				ID:   st.Server.ID,
				Name: st.Server.FriendlyName,
			},
			Hostname:     st.Server.Hostname,
			Port:         st.Server.Port,
			Username:     st.Connection.Name,
			ThroughRelay: st.Connection.ThroughPwnbox,
			AddrV4:       st.Connection.IP4,
			AddrV6:       st.Connection.IP6,
			Down:         string(st.Connection.Down),
			Up:           string(st.Connection.Up),
		})
	}
	return out, nil
}

// parseConnections flattens the per-lab branch into top-level entries and
// drops categories without a positive server id.
func parseConnections(raw map[string]json.RawMessage, logger model.Logger) map[int]model.AssignedConnection {
	out := make(map[int]model.AssignedConnection)

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, category := range keys {
		value := raw[category]
		if category == proLabsKey {
			var labs map[string]json.RawMessage
			if !isObject(value) || json.Unmarshal(value, &labs) != nil {
				continue
			}
			labKeys := make([]string, 0, len(labs))
			for k := range labs {
				labKeys = append(labKeys, k)
			}
			sort.Strings(labKeys)
			for _, k := range labKeys {
				if !isObject(labs[k]) {
					continue
				}
				add(out, model.CategoryProlabs, labs[k], logger)
			}
			continue
		}
		if !isObject(value) {
			continue
		}
		add(out, category, value, logger)
	}
	return out
}

func add(out map[int]model.AssignedConnection, category string, raw json.RawMessage, logger model.Logger) {
	var entry api.ConnectionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		logger.Warnf("assignment: skipping malformed %s entry: %v", category, err)
		return
	}
	if entry.AssignedServer == nil || entry.AssignedServer.ID <= 0 {
		return
	}
	conn := model.AssignedConnection{
		Category: category,
		Server: model.ServerRef{
			ID:             entry.AssignedServer.ID,
			Name:           entry.AssignedServer.FriendlyName,
			Location:       entry.AssignedServer.Location,
			CurrentClients: entry.AssignedServer.CurrentClients,
		},
		CanAccess: entry.CanAccess,
	}
	if entry.ProLab != nil {
		conn.LabID = entry.ProLab.ID
		conn.LabName = entry.ProLab.Name
	}
	out[conn.Server.ID] = conn
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
