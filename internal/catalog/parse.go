package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

type member struct {
	key   string
	value json.RawMessage
}

// members lists the children of a JSON object (sorted by key) or array.
// Null and empty input have no children.
func members(raw json.RawMessage) ([]member, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]member, 0, len(keys))
		for _, k := range keys {
			out = append(out, member{key: k, value: obj[k]})
		}
		return out, nil
	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil, err
		}
		out := make([]member, 0, len(arr))
		for _, v := range arr {
			out = append(out, member{value: v})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unexpected JSON value %.20q", raw)
}

// isObject reports whether raw holds a JSON object. Empty levels arrive as
// arrays or null.
func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// parseTree walks location -> role -> servers and tags every server with label.
func parseTree(data api.ServersData, label string, logger model.Logger) (map[int]model.VpnServer, error) {
	servers := make(map[int]model.VpnServer)

	locations, err := members(data.Options)
	if err != nil {
		return nil, fmt.Errorf("%s options: %w", label, err)
	}
	for _, loc := range locations {
		roles, err := members(loc.value)
		if err != nil {
			return nil, fmt.Errorf("%s location %q: %w", label, loc.key, err)
		}
		for _, role := range roles {
			if !isObject(role.value) {
				continue
			}
			var group struct {
				Servers json.RawMessage `json:"servers"`
			}
			if err := json.Unmarshal(role.value, &group); err != nil {
				return nil, fmt.Errorf("%s role %q: %w", label, role.key, err)
			}
			entries, err := members(group.Servers)
			if err != nil {
				return nil, fmt.Errorf("%s role %q servers: %w", label, role.key, err)
			}
			for _, e := range entries {
				var entry api.ServerEntry
				if err := json.Unmarshal(e.value, &entry); err != nil {
					logger.Warnf("catalog: skipping malformed server in %s: %v", label, err)
					continue
				}
				if entry.ID == nil || *entry.ID <= 0 {
					logger.Warnf("catalog: skipping server without id in %s", label)
					continue
				}
				s := model.VpnServer{
					ID:             *entry.ID,
					Name:           entry.FriendlyName,
					Location:       entry.Location,
					Products:       []string{label},
					CurrentClients: entry.CurrentClients,
					Full:           entry.Full,
				}
				if s.Location == "" {
					s.Location = loc.key
				}
				if data.Assigned != nil && data.Assigned.ID == s.ID {
					s.Assigned = true
					s.LocationType = data.Assigned.LocationTypeFriendly
				}
				servers[s.ID] = s
			}
		}
	}
	return servers, nil
}
