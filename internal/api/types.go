package api

import (
	"encoding/json"
	"strings"
)

type envelope[T any] struct {
	Data T `json:"data"`
}

// ServersData is the raw server tree of one product scope.
// Options is location -> role -> {servers: id -> server}; the remote encodes
// empty levels as JSON arrays, so it is left raw for the catalog to walk.
type ServersData struct {
	Disabled bool            `json:"disabled"`
	Assigned *AssignedServer `json:"assigned"`
	Options  json.RawMessage `json:"options"`
}

// AssignedServer is the server the account is bound to within a scope.
type AssignedServer struct {
	ID                   int    `json:"id"`
	FriendlyName         string `json:"friendly_name"`
	CurrentClients       int    `json:"current_clients"`
	Location             string `json:"location"`
	LocationTypeFriendly string `json:"location_type_friendly"`
}

// ServerEntry is one leaf of the server tree. ID is a pointer so that a
// missing id can be told apart from zero.
type ServerEntry struct {
	ID             *int   `json:"id"`
	FriendlyName   string `json:"friendly_name"`
	Full           bool   `json:"full"`
	CurrentClients int    `json:"current_clients"`
	Location       string `json:"location"`
}

// Prolab identifies a per-lab product.
type Prolab struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type prolabsData struct {
	Labs []Prolab `json:"labs"`
}

// ConnectionEntry is one category of the connections listing.
type ConnectionEntry struct {
	CanAccess      bool            `json:"can_access"`
	AssignedServer *AssignedServer `json:"assigned_server"`
	ProLab         *Prolab         `json:"pro_lab,omitempty"`
	LocationType   string          `json:"location_type_friendly,omitempty"`
}

// ConnectionStatus is a live tunnel reported by the remote service.
type ConnectionStatus struct {
	Type                 string `json:"type"`
	LocationTypeFriendly string `json:"location_type_friendly"`
	Server               struct {
		ID           int    `json:"id"`
		Hostname     string `json:"hostname"`
		Port         int    `json:"port"`
		FriendlyName string `json:"friendly_name"`
	} `json:"server"`
	Connection struct {
		Name          string `json:"name"`
		ThroughPwnbox bool   `json:"through_pwnbox"`
		IP4           string `json:"ip4"`
		IP6           string `json:"ip6"`
		Down          Scalar `json:"down"`
		Up            Scalar `json:"up"`
	} `json:"connection"`
}

// SwitchResponse is returned by the server switch call.
type SwitchResponse struct {
	Status  bool        `json:"status"`
	Message string      `json:"message"`
	Data    *SwitchData `json:"data,omitempty"`
}

// SwitchData describes the newly bound server.
type SwitchData struct {
	FriendlyName   string `json:"friendly_name"`
	CurrentClients int    `json:"current_clients"`
	Location       string `json:"location"`
}

// MachineActionResponse is returned by instance spawn and terminate calls.
type MachineActionResponse struct {
	Success json.RawMessage `json:"success"`
	Message string          `json:"message"`
}

// Accepted reports whether the remote accepted the request. The service
// signals refusal with the string "0".
func (r MachineActionResponse) Accepted() bool {
	s := strings.TrimSpace(string(r.Success))
	switch s {
	case `"0"`, "false", "0":
		return false
	}
	return true
}

// ActiveMachine is the raw active instance record.
type ActiveMachine struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	IP          *string `json:"ip"`
	IsSpawning  bool    `json:"isSpawning"`
	ExpiresAt   string  `json:"expires_at"`
	LabServer   string  `json:"lab_server"`
	Type        string  `json:"type"`
	VpnServerID *int    `json:"vpn_server_id"`
}

type activeMachineResponse struct {
	Info *ActiveMachine `json:"info"`
}

// Scalar accepts any JSON scalar and keeps its text form.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = Scalar(str)
		return nil
	}
	*s = Scalar(strings.TrimSpace(string(b)))
	return nil
}
