package model

import (
	"strings"
	"time"
)

// Scope selects one product family of lab servers.
type Scope string

const (
	ScopeLabs          Scope = "labs"
	ScopeStartingPoint Scope = "starting_point"
	ScopeFortresses    Scope = "fortresses"
	ScopeReleaseArena  Scope = "release_arena"
	ScopeEndgames      Scope = "endgames"
	ScopeProlab        Scope = "prolab"
)

// AllScopes lists every scope in the order they are fetched.
var AllScopes = []Scope{
	ScopeLabs,
	ScopeStartingPoint,
	ScopeFortresses,
	ScopeReleaseArena,
	ScopeEndgames,
	ScopeProlab,
}

// ParseScope validates a user supplied scope name.
func ParseScope(s string) (Scope, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, scope := range AllScopes {
		if string(scope) == s {
			return scope, true
		}
	}
	return "", false
}

// CategoryProlabs is the category given to flattened per-lab assignments.
const CategoryProlabs = "prolabs"

// ProductSeparator joins product labels of a server seen under several scopes.
const ProductSeparator = " | "

// VpnServer is a lab VPN endpoint as reported by the catalog.
type VpnServer struct {
	ID             int
	Name           string
	Location       string
	LocationType   string
	Products       []string
	CurrentClients int
	Full           bool
	Assigned       bool
}

// ProductLabel renders the accumulated product labels.
func (s VpnServer) ProductLabel() string {
	return strings.Join(s.Products, ProductSeparator)
}

// Clone returns a copy that shares no slices with s.
func (s VpnServer) Clone() VpnServer {
	s.Products = append([]string(nil), s.Products...)
	return s
}

// ServerRef is the subset of server data carried by an assignment.
type ServerRef struct {
	ID             int
	Name           string
	Location       string
	CurrentClients int
}

// AssignedConnection is the account's binding for one category.
type AssignedConnection struct {
	Category     string
	Server       ServerRef
	CanAccess    bool
	LocalAddrV4  string
	LocalAddrV6  string
	ThroughRelay bool
	Username     string
	LabID        int
	LabName      string
}

// ActiveConnection is a live tunnel as seen by the remote service.
type ActiveConnection struct {
	Category     string
	Server       ServerRef
	Hostname     string
	Port         int
	Username     string
	ThroughRelay bool
	AddrV4       string
	AddrV6       string
	Down         string
	Up           string
}

// BenchmarkResult is the latency measurement for one candidate server.
// A nil LatencyMs marks the server as unreachable.
type BenchmarkResult struct {
	Server      VpnServer
	Hostname    string
	LatencyMs   *float64
	WasAssigned bool
}

// Reachable reports whether a latency was measured.
func (r BenchmarkResult) Reachable() bool {
	return r.LatencyMs != nil
}

// ActiveInstance is the remote lab machine currently started for the account.
type ActiveInstance struct {
	ID          int
	Name        string
	IP          string
	Spawning    bool
	ExpiresAt   time.Time
	Type        string
	LabServer   string
	VpnServerID int
}
