package catalog

import (
	"sync"

	"labvpn/internal/model"
)

// Key identifies one cached scope. SubScopeID is the lab id for the per-lab
// scope and zero otherwise.
type Key struct {
	Scope      model.Scope
	SubScopeID int
}

// Lab is a per-lab product known to the catalog.
type Lab struct {
	ID   int
	Name string
}

// Cache holds fetched server maps for the lifetime of the value. Entries are
// never invalidated.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]map[int]model.VpnServer
	labs    []Lab
	hasLabs bool
}

func NewCache() *Cache {
	return &Cache{entries: make(map[Key]map[int]model.VpnServer)}
}

// Get returns a copy of a stored entry. A scope stored with no servers is a
// hit like any other.
func (c *Cache) Get(key Key) (map[int]model.VpnServer, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return cloneServers(entry), true
}

// Put stores a copy of servers under key.
func (c *Cache) Put(key Key, servers map[int]model.VpnServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cloneServers(servers)
}

// Labs returns the cached lab listing.
func (c *Cache) Labs() ([]Lab, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasLabs {
		return nil, false
	}
	return append([]Lab(nil), c.labs...), true
}

// PutLabs stores the lab listing.
func (c *Cache) PutLabs(labs []Lab) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.labs = append([]Lab(nil), labs...)
	c.hasLabs = true
}

func cloneServers(in map[int]model.VpnServer) map[int]model.VpnServer {
	out := make(map[int]model.VpnServer, len(in))
	for id, s := range in {
		out[id] = s.Clone()
	}
	return out
}
