// Package catalog discovers the VPN servers offered per product scope.
package catalog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"labvpn/internal/api"
	"labvpn/internal/model"
)

// Source is the remote side of the catalog.
type Source interface {
	Servers(ctx context.Context, product string) (api.ServersData, error)
	ProlabServers(ctx context.Context, labID int) (api.ServersData, error)
	Prolabs(ctx context.Context) ([]api.Prolab, error)
}

// Catalog fetches and caches server metadata.
type Catalog struct {
	src    Source
	cache  *Cache
	logger model.Logger
}

// New returns a catalog over src. A nil cache gets a private one.
func New(src Source, cache *Cache, logger model.Logger) *Catalog {
	if cache == nil {
		cache = NewCache()
	}
	return &Catalog{src: src, cache: cache, logger: logger}
}

// Fetch returns every server of the given scopes, keyed by id. An empty scope
// list means all scopes. A non-empty location keeps only servers in that
// location; the cache always holds the unfiltered maps.
func (c *Catalog) Fetch(ctx context.Context, scopes []model.Scope, location string) (map[int]model.VpnServer, error) {
	if len(scopes) == 0 {
		scopes = model.AllScopes
	}

	acc := make(map[int]model.VpnServer)
	for _, scope := range scopes {
		if scope == model.ScopeProlab {
			if err := c.fetchProlabs(ctx, acc); err != nil {
				return nil, err
			}
			continue
		}

		key := Key{Scope: scope}
		servers, ok := c.cache.Get(key)
		if ok {
			c.logger.Debugf("catalog: cache hit for %s", scope)
		} else {
			data, err := c.src.Servers(ctx, string(scope))
			if err != nil {
				return nil, fmt.Errorf("fetch %s servers: %w", scope, err)
			}
			servers, err = parseTree(data, string(scope), c.logger)
			if err != nil {
				return nil, err
			}
			c.cache.Put(key, servers)
		}
		merge(acc, servers)
	}

	return filterLocation(acc, location), nil
}

func (c *Catalog) fetchProlabs(ctx context.Context, acc map[int]model.VpnServer) error {
	labs, err := c.labs(ctx)
	if err != nil {
		return err
	}
	for _, lab := range labs {
		key := Key{Scope: model.ScopeProlab, SubScopeID: lab.ID}
		servers, ok := c.cache.Get(key)
		if !ok {
			data, err := c.src.ProlabServers(ctx, lab.ID)
			if err != nil {
				return fmt.Errorf("fetch servers of lab %d: %w", lab.ID, err)
			}
			label := string(model.ScopeProlab) + model.ProductSeparator + lab.Name
			servers, err = parseTree(data, label, c.logger)
			if err != nil {
				return err
			}
			c.cache.Put(key, servers)
		}
		merge(acc, servers)
	}
	return nil
}

func (c *Catalog) labs(ctx context.Context) ([]Lab, error) {
	if labs, ok := c.cache.Labs(); ok {
		return labs, nil
	}
	raw, err := c.src.Prolabs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list labs: %w", err)
	}
	labs := make([]Lab, 0, len(raw))
	for _, l := range raw {
		if l.ID <= 0 {
			continue
		}
		labs = append(labs, Lab{ID: l.ID, Name: l.Name})
	}
	c.cache.PutLabs(labs)
	return labs, nil
}

// merge adds servers into acc. A server already present keeps its earlier
// labels after the new ones.
func merge(acc map[int]model.VpnServer, servers map[int]model.VpnServer) {
	for id, s := range servers {
		prev, ok := acc[id]
		if !ok {
			acc[id] = s.Clone()
			continue
		}
		merged := s.Clone()
		for _, p := range prev.Products {
			if !slices.Contains(merged.Products, p) {
				merged.Products = append(merged.Products, p)
			}
		}
		merged.Assigned = merged.Assigned || prev.Assigned
		if merged.LocationType == "" {
			merged.LocationType = prev.LocationType
		}
		acc[id] = merged
	}
}

func filterLocation(servers map[int]model.VpnServer, location string) map[int]model.VpnServer {
	location = strings.TrimSpace(location)
	if location == "" {
		return servers
	}
	out := make(map[int]model.VpnServer)
	for id, s := range servers {
		if strings.EqualFold(s.Location, location) {
			out[id] = s
		}
	}
	return out
}

// MarkAssigned returns a copy of servers with Assigned set from the registry.
func MarkAssigned(servers map[int]model.VpnServer, registry map[int]model.AssignedConnection) map[int]model.VpnServer {
	out := make(map[int]model.VpnServer, len(servers))
	for id, s := range servers {
		s = s.Clone()
		_, s.Assigned = registry[id]
		out[id] = s
	}
	return out
}

// Sorted returns the servers ordered by id.
func Sorted(servers map[int]model.VpnServer) []model.VpnServer {
	out := make([]model.VpnServer, 0, len(servers))
	for _, s := range servers {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b model.VpnServer) int { return a.ID - b.ID })
	return out
}
