// Package topology holds the local agent's view of the zone tree: its own
// identity plus the cached parent and child zones, refreshed from an
// external store on a timer. See spec §3 (ZoneInfo / Topology cache) and
// §4.1.
package topology

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// atomicSnapshot is a copy-on-write pointer to the current topology
// snapshot, so Refresh never blocks concurrent readers (spec §5).
type atomicSnapshot struct {
	p atomic.Pointer[snapshot]
}

func (a *atomicSnapshot) load() *snapshot { return a.p.Load() }
func (a *atomicSnapshot) store(s *snapshot) { a.p.Store(s) }

// Row is a single neighbour zone row as projected from the external store.
// Field names mirror the db_info transport-credential projection in
// spec §3: identity, weighting, and the five connection fields §4.2
// projects for the RPC transport.
type Row struct {
	ID            string
	Name          string
	IsParent      bool
	WeightScale   float64
	WeightOffset  float64
	Username      string
	Password      string
	Host          string
	Port          int
	VirtualHost   string
}

// Store is the external collaborator topology refresh reads from. The
// fabric never writes rows itself (spec §6, "Persisted state") — rows are
// maintained by the HTTP surface (internal/httpapi + internal/zonestore).
type Store interface {
	ListZones(ctx context.Context) ([]Row, error)
}

// ZoneInfo holds information for one zone: local, parent, or child.
// Exactly one local ZoneInfo exists per agent, with IsMe=true.
type ZoneInfo struct {
	Name         string
	IsMe         bool
	IsParent     bool // ignored when IsMe
	LastSeen     time.Time
	Capabilities map[string]string
	DBInfo       Row
}

// UpdateMetadata records capabilities learned after successful contact
// with this zone. Capabilities are never read from the store.
func (z *ZoneInfo) UpdateMetadata(capabilities map[string]string) {
	z.LastSeen = time.Now()
	cp := make(map[string]string, len(capabilities))
	for k, v := range capabilities {
		cp[k] = v
	}
	z.Capabilities = cp
}

// snapshot is the immutable state swapped in atomically by Refresh.
type snapshot struct {
	parents  map[string]*ZoneInfo
	children map[string]*ZoneInfo
}

// Cache is the topology cache: two mappings keyed by zone name, parents
// and children, reconciled periodically against Store.
type Cache struct {
	local ZoneInfo

	store           Store
	checkInterval   time.Duration
	mu              sync.Mutex // serializes Refresh calls only
	lastCheck       time.Time
	snap            atomicSnapshot
}

// NewCache builds a cache for the local zone named localName, refreshing
// from store at most once every checkInterval.
func NewCache(localName string, capabilities map[string]string, store Store, checkInterval time.Duration) *Cache {
	c := &Cache{
		local: ZoneInfo{
			Name: localName,
			IsMe: true,
		},
		store:         store,
		checkInterval: checkInterval,
	}
	c.local.UpdateMetadata(capabilities)
	c.snap.store(&snapshot{parents: map[string]*ZoneInfo{}, children: map[string]*ZoneInfo{}})
	return c
}

// Local returns the local zone's own ZoneInfo.
func (c *Cache) Local() ZoneInfo {
	return c.local
}

// Parents returns the current parent zones.
func (c *Cache) Parents() map[string]*ZoneInfo {
	return c.snap.load().parents
}

// Children returns the current child zones.
func (c *Cache) Children() map[string]*ZoneInfo {
	return c.snap.load().children
}

// FindParent looks up a parent zone by name.
func (c *Cache) FindParent(name string) (*ZoneInfo, bool) {
	z, ok := c.snap.load().parents[name]
	return z, ok
}

// FindChild looks up a child zone by name.
func (c *Cache) FindChild(name string) (*ZoneInfo, bool) {
	z, ok := c.snap.load().children[name]
	return z, ok
}

// Refresh reconciles the cache against the store. Invocations arriving
// sooner than checkInterval since the last refresh attempt (successful or
// not) are skipped. Reconciliation runs in three passes (spec §4.1):
//  1. evict cached entries absent from the store with the same is_parent flag;
//  2. overwrite db_info for entries present in both with matching is_parent;
//  3. insert fresh entries for store rows with no cached counterpart.
func (c *Cache) Refresh(ctx context.Context, now time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if now.Sub(c.lastCheck) < c.checkInterval {
		return nil
	}
	c.lastCheck = now

	rows, err := c.store.ListZones(ctx)
	if err != nil {
		return err
	}

	byName := make(map[string]Row, len(rows))
	for _, r := range rows {
		byName[r.Name] = r
	}

	next := &snapshot{parents: map[string]*ZoneInfo{}, children: map[string]*ZoneInfo{}}
	cur := c.snap.load()

	for name, zi := range cur.parents {
		if row, ok := byName[name]; ok && row.IsParent {
			updated := *zi
			updated.DBInfo = row
			next.parents[name] = &updated
		}
	}
	for name, zi := range cur.children {
		if row, ok := byName[name]; ok && !row.IsParent {
			updated := *zi
			updated.DBInfo = row
			next.children[name] = &updated
		}
	}

	for name, row := range byName {
		if row.IsParent {
			if _, exists := next.parents[name]; !exists {
				next.parents[name] = &ZoneInfo{Name: name, IsParent: true, DBInfo: row, Capabilities: map[string]string{}}
			}
		} else {
			if _, exists := next.children[name]; !exists {
				next.children[name] = &ZoneInfo{Name: name, IsParent: false, DBInfo: row, Capabilities: map[string]string{}}
			}
		}
	}

	c.snap.store(next)
	return nil
}
