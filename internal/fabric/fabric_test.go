package fabric

import (
	"context"
	"testing"
	"time"

	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/transport/memtransport"
)

// fakeStore is a fixed neighbour row list, enough to seed a topology.Cache
// via a single Refresh without needing a real zonestore.
type fakeStore struct{ rows []topology.Row }

func (f fakeStore) ListZones(ctx context.Context) ([]topology.Row, error) { return f.rows, nil }

func newTestCache(t *testing.T, name string, rows []topology.Row) *topology.Cache {
	t.Helper()
	c := topology.NewCache(name, nil, fakeStore{rows: rows}, 0)
	if err := c.Refresh(context.Background(), time.Now()); err != nil {
		t.Fatalf("seeding cache for %q: %v", name, err)
	}
	return c
}

// threeZoneTree wires three Agents onto a shared memtransport.Hub in the
// shape root "me" -> child "zone2" -> grandchild "grandchild" (reached as
// "me.zone2.grandchild"), mirroring the tree find_next_hop's dot-counting
// walk assumes.
type threeZoneTree struct {
	me, zone2, grandchild *Agent
}

func newThreeZoneTree(t *testing.T) *threeZoneTree {
	t.Helper()
	hub := memtransport.NewHub()

	meCache := newTestCache(t, "me", []topology.Row{{Name: "zone2"}})
	zone2Cache := newTestCache(t, "zone2", []topology.Row{
		{Name: "me", IsParent: true},
		{Name: "grandchild"},
	})
	grandchildCache := newTestCache(t, "grandchild", []topology.Row{{Name: "zone2", IsParent: true}})

	tree := &threeZoneTree{
		me:         NewAgent("me", meCache, memtransport.New(hub)),
		zone2:      NewAgent("zone2", zone2Cache, memtransport.New(hub)),
		grandchild: NewAgent("grandchild", grandchildCache, memtransport.New(hub)),
	}
	hub.Register("me", tree.me)
	hub.Register("zone2", tree.zone2)
	hub.Register("grandchild", tree.grandchild)
	return tree
}
