package topology

import (
	"context"
	"testing"
	"time"
)

type fakeStore struct {
	rows []Row
}

func (f *fakeStore) ListZones(ctx context.Context) ([]Row, error) {
	return f.rows, nil
}

func TestRefreshInsertsAndEvicts(t *testing.T) {
	store := &fakeStore{rows: []Row{
		{Name: "zone2", IsParent: false, Host: "h1"},
		{Name: "parentz", IsParent: true, Host: "h2"},
	}}
	c := NewCache("me", nil, store, 0)

	if err := c.Refresh(context.Background(), time.Now()); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.FindChild("zone2"); !ok {
		t.Fatalf("expected zone2 to be cached as a child")
	}
	if _, ok := c.FindParent("parentz"); !ok {
		t.Fatalf("expected parentz to be cached as a parent")
	}

	// zone2 disappears from the store; it must be evicted on next refresh.
	store.rows = []Row{{Name: "parentz", IsParent: true, Host: "h2-updated"}}
	if err := c.Refresh(context.Background(), time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.FindChild("zone2"); ok {
		t.Fatalf("expected zone2 to be evicted")
	}
	parent, ok := c.FindParent("parentz")
	if !ok || parent.DBInfo.Host != "h2-updated" {
		t.Fatalf("expected parentz db_info to be refreshed, got %+v", parent)
	}
}

func TestRefreshThrottled(t *testing.T) {
	store := &fakeStore{rows: []Row{{Name: "zone2", IsParent: false}}}
	c := NewCache("me", nil, store, time.Minute)

	now := time.Now()
	if err := c.Refresh(context.Background(), now); err != nil {
		t.Fatal(err)
	}
	store.rows = nil
	// A refresh arriving sooner than checkInterval must be skipped.
	if err := c.Refresh(context.Background(), now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.FindChild("zone2"); !ok {
		t.Fatalf("expected throttled refresh to leave cache untouched")
	}
}

func TestLocalZoneInfo(t *testing.T) {
	c := NewCache("me", map[string]string{"cpu_arch": "x86_64"}, &fakeStore{}, 0)
	local := c.Local()
	if !local.IsMe || local.Name != "me" {
		t.Fatalf("unexpected local zone info: %+v", local)
	}
	if local.Capabilities["cpu_arch"] != "x86_64" {
		t.Fatalf("expected capability to be set: %+v", local.Capabilities)
	}
}
