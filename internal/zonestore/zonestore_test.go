package zonestore

import (
	"context"
	"errors"
	"testing"

	"github.com/envoyage/envoyage/internal/absorber"
	"github.com/envoyage/envoyage/internal/topology"
)

func TestPutGetDeleteZone(t *testing.T) {
	s := New()
	row := topology.Row{Name: "zone2", IsParent: false, Host: "localhost", Port: 9094}
	s.PutZone(row)

	got, ok := s.GetZone("zone2")
	if !ok {
		t.Fatal("zone2 not found after PutZone")
	}
	if got != row {
		t.Errorf("got %+v, want %+v", got, row)
	}

	rows, err := s.ListZones(context.Background())
	if err != nil || len(rows) != 1 {
		t.Fatalf("ListZones = %v, %v", rows, err)
	}

	s.DeleteZone("zone2")
	if _, ok := s.GetZone("zone2"); ok {
		t.Error("zone2 still present after DeleteZone")
	}
}

func TestInstanceUpdateOnMissingRowReportsNotFound(t *testing.T) {
	s := New()
	err := s.InstanceUpdate(context.Background(), "missing-uuid", map[string]interface{}{"state": "active"})
	if !errors.Is(err, absorber.ErrNotFound) {
		t.Errorf("err = %v, want absorber.ErrNotFound", err)
	}
}

func TestInstanceCreateThenUpdateThenDestroy(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.InstanceCreate(ctx, map[string]interface{}{"uuid": "abc", "state": "building"}); err != nil {
		t.Fatalf("InstanceCreate: %v", err)
	}

	if err := s.InstanceUpdate(ctx, "abc", map[string]interface{}{"state": "active"}); err != nil {
		t.Fatalf("InstanceUpdate: %v", err)
	}

	raw, err := s.InstanceGetByUUID(ctx, "abc")
	if err != nil {
		t.Fatalf("InstanceGetByUUID: %v", err)
	}
	if len(raw) == 0 {
		t.Error("InstanceGetByUUID returned empty payload")
	}

	if err := s.InstanceDestroy(ctx, "abc"); err != nil {
		t.Fatalf("InstanceDestroy: %v", err)
	}
	if err := s.InstanceDestroy(ctx, "abc"); !errors.Is(err, absorber.ErrNotFound) {
		t.Errorf("second InstanceDestroy err = %v, want absorber.ErrNotFound", err)
	}
}

func TestInstanceInfoCacheUpdateOnMissingRowReportsNotFound(t *testing.T) {
	s := New()
	err := s.InstanceInfoCacheUpdate(context.Background(), "missing-uuid", map[string]interface{}{})
	if !errors.Is(err, absorber.ErrNotFound) {
		t.Errorf("err = %v, want absorber.ErrNotFound", err)
	}
}
