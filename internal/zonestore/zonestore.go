// Package zonestore is the in-memory external collaborator backing both
// the topology cache's neighbour rows and the instance records the
// absorber writes. Production deployments would back this with a real
// database; nothing in the fabric depends on that — it only ever talks
// to the topology.Store / absorber.Store / serviceapi.InstanceLoader
// interfaces. See spec §6 "Persisted state".
package zonestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/envoyage/envoyage/internal/absorber"
	"github.com/envoyage/envoyage/internal/topology"
)

// Store holds both the known-neighbour rows and the instance records,
// guarded by a single mutex — neither table sees enough traffic in a
// single zone agent to warrant splitting the lock.
type Store struct {
	mu        sync.RWMutex
	zones     map[string]topology.Row
	instances map[string]map[string]interface{}
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		zones:     map[string]topology.Row{},
		instances: map[string]map[string]interface{}{},
	}
}

// ListZones implements topology.Store.
func (s *Store) ListZones(ctx context.Context) ([]topology.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := make([]topology.Row, 0, len(s.zones))
	for _, r := range s.zones {
		rows = append(rows, r)
	}
	return rows, nil
}

// PutZone inserts or replaces the row for a neighbour zone. Called by the
// management HTTP surface (internal/httpapi), never by the fabric.
func (s *Store) PutZone(row topology.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.zones[row.Name] = row
}

// DeleteZone removes a neighbour's row by name.
func (s *Store) DeleteZone(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.zones, name)
}

// GetZone returns the row for name, if present.
func (s *Store) GetZone(name string) (topology.Row, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.zones[name]
	return row, ok
}

// InstanceUpdate implements absorber.Store.
func (s *Store) InstanceUpdate(ctx context.Context, uuid string, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.instances[uuid]
	if !ok {
		return absorber.ErrNotFound
	}
	for k, v := range fields {
		existing[k] = v
	}
	return nil
}

// InstanceCreate implements absorber.Store.
func (s *Store) InstanceCreate(ctx context.Context, fields map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	uuid, _ := fields["uuid"].(string)
	row := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		row[k] = v
	}
	s.instances[uuid] = row
	return nil
}

// InstanceDestroy implements absorber.Store.
func (s *Store) InstanceDestroy(ctx context.Context, uuid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[uuid]; !ok {
		return absorber.ErrNotFound
	}
	delete(s.instances, uuid)
	return nil
}

// InstanceInfoCacheUpdate implements absorber.Store.
func (s *Store) InstanceInfoCacheUpdate(ctx context.Context, uuid string, infoCache interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.instances[uuid]
	if !ok {
		return absorber.ErrNotFound
	}
	row["info_cache"] = infoCache
	return nil
}

// InstanceGetByUUID implements serviceapi.InstanceLoader: it exchanges a
// UUID for the instance record the compute service API expects as its
// first positional argument.
func (s *Store) InstanceGetByUUID(ctx context.Context, uuid string) (json.RawMessage, error) {
	s.mu.RLock()
	row, ok := s.instances[uuid]
	s.mu.RUnlock()
	if !ok {
		return nil, absorber.ErrNotFound
	}
	return json.Marshal(row)
}
