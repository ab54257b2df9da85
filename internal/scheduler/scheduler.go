// Package scheduler implements the intra-zone instance placement helper
// driving the schedule_run_instance inner method: pick one child zone at
// random (or run locally if this zone has none), falling through to the
// next candidate on any communication failure.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/envoyage/envoyage/internal/topology"
)

// Creator runs a placement request against this zone's own compute API
// once the scheduler has picked the local zone as the target.
type Creator interface {
	CreateInstanceHere(ctx context.Context, requestSpec map[string]interface{}) error
}

// Forwarder hands a placement request to a child zone chosen by the
// scheduler. Implementations are expected to cast schedule_run_instance
// downward, need_response=false — a placement failure is discovered by
// the next instance_update broadcast, not by this call blocking.
type Forwarder interface {
	Forward(ctx context.Context, zone *topology.ZoneInfo, requestSpec, filterProperties map[string]interface{}) error
}

// Scheduler places a run-instance request somewhere in the zone tree.
type Scheduler interface {
	ScheduleRunInstance(ctx context.Context, requestSpec, filterProperties map[string]interface{}) error
}

// RandomChildScheduler is the sole placement policy this fabric ships:
// shuffle the known child zones and try each until one accepts the
// request, falling back to running locally when there are no children.
type RandomChildScheduler struct {
	cache     *topology.Cache
	creator   Creator
	forwarder Forwarder
}

// New builds a RandomChildScheduler reading candidates from cache.
func New(cache *topology.Cache, creator Creator, forwarder Forwarder) *RandomChildScheduler {
	return &RandomChildScheduler{cache: cache, creator: creator, forwarder: forwarder}
}

// weightedZones returns the local zone alone when there are no children,
// otherwise every known child in random order. Named for the source
// algorithm this replaces a genuine weight computation with — the
// weighting inputs were never populated in the draft this is grounded on,
// so a uniform shuffle is what survives.
func (s *RandomChildScheduler) weightedZones() []*topology.ZoneInfo {
	children := s.cache.Children()
	if len(children) == 0 {
		local := s.cache.Local()
		return []*topology.ZoneInfo{&local}
	}
	zones := make([]*topology.ZoneInfo, 0, len(children))
	for _, z := range children {
		zones = append(zones, z)
	}
	rand.Shuffle(len(zones), func(i, j int) { zones[i], zones[j] = zones[j], zones[i] })
	return zones
}

// ScheduleRunInstance tries each candidate zone in turn, returning as
// soon as one accepts the request. An error is returned only once every
// candidate has failed.
func (s *RandomChildScheduler) ScheduleRunInstance(ctx context.Context, requestSpec, filterProperties map[string]interface{}) error {
	var lastErr error
	for _, zone := range s.weightedZones() {
		var err error
		if zone.IsMe {
			err = s.creator.CreateInstanceHere(ctx, requestSpec)
		} else {
			err = s.forwarder.Forward(ctx, zone, requestSpec, filterProperties)
		}
		if err == nil {
			return nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no candidate zones")
	}
	return fmt.Errorf("scheduler: could not communicate with any zone: %w", lastErr)
}
