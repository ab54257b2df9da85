// Package absorber implements the §4.8 Instance State Absorber: at the
// tree root, applies instance_update / instance_destroy broadcasts to the
// local instance store. Non-root agents, and a root agent that produced
// the update itself, must cause no writes.
package absorber

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/envoyage/envoyage/internal/zonepath"
)

// ErrNotFound is returned by Store methods when the requested row does
// not exist. The absorber treats it specially for both operations (spec §7).
var ErrNotFound = errors.New("instance not found")

// Store is the external instance persistence collaborator. The fabric
// never interprets instance payloads beyond what routing requires; it
// only forwards raw field maps to these calls.
type Store interface {
	InstanceUpdate(ctx context.Context, uuid string, fields map[string]interface{}) error
	InstanceCreate(ctx context.Context, fields map[string]interface{}) error
	InstanceDestroy(ctx context.Context, uuid string) error
	InstanceInfoCacheUpdate(ctx context.Context, uuid string, infoCache interface{}) error
}

// HasParents reports whether the local agent has any parent zones. The
// absorber only ever writes when this is false — only the root applies
// DB writes.
type HasParents func() bool

// Absorber applies instance_update / instance_destroy broadcasts.
type Absorber struct {
	localName  string
	hasParents HasParents
	store      Store
}

// New builds an Absorber for the agent named localName.
func New(localName string, hasParents HasParents, store Store) *Absorber {
	return &Absorber{localName: localName, hasParents: hasParents, store: store}
}

// shouldApply implements the gating rule shared by both operations: only
// the root applies writes, and only for updates that came from elsewhere.
func (a *Absorber) shouldApply(routingPath zonepath.Path) bool {
	if a.hasParents() {
		return false
	}
	if string(routingPath) == a.localName {
		return false
	}
	return true
}

// InstanceUpdate applies an instance_update broadcast. instanceInfo is the
// filtered payload produced by envelope.InstanceUpdateEnvelope, still
// carrying its info_cache sub-object if one was attached.
func (a *Absorber) InstanceUpdate(ctx context.Context, instanceInfo map[string]interface{}, routingPath zonepath.Path) error {
	if !a.shouldApply(routingPath) {
		return nil
	}

	uuid, _ := instanceInfo["uuid"].(string)
	rest := make(map[string]interface{}, len(instanceInfo))
	for k, v := range instanceInfo {
		rest[k] = v
	}
	infoCache, hadCache := rest["info_cache"]
	delete(rest, "info_cache")
	rest["zone_name"] = string(zonepath.Reverse(routingPath))

	if err := a.store.InstanceUpdate(ctx, uuid, rest); err != nil {
		if errors.Is(err, ErrNotFound) {
			if err := a.store.InstanceCreate(ctx, rest); err != nil {
				return err
			}
		} else {
			return err
		}
	}

	if hadCache {
		return a.store.InstanceInfoCacheUpdate(ctx, uuid, infoCache)
	}
	return nil
}

// InstanceDestroy applies an instance_destroy broadcast. A not-found
// result from the store is swallowed.
func (a *Absorber) InstanceDestroy(ctx context.Context, instanceInfo map[string]interface{}, routingPath zonepath.Path) error {
	if !a.shouldApply(routingPath) {
		return nil
	}
	uuid, _ := instanceInfo["uuid"].(string)
	err := a.store.InstanceDestroy(ctx, uuid)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	return nil
}

// DecodeInstanceInfo unmarshals the raw instance_info payload carried by
// an inbound instance_update/instance_destroy broadcast message.
func DecodeInstanceInfo(raw json.RawMessage) (map[string]interface{}, error) {
	var payload struct {
		InstanceInfo map[string]interface{} `json:"instance_info"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	return payload.InstanceInfo, nil
}
