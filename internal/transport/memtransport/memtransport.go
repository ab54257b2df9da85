// Package memtransport is an in-process transport.Driver used by tests and
// by single-binary deployments that simulate a zone tree without a real
// network. Every zone registered with the same *Hub can reach every other
// zone registered with it, keyed by zone name.
package memtransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/transport"
)

// Hub is the shared rendezvous point every Driver instance registers
// against. It plays the role a well-known "zones" topic plays for a
// message-queue transport: anything Send'ing to a zone name finds it here.
type Hub struct {
	mu        sync.RWMutex
	receivers map[string]transport.Receiver
}

// NewHub creates an empty registration hub.
func NewHub() *Hub {
	return &Hub{receivers: map[string]transport.Receiver{}}
}

// Register associates a zone name with the Receiver that should handle
// envelopes addressed to it.
func (h *Hub) Register(zoneName string, r transport.Receiver) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.receivers[zoneName] = r
}

// Driver is a transport.Driver backed by a Hub.
type Driver struct {
	hub *Hub
}

// New creates a Driver bound to hub.
func New(hub *Hub) *Driver {
	return &Driver{hub: hub}
}

func (d *Driver) deliver(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error {
	d.hub.mu.RLock()
	recv, ok := d.hub.receivers[to.Name]
	d.hub.mu.RUnlock()
	if !ok {
		return fmt.Errorf("memtransport: no receiver registered for zone %q", to.Name)
	}
	recv.Receive(ctx, env)
	return nil
}

// Send delivers env to the neighbour's registered Receiver synchronously;
// the receiver is expected to dispatch its own handling onto a goroutine
// if it needs to return control quickly.
func (d *Driver) Send(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error {
	return d.deliver(ctx, to, env)
}

// FanoutSend has the same in-process delivery semantics as Send; there is
// no distinct fanout primitive to simulate in-process.
func (d *Driver) FanoutSend(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error {
	return d.deliver(ctx, to, env)
}
