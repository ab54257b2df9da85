// Package transport defines the pluggable delivery contract the fabric
// uses to reach a neighbour zone. Implementations are fire-and-forget:
// Send returns once the transport has accepted the envelope, not once the
// remote has processed it. See spec §4.2.
package transport

import (
	"context"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/topology"
)

// Driver sends an already-formed envelope to exactly one neighbour zone,
// with no interpretation of its contents.
type Driver interface {
	// Send delivers env to the single neighbour described by to.
	Send(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error

	// FanoutSend has the same contract as Send except that delivery is
	// broadcast-style at the transport level. Used only when the caller
	// requests fanout.
	FanoutSend(ctx context.Context, to *topology.ZoneInfo, env envelope.Envelope) error
}

// Receiver is implemented by whatever owns the local agent's inbound
// message loop. A Driver invokes it once per envelope it receives from a
// neighbour; each call is expected to be dispatched onto its own
// goroutine by the receiver so that many inbound envelopes can be
// processed concurrently (spec §5).
type Receiver interface {
	Receive(ctx context.Context, env envelope.Envelope)
}
