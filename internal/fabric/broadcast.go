package fabric

import (
	"context"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/zonepath"
)

// BroadcastMessage is the §4.5 Broadcaster entry point. It fans message
// outward through the chosen neighbour set (parents for direction=up,
// children for direction=down), enforcing maxBroadcastHopCount as the
// sole loop-free guarantee, then always executes the message locally
// last so every receiver — including this one — observes the same
// payload.
func (a *Agent) BroadcastMessage(ctx context.Context, direction envelope.Direction, message envelope.Message, hopCount int, fanout bool, routingPath zonepath.Path) error {
	newPath := routingPath.Extend(a.localName)

	if hopCount > a.maxBroadcastHopCount {
		a.log.Info("broadcast exceeded max hop count, dropping",
			"hopcount", hopCount, "max", a.maxBroadcastHopCount, "method", message.Method)
		return nil
	}

	var neighbors map[string]*topology.ZoneInfo
	if direction == envelope.Up {
		neighbors = a.cache.Parents()
	} else {
		neighbors = a.cache.Children()
	}

	opts := []envelope.BroadcastOption{
		envelope.WithBroadcastRoutingPath(newPath),
		envelope.WithHopCount(hopCount + 1),
	}
	if fanout {
		opts = append(opts, envelope.WithFanout())
	}
	fwd := envelope.BroadcastEnvelope(direction, message.Method, message.Args, opts...)

	for _, n := range neighbors {
		send := a.driver.Send
		if fanout {
			send = a.driver.FanoutSend
		}
		if err := send(ctx, n, fwd); err != nil {
			a.log.Error("broadcast delivery failed", "neighbor", n.Name, "error", err)
		}
	}

	_, err := a.dispatchLocal(ctx, message, newPath)
	return err
}
