package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/zoneerr"
	"github.com/envoyage/envoyage/internal/zonepath"
)

// RouteMessage is the §4.4 Router entry point. routingPath is whatever has
// accumulated so far (empty for a brand-new local request). When
// needResponse is true and no responseUUID has been assigned yet, this
// call is the originator: it allocates one, registers a rendezvous slot,
// and blocks on it until a reply, a remote failure, a context
// cancellation, or the configured timeout — whichever comes first. A
// routing or forwarding failure at the originator itself is returned
// directly as the local error.
//
// A non-originating call (responseUUID already set by an upstream hop)
// only routes; it never waits locally, since the rendezvous slot lives at
// the true originator.
func (a *Agent) RouteMessage(ctx context.Context, dest zonepath.Path, routingPath zonepath.Path, direction envelope.Direction, message envelope.Message, responseUUID string, needResponse bool) (json.RawMessage, error) {
	newPath := routingPath.Extend(a.localName)
	respDirection := direction.Opposite()

	var waitCh chan response
	if needResponse && responseUUID == "" {
		responseUUID = uuid.NewString()
		waitCh = a.mux.register(responseUUID)
	}

	result, dispatchErr := a.routeOnce(ctx, dest, newPath, direction, message, responseUUID)
	if dispatchErr != nil {
		a.log.Error("route_message failed", "dest", dest, "routing_path", newPath, "error", dispatchErr)
		if waitCh != nil {
			a.mux.remove(responseUUID)
			return nil, dispatchErr
		}
		if responseUUID != "" {
			if sendErr := a.sendFailureResponse(ctx, responseUUID, newPath, respDirection, dispatchErr); sendErr != nil {
				a.log.Error("failed to deliver failure response", "response_uuid", responseUUID, "error", sendErr)
			}
		}
	}

	if waitCh != nil {
		return a.mux.wait(ctx, responseUUID, waitCh, a.responseTimeout)
	}
	return result, nil
}

// routeOnce performs step 2/3 of §4.4: decide the next hop, then either
// dispatch locally (sending a reply if one was requested) or forward.
func (a *Agent) routeOnce(ctx context.Context, dest, newPath zonepath.Path, direction envelope.Direction, message envelope.Message, responseUUID string) (json.RawMessage, error) {
	nextHop, err := a.findNextHop(dest, newPath, direction)
	if err != nil {
		return nil, err
	}

	if nextHop.IsMe {
		result, err := a.dispatchLocal(ctx, message, newPath)
		if err != nil {
			return nil, err
		}
		if responseUUID == "" {
			return result, nil
		}
		if err := a.sendSuccessResponse(ctx, responseUUID, newPath, direction.Opposite(), result); err != nil {
			return nil, err
		}
		return result, nil
	}

	opts := []envelope.RoutingOption{envelope.WithRoutingPath(newPath)}
	if responseUUID != "" {
		opts = append(opts, envelope.WithResponseUUID(responseUUID), envelope.WithNeedResponse())
	}
	fwd := envelope.RoutingEnvelope(dest, direction, message.Method, message.Args, opts...)

	ctx, span := a.tracer.Start(ctx, "fabric.route_message.forward",
		trace.WithAttributes(
			attribute.String("zone.dest", string(dest)),
			attribute.String("zone.next_hop", nextHop.Name),
			attribute.String("zone.direction", string(direction)),
		))
	defer span.End()

	if err := a.driver.Send(ctx, nextHop, fwd); err != nil {
		span.RecordError(err)
		return nil, &zoneerr.TransportError{Neighbor: nextHop.Name, Err: err}
	}
	return nil, nil
}

// findNextHop implements §4.4 step 2 exactly: dest==newPath is local;
// otherwise dest must have at least as many components as newPath and
// share newPath as its exact prefix, and the component one past newPath
// must name a known neighbour in the travel direction.
func (a *Agent) findNextHop(dest, newPath zonepath.Path, direction envelope.Direction) (*topology.ZoneInfo, error) {
	if dest == newPath {
		local := a.cache.Local()
		return &local, nil
	}

	h := newPath.DotCount()
	next := h + 1
	d := dest.DotCount()
	if d < h || !dest.HasPrefixComponents(newPath, next) {
		return nil, &zoneerr.RoutingInconsistency{
			Reason: fmt.Sprintf("dest %q is inconsistent with routing path %q", dest, newPath),
		}
	}

	nextName, ok := dest.ComponentAt(next)
	if !ok {
		return nil, &zoneerr.RoutingInconsistency{
			Reason: fmt.Sprintf("dest %q has no component at index %d", dest, next),
		}
	}

	var neighbor *topology.ZoneInfo
	if direction == envelope.Up {
		neighbor, ok = a.cache.FindParent(nextName)
	} else {
		neighbor, ok = a.cache.FindChild(nextName)
	}
	if !ok {
		return nil, &zoneerr.RoutingInconsistency{
			Reason: fmt.Sprintf("no known neighbour %q in direction %s", nextName, direction),
		}
	}
	return neighbor, nil
}

// sendResponse is the §4.6 helper _send_response: it re-enters routing
// addressed back along reverse_path(routingPath), carrying send_response
// as the inner method. Whether the first hop turns out to be local or
// remote is left entirely to RouteMessage/findNextHop — this call never
// itself waits for a reply (need_response=false: a reply never gets one).
func (a *Agent) sendResponse(ctx context.Context, responseUUID string, routingPath zonepath.Path, direction envelope.Direction, result json.RawMessage, failure bool) error {
	inner := envelope.SendResponseArgs{
		ResponseUUID: responseUUID,
		ResultInfo:   envelope.ResultInfo{Result: result, Failure: failure},
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return err
	}
	_, err = a.RouteMessage(ctx, zonepath.Reverse(routingPath), "", direction, envelope.Message{
		Method: envelope.MethodSendResponse,
		Args:   raw,
	}, "", false)
	return err
}

func (a *Agent) sendSuccessResponse(ctx context.Context, responseUUID string, routingPath zonepath.Path, direction envelope.Direction, result json.RawMessage) error {
	return a.sendResponse(ctx, responseUUID, routingPath, direction, result, false)
}

// failureTuple is the (kind, message, stack) shape a failed dispatch is
// packaged as on the wire (spec §4.4/§4.6).
type failureTuple [3]string

func (a *Agent) sendFailureResponse(ctx context.Context, responseUUID string, routingPath zonepath.Path, direction envelope.Direction, dispatchErr error) error {
	tuple := failureTuple{classifyError(dispatchErr), dispatchErr.Error(), ""}
	raw, err := json.Marshal(tuple)
	if err != nil {
		return err
	}
	return a.sendResponse(ctx, responseUUID, routingPath, direction, raw, true)
}

// classifyError names the typed error's kind for the wire tuple, falling
// back to a generic label for anything outside the taxonomy.
func classifyError(err error) string {
	var routingErr *zoneerr.RoutingInconsistency
	var methodErr *zoneerr.UnknownServiceAPIMethod
	var zoneErr *zoneerr.InstanceUnknownZone
	var transportErr *zoneerr.TransportError
	switch {
	case errors.As(err, &routingErr):
		return "RoutingInconsistency"
	case errors.As(err, &methodErr):
		return "UnknownServiceAPIMethod"
	case errors.As(err, &zoneErr):
		return "InstanceUnknownZone"
	case errors.As(err, &transportErr):
		return "TransportError"
	default:
		return "Error"
	}
}

// handleSendResponse is the registered send_response inner method
// (§4.6): deliver the reply to whichever rendezvous slot is waiting on
// response_uuid, wrapping a failure result as a RemoteError.
func (a *Agent) handleSendResponse(_ context.Context, args json.RawMessage, _ zonepath.Path) (json.RawMessage, error) {
	var sr envelope.SendResponseArgs
	if err := json.Unmarshal(args, &sr); err != nil {
		return nil, err
	}

	var deliverErr error
	if sr.ResultInfo.Failure {
		var tuple failureTuple
		_ = json.Unmarshal(sr.ResultInfo.Result, &tuple)
		deliverErr = &zoneerr.RemoteError{Kind: tuple[0], Message: tuple[1], Stack: tuple[2]}
	}

	if !a.mux.deliver(sr.ResponseUUID, response{value: sr.ResultInfo.Result, err: deliverErr}) {
		a.log.Debug("dropped reply for unknown response_uuid", "response_uuid", sr.ResponseUUID)
	}
	return nil, nil
}
