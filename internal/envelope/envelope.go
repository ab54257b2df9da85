// Package envelope assembles the three wire envelope shapes the fabric
// moves between zones, plus their reply envelope. Construction here is
// pure — no I/O, no routing decisions. See spec §3/§4.3.
package envelope

import (
	"encoding/json"

	"github.com/envoyage/envoyage/internal/zonepath"
)

// Direction is the direction a routed or broadcast message travels.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Opposite returns the reverse direction, used when building a reply.
func (d Direction) Opposite() Direction {
	if d == Up {
		return Down
	}
	return Up
}

// Outer method names — the only three outer envelope shapes that exist.
const (
	MethodRouteMessage     = "route_message"
	MethodBroadcastMessage = "broadcast_message"
	MethodSendResponse     = "send_response"
)

// Message is the inner {method, args} shape carried by both routed and
// broadcast envelopes.
type Message struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// Envelope is the outer {method, args} wire shape. args is left as raw
// JSON and decoded into RouteArgs / BroadcastArgs / ResponseArgs by the
// caller, since the method name determines the shape.
type Envelope struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args"`
}

// RouteArgs is the args shape of a routed request (method == route_message).
type RouteArgs struct {
	DestZoneName string         `json:"dest_zone_name"`
	Direction    Direction      `json:"direction"`
	Message      Message        `json:"message"`
	RoutingPath  *zonepath.Path `json:"routing_path,omitempty"`
	NeedResponse bool           `json:"need_response,omitempty"`
	ResponseUUID string         `json:"response_uuid,omitempty"`
}

// BroadcastArgs is the args shape of a broadcast request
// (method == broadcast_message).
type BroadcastArgs struct {
	Direction   Direction      `json:"direction"`
	Message     Message        `json:"message"`
	RoutingPath *zonepath.Path `json:"routing_path,omitempty"`
	HopCount    int            `json:"hopcount"`
	Fanout      bool           `json:"fanout"`
}

// ResultInfo is the payload of a reply's inner send_response args.
// When Failure is true, Result holds a 3-tuple (kind, message, stack) as
// a JSON array rather than an arbitrary result value.
type ResultInfo struct {
	Result  json.RawMessage `json:"result"`
	Failure bool            `json:"failure"`
}

// SendResponseArgs is the inner args of a reply message.
type SendResponseArgs struct {
	ResponseUUID string     `json:"response_uuid"`
	ResultInfo   ResultInfo `json:"result_info"`
}

func mustMarshal(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Every argument type here is a plain struct/map of JSON-safe
		// fields; a marshal failure indicates a programming error, not
		// a runtime condition callers can recover from.
		panic("envelope: failed to marshal args: " + err.Error())
	}
	return b
}

// RoutingOption customizes RoutingEnvelope beyond its required arguments.
type RoutingOption func(*RouteArgs)

// WithNeedResponse marks the routed request as awaiting a reply.
func WithNeedResponse() RoutingOption {
	return func(a *RouteArgs) { a.NeedResponse = true }
}

// WithResponseUUID attaches a pre-allocated response correlation id.
func WithResponseUUID(uuid string) RoutingOption {
	return func(a *RouteArgs) { a.ResponseUUID = uuid }
}

// WithRoutingPath sets the routing path already accumulated so far.
func WithRoutingPath(path zonepath.Path) RoutingOption {
	return func(a *RouteArgs) { a.RoutingPath = &path }
}

// RoutingEnvelope builds a routed request envelope: method = route_message.
func RoutingEnvelope(dest zonepath.Path, direction Direction, innerMethod string, innerArgs interface{}, opts ...RoutingOption) Envelope {
	args := RouteArgs{
		DestZoneName: string(dest),
		Direction:    direction,
		Message: Message{
			Method: innerMethod,
			Args:   mustMarshal(innerArgs),
		},
	}
	for _, opt := range opts {
		opt(&args)
	}
	return Envelope{Method: MethodRouteMessage, Args: mustMarshal(args)}
}

// BroadcastOption customizes BroadcastEnvelope beyond its required arguments.
type BroadcastOption func(*BroadcastArgs)

// WithBroadcastRoutingPath sets the routing path accumulated so far.
func WithBroadcastRoutingPath(path zonepath.Path) BroadcastOption {
	return func(a *BroadcastArgs) { a.RoutingPath = &path }
}

// WithHopCount overrides the starting hop count (default 0).
func WithHopCount(n int) BroadcastOption {
	return func(a *BroadcastArgs) { a.HopCount = n }
}

// WithFanout marks the broadcast for transport-level fanout delivery.
func WithFanout() BroadcastOption {
	return func(a *BroadcastArgs) { a.Fanout = true }
}

// BroadcastEnvelope builds a broadcast request envelope:
// method = broadcast_message.
func BroadcastEnvelope(direction Direction, innerMethod string, innerArgs interface{}, opts ...BroadcastOption) Envelope {
	args := BroadcastArgs{
		Direction: direction,
		Message: Message{
			Method: innerMethod,
			Args:   mustMarshal(innerArgs),
		},
		HopCount: 0,
	}
	for _, opt := range opts {
		opt(&args)
	}
	return Envelope{Method: MethodBroadcastMessage, Args: mustMarshal(args)}
}

// ReplyEnvelope builds a routed envelope whose inner method is
// send_response, addressed back to dest travelling in direction.
func ReplyEnvelope(dest zonepath.Path, direction Direction, responseUUID string, routingPath zonepath.Path, result json.RawMessage, failure bool) Envelope {
	inner := SendResponseArgs{
		ResponseUUID: responseUUID,
		ResultInfo:   ResultInfo{Result: result, Failure: failure},
	}
	return RoutingEnvelope(dest, direction, MethodSendResponse, inner, WithRoutingPath(routingPath))
}

// instanceUpdateBlacklist is every field stripped from the source instance
// record before it travels as an instance_update broadcast payload.
// _info_cache is a private field the compute service attaches to
// in-memory instance records; it is re-attached below under the public
// info_cache key. Fields not listed here, including any other
// leading-underscore field, pass through unchanged.
var instanceUpdateBlacklist = map[string]bool{
	"_info_cache":     true,
	"security_groups": true,
	"system_metadata": true,
	"metadata":        true,
	"fault":           true,
}

// InstanceUpdateEnvelope strips the blacklisted fields from instance and
// wraps what remains as an instance_update broadcast, direction=up,
// hopcount=0, fanout=false.
func InstanceUpdateEnvelope(instance map[string]interface{}) Envelope {
	filtered := make(map[string]interface{}, len(instance))
	for k, v := range instance {
		if instanceUpdateBlacklist[k] {
			continue
		}
		filtered[k] = v
	}
	if cache, ok := instance["_info_cache"]; ok {
		filtered["info_cache"] = cache
	}
	return BroadcastEnvelope(Up, "instance_update", map[string]interface{}{
		"instance_info": filtered,
	})
}

// InstanceDestroyEnvelope wraps only the instance's uuid as an
// instance_destroy broadcast, direction=up, hopcount=0, fanout=false.
func InstanceDestroyEnvelope(uuid string) Envelope {
	return BroadcastEnvelope(Up, "instance_destroy", map[string]interface{}{
		"instance_info": map[string]interface{}{"uuid": uuid},
	})
}

// ReversePath returns the dotted components of path in reverse order.
// Thin re-export so callers that only touch envelopes don't need to
// import zonepath directly.
func ReversePath(path zonepath.Path) zonepath.Path {
	return zonepath.Reverse(path)
}
