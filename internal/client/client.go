// Package client is the public entry surface into the messaging fabric:
// the handful of calls the rest of a zone's services (the HTTP surface,
// the compute/network/volume APIs, the intra-zone scheduler) use to
// reach another zone. See spec §6.
package client

import (
	"context"
	"encoding/json"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/fabric"
	"github.com/envoyage/envoyage/internal/serviceapi"
	"github.com/envoyage/envoyage/internal/zonepath"
)

// Client wraps an *fabric.Agent with the request shapes callers actually
// want to build, rather than the raw {method, args} vocabulary the
// fabric speaks internally.
type Client struct {
	agent *fabric.Agent
}

// New wraps agent.
func New(agent *fabric.Agent) *Client {
	return &Client{agent: agent}
}

func marshal(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}

// ZoneCall routes method/args to zoneName travelling down the tree and
// blocks for the reply.
func (c *Client) ZoneCall(ctx context.Context, zoneName, method string, args interface{}) (json.RawMessage, error) {
	raw, err := marshal(args)
	if err != nil {
		return nil, err
	}
	return c.agent.RouteMessage(ctx, zonepath.Path(zoneName), "", envelope.Down,
		envelope.Message{Method: method, Args: raw}, "", true)
}

// ZoneCast routes method/args to zoneName travelling down the tree
// without waiting for a reply.
func (c *Client) ZoneCast(ctx context.Context, zoneName, method string, args interface{}) error {
	raw, err := marshal(args)
	if err != nil {
		return err
	}
	_, err = c.agent.RouteMessage(ctx, zonepath.Path(zoneName), "", envelope.Down,
		envelope.Message{Method: method, Args: raw}, "", false)
	return err
}

// BroadcastUp broadcasts method/args upward through the tree, starting
// at hop count zero, executing locally as well as at every ancestor.
func (c *Client) BroadcastUp(ctx context.Context, method string, args interface{}) error {
	raw, err := marshal(args)
	if err != nil {
		return err
	}
	return c.agent.BroadcastMessage(ctx, envelope.Up, envelope.Message{Method: method, Args: raw}, 0, false, "")
}

// serviceAPIArgs is the wire shape run_service_api_method expects.
type serviceAPIArgs struct {
	ServiceName string                `json:"service_name"`
	MethodInfo  serviceapi.MethodInfo `json:"method_info"`
}

// CastServiceAPIMethod encapsulates a fire-and-forget call to a service
// API (compute/network/volume) within a routed request to zoneName.
func (c *Client) CastServiceAPIMethod(ctx context.Context, zoneName, service, method string, args []json.RawMessage, kwargs map[string]json.RawMessage) error {
	payload := serviceAPIArgs{
		ServiceName: service,
		MethodInfo:  serviceapi.MethodInfo{Method: method, MethodArgs: args, MethodKwargs: kwargs},
	}
	return c.ZoneCast(ctx, zoneName, "run_service_api_method", payload)
}

// CallServiceAPIMethod is CastServiceAPIMethod's blocking counterpart,
// returning the eventual reply.
func (c *Client) CallServiceAPIMethod(ctx context.Context, zoneName, service, method string, args []json.RawMessage, kwargs map[string]json.RawMessage) (json.RawMessage, error) {
	payload := serviceAPIArgs{
		ServiceName: service,
		MethodInfo:  serviceapi.MethodInfo{Method: method, MethodArgs: args, MethodKwargs: kwargs},
	}
	return c.ZoneCall(ctx, zoneName, "run_service_api_method", payload)
}

// ScheduleRunInstance dispatches a placement request directly to the
// local agent's scheduler, bypassing the router entirely — this request
// always targets "wherever schedule_run_instance decides", never a named
// zone.
func (c *Client) ScheduleRunInstance(ctx context.Context, requestSpec, filterProperties map[string]interface{}) error {
	raw, err := marshal(map[string]interface{}{
		"request_spec":      requestSpec,
		"filter_properties": filterProperties,
	})
	if err != nil {
		return err
	}
	_, err = c.agent.DispatchLocal(ctx, "schedule_run_instance", raw)
	return err
}

// InstanceUpdate broadcasts an instance's current state upward through
// the tree (spec §4.3/§4.8), stripping the blacklisted fields.
func (c *Client) InstanceUpdate(ctx context.Context, instance map[string]interface{}) error {
	return c.broadcastEnvelope(ctx, envelope.InstanceUpdateEnvelope(instance))
}

// InstanceDestroy broadcasts an instance's uuid upward through the tree.
func (c *Client) InstanceDestroy(ctx context.Context, uuid string) error {
	return c.broadcastEnvelope(ctx, envelope.InstanceDestroyEnvelope(uuid))
}

// broadcastEnvelope unwraps a pre-built broadcast_message envelope back
// into the Message/options BroadcastMessage expects, reusing the
// envelope package's blacklist-filtering logic rather than duplicating it.
func (c *Client) broadcastEnvelope(ctx context.Context, env envelope.Envelope) error {
	var args envelope.BroadcastArgs
	if err := json.Unmarshal(env.Args, &args); err != nil {
		return err
	}
	var routingPath zonepath.Path
	if args.RoutingPath != nil {
		routingPath = *args.RoutingPath
	}
	return c.agent.BroadcastMessage(ctx, args.Direction, args.Message, args.HopCount, args.Fanout, routingPath)
}
