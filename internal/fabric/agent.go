// Package fabric implements the inter-zone messaging fabric: routing
// (§4.4), broadcast (§4.5), and response multiplexing (§4.6) over a
// pluggable transport.Driver and topology.Cache. See spec §4/§5.
package fabric

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/transport"
	"github.com/envoyage/envoyage/internal/zoneerr"
	"github.com/envoyage/envoyage/internal/zonepath"
)

// defaultMaxBroadcastHopCount is zone_max_broadcast_hop_count's default.
const defaultMaxBroadcastHopCount = 10

// defaultResponseTimeout bounds a need_response wait absent an explicit
// configuration (spec §5: "recommended: configurable, default tens of
// seconds").
const defaultResponseTimeout = 30 * time.Second

// Handler executes one inner method against a locally-destined message.
// routingPath is the path already extended to include the local agent.
type Handler func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error)

// Agent is one zone's messaging fabric instance: it owns the in-flight
// response table and the registered inner-method table, and routes or
// broadcasts through cache and driver.
type Agent struct {
	localName string
	cache     *topology.Cache
	driver    transport.Driver
	mux       *inflightTable

	methodsMu sync.RWMutex
	methods   map[string]Handler

	log                  *slog.Logger
	tracer               trace.Tracer
	maxBroadcastHopCount int
	responseTimeout      time.Duration
}

// Option customizes NewAgent beyond its required collaborators.
type Option func(*Agent)

// WithLogger overrides the default slog logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Agent) { a.log = log }
}

// WithMaxBroadcastHopCount overrides zone_max_broadcast_hop_count.
func WithMaxBroadcastHopCount(n int) Option {
	return func(a *Agent) { a.maxBroadcastHopCount = n }
}

// WithResponseTimeout overrides the bound on a need_response wait.
func WithResponseTimeout(d time.Duration) Option {
	return func(a *Agent) { a.responseTimeout = d }
}

// WithTracer overrides the tracer used for per-hop routing spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(a *Agent) { a.tracer = tracer }
}

// NewAgent builds an Agent for the zone named localName, routing through
// cache and delivering via driver. The send_response inner method is
// registered automatically; callers register the rest (run_service_api_method,
// instance_update, instance_destroy, schedule_run_instance, or anything
// application-specific) via RegisterMethod.
func NewAgent(localName string, cache *topology.Cache, driver transport.Driver, opts ...Option) *Agent {
	a := &Agent{
		localName:            localName,
		cache:                cache,
		driver:               driver,
		mux:                  newInflightTable(),
		methods:              map[string]Handler{},
		log:                  slog.Default(),
		tracer:               otel.Tracer("github.com/envoyage/envoyage/internal/fabric"),
		maxBroadcastHopCount: defaultMaxBroadcastHopCount,
		responseTimeout:      defaultResponseTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.methods[envelope.MethodSendResponse] = a.handleSendResponse
	return a
}

// RegisterMethod adds (or replaces) an inner-method handler.
func (a *Agent) RegisterMethod(name string, h Handler) {
	a.methodsMu.Lock()
	defer a.methodsMu.Unlock()
	a.methods[name] = h
}

func (a *Agent) lookupMethod(name string) (Handler, bool) {
	a.methodsMu.RLock()
	defer a.methodsMu.RUnlock()
	h, ok := a.methods[name]
	return h, ok
}

// dispatchLocal executes message against the registered method table.
func (a *Agent) dispatchLocal(ctx context.Context, message envelope.Message, routingPath zonepath.Path) (json.RawMessage, error) {
	handler, ok := a.lookupMethod(message.Method)
	if !ok {
		return nil, &zoneerr.UnknownServiceAPIMethod{Detail: "unregistered inner method: " + message.Method}
	}
	return handler(ctx, message.Args, routingPath)
}

// DispatchLocal executes method directly against the local method table,
// bypassing the router entirely. Used for entry points that were never
// routed requests in the first place — schedule_run_instance is cast
// straight to the local agent rather than wrapped in a route_message.
func (a *Agent) DispatchLocal(ctx context.Context, method string, args json.RawMessage) (json.RawMessage, error) {
	return a.dispatchLocal(ctx, envelope.Message{Method: method, Args: args}, zonepath.Path(a.localName))
}

// Receive implements transport.Receiver. Each inbound envelope is handled
// on its own goroutine so a single agent can process many concurrently
// (spec §5's "parallel workers over a thread-safe message loop").
func (a *Agent) Receive(ctx context.Context, env envelope.Envelope) {
	go a.handleEnvelope(ctx, env)
}

func (a *Agent) handleEnvelope(ctx context.Context, env envelope.Envelope) {
	switch env.Method {
	case envelope.MethodRouteMessage:
		var args envelope.RouteArgs
		if err := json.Unmarshal(env.Args, &args); err != nil {
			a.log.Error("malformed route_message envelope", "error", err)
			return
		}
		var routingPath zonepath.Path
		if args.RoutingPath != nil {
			routingPath = *args.RoutingPath
		}
		if _, err := a.RouteMessage(ctx, zonepath.Path(args.DestZoneName), routingPath, args.Direction, args.Message, args.ResponseUUID, args.NeedResponse); err != nil {
			a.log.Error("route_message failed", "dest", args.DestZoneName, "error", err)
		}

	case envelope.MethodBroadcastMessage:
		var args envelope.BroadcastArgs
		if err := json.Unmarshal(env.Args, &args); err != nil {
			a.log.Error("malformed broadcast_message envelope", "error", err)
			return
		}
		var routingPath zonepath.Path
		if args.RoutingPath != nil {
			routingPath = *args.RoutingPath
		}
		if err := a.BroadcastMessage(ctx, args.Direction, args.Message, args.HopCount, args.Fanout, routingPath); err != nil {
			a.log.Error("broadcast_message failed", "error", err)
		}

	default:
		a.log.Error("unrecognised outer envelope method", "method", env.Method)
	}
}
