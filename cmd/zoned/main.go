// Command zoned runs one zone agent: the messaging fabric (routing,
// broadcast, response multiplexing), the instance-state absorber, the
// service-API dispatcher, the intra-zone scheduler, and the management
// HTTP surface, wired together from the settings internal/config loads.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/envoyage/envoyage/internal/absorber"
	"github.com/envoyage/envoyage/internal/client"
	"github.com/envoyage/envoyage/internal/config"
	"github.com/envoyage/envoyage/internal/fabric"
	"github.com/envoyage/envoyage/internal/httpapi"
	"github.com/envoyage/envoyage/internal/scheduler"
	"github.com/envoyage/envoyage/internal/serviceapi"
	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/transport"
	"github.com/envoyage/envoyage/internal/transport/grpctransport"
	"github.com/envoyage/envoyage/internal/transport/memtransport"
	"github.com/envoyage/envoyage/internal/zonepath"
	"github.com/envoyage/envoyage/internal/zonestore"
)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	log.Info("config loaded",
		"zone_name", cfg.ZoneName,
		"zones_driver", cfg.ZonesDriver,
		"zones_scheduler", cfg.ZonesScheduler,
		"grpc_addr", cfg.GRPCAddr,
		"api_addr", cfg.APIAddr,
	)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer tp.Shutdown(context.Background())

	store := zonestore.New()
	cache := topology.NewCache(cfg.ZoneName, cfg.ZoneCapabilities, store, cfg.ZoneDBCheckInterval)

	driver, serveTransport := buildDriver(cfg, log)

	agent := fabric.NewAgent(cfg.ZoneName, cache, driver,
		fabric.WithLogger(log),
		fabric.WithMaxBroadcastHopCount(cfg.ZoneMaxBroadcastHopCount),
		fabric.WithResponseTimeout(cfg.ZoneResponseTimeout),
	)
	if serveTransport != nil {
		serveTransport(agent)
	}

	hasParents := func() bool { return len(cache.Parents()) > 0 }
	stateAbsorber := absorber.New(cfg.ZoneName, hasParents, store)
	registerAbsorberMethods(agent, stateAbsorber)

	// No compute/network/volume service handles are wired in this
	// deployment; run_service_api_method fails as unknown-service until
	// one is registered with serviceapi.NewDispatcher.
	dispatcher := serviceapi.NewDispatcher(store, nil)
	registerServiceAPIMethod(agent, dispatcher)

	fabricClient := client.New(agent)
	sched := scheduler.New(cache, &localInstanceCreator{store: store, client: fabricClient}, &childZoneForwarder{client: fabricClient})
	registerSchedulerMethod(agent, sched)

	refreshCtx, cancelRefresh := context.WithCancel(context.Background())
	defer cancelRefresh()
	go refreshLoop(refreshCtx, cache, cfg.ZoneDBCheckInterval, log)

	mux := httpapi.NewMux(store, cache, httpapi.NewChildCapabilityAggregator(cache), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info("received shutdown signal")
		cancel()
		cancelRefresh()
	}()

	server := &http.Server{Addr: cfg.APIAddr, Handler: mux}
	go func() {
		log.Info("management API listening", "addr", cfg.APIAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("management API failed", "error", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
}

// buildDriver selects the transport.Driver named by cfg.ZonesDriver. For
// "mem" it also registers the agent with the shared in-process hub once
// one exists; the returned closure does that registration after
// fabric.NewAgent has built the agent it needs to register. For "grpc"
// the closure starts the gRPC server goroutine instead.
func buildDriver(cfg *config.Config, log *slog.Logger) (transport.Driver, func(*fabric.Agent)) {
	if cfg.ZonesDriver == "mem" {
		hub := memtransport.NewHub()
		return memtransport.New(hub), func(agent *fabric.Agent) {
			hub.Register(cfg.ZoneName, agent)
		}
	}
	driver := grpctransport.New(log)
	return driver, func(agent *fabric.Agent) {
		go func() {
			srv := grpctransport.NewServer(agent, log)
			if err := grpctransport.Serve(context.Background(), cfg.GRPCAddr, srv, log); err != nil {
				log.Error("zones gRPC transport failed", "error", err)
			}
		}()
	}
}

func refreshLoop(ctx context.Context, cache *topology.Cache, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := cache.Refresh(ctx, now); err != nil {
				log.Error("topology refresh failed", "error", err)
			}
		}
	}
}

// registerAbsorberMethods wires instance_update/instance_destroy — the
// two broadcast inner methods the absorber applies at the tree root.
func registerAbsorberMethods(agent *fabric.Agent, a *absorber.Absorber) {
	agent.RegisterMethod("instance_update", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		info, err := absorber.DecodeInstanceInfo(args)
		if err != nil {
			return nil, err
		}
		return nil, a.InstanceUpdate(ctx, info, routingPath)
	})
	agent.RegisterMethod("instance_destroy", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		info, err := absorber.DecodeInstanceInfo(args)
		if err != nil {
			return nil, err
		}
		return nil, a.InstanceDestroy(ctx, info, routingPath)
	})
}

// registerServiceAPIMethod wires run_service_api_method — the single
// inner method through which another zone invokes a local compute/
// network/volume handle.
func registerServiceAPIMethod(agent *fabric.Agent, d *serviceapi.Dispatcher) {
	agent.RegisterMethod("run_service_api_method", func(ctx context.Context, args json.RawMessage, _ zonepath.Path) (json.RawMessage, error) {
		var payload struct {
			ServiceName string                `json:"service_name"`
			MethodInfo  serviceapi.MethodInfo `json:"method_info"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, err
		}
		result, err := d.RunServiceAPIMethod(ctx, payload.ServiceName, payload.MethodInfo)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)
	})
}

// registerSchedulerMethod wires schedule_run_instance — dispatched
// straight to the local agent (client.Client.ScheduleRunInstance bypasses
// the router entirely), never as a routed request.
func registerSchedulerMethod(agent *fabric.Agent, s scheduler.Scheduler) {
	agent.RegisterMethod("schedule_run_instance", func(ctx context.Context, args json.RawMessage, _ zonepath.Path) (json.RawMessage, error) {
		var payload struct {
			RequestSpec      map[string]interface{} `json:"request_spec"`
			FilterProperties map[string]interface{} `json:"filter_properties"`
		}
		if err := json.Unmarshal(args, &payload); err != nil {
			return nil, err
		}
		return nil, s.ScheduleRunInstance(ctx, payload.RequestSpec, payload.FilterProperties)
	})
}

// localInstanceCreator implements scheduler.Creator: the scheduler chose
// this zone, so a bare instance record is persisted directly and then
// broadcast upward as an instance_update so ancestor zones learn of it.
// No compute service is invoked; the instance lifecycle itself is out of
// scope for this fabric (spec Non-goals).
type localInstanceCreator struct {
	store  *zonestore.Store
	client *client.Client
}

func (c *localInstanceCreator) CreateInstanceHere(ctx context.Context, requestSpec map[string]interface{}) error {
	if err := c.store.InstanceCreate(ctx, requestSpec); err != nil {
		return err
	}
	return c.client.InstanceUpdate(ctx, requestSpec)
}

// childZoneForwarder implements scheduler.Forwarder by casting
// schedule_run_instance downward to the chosen child, need_response=false.
type childZoneForwarder struct {
	client *client.Client
}

func (f *childZoneForwarder) Forward(ctx context.Context, zone *topology.ZoneInfo, requestSpec, filterProperties map[string]interface{}) error {
	return f.client.ZoneCast(ctx, zone.Name, "schedule_run_instance", map[string]interface{}{
		"request_spec":      requestSpec,
		"filter_properties": filterProperties,
	})
}
