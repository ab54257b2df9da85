// Package httpapi is the management HTTP surface: CRUD over known
// neighbour zones, and the capability "info" endpoint other zones read
// after contacting this one. This is external-collaborator territory —
// the fabric itself never serves HTTP (spec §6).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/envoyage/envoyage/internal/topology"
	"github.com/envoyage/envoyage/internal/zonestore"
)

// ServiceCapabilities rolls per-service capability readings up into one
// "min,max" aggregate per capability key, mirroring host_manager.py's
// get_service_capabilities. The real system aggregates over hosts
// reporting live service state; that reporting path is out of scope
// here (spec's host-scheduler-internals Non-goal), so the aggregate
// is instead computed over known child zones' advertised capabilities
// — the only capability-bearing collaborators this fabric has.
type ServiceCapabilities interface {
	Aggregate(ctx context.Context) (map[string]string, error)
}

// childCapabilityAggregator implements ServiceCapabilities by folding
// numeric capability values advertised by child zones into a min/max
// pair per key, formatted the same "min,max" way zones.py formats them.
type childCapabilityAggregator struct {
	cache *topology.Cache
}

// NewChildCapabilityAggregator builds the default ServiceCapabilities
// collaborator for handleZoneInfo.
func NewChildCapabilityAggregator(cache *topology.Cache) ServiceCapabilities {
	return &childCapabilityAggregator{cache: cache}
}

func (a *childCapabilityAggregator) Aggregate(ctx context.Context) (map[string]string, error) {
	type minMax struct{ min, max float64 }
	rolled := make(map[string]minMax)
	for _, child := range a.cache.Children() {
		for key, raw := range child.Capabilities {
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				continue
			}
			mm, ok := rolled[key]
			if !ok {
				rolled[key] = minMax{min: v, max: v}
				continue
			}
			if v < mm.min {
				mm.min = v
			}
			if v > mm.max {
				mm.max = v
			}
			rolled[key] = mm
		}
	}
	out := make(map[string]string, len(rolled))
	for key, mm := range rolled {
		out[key] = fmt.Sprintf("%s,%s",
			strconv.FormatFloat(mm.min, 'g', -1, 64),
			strconv.FormatFloat(mm.max, 'g', -1, 64))
	}
	return out, nil
}

// zoneRequest is the JSON body accepted by POST/PUT /zones.
type zoneRequest struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"` // "parent" or "child"
	Username     string  `json:"username"`
	Password     string  `json:"password"`
	Host         string  `json:"host"`
	Port         int     `json:"port"`
	VirtualHost  string  `json:"virtual_host"`
	WeightScale  float64 `json:"weight_scale"`
	WeightOffset float64 `json:"weight_offset"`
}

// zoneResponse scrubs a topology.Row down to what's safe to expose —
// the password never travels back out.
type zoneResponse struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Host string `json:"host"`
	Port int    `json:"port"`
}

func scrub(row topology.Row) zoneResponse {
	t := "child"
	if row.IsParent {
		t = "parent"
	}
	return zoneResponse{Name: row.Name, Type: t, Host: row.Host, Port: row.Port}
}

// NewMux builds the management HTTP surface, wrapped with otelhttp so
// every request carries a span. svcCaps may be nil, in which case
// /zones/info reports only this zone's own configured capabilities.
func NewMux(store *zonestore.Store, cache *topology.Cache, svcCaps ServiceCapabilities, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /zones", handleCreateZone(store, log))
	mux.HandleFunc("PUT /zones/{name}", handleUpdateZone(store, log))
	mux.HandleFunc("DELETE /zones/{name}", handleDeleteZone(store, log))
	mux.HandleFunc("GET /zones", handleListZones(store))
	mux.HandleFunc("GET /zones/info", handleZoneInfo(cache, svcCaps))

	return otelhttp.NewHandler(mux, "zones-api")
}

func handleCreateZone(store *zonestore.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req zoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		row := topology.Row{
			Name:         req.Name,
			IsParent:     req.Type == "parent",
			Username:     req.Username,
			Password:     req.Password,
			Host:         req.Host,
			Port:         req.Port,
			VirtualHost:  req.VirtualHost,
			WeightScale:  req.WeightScale,
			WeightOffset: req.WeightOffset,
		}
		store.PutZone(row)
		log.Info("zone added via API", "name", row.Name, "is_parent", row.IsParent)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"zone": scrub(row)})
	}
}

func handleUpdateZone(store *zonestore.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		existing, ok := store.GetZone(name)
		if !ok {
			http.Error(w, "zone not found", http.StatusNotFound)
			return
		}
		var req zoneRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if req.Username != "" {
			existing.Username = req.Username
		}
		if req.Password != "" {
			existing.Password = req.Password
		}
		if req.Host != "" {
			existing.Host = req.Host
		}
		if req.Port != 0 {
			existing.Port = req.Port
		}
		if req.VirtualHost != "" {
			existing.VirtualHost = req.VirtualHost
		}
		store.PutZone(existing)
		log.Info("zone updated via API", "name", name)
		json.NewEncoder(w).Encode(map[string]any{"zone": scrub(existing)})
	}
}

func handleDeleteZone(store *zonestore.Store, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if _, ok := store.GetZone(name); !ok {
			http.Error(w, "zone not found", http.StatusNotFound)
			return
		}
		store.DeleteZone(name)
		log.Info("zone removed via API", "name", name)
		fmt.Fprintf(w, "removed %s\n", name)
	}
}

func handleListZones(store *zonestore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, _ := store.ListZones(r.Context())
		out := make([]zoneResponse, 0, len(rows))
		for _, row := range rows {
			out = append(out, scrub(row))
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"zones": out})
	}
}

// handleZoneInfo serves this zone's own name, type, and capabilities —
// the surface a neighbour reads after successful contact to populate
// ZoneInfo.UpdateMetadata. Capabilities merge the service-capability
// roll-up (svcCaps) with this zone's own configured capabilities, the
// configured ones winning on key collision — the same precedence
// zones.py's info() applies when it overwrites zone_capabs entries
// with FLAGS.zone_capabilities after the service roll-up.
func handleZoneInfo(cache *topology.Cache, svcCaps ServiceCapabilities) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		local := cache.Local()
		capabilities := map[string]string{}
		if svcCaps != nil {
			if agg, err := svcCaps.Aggregate(r.Context()); err == nil {
				for k, v := range agg {
					capabilities[k] = v
				}
			}
		}
		for k, v := range local.Capabilities {
			capabilities[k] = v
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name":         local.Name,
			"type":         "self",
			"capabilities": capabilities,
		})
	}
}
