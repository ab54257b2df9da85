// Package config loads and validates the zone agent's configuration from
// environment variables. All settings have sensible defaults so the
// binary works out of the box for local development without any .env
// file. Any setting can be overridden by exporting the matching
// environment variable before starting the binary.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for a zone agent. Values are
// loaded once at startup via Load() and then treated as immutable.
type Config struct {
	// ZoneName is this agent's position in the zone tree, e.g. "a.b.c".
	ZoneName string

	// ZoneCapabilities are free-form key=value pairs advertised to
	// neighbours that successfully contact this zone.
	ZoneCapabilities map[string]string

	// ZonesTopic names the well-known inbound queue/address for the
	// route_message/broadcast_message RPCs. It is loaded but no transport
	// in this repository reads it; the gRPC transport listens on GRPCAddr.
	ZonesTopic string

	// ZonesDriver selects the transport.Driver implementation: "grpc" or
	// "mem" (in-process, for local development and tests).
	ZonesDriver string

	// ZonesScheduler names the internal/scheduler.Scheduler implementation
	// used to place schedule_run_instance requests. RandomChildScheduler
	// ("random") is the only implementation; cmd/zoned wires it whatever
	// this value is and only logs the value.
	ZonesScheduler string

	// ZoneDBCheckInterval bounds how often the topology cache reconciles
	// against the external zone store.
	ZoneDBCheckInterval time.Duration

	// ZoneMaxBroadcastHopCount is the broadcast termination bound.
	ZoneMaxBroadcastHopCount int

	// ZoneResponseTimeout bounds a need_response rendezvous wait.
	ZoneResponseTimeout time.Duration

	// GRPCAddr is the listen address for the gRPC zones transport.
	GRPCAddr string

	// APIAddr is the listen address for the management HTTP surface
	// (zones CRUD, the capability "info" endpoint).
	APIAddr string
}

// Load reads configuration from environment variables. Missing variables
// fall back to defaults suitable for local development. An error is
// returned only if a value that was set could not be parsed.
func Load() (*Config, error) {
	checkInterval, err := parseDuration("ZONE_DB_CHECK_INTERVAL", "60s")
	if err != nil {
		return nil, err
	}
	responseTimeout, err := parseDuration("ZONE_RESPONSE_TIMEOUT", "30s")
	if err != nil {
		return nil, err
	}
	hopCount, err := parseInt("ZONE_MAX_BROADCAST_HOP_COUNT", 10)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ZoneName:                 getEnv("ZONE_NAME", "zone1"),
		ZoneCapabilities:         parseCapabilities(getEnv("ZONE_CAPABILITIES", "")),
		ZonesTopic:               getEnv("ZONES_TOPIC", "zones"),
		ZonesDriver:              getEnv("ZONES_DRIVER", "grpc"),
		ZonesScheduler:           getEnv("ZONES_SCHEDULER", "random"),
		ZoneDBCheckInterval:      checkInterval,
		ZoneMaxBroadcastHopCount: hopCount,
		ZoneResponseTimeout:      responseTimeout,
		GRPCAddr:                 getEnv("ZONE_GRPC_ADDR", ":9094"),
		APIAddr:                  getEnv("ZONE_API_ADDR", ":8080"),
	}
	return cfg, nil
}

// getEnv returns the value of the environment variable named by key, or
// fallback if the variable is unset or empty.
func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(key, fallback string) (time.Duration, error) {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return d, nil
}

func parseInt(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s=%q: %w", key, raw, err)
	}
	return n, nil
}

// parseCapabilities parses a comma-separated key=value list, e.g.
// "region=us,az=1". An empty string yields an empty, non-nil map.
func parseCapabilities(raw string) map[string]string {
	caps := map[string]string{}
	if raw == "" {
		return caps
	}
	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		caps[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return caps
}
