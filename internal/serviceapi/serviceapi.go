// Package serviceapi implements the §4.7 Service-API Dispatcher: executing
// an inbound, locally-destined request against one of the registered
// compute/network/volume service handles. The fabric is opaque to what
// these handles actually do; each handle only exposes the statically
// enumerated methods it chooses to register.
package serviceapi

import (
	"context"
	"encoding/json"

	"github.com/envoyage/envoyage/internal/zoneerr"
)

// CallArgs carries a service-API method's positional and keyword
// arguments exactly as they arrived over the wire, still JSON-encoded.
type CallArgs struct {
	Positional []json.RawMessage
	Keyword    map[string]json.RawMessage
}

// Method is a single exposed entry point on a service handle.
type Method func(ctx context.Context, args CallArgs) (interface{}, error)

// Handle is a statically-registered table of a service's exposed methods,
// e.g. Handle{"run_instance": api.RunInstance, "terminate_instance": ...}.
type Handle map[string]Method

// MethodInfo is the §4.7 args shape describing which method to invoke and
// with what arguments.
type MethodInfo struct {
	Method       string                     `json:"method"`
	MethodArgs   []json.RawMessage          `json:"method_args"`
	MethodKwargs map[string]json.RawMessage `json:"method_kwargs"`
}

// InstanceLoader exchanges a UUID for the instance record the compute
// handle expects as its first positional argument.
type InstanceLoader interface {
	InstanceGetByUUID(ctx context.Context, uuid string) (json.RawMessage, error)
}

// recognised service names, per spec §4.7.
const (
	ServiceCompute = "compute"
	ServiceNetwork = "network"
	ServiceVolume  = "volume"
)

// Dispatcher holds the small, immutable-after-startup registry mapping
// the three recognised service names to their handles.
type Dispatcher struct {
	services map[string]Handle
	loader   InstanceLoader
}

// NewDispatcher builds a Dispatcher over the three service handles. Any
// handle may be nil (or omitted) if that service isn't wired in this
// deployment; lookups against it then fail as unknown.
func NewDispatcher(loader InstanceLoader, services map[string]Handle) *Dispatcher {
	d := &Dispatcher{services: map[string]Handle{}, loader: loader}
	for name, h := range services {
		if h != nil {
			d.services[name] = h
		}
	}
	return d
}

// RunServiceAPIMethod executes info.Method on the handle registered under
// serviceName. For compute, the first positional argument is rewritten
// from a UUID to the loaded instance record before the call; for the
// other services arguments pass through unchanged.
func (d *Dispatcher) RunServiceAPIMethod(ctx context.Context, serviceName string, info MethodInfo) (interface{}, error) {
	handle, ok := d.services[serviceName]
	if !ok {
		return nil, &zoneerr.UnknownServiceAPIMethod{Detail: "unknown service API: " + serviceName}
	}
	fn, ok := handle[info.Method]
	if !ok {
		return nil, &zoneerr.UnknownServiceAPIMethod{
			Detail: "unknown method '" + info.Method + "' in " + serviceName + " API",
		}
	}

	positional := info.MethodArgs
	if serviceName == ServiceCompute && len(positional) > 0 {
		var uuid string
		if err := json.Unmarshal(positional[0], &uuid); err != nil {
			return nil, err
		}
		instance, err := d.loader.InstanceGetByUUID(ctx, uuid)
		if err != nil {
			return nil, err
		}
		positional = append([]json.RawMessage{instance}, positional[1:]...)
	}

	return fn(ctx, CallArgs{Positional: positional, Keyword: info.MethodKwargs})
}
