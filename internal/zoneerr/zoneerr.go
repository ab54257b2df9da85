// Package zoneerr defines the typed error taxonomy raised by the zone
// messaging fabric (see spec §7). Each error type satisfies the standard
// error interface and is meant to be distinguished with errors.As, never
// by matching on message text.
package zoneerr

import "fmt"

// RoutingInconsistency means a destination name contradicted the routing
// path or the requested direction. Fatal to the request; reported back to
// the originator when a response was expected.
type RoutingInconsistency struct {
	Reason string
}

func (e *RoutingInconsistency) Error() string {
	return fmt.Sprintf("zone routing inconsistency: %s", e.Reason)
}

// UnknownServiceAPIMethod means the §4.7 dispatcher lookup missed, either
// because the service name or the method name was not registered.
type UnknownServiceAPIMethod struct {
	Detail string
}

func (e *UnknownServiceAPIMethod) Error() string {
	return fmt.Sprintf("zone service API method not found: %s", e.Detail)
}

// InstanceUnknownZone means a service-API call targeted an instance with
// no zone association. Reported synchronously to the local caller; never
// placed on the wire.
type InstanceUnknownZone struct {
	InstanceUUID string
}

func (e *InstanceUnknownZone) Error() string {
	return fmt.Sprintf("instance %s has no known zone", e.InstanceUUID)
}

// RemoteError wraps a failure that occurred in a remote zone and was
// carried back over a reply envelope (result_info.failure == true). The
// kind name, message, and stack text are preserved verbatim for diagnostics.
type RemoteError struct {
	Kind    string
	Message string
	Stack   string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Kind, e.Message)
}

// TransportError means delivery to a single neighbour failed. Logged and
// does not abort a broadcast; for a routed request it reaches the
// originator only if the originator itself is that neighbour.
type TransportError struct {
	Neighbor string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error delivering to %s: %v", e.Neighbor, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrResponseTimeout is returned to a need_response caller when no reply
// arrives before the configured bound elapses. The in-flight slot is
// always removed before this is returned.
var ErrResponseTimeout = fmt.Errorf("zone response timed out")
