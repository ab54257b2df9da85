package fabric

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/zoneerr"
	"github.com/envoyage/envoyage/internal/zonepath"
)

func TestRouteMessageThreeHopDownReturnsReplyToOriginator(t *testing.T) {
	tree := newThreeZoneTree(t)
	tree.grandchild.RegisterMethod("ping", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		return json.Marshal(routingPath.String())
	})

	raw, err := tree.me.RouteMessage(context.Background(), "me.zone2.grandchild", "", envelope.Down,
		envelope.Message{Method: "ping", Args: json.RawMessage("null")}, "", true)
	if err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}

	var gotPath string
	if err := json.Unmarshal(raw, &gotPath); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if gotPath != "me.zone2.grandchild" {
		t.Errorf("routing path at destination = %q, want %q", gotPath, "me.zone2.grandchild")
	}
}

func TestRouteMessageCastDoesNotBlockOnReply(t *testing.T) {
	tree := newThreeZoneTree(t)
	done := make(chan struct{})
	tree.grandchild.RegisterMethod("notify", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		close(done)
		return nil, nil
	})

	_, err := tree.me.RouteMessage(context.Background(), "me.zone2.grandchild", "", envelope.Down,
		envelope.Message{Method: "notify", Args: json.RawMessage("null")}, "", false)
	if err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("notify handler never ran")
	}
}

func TestRouteMessageRemoteFailurePropagatesAsRemoteError(t *testing.T) {
	tree := newThreeZoneTree(t)
	tree.grandchild.RegisterMethod("boom", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		return nil, &zoneerr.UnknownServiceAPIMethod{Detail: "nope"}
	})

	_, err := tree.me.RouteMessage(context.Background(), "me.zone2.grandchild", "", envelope.Down,
		envelope.Message{Method: "boom", Args: json.RawMessage("null")}, "", true)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var remoteErr *zoneerr.RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("error = %v, want *zoneerr.RemoteError", err)
	}
	if remoteErr.Kind != "UnknownServiceAPIMethod" {
		t.Errorf("remoteErr.Kind = %q, want UnknownServiceAPIMethod", remoteErr.Kind)
	}
}

func TestRouteMessageInconsistentDestReturnsRoutingInconsistency(t *testing.T) {
	tree := newThreeZoneTree(t)

	_, err := tree.me.RouteMessage(context.Background(), "me.nonexistent", "", envelope.Down,
		envelope.Message{Method: "ping", Args: json.RawMessage("null")}, "", true)
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var routingErr *zoneerr.RoutingInconsistency
	if !errors.As(err, &routingErr) {
		t.Fatalf("error = %v, want *zoneerr.RoutingInconsistency", err)
	}
}

func TestRouteMessageLocalDestDispatchesWithoutTransport(t *testing.T) {
	tree := newThreeZoneTree(t)
	tree.me.RegisterMethod("ping", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		return json.Marshal("pong")
	})

	raw, err := tree.me.RouteMessage(context.Background(), "me", "", envelope.Down,
		envelope.Message{Method: "ping", Args: json.RawMessage("null")}, "", true)
	if err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	var got string
	json.Unmarshal(raw, &got)
	if got != "pong" {
		t.Errorf("got %q, want pong", got)
	}
}

func TestRouteMessageForwardedCallPreservesResponseUUIDAndNeedResponse(t *testing.T) {
	// The originator (responseUUID=="") allocates and blocks; a forwarded
	// hop (responseUUID already set) must never re-allocate or block
	// locally — only the true originator's rendezvous slot ever fires.
	tree := newThreeZoneTree(t)
	tree.grandchild.RegisterMethod("echo", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		return json.Marshal("ok")
	})

	// Stand in for the upstream originator "me": its slot is where the
	// reply lands if the forwarded envelope kept both fields.
	slot := tree.me.mux.register("preset-uuid")

	// zone2 forwards toward grandchild with a pre-set responseUUID, as if
	// it had received this call from an upstream originator.
	raw, err := tree.zone2.RouteMessage(context.Background(), "me.zone2.grandchild", "me", envelope.Down,
		envelope.Message{Method: "echo", Args: json.RawMessage("null")}, "preset-uuid", true)
	if err != nil {
		t.Fatalf("RouteMessage: %v", err)
	}
	// zone2 never registered a wait slot for "preset-uuid" (it did not
	// allocate it), so it returns immediately with a nil result rather
	// than the eventual reply payload.
	if raw != nil {
		t.Errorf("forwarding hop returned non-nil result %s, want nil (it must not wait)", raw)
	}

	reply, err := tree.me.mux.wait(context.Background(), "preset-uuid", slot, 2*time.Second)
	if err != nil {
		t.Fatalf("reply for preset-uuid never reached the originator: %v", err)
	}
	var got string
	if err := json.Unmarshal(reply, &got); err != nil || got != "ok" {
		t.Errorf("reply = %s, want \"ok\"", reply)
	}
}

func TestMuxWaitTimesOut(t *testing.T) {
	table := newInflightTable()
	ch := table.register("slow")
	_, err := table.wait(context.Background(), "slow", ch, 10*time.Millisecond)
	if !errors.Is(err, zoneerr.ErrResponseTimeout) {
		t.Errorf("err = %v, want ErrResponseTimeout", err)
	}
	if _, ok := table.slots["slow"]; ok {
		t.Error("slot was not removed after timeout")
	}
}

func TestMuxDeliverToUnknownUUIDIsBenign(t *testing.T) {
	table := newInflightTable()
	if table.deliver("missing", response{value: json.RawMessage("1")}) {
		t.Error("deliver to unregistered uuid reported success")
	}
}
