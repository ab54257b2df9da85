package fabric

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/envoyage/envoyage/internal/envelope"
	"github.com/envoyage/envoyage/internal/zonepath"
)

func TestBroadcastMessageReachesEveryAncestorAndOriginator(t *testing.T) {
	tree := newThreeZoneTree(t)

	var mu sync.Mutex
	seenBy := map[string]zonepath.Path{}
	record := func(name string) Handler {
		return func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
			mu.Lock()
			seenBy[name] = routingPath
			mu.Unlock()
			return nil, nil
		}
	}
	tree.grandchild.RegisterMethod("heartbeat", record("grandchild"))
	tree.zone2.RegisterMethod("heartbeat", record("zone2"))
	tree.me.RegisterMethod("heartbeat", record("me"))

	err := tree.grandchild.BroadcastMessage(context.Background(), envelope.Up,
		envelope.Message{Method: "heartbeat", Args: json.RawMessage("null")}, 0, false, "")
	if err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(seenBy)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d/3 zones observed the broadcast: %v", n, seenBy)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if seenBy["grandchild"] != "grandchild" {
		t.Errorf("grandchild routing path = %q, want %q", seenBy["grandchild"], "grandchild")
	}
	if seenBy["zone2"] != "grandchild.zone2" {
		t.Errorf("zone2 routing path = %q, want %q", seenBy["zone2"], "grandchild.zone2")
	}
	if seenBy["me"] != "grandchild.zone2.me" {
		t.Errorf("me routing path = %q, want %q", seenBy["me"], "grandchild.zone2.me")
	}
}

func TestBroadcastMessageDropsOnceHopCountExceedsMax(t *testing.T) {
	tree := newThreeZoneTree(t)
	tree.me.maxBroadcastHopCount = 0

	called := false
	tree.me.RegisterMethod("heartbeat", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		called = true
		return nil, nil
	})

	// hopCount already beyond the max: the local dispatch that would
	// normally still happen at the end of BroadcastMessage never runs.
	err := tree.me.BroadcastMessage(context.Background(), envelope.Down,
		envelope.Message{Method: "heartbeat", Args: json.RawMessage("null")}, 1, false, "")
	if err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}
	if called {
		t.Error("handler ran despite hop count exceeding the max")
	}
}

func TestBroadcastMessageWithNoNeighboursOnlyDispatchesLocally(t *testing.T) {
	tree := newThreeZoneTree(t)
	var got zonepath.Path
	tree.grandchild.RegisterMethod("heartbeat", func(ctx context.Context, args json.RawMessage, routingPath zonepath.Path) (json.RawMessage, error) {
		got = routingPath
		return nil, nil
	})

	err := tree.grandchild.BroadcastMessage(context.Background(), envelope.Down,
		envelope.Message{Method: "heartbeat", Args: json.RawMessage("null")}, 0, false, "")
	if err != nil {
		t.Fatalf("BroadcastMessage: %v", err)
	}
	if got != "grandchild" {
		t.Errorf("routing path = %q, want %q", got, "grandchild")
	}
}
