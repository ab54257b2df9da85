package fabric

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/envoyage/envoyage/internal/zoneerr"
)

// response is what flows through a rendezvous slot: either a successful
// result or a remote failure, never both.
type response struct {
	value json.RawMessage
	err   error
}

// inflightTable is the §4.6 Response Multiplexer's state: a mapping from
// response_uuid to a bounded, single-shot rendezvous slot. Inserted by
// the originating task and filled by whichever task delivers the reply;
// removed by the originating task once it has read the reply or stopped
// waiting.
type inflightTable struct {
	mu    sync.Mutex
	slots map[string]chan response
}

func newInflightTable() *inflightTable {
	return &inflightTable{slots: map[string]chan response{}}
}

// register creates a new single-shot slot for uuid. The channel is
// buffered so deliver never blocks even if nobody is waiting yet.
func (t *inflightTable) register(uuid string) chan response {
	ch := make(chan response, 1)
	t.mu.Lock()
	t.slots[uuid] = ch
	t.mu.Unlock()
	return ch
}

// deliver hands result to the slot registered under uuid, if any. It
// reports whether a slot was found; a missing slot is benign (agent
// restart) and the reply is simply dropped by the caller.
func (t *inflightTable) deliver(uuid string, result response) bool {
	t.mu.Lock()
	ch, ok := t.slots[uuid]
	t.mu.Unlock()
	if !ok {
		return false
	}
	ch <- result
	return true
}

func (t *inflightTable) remove(uuid string) {
	t.mu.Lock()
	delete(t.slots, uuid)
	t.mu.Unlock()
}

// wait blocks until a reply arrives for uuid, the bound context is
// cancelled, or timeout elapses — whichever first. The slot is always
// removed before wait returns, successfully or not (spec §5).
func (t *inflightTable) wait(ctx context.Context, uuid string, ch chan response, timeout time.Duration) (json.RawMessage, error) {
	defer t.remove(uuid)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.value, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, zoneerr.ErrResponseTimeout
	}
}
