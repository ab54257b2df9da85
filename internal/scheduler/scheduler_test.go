package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/envoyage/envoyage/internal/topology"
)

type fakeStore struct{ rows []topology.Row }

func (f fakeStore) ListZones(ctx context.Context) ([]topology.Row, error) { return f.rows, nil }

func newTestCache(t *testing.T, rows []topology.Row) *topology.Cache {
	t.Helper()
	c := topology.NewCache("me", nil, fakeStore{rows: rows}, 0)
	if err := c.Refresh(context.Background(), time.Now()); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return c
}

type fakeCreator struct {
	called bool
	err    error
}

func (c *fakeCreator) CreateInstanceHere(ctx context.Context, requestSpec map[string]interface{}) error {
	c.called = true
	return c.err
}

type fakeForwarder struct {
	attempts []string
	failFor  map[string]bool
}

func (f *fakeForwarder) Forward(ctx context.Context, zone *topology.ZoneInfo, requestSpec, filterProperties map[string]interface{}) error {
	f.attempts = append(f.attempts, zone.Name)
	if f.failFor[zone.Name] {
		return errors.New("unreachable")
	}
	return nil
}

func TestScheduleRunInstanceRunsLocallyWithNoChildren(t *testing.T) {
	cache := newTestCache(t, nil)
	creator := &fakeCreator{}
	forwarder := &fakeForwarder{failFor: map[string]bool{}}
	s := New(cache, creator, forwarder)

	if err := s.ScheduleRunInstance(context.Background(), nil, nil); err != nil {
		t.Fatalf("ScheduleRunInstance: %v", err)
	}
	if !creator.called {
		t.Error("local creator was never invoked")
	}
	if len(forwarder.attempts) != 0 {
		t.Errorf("forwarder was contacted with no children: %v", forwarder.attempts)
	}
}

func TestScheduleRunInstanceFallsThroughToNextChildOnFailure(t *testing.T) {
	cache := newTestCache(t, []topology.Row{{Name: "a"}, {Name: "b"}})

	// Candidates are shuffled, so repeat until the failing child "a"
	// happens to be tried first; the scheduler must then move on to "b".
	for i := 0; i < 64; i++ {
		creator := &fakeCreator{}
		forwarder := &fakeForwarder{failFor: map[string]bool{"a": true}}
		s := New(cache, creator, forwarder)

		if err := s.ScheduleRunInstance(context.Background(), nil, nil); err != nil {
			t.Fatalf("ScheduleRunInstance: %v", err)
		}
		if creator.called {
			t.Error("local creator was invoked despite children being present")
		}
		if forwarder.attempts[0] != "a" {
			continue
		}
		if len(forwarder.attempts) != 2 {
			t.Fatalf("attempts = %v, want exactly 2 (one failure, one success)", forwarder.attempts)
		}
		return
	}
	t.Fatal("the failing child was never tried first in 64 runs")
}

func TestScheduleRunInstanceFailsWhenEveryChildFails(t *testing.T) {
	cache := newTestCache(t, []topology.Row{{Name: "a"}, {Name: "b"}})
	creator := &fakeCreator{}
	forwarder := &fakeForwarder{failFor: map[string]bool{"a": true, "b": true}}
	s := New(cache, creator, forwarder)

	err := s.ScheduleRunInstance(context.Background(), nil, nil)
	if err == nil {
		t.Fatal("expected an error when every child fails")
	}
	if len(forwarder.attempts) != 2 {
		t.Errorf("attempts = %v, want both children tried", forwarder.attempts)
	}
}
