package sync

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/louisbranch/gametable/internal/realtime"
)

type counterState struct {
	Applied []uint64
}

func testSynchronizer(fetchVersion *uint64, fetchCalls *int) *Synchronizer[counterState] {
	fetch := func(ctx context.Context) (counterState, uint64, error) {
		*fetchCalls++
		return counterState{Applied: []uint64{*fetchVersion}}, *fetchVersion, nil
	}
	apply := func(state counterState, event realtime.Event) (counterState, error) {
		state.Applied = append(state.Applied, event.Version)
		return state, nil
	}
	return New(fetch, apply, nil)
}

func event(version uint64) realtime.Event {
	return realtime.Event{Type: realtime.EventGameUpdated, Version: version, Payload: json.RawMessage(`{}`)}
}

func TestSequentialApply(t *testing.T) {
	var fetchVersion uint64
	fetchCalls := 0
	s := testSynchronizer(&fetchVersion, &fetchCalls)
	ctx := context.Background()

	for v := uint64(1); v <= 5; v++ {
		if err := s.Handle(ctx, event(v)); err != nil {
			t.Fatalf("Handle v%d: %v", v, err)
		}
	}
	if s.LastVersion() != 5 {
		t.Fatalf("lastVersion = %d, want 5", s.LastVersion())
	}
	if fetchCalls != 0 {
		t.Fatalf("fetchCalls = %d, want 0", fetchCalls)
	}
	if got := len(s.State().Applied); got != 5 {
		t.Fatalf("applied %d events, want 5", got)
	}
}

func TestStaleAndDuplicateEventsIgnored(t *testing.T) {
	var fetchVersion uint64
	fetchCalls := 0
	s := testSynchronizer(&fetchVersion, &fetchCalls)
	ctx := context.Background()

	s.Handle(ctx, event(1))
	s.Handle(ctx, event(2))

	// Duplicate and stale deliveries must be no-ops.
	s.Handle(ctx, event(2))
	s.Handle(ctx, event(1))

	if s.LastVersion() != 2 {
		t.Fatalf("lastVersion = %d, want 2", s.LastVersion())
	}
	if got := len(s.State().Applied); got != 2 {
		t.Fatalf("applied %d events, want 2", got)
	}
	if fetchCalls != 0 {
		t.Fatalf("fetchCalls = %d, want 0", fetchCalls)
	}
}

func TestGapTriggersExactlyOneRecovery(t *testing.T) {
	fetchVersion := uint64(7)
	fetchCalls := 0
	s := testSynchronizer(&fetchVersion, &fetchCalls)
	ctx := context.Background()

	s.Handle(ctx, event(1))

	// Version 5 skips 2-4: recover, discarding the triggering event.
	if err := s.Handle(ctx, event(5)); err != nil {
		t.Fatalf("Handle gap: %v", err)
	}
	if fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d, want 1", fetchCalls)
	}
	if s.LastVersion() != 7 {
		t.Fatalf("lastVersion = %d, want recovered version 7", s.LastVersion())
	}

	// Events at or below the recovered version are stale now.
	s.Handle(ctx, event(6))
	s.Handle(ctx, event(7))
	if fetchCalls != 1 {
		t.Fatalf("fetchCalls = %d after stale events, want 1", fetchCalls)
	}

	// The next sequential event applies normally.
	if err := s.Handle(ctx, event(8)); err != nil {
		t.Fatalf("Handle v8: %v", err)
	}
	if s.LastVersion() != 8 {
		t.Fatalf("lastVersion = %d, want 8", s.LastVersion())
	}
}

func TestOnStateObservesChanges(t *testing.T) {
	var observed int
	s := New(
		func(ctx context.Context) (counterState, uint64, error) {
			return counterState{}, 0, nil
		},
		func(state counterState, event realtime.Event) (counterState, error) {
			return state, nil
		},
		func(state counterState) { observed++ },
	)

	ctx := context.Background()
	s.Handle(ctx, event(1))
	s.Handle(ctx, event(1)) // duplicate, no callback
	s.Handle(ctx, event(2))
	if observed != 2 {
		t.Fatalf("observed %d state changes, want 2", observed)
	}
}
