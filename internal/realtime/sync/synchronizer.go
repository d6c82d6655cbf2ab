// Package sync keeps a client converged on a versioned event stream.
//
// Events apply strictly in increasing version order. Stale or duplicate
// deliveries are ignored, and a version gap triggers a full state recovery
// from the source of truth.
package sync

import (
	"context"
	"fmt"
	"log"

	"github.com/louisbranch/gametable/internal/realtime"
)

// FetchStateFunc loads the full current state and its version from the
// source of truth.
type FetchStateFunc[T any] func(ctx context.Context) (T, uint64, error)

// ApplyEventFunc folds one event into the synchronized state.
type ApplyEventFunc[T any] func(state T, event realtime.Event) (T, error)

// OnStateFunc observes every state change.
type OnStateFunc[T any] func(state T)

// Synchronizer consumes a per-channel event stream and keeps local state
// converged with the canonical server state.
//
// Synchronizer is not safe for concurrent use; callers feed it from a
// single subscription goroutine.
type Synchronizer[T any] struct {
	fetchState FetchStateFunc[T]
	applyEvent ApplyEventFunc[T]
	onState    OnStateFunc[T]

	state       T
	lastVersion uint64
}

// New creates a synchronizer. lastVersion starts at zero, so the first
// applicable event is version 1 unless Recover runs first.
func New[T any](fetch FetchStateFunc[T], apply ApplyEventFunc[T], onState OnStateFunc[T]) *Synchronizer[T] {
	return &Synchronizer[T]{
		fetchState: fetch,
		applyEvent: apply,
		onState:    onState,
	}
}

// LastVersion returns the version of the last applied event or recovery.
func (s *Synchronizer[T]) LastVersion() uint64 {
	return s.lastVersion
}

// State returns the current synchronized state.
func (s *Synchronizer[T]) State() T {
	return s.state
}

// Handle processes one incoming event.
//
// Events at or below the last seen version are dropped. The next sequential
// version applies. Anything further ahead means deliveries were missed: the
// triggering event is discarded and the state is refetched wholesale.
// Recovery is the only path that moves lastVersion non-sequentially.
func (s *Synchronizer[T]) Handle(ctx context.Context, event realtime.Event) error {
	if event.Version <= s.lastVersion {
		return nil
	}

	if event.Version > s.lastVersion+1 {
		log.Printf("version gap detected: %d -> %d, recovering", s.lastVersion, event.Version)
		return s.Recover(ctx)
	}

	next, err := s.applyEvent(s.state, event)
	if err != nil {
		return fmt.Errorf("apply event %s v%d: %w", event.Type, event.Version, err)
	}
	s.state = next
	s.lastVersion = event.Version
	if s.onState != nil {
		s.onState(s.state)
	}
	return nil
}

// Recover replaces the local state with the full canonical state.
func (s *Synchronizer[T]) Recover(ctx context.Context) error {
	state, version, err := s.fetchState(ctx)
	if err != nil {
		return fmt.Errorf("fetch full state: %w", err)
	}
	s.state = state
	s.lastVersion = version
	if s.onState != nil {
		s.onState(s.state)
	}
	return nil
}
