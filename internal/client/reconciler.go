// Package client reconciles a client-side game view with the authoritative
// server state.
//
// Local actions apply optimistically through the same engine the server
// runs, so the UI reacts instantly. The optimistic overlay is provisional:
// a rejected dispatch rolls it back, and every canonical event discards it.
// The server state always wins; the overlay is never merged into it.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/louisbranch/gametable/internal/game"
	"github.com/louisbranch/gametable/internal/realtime"

	gameengine "github.com/louisbranch/gametable/internal/engine"
	eventsync "github.com/louisbranch/gametable/internal/realtime/sync"
)

// SendFunc dispatches an action to the authoritative pipeline. An error
// return means the server rejected the action.
type SendFunc func(ctx context.Context, action game.Action) error

// Reconciler holds the canonical game snapshot, synchronized from the
// per-player event stream, plus at most one optimistic overlay.
type Reconciler struct {
	engine gameengine.Engine
	send   SendFunc

	mu           sync.Mutex
	synchronizer *eventsync.Synchronizer[*game.Game]
	overlay      *game.Game
	onState      func(*game.Game)
}

// New creates a reconciler. fetch loads the canonical projected game from
// the server, send dispatches actions, and onState (optional) observes
// every visible state change, optimistic or canonical.
func New(engine gameengine.Engine, fetch eventsync.FetchStateFunc[*game.Game], send SendFunc, onState func(*game.Game)) *Reconciler {
	r := &Reconciler{engine: engine, send: send, onState: onState}
	r.synchronizer = eventsync.New(fetch, applyEvent, r.canonicalChanged)
	return r
}

// applyEvent folds a stream event into the canonical snapshot. Only full
// state events replace it; everything else is informational.
func applyEvent(state *game.Game, event realtime.Event) (*game.Game, error) {
	if event.Type != realtime.EventGameUpdated {
		return state, nil
	}
	var g game.Game
	if err := json.Unmarshal(event.Payload, &g); err != nil {
		return nil, fmt.Errorf("unmarshal game payload: %w", err)
	}
	return &g, nil
}

// canonicalChanged runs inside the synchronizer while r.mu is held.
func (r *Reconciler) canonicalChanged(state *game.Game) {
	if r.onState != nil {
		r.onState(state)
	}
}

// Sync performs the initial full state fetch.
func (r *Reconciler) Sync(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay = nil
	return r.synchronizer.Recover(ctx)
}

// Handle processes one event from the game stream. Any canonical delivery
// invalidates the optimistic overlay, whether or not it advances the state:
// the server has spoken.
func (r *Reconciler) Handle(ctx context.Context, event realtime.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overlay = nil
	return r.synchronizer.Handle(ctx, event)
}

// Intent validates and applies an action against the local view, shows the
// result immediately, and dispatches it to the server. A rejected dispatch
// rolls the overlay back to the canonical state.
func (r *Reconciler) Intent(ctx context.Context, action game.Action) error {
	r.mu.Lock()
	base := r.state()
	if base == nil {
		r.mu.Unlock()
		return fmt.Errorf("no game state synced yet")
	}
	if err := r.engine.ValidateAction(base, action); err != nil {
		r.mu.Unlock()
		return err
	}
	next, err := r.engine.ApplyAction(base, action)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	r.overlay = next
	if r.onState != nil {
		r.onState(next)
	}
	r.mu.Unlock()

	if err := r.send(ctx, action); err != nil {
		r.mu.Lock()
		r.overlay = nil
		if r.onState != nil {
			r.onState(r.synchronizer.State())
		}
		r.mu.Unlock()
		return err
	}
	return nil
}

// State returns the game as the UI should render it: the optimistic overlay
// when one is pending, the canonical state otherwise.
func (r *Reconciler) State() *game.Game {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()
}

func (r *Reconciler) state() *game.Game {
	if r.overlay != nil {
		return r.overlay
	}
	return r.synchronizer.State()
}

// Version returns the canonical stream position.
func (r *Reconciler) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.synchronizer.LastVersion()
}
