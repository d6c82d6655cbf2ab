package client

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
	"github.com/louisbranch/gametable/internal/games/tictactoe"
	"github.com/louisbranch/gametable/internal/realtime"
)

func serverGame(t *testing.T, version uint64) *game.Game {
	t.Helper()
	e := tictactoe.New()
	result, err := e.Initialize(nil, []string{"alice", "bob"}, "seed")
	if err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return &game.Game{
		Versioned:   game.Versioned{ID: "g1", Version: version},
		GameType:    tictactoe.GameType,
		Status:      game.StatusActive,
		PublicState: result.PublicState,
		Players: []game.Player{
			{GameID: "g1", UserID: "alice", Status: game.PlayerActive},
			{GameID: "g1", UserID: "bob", Status: game.PlayerActive},
		},
		Turn: result.InitialTurn,
	}
}

func moveAction(t *testing.T, userID string, row, col int) game.Action {
	t.Helper()
	payload, err := json.Marshal(tictactoe.MovePayload{Row: row, Col: col})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return game.Action{UserID: userID, Type: tictactoe.ActionPlaceMark, Payload: payload}
}

func cellAt(t *testing.T, g *game.Game, row, col int) string {
	t.Helper()
	var state tictactoe.PublicState
	if err := json.Unmarshal(g.PublicState, &state); err != nil {
		t.Fatalf("unmarshal state: %v", err)
	}
	return state.Board[row][col]
}

func gameEvent(t *testing.T, version uint64, g *game.Game) realtime.Event {
	t.Helper()
	evt, err := realtime.NewEvent(realtime.EventGameUpdated, version, g)
	if err != nil {
		t.Fatalf("NewEvent() error = %v", err)
	}
	return evt
}

func newSynced(t *testing.T, send SendFunc) (*Reconciler, *game.Game) {
	t.Helper()
	canonical := serverGame(t, 3)
	fetch := func(ctx context.Context) (*game.Game, uint64, error) {
		return canonical, canonical.Version, nil
	}
	r := New(tictactoe.New(), fetch, send, nil)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}
	return r, canonical
}

func TestIntentAppliesOptimistically(t *testing.T) {
	var sent []game.Action
	r, canonical := newSynced(t, func(ctx context.Context, action game.Action) error {
		sent = append(sent, action)
		return nil
	})

	if err := r.Intent(context.Background(), moveAction(t, "alice", 0, 0)); err != nil {
		t.Fatalf("Intent() error = %v", err)
	}

	if got := cellAt(t, r.State(), 0, 0); got != "X" {
		t.Errorf("optimistic cell = %q, want X", got)
	}
	if got := cellAt(t, canonical, 0, 0); got != "" {
		t.Errorf("canonical cell = %q, want empty", got)
	}
	if len(sent) != 1 {
		t.Errorf("dispatched actions = %d, want 1", len(sent))
	}
}

func TestIntentRollsBackOnRejection(t *testing.T) {
	r, _ := newSynced(t, func(ctx context.Context, action game.Action) error {
		return errors.New(errors.CodeIllegalMove, "rejected upstream")
	})

	err := r.Intent(context.Background(), moveAction(t, "alice", 0, 0))
	if !errors.IsCode(err, errors.CodeIllegalMove) {
		t.Fatalf("Intent() error = %v, want %s", err, errors.CodeIllegalMove)
	}

	if got := cellAt(t, r.State(), 0, 0); got != "" {
		t.Errorf("cell after rollback = %q, want empty", got)
	}
}

func TestIntentRejectsLocallyInvalidAction(t *testing.T) {
	sends := 0
	r, _ := newSynced(t, func(ctx context.Context, action game.Action) error {
		sends++
		return nil
	})

	err := r.Intent(context.Background(), moveAction(t, "bob", 0, 0))
	if !errors.IsCode(err, errors.CodeNotYourTurn) {
		t.Fatalf("Intent() error = %v, want %s", err, errors.CodeNotYourTurn)
	}
	if sends != 0 {
		t.Errorf("locally invalid action was dispatched %d times", sends)
	}
}

func TestCanonicalEventOverridesOverlay(t *testing.T) {
	r, canonical := newSynced(t, func(ctx context.Context, action game.Action) error {
		return nil
	})

	if err := r.Intent(context.Background(), moveAction(t, "alice", 0, 0)); err != nil {
		t.Fatalf("Intent() error = %v", err)
	}

	// The server applied the move somewhere else on the board; its word is
	// final even though it contradicts the overlay.
	e := tictactoe.New()
	applied, err := e.ApplyAction(canonical, moveAction(t, "alice", 2, 2))
	if err != nil {
		t.Fatalf("ApplyAction() error = %v", err)
	}
	applied.Version = canonical.Version + 1

	if err := r.Handle(context.Background(), gameEvent(t, applied.Version, applied)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if got := cellAt(t, r.State(), 0, 0); got != "" {
		t.Errorf("overlay cell survived canonical override: %q", got)
	}
	if got := cellAt(t, r.State(), 2, 2); got != "X" {
		t.Errorf("canonical cell = %q, want X", got)
	}
	if r.Version() != applied.Version {
		t.Errorf("Version() = %d, want %d", r.Version(), applied.Version)
	}
}

func TestGapTriggersRecovery(t *testing.T) {
	fetches := 0
	canonical := serverGame(t, 3)
	fetch := func(ctx context.Context) (*game.Game, uint64, error) {
		fetches++
		return canonical, canonical.Version + uint64(fetches), nil
	}
	r := New(tictactoe.New(), fetch, func(ctx context.Context, action game.Action) error {
		return nil
	}, nil)
	if err := r.Sync(context.Background()); err != nil {
		t.Fatalf("Sync() error = %v", err)
	}

	// Far ahead of the last seen version: the event is discarded and the
	// state refetched.
	if err := r.Handle(context.Background(), gameEvent(t, 42, canonical)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if fetches != 2 {
		t.Errorf("fetches = %d, want 2 (sync + recovery)", fetches)
	}
}
