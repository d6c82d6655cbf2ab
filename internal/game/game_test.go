package game

import (
	"encoding/json"
	"testing"
	"time"
)

func sampleGame() *Game {
	startedAt := time.UnixMilli(1000).UTC()
	return &Game{
		Versioned: Versioned{ID: "g1", Version: 3},
		GameType:  "tictactoe",
		Status:    StatusActive,
		Seed:      "seed",
		Config:    json.RawMessage(`{"boardSize":3}`),
		PublicState: json.RawMessage(
			`{"board":[["","",""],["","",""],["","",""]]}`,
		),
		Players: []Player{
			{GameID: "g1", UserID: "alice", Status: PlayerActive, PrivateState: json.RawMessage(`{"hand":[1]}`)},
			{GameID: "g1", UserID: "bob", Status: PlayerActive, PrivateState: json.RawMessage(`{"hand":[2]}`)},
		},
		Turn: Turn{
			UserID:         "alice",
			Number:         1,
			Phase:          "main",
			AllowedActions: []string{"place_mark"},
		},
		StartedAt: &startedAt,
	}
}

func TestNextPlayerIDWrapsAround(t *testing.T) {
	g := sampleGame()
	if got := g.NextPlayerID("alice"); got != "bob" {
		t.Fatalf("NextPlayerID(alice) = %q, want bob", got)
	}
	if got := g.NextPlayerID("bob"); got != "alice" {
		t.Fatalf("NextPlayerID(bob) = %q, want alice", got)
	}
}

func TestTurnAllows(t *testing.T) {
	turn := Turn{AllowedActions: []string{"place_mark", "pass"}}
	if !turn.Allows("pass") {
		t.Fatal("expected pass to be allowed")
	}
	if turn.Allows("discard") {
		t.Fatal("expected discard to be disallowed")
	}
}

func TestCloneIsDeep(t *testing.T) {
	g := sampleGame()
	clone := g.Clone()

	clone.Players[0].PrivateState[2] = 'x'
	clone.Turn.AllowedActions[0] = "mutated"
	clone.PublicState[2] = 'x'
	*clone.StartedAt = time.UnixMilli(9999)

	if string(g.Players[0].PrivateState) != `{"hand":[1]}` {
		t.Fatal("clone shares player private state with original")
	}
	if g.Turn.AllowedActions[0] != "place_mark" {
		t.Fatal("clone shares turn slices with original")
	}
	if g.PublicState[2] == 'x' {
		t.Fatal("clone shares public state with original")
	}
	if g.StartedAt.UnixMilli() != 1000 {
		t.Fatal("clone shares startedAt pointer with original")
	}
}

func TestStatusTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusWaiting, false},
		{StatusActive, false},
		{StatusPaused, false},
		{StatusFinished, true},
		{StatusAborted, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}
