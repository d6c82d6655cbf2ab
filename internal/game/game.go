// Package game defines the persisted game aggregate: the game record, its
// players, the embedded turn, and the append-only action history.
package game

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/gametable/internal/engine/determinism"
)

// Status describes the lifecycle state of a game.
type Status string

const (
	// StatusWaiting indicates the game exists but players are still syncing.
	StatusWaiting Status = "waiting"
	// StatusActive indicates the game is accepting actions.
	StatusActive Status = "active"
	// StatusPaused indicates the game is temporarily suspended.
	StatusPaused Status = "paused"
	// StatusFinished indicates the game ended with an outcome.
	StatusFinished Status = "finished"
	// StatusAborted indicates the game ended without an outcome.
	StatusAborted Status = "aborted"
)

// Terminal reports whether the status is an end state. Finished and aborted
// games are retained for history and replay, never deleted.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusAborted
}

// PlayerStatus describes the lifecycle state of a participant.
type PlayerStatus string

const (
	// PlayerSyncing indicates the player has not yet loaded the initial state.
	PlayerSyncing PlayerStatus = "syncing"
	// PlayerActive indicates the player is connected and in the game.
	PlayerActive PlayerStatus = "active"
	// PlayerEliminated indicates the player is out of the game.
	PlayerEliminated PlayerStatus = "eliminated"
	// PlayerDisconnected indicates the player dropped their connection.
	PlayerDisconnected PlayerStatus = "disconnected"
)

// Versioned is the envelope shared by all persisted records. Every successful
// mutation increments Version by exactly one and refreshes UpdatedAt; a
// mutation against a stale version is rejected, never merged.
type Versioned struct {
	ID        string    `json:"id"`
	Version   uint64    `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Game is the canonical server state for one match. It is created only by
// the lobby transition and mutated only through the action pipeline.
type Game struct {
	Versioned

	GameType    string          `json:"gameType"`
	// LobbyID links back to the lobby this game transitioned from.
	LobbyID     string          `json:"lobbyId,omitempty"`
	Status      Status          `json:"status"`
	Config      json.RawMessage `json:"config,omitempty"`
	Seed        string          `json:"seed"`
	PublicState json.RawMessage `json:"publicState,omitempty"`
	Players     []Player        `json:"players"`
	Turn        Turn            `json:"turn"`
	Winner      string          `json:"winner,omitempty"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Player is one participant in a game, keyed by game and user id. Its
// private state is engine-defined and must never reach other players.
type Player struct {
	GameID       string          `json:"gameId"`
	UserID       string          `json:"userId"`
	Status       PlayerStatus    `json:"status"`
	PrivateState json.RawMessage `json:"privateState,omitempty"`
}

// Turn is embedded in a game and replaced wholesale on each successful
// action application. Number strictly increases.
type Turn struct {
	UserID          string                   `json:"userId"`
	Number          uint64                   `json:"number"`
	Phase           string                   `json:"phase,omitempty"`
	PhaseData       json.RawMessage          `json:"phaseData,omitempty"`
	AllowedActions  []string                 `json:"allowedActions"`
	RequiredActions []string                 `json:"requiredActions,omitempty"`
	Clock           *determinism.TurnClock   `json:"clock,omitempty"`
	ClockConfig     *determinism.ClockConfig `json:"clockConfig,omitempty"`
}

// Action is one move submitted by a player. Actions are immutable once
// recorded and kept as append-only history for audit and replay.
type Action struct {
	UserID        string          `json:"userId"`
	Timestamp     time.Time       `json:"timestamp"`
	Type          string          `json:"type"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	AdvancesPhase bool            `json:"advancesPhase,omitempty"`
	RequiredPhase string          `json:"requiredPhase,omitempty"`
}

// Allows reports whether the turn permits the given action type.
func (t Turn) Allows(actionType string) bool {
	for _, allowed := range t.AllowedActions {
		if allowed == actionType {
			return true
		}
	}
	return false
}

// PlayerIndex returns the index of the player with the given user id, or -1.
func (g *Game) PlayerIndex(userID string) int {
	for i, p := range g.Players {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

// HasPlayer reports whether the user participates in the game.
func (g *Game) HasPlayer(userID string) bool {
	return g.PlayerIndex(userID) >= 0
}

// NextPlayerID returns the user id that follows current in seat order,
// wrapping around the player list.
func (g *Game) NextPlayerID(current string) string {
	idx := g.PlayerIndex(current)
	if idx < 0 || len(g.Players) == 0 {
		return current
	}
	return g.Players[(idx+1)%len(g.Players)].UserID
}

// Clone returns a deep copy of the game. Pipeline mutations operate on
// clones so shared snapshots are never mutated in place.
func (g *Game) Clone() *Game {
	if g == nil {
		return nil
	}
	out := *g
	out.Config = cloneRaw(g.Config)
	out.PublicState = cloneRaw(g.PublicState)
	out.Players = make([]Player, len(g.Players))
	for i, p := range g.Players {
		p.PrivateState = cloneRaw(p.PrivateState)
		out.Players[i] = p
	}
	out.Turn = g.Turn.Clone()
	if g.StartedAt != nil {
		startedAt := *g.StartedAt
		out.StartedAt = &startedAt
	}
	if g.FinishedAt != nil {
		finishedAt := *g.FinishedAt
		out.FinishedAt = &finishedAt
	}
	return &out
}

// Clone returns a deep copy of the turn.
func (t Turn) Clone() Turn {
	out := t
	out.PhaseData = cloneRaw(t.PhaseData)
	out.AllowedActions = append([]string(nil), t.AllowedActions...)
	if t.RequiredActions != nil {
		out.RequiredActions = append([]string(nil), t.RequiredActions...)
	}
	if t.Clock != nil {
		clock := *t.Clock
		out.Clock = &clock
	}
	if t.ClockConfig != nil {
		cfg := *t.ClockConfig
		out.ClockConfig = &cfg
	}
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}
