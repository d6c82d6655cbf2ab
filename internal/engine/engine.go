// Package engine defines the contract a game implementation must satisfy.
//
// An engine is stateless and pure: initialization is a function of config,
// player order, and seed, and action application is deterministic, so any
// game can be replayed bit-identically from its seed and action history.
package engine

import (
	"encoding/json"

	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
)

// InitResult is the outcome of Engine.Initialize.
type InitResult struct {
	// PublicState is the engine-defined shared state visible to everyone.
	PublicState json.RawMessage
	// PrivateStates holds one entry per player, in playerIDs order.
	PrivateStates []json.RawMessage
	// InitialTurn is the first turn of the game.
	InitialTurn game.Turn
}

// EndResult is the outcome of Engine.CheckGameEnd.
type EndResult struct {
	Finished bool
	// Winner is the winning user id; empty on a draw.
	Winner string
	IsDraw bool
}

// Engine implements the rules of one game type.
//
// Implementations must not keep state between calls and must not use
// ambient randomness; randomness derives from the seed via the
// determinism package.
type Engine interface {
	// Name returns the game type identifier, e.g. "tictactoe".
	Name() string
	// MinPlayers returns the smallest playable seat count.
	MinPlayers() int
	// MaxPlayers returns the largest playable seat count.
	MaxPlayers() int

	// Initialize builds the starting state for the given players and seed.
	Initialize(config json.RawMessage, playerIDs []string, seed string) (InitResult, error)

	// ValidateAction checks an action against the current game without
	// mutating anything. It returns a domain error carrying the rejection
	// reason, or nil when the action is legal.
	ValidateAction(g *game.Game, action game.Action) error

	// ApplyAction returns a new game snapshot with the action applied.
	// It must advance turn.Number and must not mutate g.
	ApplyAction(g *game.Game, action game.Action) (*game.Game, error)

	// CheckGameEnd inspects the game for a finished outcome. The pipeline
	// calls it after every successful ApplyAction.
	CheckGameEnd(g *game.Game) EndResult

	// ProjectPlayer returns the player with its private state replaced by
	// the engine's public projection.
	ProjectPlayer(p game.Player) game.Player

	// ProjectTurn returns the turn as seen by players other than the one
	// acting, with hidden phase data redacted.
	ProjectTurn(t game.Turn) game.Turn

	// ProjectAction returns the action as broadcast to other players.
	ProjectAction(a game.Action) game.Action
}

// ValidateBase runs the validation checks shared by every engine, in order:
// game status, turn ownership, allowed action type, and required phase.
// Engines call it first and then layer game-specific legality on top.
//
// allowWaiting tolerates the brief post-transition window where players are
// still syncing but the first actions already arrive.
func ValidateBase(g *game.Game, action game.Action, allowWaiting bool) error {
	if g.Status != game.StatusActive {
		if !allowWaiting || g.Status != game.StatusWaiting {
			return errors.WithMetadata(errors.CodeGameNotActive, "game is not active",
				map[string]string{"status": string(g.Status)})
		}
	}
	if action.UserID != g.Turn.UserID {
		return errors.New(errors.CodeNotYourTurn, "it is not your turn")
	}
	if !g.Turn.Allows(action.Type) {
		return errors.WithMetadata(errors.CodeActionNotAllowed, "action type is not allowed this turn",
			map[string]string{"type": action.Type})
	}
	if action.RequiredPhase != "" && action.RequiredPhase != g.Turn.Phase {
		return errors.WithMetadata(errors.CodeWrongPhase, "action requires a different phase",
			map[string]string{"required": action.RequiredPhase, "current": g.Turn.Phase})
	}
	return nil
}

// ProjectGame returns the game as seen by userID: every other player's
// private state is replaced by the engine's public projection, and the turn
// is redacted unless it belongs to the viewer. The raw private state of
// another player never leaves the server.
func ProjectGame(e Engine, g *game.Game, userID string) *game.Game {
	out := g.Clone()
	for i, p := range out.Players {
		if p.UserID != userID {
			out.Players[i] = e.ProjectPlayer(p)
		}
	}
	if out.Turn.UserID != userID {
		out.Turn = e.ProjectTurn(out.Turn)
	}
	return out
}
