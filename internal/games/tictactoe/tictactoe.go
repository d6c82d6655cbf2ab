// Package tictactoe implements the engine contract for tic-tac-toe. It is
// the smallest useful plugin: two players, no private state, one action.
package tictactoe

import (
	"encoding/json"
	"fmt"

	"github.com/louisbranch/gametable/internal/engine"
	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
)

// GameType identifies tic-tac-toe in the engine registry.
const GameType = "tictactoe"

// ActionPlaceMark is the only action: claiming an empty cell.
const ActionPlaceMark = "place_mark"

// PhaseMain is the single phase of a tic-tac-toe game.
const PhaseMain = "main"

const boardSize = 3

// PublicState is the shared board state.
type PublicState struct {
	// Board holds "X", "O", or "" per cell.
	Board [][]string `json:"board"`
	// Symbols maps user id to mark, assigned in player order.
	Symbols map[string]string `json:"symbols"`
}

// MovePayload addresses one cell.
type MovePayload struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Engine implements engine.Engine for tic-tac-toe.
type Engine struct{}

// New creates a tic-tac-toe engine.
func New() *Engine {
	return &Engine{}
}

// Name returns the game type identifier.
func (e *Engine) Name() string { return GameType }

// MinPlayers returns 2.
func (e *Engine) MinPlayers() int { return 2 }

// MaxPlayers returns 2.
func (e *Engine) MaxPlayers() int { return 2 }

// Initialize assigns X to the first player and O to the second, and hands
// the first turn to X. The seed is unused; tic-tac-toe has no randomness.
func (e *Engine) Initialize(config json.RawMessage, playerIDs []string, seed string) (engine.InitResult, error) {
	if len(playerIDs) != 2 {
		return engine.InitResult{}, errors.WithMetadata(errors.CodeInvalidPlayerCount,
			"tic-tac-toe requires exactly 2 players",
			map[string]string{"players": fmt.Sprintf("%d", len(playerIDs))})
	}

	board := make([][]string, boardSize)
	for i := range board {
		board[i] = make([]string, boardSize)
	}

	state := PublicState{
		Board: board,
		Symbols: map[string]string{
			playerIDs[0]: "X",
			playerIDs[1]: "O",
		},
	}
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return engine.InitResult{}, fmt.Errorf("marshal public state: %w", err)
	}

	return engine.InitResult{
		PublicState: stateJSON,
		PrivateStates: []json.RawMessage{
			json.RawMessage(`{}`),
			json.RawMessage(`{}`),
		},
		InitialTurn: game.Turn{
			UserID:         playerIDs[0],
			Number:         1,
			Phase:          PhaseMain,
			AllowedActions: []string{ActionPlaceMark},
		},
	}, nil
}

// ValidateAction checks base rules then cell bounds and occupancy.
func (e *Engine) ValidateAction(g *game.Game, action game.Action) error {
	if err := engine.ValidateBase(g, action, true); err != nil {
		return err
	}

	payload, state, err := decodeMove(g, action)
	if err != nil {
		return err
	}
	if payload.Row < 0 || payload.Row >= boardSize || payload.Col < 0 || payload.Col >= boardSize {
		return errors.New(errors.CodeIllegalMove, "cell is out of bounds")
	}
	if state.Board[payload.Row][payload.Col] != "" {
		return errors.New(errors.CodeIllegalMove, "cell is already occupied")
	}
	return nil
}

// ApplyAction places the mark and hands the turn to the other player.
func (e *Engine) ApplyAction(g *game.Game, action game.Action) (*game.Game, error) {
	payload, state, err := decodeMove(g, action)
	if err != nil {
		return nil, err
	}

	state.Board[payload.Row][payload.Col] = state.Symbols[action.UserID]
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal public state: %w", err)
	}

	out := g.Clone()
	out.PublicState = stateJSON
	out.Turn = game.Turn{
		UserID:         g.NextPlayerID(action.UserID),
		Number:         g.Turn.Number + 1,
		Phase:          PhaseMain,
		AllowedActions: []string{ActionPlaceMark},
	}
	return out, nil
}

// CheckGameEnd looks for a completed line, then for a full board.
func (e *Engine) CheckGameEnd(g *game.Game) engine.EndResult {
	var state PublicState
	if err := json.Unmarshal(g.PublicState, &state); err != nil {
		return engine.EndResult{}
	}

	lines := make([][3][2]int, 0, 8)
	for i := 0; i < boardSize; i++ {
		lines = append(lines,
			[3][2]int{{i, 0}, {i, 1}, {i, 2}},
			[3][2]int{{0, i}, {1, i}, {2, i}},
		)
	}
	lines = append(lines,
		[3][2]int{{0, 0}, {1, 1}, {2, 2}},
		[3][2]int{{0, 2}, {1, 1}, {2, 0}},
	)

	for _, line := range lines {
		a := state.Board[line[0][0]][line[0][1]]
		b := state.Board[line[1][0]][line[1][1]]
		c := state.Board[line[2][0]][line[2][1]]
		if a != "" && a == b && b == c {
			return engine.EndResult{Finished: true, Winner: userBySymbol(state.Symbols, a)}
		}
	}

	for _, row := range state.Board {
		for _, cell := range row {
			if cell == "" {
				return engine.EndResult{}
			}
		}
	}
	return engine.EndResult{Finished: true, IsDraw: true}
}

// ProjectPlayer is the identity: tic-tac-toe has no private state.
func (e *Engine) ProjectPlayer(p game.Player) game.Player { return p }

// ProjectTurn is the identity: the turn carries nothing hidden.
func (e *Engine) ProjectTurn(t game.Turn) game.Turn { return t }

// ProjectAction is the identity: moves are public.
func (e *Engine) ProjectAction(a game.Action) game.Action { return a }

func decodeMove(g *game.Game, action game.Action) (MovePayload, PublicState, error) {
	var payload MovePayload
	if err := json.Unmarshal(action.Payload, &payload); err != nil {
		return MovePayload{}, PublicState{}, errors.Wrap(errors.CodeInvalidActionPayload,
			"malformed move payload", err)
	}
	var state PublicState
	if err := json.Unmarshal(g.PublicState, &state); err != nil {
		return MovePayload{}, PublicState{}, fmt.Errorf("decode public state: %w", err)
	}
	return payload, state, nil
}

func userBySymbol(symbols map[string]string, symbol string) string {
	for userID, s := range symbols {
		if s == symbol {
			return userID
		}
	}
	return ""
}
