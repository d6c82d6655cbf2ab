package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/gametable/internal/engine/determinism"
	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
	"github.com/louisbranch/gametable/internal/lobby"
	"github.com/louisbranch/gametable/internal/profile"
	"github.com/louisbranch/gametable/internal/realtime"
	"github.com/louisbranch/gametable/internal/storage"

	gameengine "github.com/louisbranch/gametable/internal/engine"
)

// GameService runs the authoritative action pipeline and the player
// lifecycle of active games.
type GameService struct {
	store   storage.Store
	broker  realtime.Broker
	engines *gameengine.Registry

	now func() time.Time
}

// NewGameService creates a game service.
func NewGameService(store storage.Store, broker realtime.Broker, engines *gameengine.Registry) *GameService {
	return &GameService{
		store:   store,
		broker:  broker,
		engines: engines,
		now:     time.Now,
	}
}

// Get returns the game as seen by userID. Only participants may look.
func (s *GameService) Get(ctx context.Context, gameID, userID string) (*game.Game, error) {
	g, _, err := loadGame(ctx, s.store, gameID)
	if err != nil {
		return nil, err
	}
	if !g.HasPlayer(userID) {
		return nil, errors.New(errors.CodeNotPlayer, "user is not in the game")
	}
	eng, err := s.engines.Get(g.GameType)
	if err != nil {
		return nil, err
	}
	return gameengine.ProjectGame(eng, g, userID), nil
}

// ApplyAction is the authoritative pipeline for one action: validate against
// the current snapshot, apply through the engine, check for game end, then
// commit the new game state, the action history entry, and any stat deltas
// atomically. Broadcasts follow the commit, each stamped with the
// post-commit game version.
//
// The returned game is projected for the acting player.
func (s *GameService) ApplyAction(ctx context.Context, gameID string, action game.Action) (*game.Game, error) {
	ctx, span := tracer.Start(ctx, "game.apply_action",
		trace.WithAttributes(
			attribute.String("game.id", gameID),
			attribute.String("action.type", action.Type)))
	defer span.End()

	g, playerVersions, err := loadGame(ctx, s.store, gameID)
	if err != nil {
		return nil, err
	}
	if g.Status.Terminal() {
		return nil, errors.New(errors.CodeGameAlreadyFinished, "game is already over")
	}
	eng, err := s.engines.Get(g.GameType)
	if err != nil {
		return nil, err
	}

	now := s.now()
	action.Timestamp = now

	if err := eng.ValidateAction(g, action); err != nil {
		return nil, err
	}
	next, err := eng.ApplyAction(g, action)
	if err != nil {
		return nil, err
	}
	next.Versioned = g.Versioned

	turnChanged := next.Turn.Number != g.Turn.Number || next.Turn.UserID != g.Turn.UserID
	if turnChanged {
		if next.Turn.ClockConfig == nil {
			next.Turn.ClockConfig = g.Turn.ClockConfig
		}
		if next.Turn.ClockConfig != nil {
			clock := determinism.StartClock(now)
			next.Turn.Clock = &clock
		}
	}

	end := eng.CheckGameEnd(next)
	if end.Finished {
		next.Status = game.StatusFinished
		next.Winner = end.Winner
		next.FinishedAt = &now
		next.Turn.Clock = nil
	}

	record := ActionRecord{Action: action, GameID: g.ID, Seq: g.Version + 1}
	actionData, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("marshal action: %w", err)
	}
	gameData, err := gameDoc(next)
	if err != nil {
		return nil, err
	}

	ops := []storage.Op{
		storage.UpdateOp(storage.TableGames, g.ID, g.Version, gameData),
		storage.InsertOp(storage.TableActions, actionKey(g.ID, record.Seq), actionData),
	}
	for i, p := range next.Players {
		if string(p.PrivateState) == string(g.Players[i].PrivateState) && p.Status == g.Players[i].Status {
			continue
		}
		playerData, err := playerDoc(p)
		if err != nil {
			return nil, err
		}
		ops = append(ops, storage.UpdateOp(storage.TablePlayers, playerKey(g.ID, p.UserID),
			playerVersions[p.UserID], playerData))
	}
	if end.Finished {
		for _, p := range next.Players {
			outcome := profile.OutcomeFor(p.UserID, end.Winner, end.IsDraw)
			ops = append(ops, storage.DeltaOp(storage.TableProfiles, p.UserID, profile.StatsDelta(outcome)))
		}
	}

	if err := commitAtomic(ctx, s.store, "apply action", ops); err != nil {
		return nil, err
	}
	next.Version = g.Version + 1

	for _, p := range next.Players {
		projected := gameengine.ProjectGame(eng, next, p.UserID)
		publish(ctx, s.broker, realtime.GamePlayerChannel(g.ID, p.UserID), realtime.EventGameUpdated,
			next.Version, projected)
	}
	publish(ctx, s.broker, realtime.GameChannel(g.ID), realtime.EventGameActionApplied, next.Version,
		eng.ProjectAction(action))

	if end.Finished {
		publish(ctx, s.broker, realtime.GameChannel(g.ID), realtime.EventGameFinished, next.Version,
			map[string]any{"winner": end.Winner, "isDraw": end.IsDraw})
		s.publishStats(ctx, next, end)
	}
	return gameengine.ProjectGame(eng, next, action.UserID), nil
}

// publishStats notifies each player's profile channel after a finish. The
// deltas already committed; the read here only picks up the resulting
// version for the event stamp.
func (s *GameService) publishStats(ctx context.Context, g *game.Game, end gameengine.EndResult) {
	for _, p := range g.Players {
		outcome := profile.OutcomeFor(p.UserID, end.Winner, end.IsDraw)
		version := uint64(0)
		if rec, err := s.store.Get(ctx, storage.TableProfiles, p.UserID); err == nil {
			version = rec.Version
		}
		publish(ctx, s.broker, realtime.ProfileChannel(p.UserID), realtime.EventProfileNewStats, version,
			map[string]string{"userId": p.UserID, "outcome": string(outcome)})
	}
}

// MarkPlayerSynced records that a player loaded the initial state. Once the
// last player syncs, the game activates and the first turn clock starts.
func (s *GameService) MarkPlayerSynced(ctx context.Context, gameID, userID string) (*game.Game, error) {
	g, playerVersions, err := loadGame(ctx, s.store, gameID)
	if err != nil {
		return nil, err
	}
	idx := g.PlayerIndex(userID)
	if idx < 0 {
		return nil, errors.New(errors.CodePlayerNotFound, "user is not in the game")
	}
	if g.Players[idx].Status != game.PlayerSyncing {
		return nil, errors.New(errors.CodePlayerAlreadyActive, "player already synced")
	}

	g.Players[idx].Status = game.PlayerActive

	allActive := true
	for _, p := range g.Players {
		if p.Status != game.PlayerActive {
			allActive = false
			break
		}
	}
	now := s.now()
	if allActive && g.Status == game.StatusWaiting {
		g.Status = game.StatusActive
		g.StartedAt = &now
		if g.Turn.ClockConfig != nil {
			clock := determinism.StartClock(now)
			g.Turn.Clock = &clock
		}
	}

	extra, err := s.memberSyncedOps(ctx, g.LobbyID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.commitGameAndPlayer(ctx, "mark player synced", g, idx, playerVersions, extra...); err != nil {
		return nil, err
	}

	eng, err := s.engines.Get(g.GameType)
	if err != nil {
		return nil, err
	}
	for _, p := range g.Players {
		projected := gameengine.ProjectGame(eng, g, p.UserID)
		publish(ctx, s.broker, realtime.GamePlayerChannel(g.ID, p.UserID), realtime.EventGameUpdated,
			g.Version, projected)
	}
	return gameengine.ProjectGame(eng, g, userID), nil
}

// HandleDisconnect marks a player disconnected. When it is the disconnected
// player's turn, the turn clock pauses so they do not lose time.
func (s *GameService) HandleDisconnect(ctx context.Context, gameID, userID string) error {
	return s.setConnection(ctx, gameID, userID, false)
}

// HandleReconnect marks a player active again and resumes a paused clock on
// their turn.
func (s *GameService) HandleReconnect(ctx context.Context, gameID, userID string) error {
	return s.setConnection(ctx, gameID, userID, true)
}

func (s *GameService) setConnection(ctx context.Context, gameID, userID string, connected bool) error {
	g, playerVersions, err := loadGame(ctx, s.store, gameID)
	if err != nil {
		return err
	}
	if g.Status.Terminal() {
		return errors.New(errors.CodeGameAlreadyFinished, "game is already over")
	}
	idx := g.PlayerIndex(userID)
	if idx < 0 {
		return errors.New(errors.CodePlayerNotFound, "user is not in the game")
	}

	now := s.now()
	eventType := realtime.EventGamePlayerDisconnected
	if connected {
		if g.Players[idx].Status != game.PlayerDisconnected {
			return errors.New(errors.CodePlayerAlreadyActive, "player is not disconnected")
		}
		g.Players[idx].Status = game.PlayerActive
		eventType = realtime.EventGamePlayerReconnected
		if g.Turn.UserID == userID && g.Turn.Clock != nil {
			clock := g.Turn.Clock.Resume(now)
			g.Turn.Clock = &clock
		}
	} else {
		g.Players[idx].Status = game.PlayerDisconnected
		if g.Turn.UserID == userID && g.Turn.Clock != nil {
			clock := g.Turn.Clock.Pause(now)
			g.Turn.Clock = &clock
		}
	}

	if err := s.commitGameAndPlayer(ctx, "set player connection", g, idx, playerVersions); err != nil {
		return err
	}

	publish(ctx, s.broker, realtime.GameChannel(g.ID), eventType, g.Version,
		map[string]string{"userId": userID})
	return nil
}

// memberSyncedOps marks the player's lobby membership synced alongside the
// game-side flip. A missing member record (the lobby was deleted) is not an
// error; the lobby side is simply gone.
func (s *GameService) memberSyncedOps(ctx context.Context, lobbyID, userID string) ([]storage.Op, error) {
	if lobbyID == "" {
		return nil, nil
	}
	rec, err := s.store.Get(ctx, storage.TableLobbyMembers, memberKey(lobbyID, userID))
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get lobby member: %w", err)
	}
	var m lobby.Member
	if err := json.Unmarshal(rec.Data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal lobby member: %w", err)
	}
	m.Status = lobby.MemberSynced
	data, err := memberDoc(m)
	if err != nil {
		return nil, err
	}
	return []storage.Op{storage.UpdateOp(storage.TableLobbyMembers, rec.ID, rec.Version, data)}, nil
}

// commitGameAndPlayer writes the mutated player record together with the
// game record in one commit. The game write also keeps the game channel
// version monotonic for player-only changes. On success g.Version is
// advanced to the post-commit value.
func (s *GameService) commitGameAndPlayer(ctx context.Context, op string, g *game.Game, idx int, playerVersions map[string]uint64, extra ...storage.Op) error {
	playerData, err := playerDoc(g.Players[idx])
	if err != nil {
		return err
	}
	gameData, err := gameDoc(g)
	if err != nil {
		return err
	}
	ops := []storage.Op{
		storage.UpdateOp(storage.TableGames, g.ID, g.Version, gameData),
		storage.UpdateOp(storage.TablePlayers, playerKey(g.ID, g.Players[idx].UserID),
			playerVersions[g.Players[idx].UserID], playerData),
	}
	ops = append(ops, extra...)
	if err := commitAtomic(ctx, s.store, op, ops); err != nil {
		return err
	}
	g.Version++
	return nil
}

// Replay re-derives the final public state of a game from its seed and
// action history. The result must match the stored state; a divergence
// means the engine is not deterministic.
func (s *GameService) Replay(ctx context.Context, gameID string) (json.RawMessage, error) {
	g, _, err := loadGame(ctx, s.store, gameID)
	if err != nil {
		return nil, err
	}
	eng, err := s.engines.Get(g.GameType)
	if err != nil {
		return nil, err
	}

	actionRecs, err := s.store.GetManyByField(ctx, storage.TableActions, "gameId", gameID)
	if err != nil {
		return nil, fmt.Errorf("get action history: %w", err)
	}
	history := make([]ActionRecord, 0, len(actionRecs))
	for _, rec := range actionRecs {
		var ar ActionRecord
		if err := json.Unmarshal(rec.Data, &ar); err != nil {
			return nil, fmt.Errorf("unmarshal action %s: %w", rec.ID, err)
		}
		history = append(history, ar)
	}
	sort.Slice(history, func(i, j int) bool { return history[i].Seq < history[j].Seq })

	playerIDs := make([]string, len(g.Players))
	for i, p := range g.Players {
		playerIDs[i] = p.UserID
	}
	result, err := eng.Initialize(g.Config, playerIDs, g.Seed)
	if err != nil {
		return nil, fmt.Errorf("replay initialize: %w", err)
	}

	replayed := &game.Game{
		Versioned:   game.Versioned{ID: g.ID},
		GameType:    g.GameType,
		Status:      game.StatusActive,
		Config:      g.Config,
		Seed:        g.Seed,
		PublicState: result.PublicState,
		Turn:        result.InitialTurn,
	}
	replayed.Players = make([]game.Player, len(playerIDs))
	for i, playerID := range playerIDs {
		var private json.RawMessage
		if i < len(result.PrivateStates) {
			private = result.PrivateStates[i]
		}
		replayed.Players[i] = game.Player{
			GameID:       g.ID,
			UserID:       playerID,
			Status:       game.PlayerActive,
			PrivateState: private,
		}
	}

	for _, ar := range history {
		replayed, err = eng.ApplyAction(replayed, ar.Action)
		if err != nil {
			return nil, fmt.Errorf("replay action %d: %w", ar.Seq, err)
		}
	}
	return replayed.PublicState, nil
}
