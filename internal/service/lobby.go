// Package service orchestrates lobbies and games on top of the versioned
// store, the engine registry, and the realtime broker. Services load
// aggregates, run domain logic, commit every resulting mutation in one
// atomic set, and broadcast events stamped with the post-commit version.
package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
	"github.com/louisbranch/gametable/internal/id"
	"github.com/louisbranch/gametable/internal/lobby"
	"github.com/louisbranch/gametable/internal/random"
	"github.com/louisbranch/gametable/internal/realtime"
	"github.com/louisbranch/gametable/internal/storage"

	gameengine "github.com/louisbranch/gametable/internal/engine"
)

var tracer = otel.Tracer("github.com/louisbranch/gametable/internal/service")

// LobbyService manages the lobby lifecycle up to and including the
// transition into a game.
type LobbyService struct {
	store   storage.Store
	broker  realtime.Broker
	engines *gameengine.Registry

	now   func() time.Time
	newID func() (string, error)
}

// NewLobbyService creates a lobby service.
func NewLobbyService(store storage.Store, broker realtime.Broker, engines *gameengine.Registry) *LobbyService {
	return &LobbyService{
		store:   store,
		broker:  broker,
		engines: engines,
		now:     time.Now,
		newID:   id.NewID,
	}
}

// Create validates the input against the engine's player bounds, inserts the
// lobby and its host member in one commit, and announces public lobbies on
// the open-lobbies feed.
func (s *LobbyService) Create(ctx context.Context, input lobby.CreateInput) (lobby.Lobby, error) {
	ctx, span := tracer.Start(ctx, "lobby.create",
		trace.WithAttributes(attribute.String("game.type", input.GameType)))
	defer span.End()

	eng, err := s.engines.Get(input.GameType)
	if err != nil {
		return lobby.Lobby{}, err
	}
	if input.MinPlayers < eng.MinPlayers() || input.MaxPlayers > eng.MaxPlayers() {
		return lobby.Lobby{}, errors.WithMetadata(errors.CodeInvalidLobbyBounds,
			"player bounds outside what the game supports",
			map[string]string{"gameType": input.GameType})
	}

	l, err := lobby.Create(input, s.newID)
	if err != nil {
		return lobby.Lobby{}, err
	}
	host := lobby.Member{LobbyID: l.ID, UserID: l.HostID, Status: lobby.MemberInLobby}

	lobbyData, err := lobbyDoc(l)
	if err != nil {
		return lobby.Lobby{}, err
	}
	hostData, err := memberDoc(host)
	if err != nil {
		return lobby.Lobby{}, err
	}

	ops := []storage.Op{
		storage.InsertOp(storage.TableLobbies, l.ID, lobbyData),
		storage.InsertOp(storage.TableLobbyMembers, memberKey(l.ID, host.UserID), hostData),
	}
	if err := s.store.Atomic(ctx, ops); err != nil {
		return lobby.Lobby{}, errors.Wrap(errors.CodeCommitFailed, "create lobby", err)
	}

	l.Version = 1
	l.Members = []lobby.Member{host}

	if l.Public() {
		publish(ctx, s.broker, realtime.LobbiesChannel(), realtime.EventLobbiesAvailable, l.Version, l)
	}
	return l, nil
}

// Get returns a lobby. Private lobbies are visible to members only.
func (s *LobbyService) Get(ctx context.Context, lobbyID, userID string) (lobby.Lobby, error) {
	l, _, err := loadLobby(ctx, s.store, lobbyID)
	if err != nil {
		return lobby.Lobby{}, err
	}
	if !l.Public() && !l.HasMember(userID) {
		return lobby.Lobby{}, errors.New(errors.CodeNotMember, "lobby is private")
	}
	return l, nil
}

// ListOpen returns every public lobby still accepting players, for the
// open-lobbies feed.
func (s *LobbyService) ListOpen(ctx context.Context) ([]lobby.Lobby, error) {
	var open []lobby.Lobby
	for _, status := range []lobby.Status{lobby.StatusWaiting, lobby.StatusReady} {
		recs, err := s.store.GetManyByField(ctx, storage.TableLobbies, "status", string(status))
		if err != nil {
			return nil, fmt.Errorf("list lobbies: %w", err)
		}
		for _, rec := range recs {
			l, _, err := composeLobby(ctx, s.store, rec)
			if err != nil {
				return nil, err
			}
			if l.Public() {
				open = append(open, l)
			}
		}
	}
	return open, nil
}

// JoinByID adds a member to a lobby.
func (s *LobbyService) JoinByID(ctx context.Context, lobbyID string, member lobby.Member) (lobby.Lobby, error) {
	l, _, err := loadLobby(ctx, s.store, lobbyID)
	if err != nil {
		return lobby.Lobby{}, err
	}
	return s.join(ctx, l, member)
}

// JoinByCode adds a member to the public lobby with the given join code.
// Codes are matched case-insensitively.
func (s *LobbyService) JoinByCode(ctx context.Context, code string, member lobby.Member) (lobby.Lobby, error) {
	recs, err := s.store.GetManyByField(ctx, storage.TableLobbies, "code", strings.ToUpper(code))
	if err != nil {
		return lobby.Lobby{}, fmt.Errorf("find lobby by code: %w", err)
	}
	if len(recs) == 0 {
		return lobby.Lobby{}, errors.WithMetadata(errors.CodeNotFound, "no lobby with that code",
			map[string]string{"code": code})
	}
	l, _, err := composeLobby(ctx, s.store, recs[0])
	if err != nil {
		return lobby.Lobby{}, err
	}
	return s.join(ctx, l, member)
}

func (s *LobbyService) join(ctx context.Context, l lobby.Lobby, member lobby.Member) (lobby.Lobby, error) {
	if err := l.CanJoin(member.UserID); err != nil {
		return lobby.Lobby{}, err
	}

	member.LobbyID = l.ID
	member.Status = lobby.MemberInLobby
	l.Members = append(l.Members, member)
	prevStatus := l.Status
	l.Status = s.evalStatus(l)

	memberData, err := memberDoc(member)
	if err != nil {
		return lobby.Lobby{}, err
	}
	lobbyData, err := lobbyDoc(l)
	if err != nil {
		return lobby.Lobby{}, err
	}

	ops := []storage.Op{
		storage.InsertOp(storage.TableLobbyMembers, memberKey(l.ID, member.UserID), memberData),
		storage.UpdateOp(storage.TableLobbies, l.ID, l.Version, lobbyData),
	}
	if err := commitAtomic(ctx, s.store, "join lobby", ops); err != nil {
		return lobby.Lobby{}, err
	}
	l.Version++

	publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyMemberJoined, l.Version, member)
	if l.Status != prevStatus {
		publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyUpdated, l.Version, l)
	}
	if l.Public() {
		publish(ctx, s.broker, realtime.LobbiesChannel(), realtime.EventLobbiesUpdated, l.Version, l)
	}
	return l, nil
}

// SetReady marks a member ready and flips the lobby to ready when the last
// member does so.
func (s *LobbyService) SetReady(ctx context.Context, lobbyID, userID string) (lobby.Lobby, error) {
	return s.setMemberStatus(ctx, lobbyID, userID, lobby.MemberReady, realtime.EventLobbyMemberReady)
}

// SetNotReady clears a member's readiness, flipping a ready lobby back to
// waiting.
func (s *LobbyService) SetNotReady(ctx context.Context, lobbyID, userID string) (lobby.Lobby, error) {
	return s.setMemberStatus(ctx, lobbyID, userID, lobby.MemberInLobby, realtime.EventLobbyMemberNotReady)
}

func (s *LobbyService) setMemberStatus(ctx context.Context, lobbyID, userID string, status lobby.MemberStatus, eventType realtime.EventType) (lobby.Lobby, error) {
	l, memberVersions, err := loadLobby(ctx, s.store, lobbyID)
	if err != nil {
		return lobby.Lobby{}, err
	}
	if l.Status != lobby.StatusWaiting && l.Status != lobby.StatusReady {
		return lobby.Lobby{}, errors.New(errors.CodeLobbyNotAccepting, "lobby is not accepting changes")
	}
	idx := l.MemberIndex(userID)
	if idx < 0 {
		return lobby.Lobby{}, errors.New(errors.CodeMemberNotFound, "user is not in the lobby")
	}

	l.Members[idx].Status = status
	prevStatus := l.Status
	l.Status = s.evalStatus(l)

	memberData, err := memberDoc(l.Members[idx])
	if err != nil {
		return lobby.Lobby{}, err
	}
	lobbyData, err := lobbyDoc(l)
	if err != nil {
		return lobby.Lobby{}, err
	}

	ops := []storage.Op{
		storage.UpdateOp(storage.TableLobbyMembers, memberKey(l.ID, userID), memberVersions[userID], memberData),
		storage.UpdateOp(storage.TableLobbies, l.ID, l.Version, lobbyData),
	}
	if err := commitAtomic(ctx, s.store, "update member", ops); err != nil {
		return lobby.Lobby{}, err
	}
	l.Version++

	publish(ctx, s.broker, realtime.LobbyChannel(l.ID), eventType, l.Version, l.Members[idx])
	if l.Status != prevStatus {
		publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyUpdated, l.Version, l)
	}
	return l, nil
}

// Leave removes a member. The host leaving deletes the lobby and every
// member in one commit.
func (s *LobbyService) Leave(ctx context.Context, lobbyID, userID string) error {
	l, _, err := loadLobby(ctx, s.store, lobbyID)
	if err != nil {
		return err
	}
	if l.Status == lobby.StatusStarting || l.Status == lobby.StatusTransitioned {
		return errors.New(errors.CodeLobbyNotAccepting, "lobby is no longer accepting changes")
	}
	if !l.HasMember(userID) {
		return errors.New(errors.CodeMemberNotFound, "user is not in the lobby")
	}

	if userID == l.HostID {
		ops := []storage.Op{storage.DeleteOp(storage.TableLobbies, l.ID)}
		for _, m := range l.Members {
			ops = append(ops, storage.DeleteOp(storage.TableLobbyMembers, memberKey(l.ID, m.UserID)))
		}
		if err := commitAtomic(ctx, s.store, "delete lobby", ops); err != nil {
			return err
		}
		publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyDeleted, l.Version+1, nil)
		if l.Public() {
			publish(ctx, s.broker, realtime.LobbiesChannel(), realtime.EventLobbiesRemoved, l.Version+1,
				map[string]string{"lobbyId": l.ID})
		}
		return nil
	}

	idx := l.MemberIndex(userID)
	member := l.Members[idx]
	l.Members = append(l.Members[:idx], l.Members[idx+1:]...)
	l.Status = s.evalStatus(l)

	lobbyData, err := lobbyDoc(l)
	if err != nil {
		return err
	}
	ops := []storage.Op{
		storage.DeleteOp(storage.TableLobbyMembers, memberKey(l.ID, userID)),
		storage.UpdateOp(storage.TableLobbies, l.ID, l.Version, lobbyData),
	}
	if err := commitAtomic(ctx, s.store, "leave lobby", ops); err != nil {
		return err
	}
	l.Version++

	publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyMemberLeft, l.Version, member)
	if l.Public() {
		publish(ctx, s.broker, realtime.LobbiesChannel(), realtime.EventLobbiesUpdated, l.Version, l)
	}
	return nil
}

// Start performs the lobby to game transition. Only the host of a ready
// lobby may start. The game, its players, and the lobby's transitioned
// status land in one atomic commit; any failure before the commit reverts
// the lobby to ready.
func (s *LobbyService) Start(ctx context.Context, lobbyID, userID string) (*game.Game, error) {
	ctx, span := tracer.Start(ctx, "lobby.start",
		trace.WithAttributes(attribute.String("lobby.id", lobbyID)))
	defer span.End()

	l, _, err := loadLobby(ctx, s.store, lobbyID)
	if err != nil {
		return nil, err
	}
	if userID != l.HostID {
		return nil, errors.New(errors.CodeNotHost, "only the host can start the game")
	}
	if l.Status != lobby.StatusReady {
		return nil, errors.New(errors.CodeLobbyNotReady, "lobby is not ready")
	}
	if len(l.Members) < l.MinPlayers {
		return nil, errors.New(errors.CodeNotEnoughPlayers, "not enough players")
	}
	eng, err := s.engines.Get(l.GameType)
	if err != nil {
		return nil, err
	}

	// Claim the transition so concurrent starts and joins lose the race.
	l.Status = lobby.StatusStarting
	lobbyData, err := lobbyDoc(l)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Update(ctx, storage.TableLobbies, l.ID, l.Version, lobbyData); err != nil {
		if stderrors.Is(err, storage.ErrVersionConflict) {
			return nil, errors.Wrap(errors.CodeVersionConflict, "lobby changed, retry", err)
		}
		return nil, fmt.Errorf("claim lobby start: %w", err)
	}
	l.Version++
	// The claim is a lobby mutation like any other: announce it so channel
	// consumers see every version and never need a recovery fetch here.
	publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyUpdated, l.Version, l)

	g, err := s.buildGame(l, eng)
	if err != nil {
		s.revertToReady(ctx, l)
		return nil, err
	}

	now := s.now()
	l.Status = lobby.StatusTransitioned
	l.TransitionedAt = &now

	gameData, err := gameDoc(g)
	if err != nil {
		s.revertToReady(ctx, l)
		return nil, err
	}
	lobbyData, err = lobbyDoc(l)
	if err != nil {
		s.revertToReady(ctx, l)
		return nil, err
	}

	ops := []storage.Op{
		storage.InsertOp(storage.TableGames, g.ID, gameData),
		storage.UpdateOp(storage.TableLobbies, l.ID, l.Version, lobbyData),
	}
	for _, p := range g.Players {
		playerData, err := playerDoc(p)
		if err != nil {
			s.revertToReady(ctx, l)
			return nil, err
		}
		ops = append(ops, storage.InsertOp(storage.TablePlayers, playerKey(g.ID, p.UserID), playerData))
	}
	if err := s.store.Atomic(ctx, ops); err != nil {
		s.revertToReady(ctx, l)
		return nil, errors.Wrap(errors.CodeCommitFailed, "commit game transition", err)
	}
	l.Version++
	g.Version = 1

	publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyTransitioned, l.Version,
		map[string]string{"gameId": g.ID})
	if l.Public() {
		publish(ctx, s.broker, realtime.LobbiesChannel(), realtime.EventLobbiesRemoved, l.Version,
			map[string]string{"lobbyId": l.ID})
	}
	for _, p := range g.Players {
		projected := gameengine.ProjectGame(eng, g, p.UserID)
		publish(ctx, s.broker, realtime.GamePlayerChannel(g.ID, p.UserID), realtime.EventGameUpdated,
			g.Version, projected)
	}
	return g, nil
}

// buildGame runs engine initialization and assembles the new game
// aggregate. The game is created waiting; it activates once every player
// reports the initial state synced.
func (s *LobbyService) buildGame(l lobby.Lobby, eng gameengine.Engine) (*game.Game, error) {
	seed, err := random.NewSeed()
	if err != nil {
		return nil, fmt.Errorf("generate seed: %w", err)
	}
	playerIDs := l.MemberIDs()

	result, err := eng.Initialize(l.GameConfig, playerIDs, seed)
	if err != nil {
		return nil, err
	}

	gameID, err := s.newID()
	if err != nil {
		return nil, fmt.Errorf("generate game id: %w", err)
	}

	g := &game.Game{
		Versioned:   game.Versioned{ID: gameID},
		GameType:    l.GameType,
		LobbyID:     l.ID,
		Status:      game.StatusWaiting,
		Config:      l.GameConfig,
		Seed:        seed,
		PublicState: result.PublicState,
		Turn:        result.InitialTurn,
	}
	g.Players = make([]game.Player, len(playerIDs))
	for i, playerID := range playerIDs {
		var private json.RawMessage
		if i < len(result.PrivateStates) {
			private = result.PrivateStates[i]
		}
		g.Players[i] = game.Player{
			GameID:       gameID,
			UserID:       playerID,
			Status:       game.PlayerSyncing,
			PrivateState: private,
		}
	}
	return g, nil
}

// revertToReady is the compensating update when the transition fails after
// the lobby was claimed. Best effort: the claim already bumped the version,
// so a conflicting writer won anyway.
func (s *LobbyService) revertToReady(ctx context.Context, l lobby.Lobby) {
	l.Status = lobby.StatusReady
	l.TransitionedAt = nil
	lobbyData, err := lobbyDoc(l)
	if err != nil {
		log.Printf("revert lobby %s: %v", l.ID, err)
		return
	}
	if _, err := s.store.Update(ctx, storage.TableLobbies, l.ID, l.Version, lobbyData); err != nil {
		log.Printf("revert lobby %s: %v", l.ID, err)
		return
	}
	publish(ctx, s.broker, realtime.LobbyChannel(l.ID), realtime.EventLobbyUpdated, l.Version+1, l)
}

// evalStatus recomputes waiting/ready from membership. Other statuses pass
// through untouched.
func (s *LobbyService) evalStatus(l lobby.Lobby) lobby.Status {
	if l.Status != lobby.StatusWaiting && l.Status != lobby.StatusReady {
		return l.Status
	}
	if l.ReadyToStart() {
		return lobby.StatusReady
	}
	return lobby.StatusWaiting
}

// commitAtomic submits an atomic op set, translating storage failures into
// the domain error taxonomy.
func commitAtomic(ctx context.Context, store storage.Store, op string, ops []storage.Op) error {
	if err := store.Atomic(ctx, ops); err != nil {
		if stderrors.Is(err, storage.ErrVersionConflict) {
			return errors.Wrap(errors.CodeVersionConflict, op+": state changed, retry", err)
		}
		return errors.Wrap(errors.CodeCommitFailed, op, err)
	}
	return nil
}

// publish broadcasts an event, logging failures. Events only ever follow a
// successful commit, so a delivery failure must not fail the request.
func publish(ctx context.Context, broker realtime.Broker, channel string, eventType realtime.EventType, version uint64, payload any) {
	evt, err := realtime.NewEvent(eventType, version, payload)
	if err != nil {
		log.Printf("build %s event: %v", eventType, err)
		return
	}
	if err := broker.Broadcast(ctx, channel, evt); err != nil {
		log.Printf("broadcast %s on %s: %v", eventType, channel, err)
	}
}
