package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"

	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
	"github.com/louisbranch/gametable/internal/lobby"
	"github.com/louisbranch/gametable/internal/storage"
)

// ActionRecord is the persisted shape of one applied action: the action
// itself plus the keys that tie it to its game and position in history.
type ActionRecord struct {
	game.Action

	GameID string `json:"gameId"`
	// Seq is the game version produced by applying this action. It orders
	// the history and makes the record id unique.
	Seq uint64 `json:"seq"`
}

func actionKey(gameID string, seq uint64) string {
	return fmt.Sprintf("%s:%d", gameID, seq)
}

func memberKey(lobbyID, userID string) string {
	return lobbyID + ":" + userID
}

func playerKey(gameID, userID string) string {
	return gameID + ":" + userID
}

// lobbyDoc marshals a lobby without its members; membership lives in its own
// table so member churn never rewrites the lobby document.
func lobbyDoc(l lobby.Lobby) (json.RawMessage, error) {
	l.Members = nil
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal lobby: %w", err)
	}
	return data, nil
}

func memberDoc(m lobby.Member) (json.RawMessage, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal lobby member: %w", err)
	}
	return data, nil
}

// gameDoc marshals a game without its players; private states live in their
// own table so they can be loaded and projected per recipient.
func gameDoc(g *game.Game) (json.RawMessage, error) {
	doc := g.Clone()
	doc.Players = nil
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal game: %w", err)
	}
	return data, nil
}

func playerDoc(p game.Player) (json.RawMessage, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal player: %w", err)
	}
	return data, nil
}

// loadLobby composes a lobby aggregate from its record and member records.
// The record envelope is authoritative for the version fields. The returned
// map carries the storage version of each member record, keyed by user id.
func loadLobby(ctx context.Context, store storage.Store, lobbyID string) (lobby.Lobby, map[string]uint64, error) {
	rec, err := store.Get(ctx, storage.TableLobbies, lobbyID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return lobby.Lobby{}, nil, errors.WithMetadata(errors.CodeNotFound, "lobby not found",
				map[string]string{"lobbyId": lobbyID})
		}
		return lobby.Lobby{}, nil, fmt.Errorf("get lobby: %w", err)
	}
	return composeLobby(ctx, store, rec)
}

func composeLobby(ctx context.Context, store storage.Store, rec storage.Record) (lobby.Lobby, map[string]uint64, error) {
	var l lobby.Lobby
	if err := json.Unmarshal(rec.Data, &l); err != nil {
		return lobby.Lobby{}, nil, fmt.Errorf("unmarshal lobby: %w", err)
	}
	l.ID = rec.ID
	l.Version = rec.Version
	l.CreatedAt = rec.CreatedAt
	l.UpdatedAt = rec.UpdatedAt

	memberRecs, err := store.GetManyByField(ctx, storage.TableLobbyMembers, "lobbyId", rec.ID)
	if err != nil {
		return lobby.Lobby{}, nil, fmt.Errorf("get lobby members: %w", err)
	}
	l.Members = make([]lobby.Member, 0, len(memberRecs))
	versions := make(map[string]uint64, len(memberRecs))
	for _, mr := range memberRecs {
		var m lobby.Member
		if err := json.Unmarshal(mr.Data, &m); err != nil {
			return lobby.Lobby{}, nil, fmt.Errorf("unmarshal lobby member %s: %w", mr.ID, err)
		}
		l.Members = append(l.Members, m)
		versions[m.UserID] = mr.Version
	}
	return l, versions, nil
}

// loadGame composes a game aggregate from its record and player records.
func loadGame(ctx context.Context, store storage.Store, gameID string) (*game.Game, map[string]uint64, error) {
	rec, err := store.Get(ctx, storage.TableGames, gameID)
	if err != nil {
		if stderrors.Is(err, storage.ErrNotFound) {
			return nil, nil, errors.WithMetadata(errors.CodeNotFound, "game not found",
				map[string]string{"gameId": gameID})
		}
		return nil, nil, fmt.Errorf("get game: %w", err)
	}

	var g game.Game
	if err := json.Unmarshal(rec.Data, &g); err != nil {
		return nil, nil, fmt.Errorf("unmarshal game: %w", err)
	}
	g.ID = rec.ID
	g.Version = rec.Version
	g.CreatedAt = rec.CreatedAt
	g.UpdatedAt = rec.UpdatedAt

	playerRecs, err := store.GetManyByField(ctx, storage.TablePlayers, "gameId", rec.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("get players: %w", err)
	}
	g.Players = make([]game.Player, 0, len(playerRecs))
	versions := make(map[string]uint64, len(playerRecs))
	for _, pr := range playerRecs {
		var p game.Player
		if err := json.Unmarshal(pr.Data, &p); err != nil {
			return nil, nil, fmt.Errorf("unmarshal player %s: %w", pr.ID, err)
		}
		g.Players = append(g.Players, p)
		versions[p.UserID] = pr.Version
	}
	return &g, versions, nil
}
