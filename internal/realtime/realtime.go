// Package realtime defines the event broadcast boundary between the
// orchestration layer and connected clients.
//
// Events carry a per-channel monotonic version so consumers can reject
// stale deliveries and detect gaps (see the sync subpackage).
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
)

// EventType names a domain event on the wire.
type EventType string

// Lobby channel events.
const (
	EventLobbyUpdated        EventType = "lobby:updated"
	EventLobbyMemberJoined   EventType = "lobby:member_joined"
	EventLobbyMemberLeft     EventType = "lobby:member_left"
	EventLobbyMemberReady    EventType = "lobby:member_ready"
	EventLobbyMemberNotReady EventType = "lobby:member_not_ready"
	EventLobbyTransitioned   EventType = "lobby:transitioned"
	EventLobbyDeleted        EventType = "lobby:deleted"
)

// Open-lobbies feed events.
const (
	EventLobbiesAvailable EventType = "lobbies:available_public_lobby"
	EventLobbiesUpdated   EventType = "lobbies:updated_public_lobby"
	EventLobbiesRemoved   EventType = "lobbies:removed_public_lobby"
)

// Game channel events.
const (
	EventGameUpdated             EventType = "game:updated"
	EventGameActionApplied       EventType = "game:action_applied"
	EventGamePlayerDisconnected  EventType = "game:player_disconnected"
	EventGamePlayerReconnected   EventType = "game:player_reconnected"
	EventGameFinished            EventType = "game:finished"
)

// Profile channel events.
const (
	EventProfileNewStats  EventType = "profile:new_stats"
	EventProfileNewAvatar EventType = "profile:new_avatar"
)

// Event is the wire shape of a domain event.
type Event struct {
	Type    EventType       `json:"type"`
	Version uint64          `json:"version"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event, marshaling payload to JSON. A nil payload is
// omitted from the wire shape.
func NewEvent(eventType EventType, version uint64, payload any) (Event, error) {
	evt := Event{Type: eventType, Version: version}
	if payload == nil {
		return evt, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	evt.Payload = raw
	return evt, nil
}

// Handler consumes events delivered on a channel.
type Handler func(Event)

// Unsubscribe removes a subscription.
type Unsubscribe func()

// Broker fans events out to channel subscribers. Channels are per-lobby,
// per-game, per-game-player, per-profile, plus the global open-lobbies feed.
type Broker interface {
	Subscribe(ctx context.Context, channel string, handler Handler) (Unsubscribe, error)
	Broadcast(ctx context.Context, channel string, event Event) error
}

// LobbyChannel names the channel for one lobby.
func LobbyChannel(lobbyID string) string {
	return "lobby:" + lobbyID
}

// LobbiesChannel names the global open-lobbies feed.
func LobbiesChannel() string {
	return "lobbies"
}

// GameChannel names the shared channel for one game.
func GameChannel(gameID string) string {
	return "game:" + gameID
}

// GamePlayerChannel names the per-recipient channel carrying privacy
// projected game state.
func GamePlayerChannel(gameID, userID string) string {
	return "game:" + gameID + ":" + userID
}

// ProfileChannel names the channel for one user's profile.
func ProfileChannel(userID string) string {
	return "profile:" + userID
}
