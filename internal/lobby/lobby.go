// Package lobby defines the lobby aggregate and its state machine: waiting
// and ready lobbies accept members, a starting lobby is mid-transition, and
// transitioned or closed lobbies accept nothing.
package lobby

import (
	crand "crypto/rand"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/gametable/internal/errors"
	"github.com/louisbranch/gametable/internal/game"
	"github.com/louisbranch/gametable/internal/id"
)

// Status describes the lifecycle state of a lobby.
type Status string

const (
	// StatusWaiting indicates the lobby is accepting members.
	StatusWaiting Status = "waiting"
	// StatusReady indicates every member is ready to start.
	StatusReady Status = "ready"
	// StatusStarting indicates the host triggered the game transition.
	StatusStarting Status = "starting"
	// StatusTransitioned indicates the lobby became a game.
	StatusTransitioned Status = "transitioned"
	// StatusClosed indicates the host left before a game started.
	StatusClosed Status = "closed"
)

// MemberStatus describes the readiness of a lobby member.
type MemberStatus string

const (
	// MemberInLobby indicates the member joined but is not ready.
	MemberInLobby MemberStatus = "in_lobby"
	// MemberReady indicates the member is ready to start.
	MemberReady MemberStatus = "ready"
	// MemberSynced indicates the member finished syncing the initial game state.
	MemberSynced MemberStatus = "synced"
)

// codeAlphabet holds the characters used in shareable join codes. Ambiguous
// characters are kept; codes are matched case-insensitively on input.
const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// CodeLength is the length of a shareable join code.
const CodeLength = 6

// Lobby gathers players before a game starts. Public lobbies carry a
// shareable join code and appear on the open-lobbies feed.
type Lobby struct {
	game.Versioned

	Code           string          `json:"code,omitempty"`
	HostID         string          `json:"hostId"`
	Status         Status          `json:"status"`
	GameType       string          `json:"gameType"`
	GameConfig     json.RawMessage `json:"gameConfig,omitempty"`
	MinPlayers     int             `json:"minPlayers"`
	MaxPlayers     int             `json:"maxPlayers"`
	AutoReady      bool            `json:"autoReady,omitempty"`
	Members        []Member        `json:"members"`
	TransitionedAt *time.Time      `json:"transitionedAt,omitempty"`
}

// Member is one participant of a lobby, keyed by lobby and user id.
type Member struct {
	LobbyID     string       `json:"lobbyId"`
	UserID      string       `json:"userId"`
	Status      MemberStatus `json:"status"`
	DisplayName string       `json:"displayName,omitempty"`
	AvatarURL   string       `json:"avatarUrl,omitempty"`
}

// CreateInput describes the metadata needed to create a lobby.
type CreateInput struct {
	HostID     string
	GameType   string
	GameConfig json.RawMessage
	MinPlayers int
	MaxPlayers int
	Private    bool
	// AutoReady skips explicit ready toggling: the lobby counts as ready as
	// soon as enough players joined.
	AutoReady bool
}

// Create builds a new waiting lobby with a generated id. Public lobbies get
// a join code. The host is not yet a member; callers add it alongside the
// lobby insert so both land in one commit.
func Create(input CreateInput, idGenerator func() (string, error)) (Lobby, error) {
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	if input.MinPlayers < 1 {
		return Lobby{}, errors.New(errors.CodeInvalidLobbyBounds, "minPlayers must be at least 1")
	}
	if input.MaxPlayers < input.MinPlayers {
		return Lobby{}, errors.New(errors.CodeInvalidLobbyBounds, "maxPlayers must be at least minPlayers")
	}
	if input.HostID == "" {
		return Lobby{}, errors.New(errors.CodeNotHost, "host id is required")
	}
	if input.GameType == "" {
		return Lobby{}, errors.New(errors.CodeUnknownGameType, "game type is required")
	}

	lobbyID, err := idGenerator()
	if err != nil {
		return Lobby{}, fmt.Errorf("generate lobby id: %w", err)
	}

	code := ""
	if !input.Private {
		code, err = NewCode()
		if err != nil {
			return Lobby{}, fmt.Errorf("generate join code: %w", err)
		}
	}

	return Lobby{
		Versioned:  game.Versioned{ID: lobbyID},
		Code:       code,
		HostID:     input.HostID,
		Status:     StatusWaiting,
		GameType:   input.GameType,
		GameConfig: input.GameConfig,
		MinPlayers: input.MinPlayers,
		MaxPlayers: input.MaxPlayers,
		AutoReady:  input.AutoReady,
	}, nil
}

// NewCode generates a human-shareable join code.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := crand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(buf), nil
}

// Public reports whether the lobby is visible on the open-lobbies feed.
func (l *Lobby) Public() bool {
	return l.Code != ""
}

// MemberIndex returns the index of the member with the given user id, or -1.
func (l *Lobby) MemberIndex(userID string) int {
	for i, m := range l.Members {
		if m.UserID == userID {
			return i
		}
	}
	return -1
}

// HasMember reports whether the user is in the lobby.
func (l *Lobby) HasMember(userID string) bool {
	return l.MemberIndex(userID) >= 0
}

// CanJoin checks whether a user may join the lobby.
func (l *Lobby) CanJoin(userID string) error {
	if l.Status != StatusWaiting && l.Status != StatusReady {
		return errors.New(errors.CodeLobbyNotAccepting, "lobby is not accepting players")
	}
	if l.HasMember(userID) {
		return errors.New(errors.CodeAlreadyInLobby, "user is already in the lobby")
	}
	if len(l.Members) >= l.MaxPlayers {
		return errors.New(errors.CodeLobbyFull, "lobby is full")
	}
	return nil
}

// AllReady reports whether every member is ready. An empty lobby is never
// ready.
func (l *Lobby) AllReady() bool {
	if len(l.Members) == 0 {
		return false
	}
	for _, m := range l.Members {
		if m.Status != MemberReady {
			return false
		}
	}
	return true
}

// ReadyToStart reports whether the lobby has enough players and, unless
// AutoReady is set, every member flagged ready.
func (l *Lobby) ReadyToStart() bool {
	if len(l.Members) < l.MinPlayers {
		return false
	}
	if l.AutoReady {
		return true
	}
	return l.AllReady()
}

// MemberIDs returns the user ids of every member in join order.
func (l *Lobby) MemberIDs() []string {
	ids := make([]string, len(l.Members))
	for i, m := range l.Members {
		ids[i] = m.UserID
	}
	return ids
}
