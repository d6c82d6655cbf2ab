// Package errors provides structured error handling for game table services.
package errors

import "google.golang.org/grpc/codes"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Validation errors
	CodeGameNotActive        Code = "GAME_NOT_ACTIVE"
	CodeNotYourTurn          Code = "NOT_YOUR_TURN"
	CodeActionNotAllowed     Code = "ACTION_NOT_ALLOWED"
	CodeWrongPhase           Code = "WRONG_PHASE"
	CodeIllegalMove          Code = "ILLEGAL_MOVE"
	CodeInvalidPlayerCount   Code = "INVALID_PLAYER_COUNT"
	CodeInvalidLobbyBounds   Code = "INVALID_LOBBY_BOUNDS"
	CodeUnknownGameType      Code = "UNKNOWN_GAME_TYPE"
	CodeInvalidActionPayload Code = "INVALID_ACTION_PAYLOAD"

	// Lobby state errors
	CodeLobbyNotAccepting     Code = "LOBBY_NOT_ACCEPTING"
	CodeLobbyFull             Code = "LOBBY_FULL"
	CodeAlreadyInLobby        Code = "ALREADY_IN_LOBBY"
	CodeLobbyNotReady         Code = "LOBBY_NOT_READY"
	CodeLobbyNotStarting      Code = "LOBBY_NOT_STARTING"
	CodeNotEnoughPlayers      Code = "NOT_ENOUGH_PLAYERS"
	CodeMemberNotFound        Code = "MEMBER_NOT_FOUND"
	CodePlayerNotFound        Code = "PLAYER_NOT_FOUND"
	CodePlayerAlreadyActive   Code = "PLAYER_ALREADY_ACTIVE"
	CodeGameAlreadyFinished   Code = "GAME_ALREADY_FINISHED"
	CodeGameAlreadyInProgress Code = "GAME_ALREADY_IN_PROGRESS"

	// Concurrency errors
	CodeVersionConflict Code = "VERSION_CONFLICT"

	// Storage errors
	CodeNotFound     Code = "NOT_FOUND"
	CodeCommitFailed Code = "COMMIT_FAILED"

	// Authorization errors
	CodeNotHost   Code = "NOT_HOST"
	CodeNotMember Code = "NOT_MEMBER"
	CodeNotPlayer Code = "NOT_PLAYER"
)

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeNotYourTurn,
		CodeActionNotAllowed,
		CodeWrongPhase,
		CodeIllegalMove,
		CodeInvalidPlayerCount,
		CodeInvalidLobbyBounds,
		CodeUnknownGameType,
		CodeInvalidActionPayload:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeGameNotActive,
		CodeLobbyNotAccepting,
		CodeLobbyFull,
		CodeAlreadyInLobby,
		CodeLobbyNotReady,
		CodeLobbyNotStarting,
		CodeNotEnoughPlayers,
		CodePlayerAlreadyActive,
		CodeGameAlreadyFinished,
		CodeGameAlreadyInProgress:
		return codes.FailedPrecondition

	// Aborted - optimistic concurrency conflicts; callers refetch and retry
	case CodeVersionConflict:
		return codes.Aborted

	// NotFound - resource doesn't exist
	case CodeNotFound,
		CodeMemberNotFound,
		CodePlayerNotFound:
		return codes.NotFound

	// PermissionDenied - caller lacks rights on the resource
	case CodeNotHost,
		CodeNotMember,
		CodeNotPlayer:
		return codes.PermissionDenied

	default:
		return codes.Internal
	}
}
