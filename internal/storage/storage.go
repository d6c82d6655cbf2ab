// Package storage defines the versioned record store used by the
// orchestration layer.
//
// Records are opaque JSON documents in named tables, wrapped in a version
// envelope. Concurrency control is optimistic: updates carry the version the
// caller last read and the store rejects the write when the current version
// differs. A set of operations submitted through Atomic either applies
// entirely or not at all; no partial writes are ever observable.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict indicates an update raced another writer. Callers must
// refetch the canonical record and retry from scratch; the store never
// merges.
var ErrVersionConflict = errors.New("record version conflict")

// Table names a record collection.
type Table string

const (
	// TableGames holds game records (players stored separately).
	TableGames Table = "games"
	// TablePlayers holds per-participant game records.
	TablePlayers Table = "players"
	// TableLobbies holds lobby records (members stored separately).
	TableLobbies Table = "lobbies"
	// TableLobbyMembers holds lobby membership records.
	TableLobbyMembers Table = "lobby_members"
	// TableActions holds the append-only action history.
	TableActions Table = "actions"
	// TableProfiles holds per-user lifetime stats.
	TableProfiles Table = "profiles"
)

// Record is a versioned JSON document. Version starts at 1 on insert and
// increments by exactly one on every successful mutation.
type Record struct {
	ID        string
	Version   uint64
	CreatedAt time.Time
	UpdatedAt time.Time
	Data      json.RawMessage
}

// OpKind discriminates atomic operations.
type OpKind string

const (
	// OpInsert creates a record at version 1.
	OpInsert OpKind = "insert"
	// OpUpdate replaces a record, guarded by the expected version.
	OpUpdate OpKind = "update"
	// OpDelete removes a record.
	OpDelete OpKind = "delete"
	// OpDelta increments numeric document fields without reading them,
	// creating the record when absent.
	OpDelta OpKind = "delta"
)

// Op is one operation of an atomic commit set.
type Op struct {
	Kind            OpKind
	Table           Table
	ID              string
	Data            json.RawMessage
	ExpectedVersion uint64
	Deltas          map[string]int64
}

// InsertOp builds an insert operation.
func InsertOp(table Table, id string, data json.RawMessage) Op {
	return Op{Kind: OpInsert, Table: table, ID: id, Data: data}
}

// UpdateOp builds an update operation guarded by expectedVersion.
func UpdateOp(table Table, id string, expectedVersion uint64, data json.RawMessage) Op {
	return Op{Kind: OpUpdate, Table: table, ID: id, ExpectedVersion: expectedVersion, Data: data}
}

// DeleteOp builds a delete operation.
func DeleteOp(table Table, id string) Op {
	return Op{Kind: OpDelete, Table: table, ID: id}
}

// DeltaOp builds a numeric increment operation.
func DeltaOp(table Table, id string, deltas map[string]int64) Op {
	return Op{Kind: OpDelta, Table: table, ID: id, Deltas: deltas}
}

// Store persists versioned records.
type Store interface {
	// Get loads one record.
	Get(ctx context.Context, table Table, id string) (Record, error)
	// GetMany loads multiple records by id, skipping missing ones.
	GetMany(ctx context.Context, table Table, ids []string) ([]Record, error)
	// GetManyByField loads every record whose document has the given
	// top-level field equal to value, in insertion order.
	GetManyByField(ctx context.Context, table Table, field, value string) ([]Record, error)
	// Insert creates a record at version 1 and returns it stamped.
	Insert(ctx context.Context, table Table, id string, data json.RawMessage) (Record, error)
	// Update replaces a record's document if the current version equals
	// expectedVersion, returning ErrVersionConflict otherwise.
	Update(ctx context.Context, table Table, id string, expectedVersion uint64, data json.RawMessage) (Record, error)
	// Delete removes a record.
	Delete(ctx context.Context, table Table, id string) error
	// Atomic applies every operation or none of them.
	Atomic(ctx context.Context, ops []Op) error
}
