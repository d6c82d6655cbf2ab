// Package sqlite provides a transactional Store implementation backed by
// SQLite. Atomic commit sets run inside a single database transaction, so
// all-or-nothing semantics come from the engine rather than emulation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/louisbranch/gametable/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/gametable/internal/storage"
	"github.com/louisbranch/gametable/internal/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists versioned records in a SQLite database.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

// Open opens and migrates a SQLite record store.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// SetNow overrides the clock used for record timestamps. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, table storage.Table, id string) (storage.Record, error) {
	if s == nil || s.sqlDB == nil {
		return storage.Record{}, fmt.Errorf("storage is not configured")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, version, created_at, updated_at, data FROM records WHERE tbl = ? AND id = ?`,
		string(table), id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Record{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Record{}, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// GetMany loads multiple records by id, skipping missing ones.
func (s *Store) GetMany(ctx context.Context, table storage.Table, ids []string) ([]storage.Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(table))
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, version, created_at, updated_at, data FROM records
		 WHERE tbl = ? AND id IN (`+placeholders+`)
		 ORDER BY rowid`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("get many %s: %w", table, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// GetManyByField loads records whose document field equals value, in
// insertion order.
func (s *Store) GetManyByField(ctx context.Context, table storage.Table, field, value string) ([]storage.Record, error) {
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, version, created_at, updated_at, data FROM records
		 WHERE tbl = ? AND json_extract(data, '$.' || ?) = ?
		 ORDER BY rowid`,
		string(table), field, value,
	)
	if err != nil {
		return nil, fmt.Errorf("get many %s by %s: %w", table, field, err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Insert creates a record at version 1.
func (s *Store) Insert(ctx context.Context, table storage.Table, id string, data json.RawMessage) (storage.Record, error) {
	if err := s.Atomic(ctx, []storage.Op{storage.InsertOp(table, id, data)}); err != nil {
		return storage.Record{}, err
	}
	return s.Get(ctx, table, id)
}

// Update replaces a record guarded by expectedVersion.
func (s *Store) Update(ctx context.Context, table storage.Table, id string, expectedVersion uint64, data json.RawMessage) (storage.Record, error) {
	if err := s.Atomic(ctx, []storage.Op{storage.UpdateOp(table, id, expectedVersion, data)}); err != nil {
		return storage.Record{}, err
	}
	return s.Get(ctx, table, id)
}

// Delete removes a record.
func (s *Store) Delete(ctx context.Context, table storage.Table, id string) error {
	return s.Atomic(ctx, []storage.Op{storage.DeleteOp(table, id)})
}

// Atomic applies every operation inside one transaction.
func (s *Store) Atomic(ctx context.Context, ops []storage.Op) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := s.now().UTC()
	for i, op := range ops {
		if err := s.applyOp(ctx, tx, op, now); err != nil {
			return fmt.Errorf("op %d: %s %s/%s: %w", i, op.Kind, op.Table, op.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) applyOp(ctx context.Context, tx *sql.Tx, op storage.Op, now time.Time) error {
	switch op.Kind {
	case storage.OpInsert:
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO records (tbl, id, version, created_at, updated_at, data)
			 VALUES (?, ?, 1, ?, ?, ?)`,
			string(op.Table), op.ID, now.UnixMilli(), now.UnixMilli(), string(op.Data),
		)
		if err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil

	case storage.OpUpdate:
		result, err := tx.ExecContext(
			ctx,
			`UPDATE records SET data = ?, version = version + 1, updated_at = ?
			 WHERE tbl = ? AND id = ? AND version = ?`,
			string(op.Data), now.UnixMilli(), string(op.Table), op.ID, op.ExpectedVersion,
		)
		if err != nil {
			return fmt.Errorf("update: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			var version uint64
			row := tx.QueryRowContext(ctx, `SELECT version FROM records WHERE tbl = ? AND id = ?`, string(op.Table), op.ID)
			if err := row.Scan(&version); errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			} else if err != nil {
				return fmt.Errorf("check version: %w", err)
			}
			return fmt.Errorf("have version %d, expected %d: %w", version, op.ExpectedVersion, storage.ErrVersionConflict)
		}
		return nil

	case storage.OpDelete:
		result, err := tx.ExecContext(
			ctx,
			`DELETE FROM records WHERE tbl = ? AND id = ?`,
			string(op.Table), op.ID,
		)
		if err != nil {
			return fmt.Errorf("delete: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return storage.ErrNotFound
		}
		return nil

	case storage.OpDelta:
		if len(op.Deltas) == 0 {
			return nil
		}
		fields := make([]string, 0, len(op.Deltas))
		for field := range op.Deltas {
			if !validDeltaField(field) {
				return fmt.Errorf("invalid delta field %q", field)
			}
			fields = append(fields, field)
		}
		sort.Strings(fields)

		// Seed the record at version 0 when absent so the increment below
		// always lands at version >= 1.
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO records (tbl, id, version, created_at, updated_at, data)
			 VALUES (?, ?, 0, ?, ?, '{}')
			 ON CONFLICT (tbl, id) DO NOTHING`,
			string(op.Table), op.ID, now.UnixMilli(), now.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("seed delta record: %w", err)
		}

		expr := "data"
		args := make([]any, 0, len(fields)+3)
		for _, field := range fields {
			expr = fmt.Sprintf(
				"json_set(%s, '$.%s', COALESCE(json_extract(%s, '$.%s'), 0) + ?)",
				expr, field, "data", field,
			)
			args = append(args, op.Deltas[field])
		}
		args = append(args, now.UnixMilli(), string(op.Table), op.ID)

		_, err = tx.ExecContext(
			ctx,
			`UPDATE records SET data = `+expr+`, version = version + 1, updated_at = ?
			 WHERE tbl = ? AND id = ?`,
			args...,
		)
		if err != nil {
			return fmt.Errorf("apply deltas: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

func validDeltaField(field string) bool {
	if field == "" {
		return false
	}
	for _, r := range field {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_':
		default:
			return false
		}
	}
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (storage.Record, error) {
	var rec storage.Record
	var createdAt, updatedAt int64
	var data string
	if err := row.Scan(&rec.ID, &rec.Version, &createdAt, &updatedAt, &data); err != nil {
		return storage.Record{}, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	rec.Data = json.RawMessage(data)
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]storage.Record, error) {
	var out []storage.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}
