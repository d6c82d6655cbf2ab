// Package memory provides an in-memory Store implementation.
//
// It is intended for tests and local development. Commits hold a single
// mutex, validate every operation up front, and only then apply them, which
// emulates the all-or-nothing semantics a transactional backend provides.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/louisbranch/gametable/internal/storage"
)

type record struct {
	storage.Record
	seq uint64
}

// Store is a mutex-guarded, map-backed record store.
type Store struct {
	mu     sync.Mutex
	tables map[storage.Table]map[string]record
	seq    uint64
	now    func() time.Time
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		tables: make(map[storage.Table]map[string]record),
		now:    time.Now,
	}
}

// SetNow overrides the clock used for record timestamps. Test hook.
func (s *Store) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Get loads one record.
func (s *Store) Get(ctx context.Context, table storage.Table, id string) (storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return storage.Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.tables[table][id]
	if !ok {
		return storage.Record{}, storage.ErrNotFound
	}
	return cloneRecord(rec.Record), nil
}

// GetMany loads multiple records by id, skipping missing ones.
func (s *Store) GetMany(ctx context.Context, table storage.Table, ids []string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.tables[table][id]; ok {
			out = append(out, cloneRecord(rec.Record))
		}
	}
	return out, nil
}

// GetManyByField loads records whose document field equals value, in
// insertion order.
func (s *Store) GetManyByField(ctx context.Context, table storage.Table, field, value string) ([]storage.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []record
	for _, rec := range s.tables[table] {
		var doc map[string]any
		if err := json.Unmarshal(rec.Data, &doc); err != nil {
			continue
		}
		if fmt.Sprintf("%v", doc[field]) == value {
			matched = append(matched, rec)
		}
	}
	sortBySeq(matched)

	out := make([]storage.Record, len(matched))
	for i, rec := range matched {
		out[i] = cloneRecord(rec.Record)
	}
	return out, nil
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

// Atomic applies every operation or none. All version and presence checks
// run before the first write, so a failing operation leaves the store
// untouched.
func (s *Store) Atomic(ctx context.Context, ops []storage.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validation pass. Tracks per-key effects so a commit that inserts and
	// then updates the same record validates against its own writes.
	type key struct {
		table storage.Table
		id    string
	}
	versions := make(map[key]uint64)
	deleted := make(map[key]bool)
	currentVersion := func(k key) (uint64, bool) {
		if deleted[k] {
			return 0, false
		}
		if v, ok := versions[k]; ok {
			return v, true
		}
		rec, ok := s.tables[k.table][k.id]
		if !ok {
			return 0, false
		}
		return rec.Version, true
	}

	for i, op := range ops {
		k := key{op.Table, op.ID}
		switch op.Kind {
		case storage.OpInsert:
			if _, exists := currentVersion(k); exists {
				return fmt.Errorf("op %d: insert %s/%s: record already exists", i, op.Table, op.ID)
			}
			versions[k] = 1
			deleted[k] = false
		case storage.OpUpdate:
			version, exists := currentVersion(k)
			if !exists {
				return fmt.Errorf("op %d: update %s/%s: %w", i, op.Table, op.ID, storage.ErrNotFound)
			}
			if version != op.ExpectedVersion {
				return fmt.Errorf("op %d: update %s/%s: have version %d, expected %d: %w",
					i, op.Table, op.ID, version, op.ExpectedVersion, storage.ErrVersionConflict)
			}
			versions[k] = version + 1
		case storage.OpDelete:
			if _, exists := currentVersion(k); !exists {
				return fmt.Errorf("op %d: delete %s/%s: %w", i, op.Table, op.ID, storage.ErrNotFound)
			}
			deleted[k] = true
		case storage.OpDelta:
			// Deltas create the record when absent; nothing to validate.
		default:
			return fmt.Errorf("op %d: unknown operation kind %q", i, op.Kind)
		}
	}

	// Apply pass. No failure modes remain except delta document decoding,
	// which is checked before any delta write lands.
	now := s.now().UTC()
	for i, op := range ops {
		if op.Kind != storage.OpDelta {
			continue
		}
		if rec, ok := s.tables[op.Table][op.ID]; ok {
			if _, err := applyDeltas(rec.Data, op.Deltas); err != nil {
				return fmt.Errorf("op %d: delta %s/%s: %w", i, op.Table, op.ID, err)
			}
		}
	}

	for _, op := range ops {
		table := s.tables[op.Table]
		if table == nil {
			table = make(map[string]record)
			s.tables[op.Table] = table
		}
		switch op.Kind {
		case storage.OpInsert:
			s.seq++
			table[op.ID] = record{
				Record: storage.Record{
					ID:        op.ID,
					Version:   1,
					CreatedAt: now,
					UpdatedAt: now,
					Data:      append(json.RawMessage(nil), op.Data...),
				},
				seq: s.seq,
			}
		case storage.OpUpdate:
			rec := table[op.ID]
			rec.Version++
			rec.UpdatedAt = now
			rec.Data = append(json.RawMessage(nil), op.Data...)
			table[op.ID] = rec
		case storage.OpDelete:
			delete(table, op.ID)
		case storage.OpDelta:
			rec, ok := table[op.ID]
			if !ok {
				s.seq++
				rec = record{
					Record: storage.Record{
						ID:        op.ID,
						CreatedAt: now,
						Data:      json.RawMessage(`{}`),
					},
					seq: s.seq,
				}
			}
			data, _ := applyDeltas(rec.Data, op.Deltas)
			rec.Data = data
			rec.Version++
			rec.UpdatedAt = now
			table[op.ID] = rec
		}
	}

	return nil
}

func applyDeltas(data json.RawMessage, deltas map[string]int64) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	for field, delta := range deltas {
		current, _ := doc[field].(float64)
		doc[field] = current + float64(delta)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return out, nil
}

func cloneRecord(rec storage.Record) storage.Record {
	rec.Data = append(json.RawMessage(nil), rec.Data...)
	return rec
}

func sortBySeq(records []record) {
	for i := 1; i < len(records); i++ {
		for j := i; j > 0 && records[j].seq < records[j-1].seq; j-- {
			records[j], records[j-1] = records[j-1], records[j]
		}
	}
}
