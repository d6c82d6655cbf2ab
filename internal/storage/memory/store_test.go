package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/louisbranch/gametable/internal/storage"
)

func TestInsertStampsEnvelope(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec, err := s.Insert(ctx, storage.TableGames, "g1", json.RawMessage(`{"status":"waiting"}`))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if rec.Version != 1 {
		t.Fatalf("version = %d, want 1", rec.Version)
	}
	if rec.CreatedAt.IsZero() || rec.UpdatedAt.IsZero() {
		t.Fatal("expected timestamps to be stamped")
	}
}

func TestUpdateIncrementsVersionByOne(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec, err := s.Insert(ctx, storage.TableGames, "g1", json.RawMessage(`{"n":0}`))
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	for i := 1; i <= 5; i++ {
		rec, err = s.Update(ctx, storage.TableGames, "g1", rec.Version, json.RawMessage(fmt.Sprintf(`{"n":%d}`, i)))
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		if rec.Version != uint64(i+1) {
			t.Fatalf("version after update %d = %d, want %d", i, rec.Version, i+1)
		}
	}
}

func TestUpdateStaleVersionConflicts(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec, _ := s.Insert(ctx, storage.TableGames, "g1", json.RawMessage(`{}`))
	if _, err := s.Update(ctx, storage.TableGames, "g1", rec.Version, json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatalf("first update: %v", err)
	}
	_, err := s.Update(ctx, storage.TableGames, "g1", rec.Version, json.RawMessage(`{"a":2}`))
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}
}

func TestRacingUpdatesExactlyOneWins(t *testing.T) {
	s := NewStore()
	ctx := context.Background()
	rec, _ := s.Insert(ctx, storage.TableGames, "g1", json.RawMessage(`{}`))

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Update(ctx, storage.TableGames, "g1", rec.Version, json.RawMessage(fmt.Sprintf(`{"writer":%d}`, i)))
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
		} else if !errors.Is(err, storage.ErrVersionConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if winners != 1 {
		t.Fatalf("winners = %d, want exactly 1", winners)
	}
}

func TestAtomicAllOrNothing(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	rec, _ := s.Insert(ctx, storage.TableLobbies, "l1", json.RawMessage(`{"status":"waiting"}`))

	// Second op carries a stale version, so the whole set must fail.
	err := s.Atomic(ctx, []storage.Op{
		storage.InsertOp(storage.TableGames, "l1", json.RawMessage(`{"status":"waiting"}`)),
		storage.UpdateOp(storage.TableLobbies, "l1", rec.Version+5, json.RawMessage(`{"status":"transitioned"}`)),
	})
	if !errors.Is(err, storage.ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	if _, err := s.Get(ctx, storage.TableGames, "l1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatal("failed commit must not leave a partial game record")
	}
	got, _ := s.Get(ctx, storage.TableLobbies, "l1")
	if got.Version != rec.Version {
		t.Fatal("failed commit must not mutate the lobby record")
	}
}

func TestAtomicInsertThenUpdateSameRecord(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	err := s.Atomic(ctx, []storage.Op{
		storage.InsertOp(storage.TableGames, "g1", json.RawMessage(`{"status":"waiting"}`)),
		storage.UpdateOp(storage.TableGames, "g1", 1, json.RawMessage(`{"status":"active"}`)),
	})
	if err != nil {
		t.Fatalf("Atomic: %v", err)
	}
	rec, _ := s.Get(ctx, storage.TableGames, "g1")
	if rec.Version != 2 {
		t.Fatalf("version = %d, want 2", rec.Version)
	}
}

func TestDeltaAccumulates(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	const finishes = 20
	var wg sync.WaitGroup
	for i := 0; i < finishes; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomic(ctx, []storage.Op{
				storage.DeltaOp(storage.TableProfiles, "alice", map[string]int64{"totalGames": 1, "wins": 1}),
			})
			if err != nil {
				t.Errorf("delta: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, storage.TableProfiles, "alice")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	var doc map[string]float64
	if err := json.Unmarshal(rec.Data, &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["totalGames"] != finishes || doc["wins"] != finishes {
		t.Fatalf("doc = %v, want both counters at %d", doc, finishes)
	}
}

func TestGetManyByFieldInsertionOrder(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("a%d", i)
		data := json.RawMessage(fmt.Sprintf(`{"gameId":"g1","n":%d}`, i))
		if _, err := s.Insert(ctx, storage.TableActions, id, data); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if _, err := s.Insert(ctx, storage.TableActions, "other", json.RawMessage(`{"gameId":"g2"}`)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	recs, err := s.GetManyByField(ctx, storage.TableActions, "gameId", "g1")
	if err != nil {
		t.Fatalf("GetManyByField: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("len = %d, want 5", len(recs))
	}
	for i, rec := range recs {
		want := fmt.Sprintf("a%d", i)
		if rec.ID != want {
			t.Fatalf("record %d id = %q, want %q", i, rec.ID, want)
		}
	}
}

func TestDeleteThenGetNotFound(t *testing.T) {
	s := NewStore()
	ctx := context.Background()

	if _, err := s.Insert(ctx, storage.TableLobbies, "l1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := s.Delete(ctx, storage.TableLobbies, "l1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, storage.TableLobbies, "l1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
