package sqlite_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/revittco/sare/internal/store"
	"github.com/revittco/sare/internal/store/sqlite"
)

func newTestDB(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatalf("new test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPing(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/reopen.db"

	db, err := sqlite.New(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.InsertEvolutionRecord(ctx, &store.EvolutionRecord{EntryID: "e", ActionType: "route_promote"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db.Close()

	db, err = sqlite.New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	_, total, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{})
	if err != nil || total != 1 {
		t.Fatalf("query after reopen = %d, %v; want 1, nil", total, err)
	}
}

func TestEvolutionInsertGet(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	r := &store.EvolutionRecord{
		EntryID:    "entry-1",
		Cycle:      4,
		Timestamp:  ts,
		ActionType: "route_promote",
		Detail:     "Promoted 1 routes to hot cache: GET /a",
		Routes:     json.RawMessage(`["GET /a"]`),
	}
	if err := db.InsertEvolutionRecord(ctx, r); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if r.ID == "" {
		t.Fatal("expected ID to be set")
	}

	got, err := db.GetEvolutionRecord(ctx, r.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Cycle != 4 || got.ActionType != "route_promote" || !got.Timestamp.Equal(ts) {
		t.Fatalf("got %+v", got)
	}
	if string(got.Routes) != `["GET /a"]` || string(got.Order) != `[]` {
		t.Fatalf("routes, order = %s, %s", got.Routes, got.Order)
	}

	if err := db.InsertEvolutionRecord(ctx, r); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("duplicate insert err = %v; want ErrAlreadyExists", err)
	}
	if _, err := db.GetEvolutionRecord(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("get missing err = %v; want ErrNotFound", err)
	}
}

func seed(t *testing.T, db *sqlite.DB, base time.Time) {
	t.Helper()
	ctx := context.Background()
	records := []store.EvolutionRecord{
		{EntryID: "e1", Cycle: 1, Timestamp: base, ActionType: "route_promote"},
		{EntryID: "e1", Cycle: 1, Timestamp: base, ActionType: "middleware_initial_order"},
		{EntryID: "e2", Cycle: 2, Timestamp: base.Add(10 * time.Second), ActionType: "route_demote"},
		{EntryID: "e3", Cycle: 5, Timestamp: base.Add(50 * time.Second), ActionType: "route_promote"},
	}
	for i := range records {
		if err := db.InsertEvolutionRecord(ctx, &records[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
}

func TestEvolutionQuery(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seed(t, db, base)

	all, total, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 4 || len(all) != 4 {
		t.Fatalf("total, len = %d, %d; want 4, 4", total, len(all))
	}
	if all[0].Cycle != 5 {
		t.Fatalf("first record cycle = %d; want newest first", all[0].Cycle)
	}

	typ := "route_promote"
	promotes, total, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{ActionType: &typ})
	if err != nil || total != 2 || len(promotes) != 2 {
		t.Fatalf("type filter = %d, %v", total, err)
	}

	entry := "e1"
	e1, _, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{EntryID: &entry})
	if err != nil || len(e1) != 2 {
		t.Fatalf("entry filter = %d records, %v; want 2", len(e1), err)
	}

	after := base.Add(5 * time.Second)
	before := base.Add(20 * time.Second)
	window, total, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{After: &after, Before: &before})
	if err != nil || total != 1 || window[0].ActionType != "route_demote" {
		t.Fatalf("time filter = %+v, %v", window, err)
	}

	page, total, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{Limit: 2, Offset: 2})
	if err != nil || total != 4 || len(page) != 2 {
		t.Fatalf("page = %d of %d, %v; want 2 of 4", len(page), total, err)
	}
}

func TestEvolutionStats(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seed(t, db, base)

	s, err := db.GetEvolutionStats(context.Background(), base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalActions != 4 || s.Entries != 3 || s.FirstCycle != 1 || s.LastCycle != 5 {
		t.Fatalf("stats = %+v", s)
	}
	if s.ByType["route_promote"] != 2 || s.ByType["route_demote"] != 1 {
		t.Fatalf("ByType = %v", s.ByType)
	}
}

func TestEvolutionPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	seed(t, db, base)

	n, err := db.PruneEvolutionRecords(ctx, base.Add(time.Second))
	if err != nil || n != 2 {
		t.Fatalf("prune = %d, %v; want 2", n, err)
	}
	_, total, _ := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{})
	if total != 2 {
		t.Fatalf("remaining = %d; want 2", total)
	}
}

func TestTxRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	errBoom := errors.New("boom")

	err := db.Tx(ctx, func(s store.Store) error {
		if err := s.InsertEvolutionRecord(ctx, &store.EvolutionRecord{EntryID: "tx", ActionType: "route_promote"}); err != nil {
			return err
		}
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("Tx err = %v; want boom", err)
	}
	_, total, _ := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{})
	if total != 0 {
		t.Fatalf("records after rollback = %d; want 0", total)
	}

	err = db.Tx(ctx, func(s store.Store) error {
		return s.Tx(ctx, func(inner store.Store) error {
			return inner.InsertEvolutionRecord(ctx, &store.EvolutionRecord{EntryID: "tx", ActionType: "route_promote"})
		})
	})
	if err != nil {
		t.Fatalf("nested Tx: %v", err)
	}
	_, total, _ = db.QueryEvolutionRecords(ctx, store.EvolutionFilter{})
	if total != 1 {
		t.Fatalf("records after commit = %d; want 1", total)
	}
}
