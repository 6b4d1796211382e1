package audit

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/store"
	"github.com/revittco/sare/internal/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.DB {
	t.Helper()
	db, err := sqlite.New(context.Background(), t.TempDir()+"/audit.db")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBus_PublishSubscribe(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	if b.Subscribers() != 1 {
		t.Fatalf("Subscribers = %d; want 1", b.Subscribers())
	}

	b.Publish(optimizer.Entry{ID: "e1", Cycle: 1})
	select {
	case e := <-ch:
		if e.ID != "e1" {
			t.Fatalf("got entry %q; want e1", e.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for entry")
	}

	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after Unsubscribe")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("Subscribers = %d; want 0", b.Subscribers())
	}
}

func TestBus_SlowConsumerDoesNotBlock(t *testing.T) {
	b := NewBus()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := range 200 {
			b.Publish(optimizer.Entry{Cycle: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 64 {
		t.Fatalf("buffered = %d; want 64", len(ch))
	}
}

func TestArchiver_Record(t *testing.T) {
	db := newTestStore(t)
	a := NewArchiver(db, NewBus(), nil)
	ctx := context.Background()

	e := optimizer.Entry{
		ID:        "entry-1",
		Cycle:     3,
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Actions: []optimizer.Action{
			{Type: optimizer.ActionRoutePromote, Detail: "promoted", Routes: []string{"GET /a"}},
			{Type: optimizer.ActionMiddlewareInitialOrder, Detail: "order", Order: []string{"cors", "auth"}},
		},
	}
	if err := a.Record(ctx, e); err != nil {
		t.Fatalf("Record: %v", err)
	}

	entry := "entry-1"
	recs, total, err := db.QueryEvolutionRecords(ctx, store.EvolutionFilter{EntryID: &entry})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if total != 2 {
		t.Fatalf("total = %d; want 2", total)
	}
	for _, r := range recs {
		if r.Cycle != 3 {
			t.Errorf("cycle = %d; want 3", r.Cycle)
		}
		switch r.ActionType {
		case "route_promote":
			if string(r.Routes) != `["GET /a"]` {
				t.Errorf("routes = %s", r.Routes)
			}
		case "middleware_initial_order":
			if string(r.Order) != `["cors","auth"]` {
				t.Errorf("order = %s", r.Order)
			}
		default:
			t.Errorf("unexpected action type %q", r.ActionType)
		}
	}

	if err := a.Record(ctx, optimizer.Entry{ID: "empty"}); err != nil {
		t.Fatalf("Record empty: %v", err)
	}
}

type failingStore struct {
	store.Store
	inserts int
}

func (f *failingStore) Tx(ctx context.Context, fn func(store.Store) error) error {
	return fn(f)
}

func (f *failingStore) InsertEvolutionRecord(context.Context, *store.EvolutionRecord) error {
	f.inserts++
	return errors.New("disk full")
}

func TestArchiver_RecordError(t *testing.T) {
	fs := &failingStore{}
	a := NewArchiver(fs, NewBus(), nil)
	err := a.Record(context.Background(), optimizer.Entry{
		ID:      "x",
		Actions: []optimizer.Action{{Type: optimizer.ActionRouteDemote}, {Type: optimizer.ActionRouteDemote}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if fs.inserts != 1 {
		t.Fatalf("inserts = %d; want stop after first failure", fs.inserts)
	}
}

func TestArchiver_Run(t *testing.T) {
	db := newTestStore(t)
	bus := NewBus()
	a := NewArchiver(db, bus, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for bus.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("archiver never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	bus.Publish(optimizer.Entry{
		ID:      "live",
		Cycle:   1,
		Actions: []optimizer.Action{{Type: optimizer.ActionRouteDemote, Detail: "demoted"}},
	})

	for {
		_, total, err := db.QueryEvolutionRecords(context.Background(), store.EvolutionFilter{})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		if total == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entry was not archived")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStripHeaders(t *testing.T) {
	h := http.Header{
		"Authorization": {"Bearer abc"},
		"Set-Cookie":    {"sid=1"},
		"X-Api-Key":     {"k"},
		"X-Tenant":      {"acme"},
		"X-Request-Id":  {"r-1"},
		"Content-Type":  {"application/json"},
	}

	stripped := StripHeaders(h, []string{"tenant", "request-id"})
	if len(stripped) != 1 || stripped.Get("Content-Type") != "application/json" {
		t.Fatalf("stripped = %v; want Content-Type only", stripped)
	}
	if h.Get("Authorization") != "Bearer abc" {
		t.Fatal("input header was modified")
	}

	if kept := StripHeaders(h, nil); len(kept) != 3 {
		t.Fatalf("without hints = %v; want Content-Type, X-Tenant and X-Request-Id", kept)
	}
}
