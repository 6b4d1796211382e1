package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/store"
)

// Archiver persists evolution entries. One record is written per action;
// records of the same entry share EntryID and are inserted in one
// transaction.
type Archiver struct {
	store  store.Store
	bus    *Bus
	logger *slog.Logger
}

// NewArchiver creates an Archiver. A nil logger falls back to slog.Default.
func NewArchiver(s store.Store, bus *Bus, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: s, bus: bus, logger: logger}
}

// Run subscribes to the bus and archives entries until ctx is done.
// Write failures are logged and do not stop the loop.
func (a *Archiver) Run(ctx context.Context) error {
	ch := a.bus.Subscribe()
	defer a.bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if err := a.Record(ctx, e); err != nil {
				a.logger.Error("archive evolution entry",
					"entry_id", e.ID, "cycle", e.Cycle, "error", err)
			}
		}
	}
}

// Record writes all actions of e.
func (a *Archiver) Record(ctx context.Context, e optimizer.Entry) error {
	if len(e.Actions) == 0 {
		return nil
	}
	return a.store.Tx(ctx, func(tx store.Store) error {
		for i, act := range e.Actions {
			rec, err := toRecord(e, act)
			if err != nil {
				return fmt.Errorf("action %d: %w", i, err)
			}
			if err := tx.InsertEvolutionRecord(ctx, rec); err != nil {
				return fmt.Errorf("insert evolution record: %w", err)
			}
		}
		return nil
	})
}

func toRecord(e optimizer.Entry, act optimizer.Action) (*store.EvolutionRecord, error) {
	rec := &store.EvolutionRecord{
		EntryID:    e.ID,
		Cycle:      e.Cycle,
		Timestamp:  e.Timestamp,
		ActionType: string(act.Type),
		Detail:     act.Detail,
	}
	if len(act.Routes) > 0 {
		b, err := json.Marshal(act.Routes)
		if err != nil {
			return nil, fmt.Errorf("marshal routes: %w", err)
		}
		rec.Routes = b
	}
	if len(act.Order) > 0 {
		b, err := json.Marshal(act.Order)
		if err != nil {
			return nil, fmt.Errorf("marshal order: %w", err)
		}
		rec.Order = b
	}
	return rec, nil
}
