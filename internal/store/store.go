// Package store defines the persistence boundary for the evolution
// archive. The archive is an audit trail only; the engine never reads
// it back to restore state.
package store

import (
	"context"
	"time"
)

// Store is the composite interface for all data access.
type Store interface {
	EvolutionStore
	Tx(ctx context.Context, fn func(Store) error) error
	Ping(ctx context.Context) error
	Close() error
}

// EvolutionStore manages archived optimization decisions.
type EvolutionStore interface {
	InsertEvolutionRecord(ctx context.Context, r *EvolutionRecord) error
	GetEvolutionRecord(ctx context.Context, id string) (*EvolutionRecord, error)
	QueryEvolutionRecords(ctx context.Context, f EvolutionFilter) ([]EvolutionRecord, int, error)
	GetEvolutionStats(ctx context.Context, after, before time.Time) (*EvolutionStats, error)
	PruneEvolutionRecords(ctx context.Context, before time.Time) (int, error)
}
