package store

import (
	"encoding/json"
	"time"
)

// EvolutionRecord is one archived optimizer action. An evolution entry
// with several actions is stored as several records sharing EntryID.
type EvolutionRecord struct {
	ID         string          `json:"id"`
	EntryID    string          `json:"entry_id"`
	Cycle      int64           `json:"cycle"`
	Timestamp  time.Time       `json:"timestamp"`
	ActionType string          `json:"action_type"`
	Detail     string          `json:"detail"`
	Routes     json.RawMessage `json:"routes,omitempty"`
	Order      json.RawMessage `json:"order,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// EvolutionFilter specifies query parameters for listing records.
type EvolutionFilter struct {
	EntryID    *string    `json:"entry_id,omitempty"`
	ActionType *string    `json:"action_type,omitempty"`
	After      *time.Time `json:"after,omitempty"`
	Before     *time.Time `json:"before,omitempty"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// EvolutionStats aggregates archived actions over a time range.
type EvolutionStats struct {
	TotalActions int            `json:"total_actions"`
	Entries      int            `json:"entries"`
	FirstCycle   int64          `json:"first_cycle"`
	LastCycle    int64          `json:"last_cycle"`
	ByType       map[string]int `json:"by_type"`
}
