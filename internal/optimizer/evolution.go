package optimizer

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ActionType names an optimization decision.
type ActionType string

const (
	ActionRoutePromote           ActionType = "route_promote"
	ActionRouteDemote            ActionType = "route_demote"
	ActionMiddlewareInitialOrder ActionType = "middleware_initial_order"
	ActionMiddlewareReorder      ActionType = "middleware_reorder"
	ActionAutoMemoize            ActionType = "auto_memoize"
)

// Action is a single decision taken during a cycle.
type Action struct {
	Type   ActionType `json:"type"`
	Detail string     `json:"detail"`
	Routes []string   `json:"routes,omitempty"`
	Order  []string   `json:"order,omitempty"`
}

// Entry is one evolution log record. Entries are never mutated after
// they are appended.
type Entry struct {
	ID        string    `json:"id"`
	Cycle     int64     `json:"cycle"`
	Timestamp time.Time `json:"timestamp"`
	Actions   []Action  `json:"actions"`
}

func newEntry(cycle int64, ts time.Time, actions []Action) Entry {
	return Entry{
		ID:        uuid.NewString(),
		Cycle:     cycle,
		Timestamp: ts,
		Actions:   actions,
	}
}

// Publisher receives evolution entries as they are appended. Publish
// must not block.
type Publisher interface {
	Publish(Entry)
}

func joinOrder(names []string) string {
	return strings.Join(names, " -> ")
}
