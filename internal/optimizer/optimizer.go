// Package optimizer periodically turns traffic statistics into routing
// decisions: which routes are hot and in which order middleware should
// run. Every decision is appended to an evolution log.
package optimizer

import (
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/revittco/sare/internal/traffic"
)

// Defaults for Config.
const (
	DefaultInterval         = 10 * time.Second
	DefaultHotRouteSlots    = 20
	DefaultReorderThreshold = 0.15
	DefaultMaxLogEntries    = 1000

	// MinHotHeat is the heat score a route must exceed to be hot.
	MinHotHeat = 0.1
)

// Middleware scoring weights.
const (
	shortCircuitWeight = 3.0
	latencyPenalty     = 10.0
)

// Source is the traffic view the optimizer reads.
type Source interface {
	HotRoutes(n int) []traffic.RouteStats
	Middleware() []traffic.MiddlewareStats
	SlowRoutes(threshold time.Duration) []traffic.RouteStats
	ErrorProneRoutes(threshold float64) []traffic.RouteStats
}

// Config tunes the optimizer.
type Config struct {
	Interval          time.Duration
	HotRouteSlots     int
	ReorderThreshold  float64
	RouteCaching      bool
	MiddlewareReorder bool
	MaxLogEntries     int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          DefaultInterval,
		HotRouteSlots:     DefaultHotRouteSlots,
		ReorderThreshold:  DefaultReorderThreshold,
		RouteCaching:      true,
		MiddlewareReorder: true,
		MaxLogEntries:     DefaultMaxLogEntries,
	}
}

// Stats are optimizer counters.
type Stats struct {
	Cycles                   int64     `json:"optimization_cycles"`
	FailedCycles             int64     `json:"failed_cycles"`
	HotRoutesCached          int       `json:"hot_routes_cached"`
	MiddlewareReorders       int64     `json:"middleware_reorders"`
	TotalActions             int64     `json:"total_actions"`
	RouteCachingEnabled      bool      `json:"route_caching_enabled"`
	MiddlewareReorderEnabled bool      `json:"middleware_reorder_enabled"`
	LastRun                  time.Time `json:"last_run"`
}

// Optimizer is the adaptive decision engine. Cycles are serialized;
// the hot set and middleware order can be read concurrently with a
// running cycle.
type Optimizer struct {
	src       Source
	cfg       Config
	now       func() time.Time
	logger    *slog.Logger
	publisher Publisher

	cycleMu sync.Mutex

	mu           sync.RWMutex
	hot          map[traffic.RouteKey]float64
	hotOrder     []traffic.RouteKey
	order        []string
	orderChanged bool
	orderVersion uint64
	log          []Entry
	lastRun      time.Time
	cycles       int64
	failed       int64
	reorders     int64
	actions      int64
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithPublisher registers a sink for evolution entries.
func WithPublisher(p Publisher) Option {
	return func(o *Optimizer) { o.publisher = p }
}

// New creates an Optimizer reading from src. Zero Config fields take
// their defaults; callers validate thresholds before construction.
func New(src Source, cfg Config, opts ...Option) *Optimizer {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.HotRouteSlots <= 0 {
		cfg.HotRouteSlots = def.HotRouteSlots
	}
	if cfg.MaxLogEntries <= 0 {
		cfg.MaxLogEntries = def.MaxLogEntries
	}
	o := &Optimizer{
		src:    src,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default(),
		hot:    make(map[traffic.RouteKey]float64),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// MaybeOptimize runs a cycle if the interval has elapsed since the last
// one. It never waits: if another cycle is in progress it returns
// false immediately.
func (o *Optimizer) MaybeOptimize() bool {
	if !o.cycleMu.TryLock() {
		return false
	}
	defer o.cycleMu.Unlock()

	o.mu.RLock()
	last := o.lastRun
	o.mu.RUnlock()
	if !last.IsZero() && o.now().Sub(last) < o.cfg.Interval {
		return false
	}
	o.runCycleLocked()
	return true
}

// RunCycle runs one optimization cycle unconditionally.
func (o *Optimizer) RunCycle() {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	o.runCycleLocked()
}

// plan is the outcome of a cycle, computed before any state changes.
type plan struct {
	hot          map[traffic.RouteKey]float64
	hotOrder     []traffic.RouteKey
	order        []string
	orderChanged bool
	reordered    bool
	actions      []Action
}

func (o *Optimizer) runCycleLocked() {
	now := o.now()

	o.mu.Lock()
	o.lastRun = now
	o.cycles++
	cycle := o.cycles
	prevHot := o.hot
	prevOrder := o.order
	o.mu.Unlock()

	p, err := o.plan(prevHot, prevOrder)
	if err != nil {
		o.mu.Lock()
		o.failed++
		o.mu.Unlock()
		o.logger.Error("optimization cycle failed", "cycle", cycle, "error", err)
		return
	}

	o.mu.Lock()
	if p.hot != nil {
		o.hot = p.hot
		o.hotOrder = p.hotOrder
	}
	if p.orderChanged {
		o.order = p.order
		o.orderChanged = true
		o.orderVersion++
	}
	if p.reordered {
		o.reorders++
	}
	var entry Entry
	if len(p.actions) > 0 {
		entry = o.appendLocked(cycle, now, p.actions)
	}
	o.mu.Unlock()

	for _, a := range p.actions {
		o.logger.Info("optimization applied", "cycle", cycle, "type", a.Type, "detail", a.Detail)
	}
	if len(p.actions) > 0 && o.publisher != nil {
		o.publisher.Publish(entry)
	}
}

// plan computes the cycle's decisions. A panic anywhere in the
// computation is converted to an error and nothing is committed.
func (o *Optimizer) plan(prevHot map[traffic.RouteKey]float64, prevOrder []string) (p plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered: %v", r)
		}
	}()

	if o.cfg.RouteCaching {
		hot, hotOrder, actions := o.planHotRoutes(prevHot)
		p.hot, p.hotOrder = hot, hotOrder
		p.actions = append(p.actions, actions...)
	}
	if o.cfg.MiddlewareReorder {
		order, action, ok := o.planMiddlewareOrder(prevOrder)
		if ok {
			p.order = order
			p.orderChanged = true
			p.reordered = action.Type == ActionMiddlewareReorder
			p.actions = append(p.actions, action)
		}
	}
	return p, nil
}

func (o *Optimizer) planHotRoutes(prev map[traffic.RouteKey]float64) (map[traffic.RouteKey]float64, []traffic.RouteKey, []Action) {
	next := make(map[traffic.RouteKey]float64)
	var order []traffic.RouteKey
	for _, rs := range o.src.HotRoutes(o.cfg.HotRouteSlots) {
		if rs.HeatScore > MinHotHeat {
			next[rs.Key()] = rs.HeatScore
			order = append(order, rs.Key())
		}
	}

	var promoted, demoted []string
	for k := range next {
		if _, ok := prev[k]; !ok {
			promoted = append(promoted, k.String())
		}
	}
	for k := range prev {
		if _, ok := next[k]; !ok {
			demoted = append(demoted, k.String())
		}
	}
	sort.Strings(promoted)
	sort.Strings(demoted)

	var actions []Action
	if len(promoted) > 0 {
		actions = append(actions, Action{
			Type:   ActionRoutePromote,
			Detail: fmt.Sprintf("Promoted %d routes to hot cache: %s", len(promoted), strings.Join(promoted, ", ")),
			Routes: promoted,
		})
	}
	if len(demoted) > 0 {
		actions = append(actions, Action{
			Type:   ActionRouteDemote,
			Detail: fmt.Sprintf("Demoted %d routes from hot cache: %s", len(demoted), strings.Join(demoted, ", ")),
			Routes: demoted,
		})
	}
	return next, order, actions
}

// MiddlewareScore ranks middleware: a high short-circuit rate and low
// latency move it earlier.
func MiddlewareScore(m traffic.MiddlewareStats) float64 {
	return shortCircuitWeight*m.ShortCircuitRate + max(0, 1.0-m.AvgLatency.Seconds()*latencyPenalty)
}

// RankMiddleware orders middleware by descending score. Equal scores
// keep name order.
func RankMiddleware(stats []traffic.MiddlewareStats) []string {
	sorted := slices.Clone(stats)
	sort.SliceStable(sorted, func(i, j int) bool {
		si, sj := MiddlewareScore(sorted[i]), MiddlewareScore(sorted[j])
		if si != sj {
			return si > sj
		}
		return sorted[i].Name < sorted[j].Name
	})
	names := make([]string, len(sorted))
	for i, m := range sorted {
		names[i] = m.Name
	}
	return names
}

// NormalizedShift is the largest index movement of any name between the
// two orders divided by the length of next. A name missing from either
// order counts as a maximal shift, so membership changes always
// produce a value of at least 1.
func NormalizedShift(prev, next []string) float64 {
	if len(next) == 0 {
		return 0
	}
	idx := make(map[string]int, len(prev))
	for i, name := range prev {
		idx[name] = i
	}
	if len(prev) != len(next) {
		return 1
	}
	maxShift := 0
	for i, name := range next {
		j, ok := idx[name]
		if !ok {
			return 1
		}
		if d := abs(i - j); d > maxShift {
			maxShift = d
		}
	}
	return float64(maxShift) / float64(len(next))
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

func (o *Optimizer) planMiddlewareOrder(prev []string) ([]string, Action, bool) {
	stats := o.src.Middleware()
	if len(stats) < 2 {
		return nil, Action{}, false
	}
	next := RankMiddleware(stats)

	if prev == nil {
		return next, Action{
			Type:   ActionMiddlewareInitialOrder,
			Detail: "Initial middleware order: " + joinOrder(next),
			Order:  next,
		}, true
	}
	if slices.Equal(prev, next) {
		return nil, Action{}, false
	}

	shift := NormalizedShift(prev, next)
	if shift < o.cfg.ReorderThreshold {
		return nil, Action{}, false
	}
	return next, Action{
		Type:   ActionMiddlewareReorder,
		Detail: fmt.Sprintf("Reordered middleware: %s => %s (shift=%.2f)", joinOrder(prev), joinOrder(next), shift),
		Order:  next,
	}, true
}

func (o *Optimizer) appendLocked(cycle int64, ts time.Time, actions []Action) Entry {
	e := newEntry(cycle, ts, actions)
	o.log = append(o.log, e)
	if over := len(o.log) - o.cfg.MaxLogEntries; over > 0 {
		o.log = slices.Delete(o.log, 0, over)
	}
	o.actions += int64(len(actions))
	return e
}

// Record appends externally decided actions, such as auto-memoization,
// to the evolution log under the current cycle number.
func (o *Optimizer) Record(actions ...Action) {
	if len(actions) == 0 {
		return
	}
	o.mu.Lock()
	e := o.appendLocked(o.cycles, o.now(), actions)
	o.mu.Unlock()

	if o.publisher != nil {
		o.publisher.Publish(e)
	}
}

// IsHotRoute reports whether method and pattern are in the hot set.
func (o *Optimizer) IsHotRoute(method, pattern string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.hot[traffic.RouteKey{Method: strings.ToUpper(method), Path: pattern}]
	return ok
}

// HotRouteKeys returns the hot set, hottest first.
func (o *Optimizer) HotRouteKeys() []traffic.RouteKey {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.hotOrder)
}

// OptimalMiddlewareOrder returns the adopted middleware order, or nil
// before one has been established.
func (o *Optimizer) OptimalMiddlewareOrder() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.order)
}

// DidMiddlewareOrderChange reports whether a new order was adopted
// since the previous call, and clears the flag.
func (o *Optimizer) DidMiddlewareOrderChange() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	changed := o.orderChanged
	o.orderChanged = false
	return changed
}

// OrderVersion increases every time a middleware order is adopted or
// discarded by Reset. Consumers compare it with the last version they
// applied; unlike DidMiddlewareOrderChange, reading it clears nothing.
func (o *Optimizer) OrderVersion() uint64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.orderVersion
}

// EvolutionLog returns a copy of the retained log, oldest first.
func (o *Optimizer) EvolutionLog() []Entry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return slices.Clone(o.log)
}

// Stats returns optimizer counters.
func (o *Optimizer) Stats() Stats {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return Stats{
		Cycles:                   o.cycles,
		FailedCycles:             o.failed,
		HotRoutesCached:          len(o.hot),
		MiddlewareReorders:       o.reorders,
		TotalActions:             o.actions,
		RouteCachingEnabled:      o.cfg.RouteCaching,
		MiddlewareReorderEnabled: o.cfg.MiddlewareReorder,
		LastRun:                  o.lastRun,
	}
}

// Reset clears decisions, the log and counters.
func (o *Optimizer) Reset() {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()

	o.hot = make(map[traffic.RouteKey]float64)
	o.hotOrder = nil
	o.order = nil
	o.orderChanged = false
	o.orderVersion++
	o.log = nil
	o.lastRun = time.Time{}
	o.cycles, o.failed, o.reorders, o.actions = 0, 0, 0, 0
}
