// Package traffic observes completed requests and middleware executions
// and maintains rolling per-route and per-middleware statistics.
package traffic

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/revittco/sare/internal/window"
)

// Defaults for Analyzer construction.
const (
	DefaultWindowSize         = 1000
	DefaultMiddlewareWindow   = 500
	DefaultGlobalWindow       = 10000
	DefaultHistorySize        = 360
	DefaultSnapshotInterval   = 5 * time.Second
	DefaultSlowThreshold      = 200 * time.Millisecond
	DefaultErrorRateThreshold = 0.05

	// MinErrorSamples is the request count a route needs before it can
	// be reported as error-prone.
	MinErrorSamples = 10
)

// RoutePoint is one route's entry in a history Snapshot.
type RoutePoint struct {
	RPS        float64       `json:"rps"`
	AvgLatency time.Duration `json:"avg_latency"`
	ErrorRate  float64       `json:"error_rate"`
	Heat       float64       `json:"heat"`
}

// Snapshot is a compact record appended to the history on each refresh.
type Snapshot struct {
	Timestamp time.Time             `json:"timestamp"`
	GlobalRPS float64               `json:"global_rps"`
	Routes    map[string]RoutePoint `json:"routes"`
}

// Summary is a high-level traffic overview.
type Summary struct {
	TotalRequests     int64        `json:"total_requests"`
	TotalErrors       int64        `json:"total_errors"`
	GlobalRPS         float64      `json:"global_rps"`
	TrackedRoutes     int          `json:"tracked_routes"`
	TrackedMiddleware int          `json:"tracked_middleware"`
	HotRoutes         []RouteStats `json:"hot_routes"`
	SlowRoutes        []RouteStats `json:"slow_routes"`
	ErrorRoutes       []RouteStats `json:"error_routes"`
}

// Analyzer tracks live per-route and per-middleware metrics. All methods
// are safe for concurrent use; recording is O(1) and derived statistics
// are recomputed at most once per snapshot interval.
type Analyzer struct {
	mu sync.Mutex

	windowSize       int
	middlewareWindow int
	snapshotInterval time.Duration
	now              func() time.Time

	routes     map[RouteKey]*routeMetrics
	middleware map[string]*middlewareMetrics
	global     *window.Ring[time.Time]
	history    *window.Ring[Snapshot]

	totalRequests int64
	totalErrors   int64

	lastSnapshot time.Time
	generation   uint64
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithWindowSize sets the per-route latency and timestamp window capacity.
func WithWindowSize(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.windowSize = n
		}
	}
}

// WithSnapshotInterval sets the minimum time between refreshes.
func WithSnapshotInterval(d time.Duration) Option {
	return func(a *Analyzer) { a.snapshotInterval = d }
}

// WithHistorySize sets how many snapshots are retained.
func WithHistorySize(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.history = window.New[Snapshot](n)
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAnalyzer creates an Analyzer with the given options.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{
		windowSize:       DefaultWindowSize,
		middlewareWindow: DefaultMiddlewareWindow,
		snapshotInterval: DefaultSnapshotInterval,
		now:              time.Now,
		routes:           make(map[RouteKey]*routeMetrics),
		middleware:       make(map[string]*middlewareMetrics),
		global:           window.New[time.Time](DefaultGlobalWindow),
		history:          window.New[Snapshot](DefaultHistorySize),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// RecordRequest records a completed request against its route pattern.
func (a *Analyzer) RecordRequest(method, pattern string, latency time.Duration, status, responseSize int) {
	key := RouteKey{Method: strings.ToUpper(method), Path: pattern}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now()
	rm, ok := a.routes[key]
	if !ok {
		rm = newRouteMetrics(key, a.windowSize)
		a.routes[key] = rm
	}
	rm.record(now, latency, status, responseSize)

	a.global.Push(now)
	a.totalRequests++
	if status >= 400 {
		a.totalErrors++
	}
}

// RecordMiddleware records one middleware execution.
func (a *Analyzer) RecordMiddleware(name string, latency time.Duration, shortCircuited bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	mm, ok := a.middleware[name]
	if !ok {
		mm = newMiddlewareMetrics(name, a.middlewareWindow)
		a.middleware[name] = mm
	}
	mm.record(latency, shortCircuited)
}

// MaybeRefresh recomputes derived statistics if the snapshot interval
// has elapsed. It reports whether a refresh happened.
func (a *Analyzer) MaybeRefresh() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maybeRefreshLocked()
}

// Refresh unconditionally recomputes derived statistics and appends a
// history snapshot.
func (a *Analyzer) Refresh() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refreshLocked()
}

func (a *Analyzer) maybeRefreshLocked() bool {
	if !a.lastSnapshot.IsZero() && a.now().Sub(a.lastSnapshot) < a.snapshotInterval {
		return false
	}
	a.refreshLocked()
	return true
}

func (a *Analyzer) refreshLocked() {
	now := a.now()
	for _, rm := range a.routes {
		rm.compute(now)
	}
	for _, mm := range a.middleware {
		mm.compute()
	}
	a.lastSnapshot = now
	a.generation++

	point := Snapshot{
		Timestamp: now,
		GlobalRPS: ratePerSecond(a.global, now),
		Routes:    make(map[string]RoutePoint, len(a.routes)),
	}
	for key, rm := range a.routes {
		point.Routes[key.String()] = RoutePoint{
			RPS:        rm.rps,
			AvgLatency: rm.avgLatency,
			ErrorRate:  rm.errorRate,
			Heat:       rm.heat,
		}
	}
	a.history.Push(point)
}

// Generation returns the number of refreshes performed so far. It lets
// consumers detect fresh statistics without comparing contents.
func (a *Analyzer) Generation() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.generation
}

// GlobalRPS returns the overall request rate over the trailing minute.
func (a *Analyzer) GlobalRPS() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ratePerSecond(a.global, a.now())
}

// Totals returns the global request and error counters.
func (a *Analyzer) Totals() (requests, errors int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalRequests, a.totalErrors
}

// Route returns the statistics for one route.
func (a *Analyzer) Route(method, pattern string) (RouteStats, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rm, ok := a.routes[RouteKey{Method: strings.ToUpper(method), Path: pattern}]
	if !ok {
		return RouteStats{}, false
	}
	return rm.stats(), true
}

// Routes returns statistics for every tracked route, ordered by route ID.
func (a *Analyzer) Routes() []RouteStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.routesLocked()
}

func (a *Analyzer) routesLocked() []RouteStats {
	out := make([]RouteStats, 0, len(a.routes))
	for _, rm := range a.routes {
		out = append(out, rm.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// HotRoutes returns up to n routes ordered by heat score, hottest first.
// Ties are broken by route ID so the ordering is deterministic.
func (a *Analyzer) HotRoutes(n int) []RouteStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maybeRefreshLocked()
	return a.hotRoutesLocked(n)
}

func (a *Analyzer) hotRoutesLocked(n int) []RouteStats {
	all := a.routesLocked()
	sort.SliceStable(all, func(i, j int) bool { return all[i].HeatScore > all[j].HeatScore })
	if n >= 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// SlowRoutes returns routes whose p95 latency exceeds threshold.
func (a *Analyzer) SlowRoutes(threshold time.Duration) []RouteStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maybeRefreshLocked()
	return a.slowRoutesLocked(threshold)
}

func (a *Analyzer) slowRoutesLocked(threshold time.Duration) []RouteStats {
	var out []RouteStats
	for _, s := range a.routesLocked() {
		if s.P95Latency > threshold {
			out = append(out, s)
		}
	}
	return out
}

// ErrorProneRoutes returns routes with at least MinErrorSamples requests
// whose error rate exceeds threshold.
func (a *Analyzer) ErrorProneRoutes(threshold float64) []RouteStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maybeRefreshLocked()
	return a.errorProneLocked(threshold)
}

func (a *Analyzer) errorProneLocked(threshold float64) []RouteStats {
	var out []RouteStats
	for _, s := range a.routesLocked() {
		if s.ErrorRate > threshold && s.TotalRequests >= MinErrorSamples {
			out = append(out, s)
		}
	}
	return out
}

// Middleware returns statistics for every tracked middleware, ordered
// by name.
func (a *Analyzer) Middleware() []MiddlewareStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maybeRefreshLocked()

	out := make([]MiddlewareStats, 0, len(a.middleware))
	for _, mm := range a.middleware {
		out = append(out, mm.stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// History returns the retained snapshots, oldest first.
func (a *Analyzer) History() []Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maybeRefreshLocked()
	return a.history.Values()
}

// Summary returns a traffic overview: totals, the five hottest routes,
// routes slower than DefaultSlowThreshold at p95 and error-prone routes.
func (a *Analyzer) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.maybeRefreshLocked()

	return Summary{
		TotalRequests:     a.totalRequests,
		TotalErrors:       a.totalErrors,
		GlobalRPS:         ratePerSecond(a.global, a.now()),
		TrackedRoutes:     len(a.routes),
		TrackedMiddleware: len(a.middleware),
		HotRoutes:         a.hotRoutesLocked(5),
		SlowRoutes:        a.slowRoutesLocked(DefaultSlowThreshold),
		ErrorRoutes:       a.errorProneLocked(DefaultErrorRateThreshold),
	}
}

// Reset discards all tracked metrics and history.
func (a *Analyzer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.routes = make(map[RouteKey]*routeMetrics)
	a.middleware = make(map[string]*middlewareMetrics)
	a.global.Reset()
	a.history.Reset()
	a.totalRequests = 0
	a.totalErrors = 0
	a.lastSnapshot = time.Time{}
}
