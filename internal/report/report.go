// Package report composes a read-only intelligence report from the
// analyzer, predictor, code path and adaptive optimizer state.
package report

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/revittco/sare/internal/codepath"
	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/predictor"
	"github.com/revittco/sare/internal/traffic"
)

const (
	Title  = "SARE Intelligence Report"
	Engine = "Self-Evolving Adaptive Routing Engine"

	hotRouteCount    = 10
	recentPatchCount = 10
	recentEntryCount = 20

	// StrategyConfidenceFloor is the minimum confidence at which a strategy
	// recommendation is surfaced.
	StrategyConfidenceFloor = 0.5
)

// Status values for the performance delta section.
const (
	DeltaOK               = "ok"
	DeltaInsufficientData = "insufficient data"
)

// Sources are the components the reporter reads. Predictor may be nil
// when prediction is disabled.
type Sources struct {
	Analyzer  *traffic.Analyzer
	Optimizer *optimizer.Optimizer
	Predictor *predictor.Predictor
	CodePath  *codepath.Optimizer
}

// Report is the full intelligence document.
type Report struct {
	Header          Header                 `json:"header"`
	Traffic         TrafficOverview        `json:"traffic_overview"`
	Routes          RouteIntelligence      `json:"route_intelligence"`
	Middleware      MiddlewareIntelligence `json:"middleware_intelligence"`
	Predictions     *predictor.Report      `json:"predictions,omitempty"`
	Optimizations   Optimizations          `json:"optimizations_applied"`
	CodePath        codepath.Stats         `json:"code_path_optimization"`
	Evolution       EvolutionHistory       `json:"evolution_history"`
	Recommendations []Recommendation       `json:"recommendations"`
	Delta           PerformanceDelta       `json:"performance_delta"`
}

type Header struct {
	Title         string    `json:"title"`
	Engine        string    `json:"engine"`
	GeneratedAt   time.Time `json:"generated_at"`
	StartedAt     time.Time `json:"started_at"`
	ReportNumber  int64     `json:"report_number"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	Cycles        int64     `json:"optimization_cycles"`
}

type TrafficOverview struct {
	TotalRequests     int64   `json:"total_requests"`
	TotalErrors       int64   `json:"total_errors"`
	GlobalRPS         float64 `json:"global_rps"`
	TrackedRoutes     int     `json:"tracked_routes"`
	TrackedMiddleware int     `json:"tracked_middleware"`
	ErrorRate         float64 `json:"error_rate"`
}

// RouteReport is one route's row in the route intelligence section.
type RouteReport struct {
	Route        string  `json:"route"`
	Requests     int64   `json:"requests"`
	RPS          float64 `json:"rps"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	P50MS        float64 `json:"p50_ms"`
	P95MS        float64 `json:"p95_ms"`
	P99MS        float64 `json:"p99_ms"`
	ErrorRate    float64 `json:"error_rate"`
	HeatScore    float64 `json:"heat_score"`
	Hot          bool    `json:"is_hot"`
	InHotSet     bool    `json:"in_hot_set"`
	Slow         bool    `json:"is_slow"`
	ErrorProne   bool    `json:"is_error_prone"`
}

type RouteIntelligence struct {
	Routes          []RouteReport `json:"routes"`
	HotCount        int           `json:"hot_count"`
	SlowCount       int           `json:"slow_count"`
	ErrorProneCount int           `json:"error_prone_count"`
}

type MiddlewareReport struct {
	Name             string  `json:"name"`
	TotalCalls       int64   `json:"total_calls"`
	ShortCircuits    int64   `json:"short_circuits"`
	AvgLatencyMS     float64 `json:"avg_latency_ms"`
	ShortCircuitRate float64 `json:"short_circuit_rate"`
	Score            float64 `json:"score"`
}

// MiddlewareIntelligence compares the adopted order with a ranking of
// the current statistics. Pending is true when they differ, which
// happens while the difference stays under the reorder threshold.
type MiddlewareIntelligence struct {
	Middleware       []MiddlewareReport `json:"middleware"`
	CurrentOrder     []string           `json:"current_order"`
	RecommendedOrder []string           `json:"recommended_order"`
	Pending          bool               `json:"pending"`
	TotalTracked     int                `json:"total_tracked"`
}

// Patch is one recently applied action.
type Patch struct {
	Cycle     int64                `json:"cycle"`
	Timestamp time.Time            `json:"timestamp"`
	Type      optimizer.ActionType `json:"type"`
	Detail    string               `json:"detail"`
}

type Optimizations struct {
	TotalCycles        int64                        `json:"total_cycles"`
	FailedCycles       int64                        `json:"failed_cycles"`
	TotalActions       int64                        `json:"total_actions"`
	ActionsByType      map[optimizer.ActionType]int `json:"actions_by_type"`
	HotRoutesCached    int                          `json:"hot_routes_cached"`
	MiddlewareReorders int64                        `json:"middleware_reorders"`
	AutoPatches        []Patch                      `json:"auto_patches"`
}

type EvolutionSummary struct {
	Cycle     int64     `json:"cycle"`
	Actions   int       `json:"actions_count"`
	Timestamp time.Time `json:"timestamp"`
}

type EvolutionHistory struct {
	TotalEntries int                `json:"total_evolution_cycles"`
	Recent       []EvolutionSummary `json:"recent_evolutions"`
}

// Recommendation types beyond the optimizer's suggestion types.
const (
	RecommendSpikeWarning = "spike_warning"
	RecommendStrategy     = "strategy_recommendation"
)

// Recommendation merges optimizer suggestions, spike warnings and
// strategy recommendations.
type Recommendation struct {
	Route           string             `json:"route"`
	Type            string             `json:"type"`
	P95LatencyMS    float64            `json:"p95_latency_ms,omitempty"`
	ErrorRate       float64            `json:"error_rate,omitempty"`
	Probability     float64            `json:"probability,omitempty"`
	Strategy        predictor.Strategy `json:"strategy,omitempty"`
	Confidence      float64            `json:"confidence,omitempty"`
	Recommendations []string           `json:"recommendations"`
}

// RouteDelta is a route's latency change between the oldest and newest
// history snapshot.
type RouteDelta struct {
	Route           string  `json:"route"`
	OldAvgLatencyMS float64 `json:"old_avg_latency_ms"`
	NewAvgLatencyMS float64 `json:"new_avg_latency_ms"`
	ChangePct       float64 `json:"change_pct"`
	Improved        bool    `json:"improved"`
}

type PerformanceDelta struct {
	Status          string       `json:"status"`
	DataPoints      int          `json:"data_points"`
	TimeSpanSeconds float64      `json:"time_span_seconds,omitempty"`
	GlobalRPSDelta  float64      `json:"global_rps_delta"`
	RouteDeltas     []RouteDelta `json:"route_latency_deltas,omitempty"`
	RoutesImproved  int          `json:"routes_improved"`
	RoutesDegraded  int          `json:"routes_degraded"`
}

// Reporter generates reports. Safe for concurrent use.
type Reporter struct {
	src     Sources
	now     func() time.Time
	started time.Time

	mu    sync.Mutex
	count int64
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Reporter) {
		if now != nil {
			r.now = now
		}
	}
}

// New creates a Reporter. The uptime clock starts here.
func New(src Sources, opts ...Option) *Reporter {
	r := &Reporter{src: src, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	r.started = r.now()
	return r
}

// Generate builds a full report. It only reads component state.
func (r *Reporter) Generate() Report {
	r.mu.Lock()
	r.count++
	n := r.count
	r.mu.Unlock()

	now := r.now()
	a := r.src.Analyzer
	a.MaybeRefresh()

	rep := Report{
		Header: Header{
			Title:         Title,
			Engine:        Engine,
			GeneratedAt:   now.UTC(),
			StartedAt:     r.started.UTC(),
			ReportNumber:  n,
			UptimeSeconds: round(now.Sub(r.started).Seconds(), 1),
			Cycles:        r.src.Optimizer.Stats().Cycles,
		},
		Traffic:       r.trafficSection(),
		Routes:        r.routeSection(),
		Middleware:    r.middlewareSection(),
		Optimizations: r.optimizationsSection(),
		CodePath:      r.src.CodePath.Stats(),
		Evolution:     r.evolutionSection(),
		Delta:         performanceDelta(a.History()),
	}

	var forecast *predictor.Report
	if r.src.Predictor != nil {
		f := r.src.Predictor.FullReport()
		forecast = &f
		rep.Predictions = forecast
	}
	rep.Recommendations = r.recommendations(forecast)
	return rep
}

func (r *Reporter) trafficSection() TrafficOverview {
	s := r.src.Analyzer.Summary()
	return TrafficOverview{
		TotalRequests:     s.TotalRequests,
		TotalErrors:       s.TotalErrors,
		GlobalRPS:         round(s.GlobalRPS, 2),
		TrackedRoutes:     s.TrackedRoutes,
		TrackedMiddleware: s.TrackedMiddleware,
		ErrorRate:         round(float64(s.TotalErrors)/float64(max(s.TotalRequests, 1)), 4),
	}
}

func (r *Reporter) routeSection() RouteIntelligence {
	a := r.src.Analyzer
	hot := keySet(a.HotRoutes(hotRouteCount))
	slow := keySet(a.SlowRoutes(traffic.DefaultSlowThreshold))
	errs := keySet(a.ErrorProneRoutes(traffic.DefaultErrorRateThreshold))

	routes := a.Routes()
	sort.Slice(routes, func(i, j int) bool { return routes[i].ID() < routes[j].ID() })

	out := RouteIntelligence{
		Routes:          make([]RouteReport, 0, len(routes)),
		HotCount:        len(hot),
		SlowCount:       len(slow),
		ErrorProneCount: len(errs),
	}
	for _, rs := range routes {
		k := rs.Key()
		out.Routes = append(out.Routes, RouteReport{
			Route:        rs.ID(),
			Requests:     rs.TotalRequests,
			RPS:          round(rs.RequestsPerSecond, 2),
			AvgLatencyMS: millis(rs.AvgLatency),
			P50MS:        millis(rs.P50Latency),
			P95MS:        millis(rs.P95Latency),
			P99MS:        millis(rs.P99Latency),
			ErrorRate:    round(rs.ErrorRate, 4),
			HeatScore:    round(rs.HeatScore, 4),
			Hot:          hot[k],
			InHotSet:     r.src.Optimizer.IsHotRoute(rs.Method, rs.Path),
			Slow:         slow[k],
			ErrorProne:   errs[k],
		})
	}
	return out
}

func (r *Reporter) middlewareSection() MiddlewareIntelligence {
	stats := r.src.Analyzer.Middleware()
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })

	out := MiddlewareIntelligence{
		Middleware:       make([]MiddlewareReport, 0, len(stats)),
		CurrentOrder:     r.src.Optimizer.OptimalMiddlewareOrder(),
		RecommendedOrder: optimizer.RankMiddleware(stats),
		TotalTracked:     len(stats),
	}
	for _, m := range stats {
		out.Middleware = append(out.Middleware, MiddlewareReport{
			Name:             m.Name,
			TotalCalls:       m.TotalCalls,
			ShortCircuits:    m.ShortCircuits,
			AvgLatencyMS:     millis(m.AvgLatency),
			ShortCircuitRate: round(m.ShortCircuitRate, 4),
			Score:            round(optimizer.MiddlewareScore(m), 4),
		})
	}
	out.Pending = len(out.CurrentOrder) > 0 && !slices.Equal(out.CurrentOrder, out.RecommendedOrder)
	return out
}

func (r *Reporter) optimizationsSection() Optimizations {
	st := r.src.Optimizer.Stats()
	log := r.src.Optimizer.EvolutionLog()

	out := Optimizations{
		TotalCycles:        st.Cycles,
		FailedCycles:       st.FailedCycles,
		TotalActions:       st.TotalActions,
		ActionsByType:      make(map[optimizer.ActionType]int),
		HotRoutesCached:    st.HotRoutesCached,
		MiddlewareReorders: st.MiddlewareReorders,
	}
	for _, e := range log {
		for _, act := range e.Actions {
			out.ActionsByType[act.Type]++
		}
	}
	for _, e := range tail(log, recentPatchCount) {
		for _, act := range e.Actions {
			out.AutoPatches = append(out.AutoPatches, Patch{
				Cycle:     e.Cycle,
				Timestamp: e.Timestamp.UTC(),
				Type:      act.Type,
				Detail:    act.Detail,
			})
		}
	}
	return out
}

func (r *Reporter) evolutionSection() EvolutionHistory {
	log := r.src.Optimizer.EvolutionLog()
	out := EvolutionHistory{TotalEntries: len(log)}
	for _, e := range tail(log, recentEntryCount) {
		out.Recent = append(out.Recent, EvolutionSummary{
			Cycle:     e.Cycle,
			Actions:   len(e.Actions),
			Timestamp: e.Timestamp.UTC(),
		})
	}
	return out
}

func (r *Reporter) recommendations(forecast *predictor.Report) []Recommendation {
	var out []Recommendation
	for _, s := range r.src.Optimizer.Suggestions() {
		out = append(out, Recommendation{
			Route:           s.Route,
			Type:            string(s.Type),
			P95LatencyMS:    millis(s.P95Latency),
			ErrorRate:       round(s.ErrorRate, 4),
			Recommendations: s.Recommendations,
		})
	}
	if forecast == nil {
		return out
	}

	for _, f := range forecast.Routes {
		if f.Spike.Likely {
			out = append(out, Recommendation{
				Route:       f.Route,
				Type:        RecommendSpikeWarning,
				Probability: f.Spike.Probability,
				Recommendations: []string{
					fmt.Sprintf("Traffic spike likely (%.0f%% probability)", f.Spike.Probability*100),
					"Consider enabling auto-scaling or rate limiting",
					f.Spike.Reason,
				},
			})
		}
		if f.Recommended.Confidence > StrategyConfidenceFloor {
			out = append(out, Recommendation{
				Route:           f.Route,
				Type:            RecommendStrategy,
				Strategy:        f.Recommended.Strategy,
				Confidence:      f.Recommended.Confidence,
				Recommendations: []string{f.Recommended.Reason},
			})
		}
	}
	return out
}

// performanceDelta compares the oldest and newest retained snapshots.
func performanceDelta(history []traffic.Snapshot) PerformanceDelta {
	if len(history) < 2 {
		return PerformanceDelta{Status: DeltaInsufficientData, DataPoints: len(history)}
	}

	first, latest := history[0], history[len(history)-1]
	out := PerformanceDelta{
		Status:          DeltaOK,
		DataPoints:      len(history),
		TimeSpanSeconds: round(latest.Timestamp.Sub(first.Timestamp).Seconds(), 1),
		GlobalRPSDelta:  round(latest.GlobalRPS-first.GlobalRPS, 2),
	}

	ids := make([]string, 0, len(latest.Routes))
	for id := range latest.Routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		old, ok := first.Routes[id]
		if !ok || old.AvgLatency <= 0 {
			continue
		}
		cur := latest.Routes[id]
		pct := (cur.AvgLatency.Seconds() - old.AvgLatency.Seconds()) / old.AvgLatency.Seconds() * 100
		d := RouteDelta{
			Route:           id,
			OldAvgLatencyMS: millis(old.AvgLatency),
			NewAvgLatencyMS: millis(cur.AvgLatency),
			ChangePct:       round(pct, 1),
			Improved:        pct < 0,
		}
		if d.Improved {
			out.RoutesImproved++
		} else {
			out.RoutesDegraded++
		}
		out.RouteDeltas = append(out.RouteDeltas, d)
	}
	return out
}

func keySet(routes []traffic.RouteStats) map[traffic.RouteKey]bool {
	set := make(map[traffic.RouteKey]bool, len(routes))
	for _, rs := range routes {
		set[rs.Key()] = true
	}
	return set
}

func tail[T any](s []T, n int) []T {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func millis(d time.Duration) float64 {
	return round(float64(d)/float64(time.Millisecond), 2)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
