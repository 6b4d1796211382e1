package traffic

import (
	"math"
	"sort"
	"time"

	"github.com/revittco/sare/internal/window"
)

// Tunable constants for derived statistics.
const (
	// RPSWindow is the trailing span used for requests-per-second.
	RPSWindow = 60 * time.Second

	// HeatRPSScale is the request rate treated as fully hot.
	HeatRPSScale = 10.0

	// HeatLatencyScale is the average latency treated as fully cold.
	HeatLatencyScale = 2 * time.Second

	// p95MinSamples and p99MinSamples gate true percentiles; below them
	// the window maximum is reported instead.
	p95MinSamples = 20
	p99MinSamples = 100
)

// RouteKey identifies a route by HTTP method and path pattern.
type RouteKey struct {
	Method string
	Path   string
}

// String renders the key as "METHOD /pattern", the route ID used
// across SARE components.
func (k RouteKey) String() string {
	return k.Method + " " + k.Path
}

// RouteStats is a point-in-time copy of a route's counters and the
// derived statistics from the most recent refresh.
type RouteStats struct {
	Method        string `json:"method"`
	Path          string `json:"path"`
	TotalRequests int64  `json:"total_requests"`
	TotalErrors   int64  `json:"total_errors"`
	Total5xx      int64  `json:"total_5xx"`

	AvgLatency        time.Duration `json:"avg_latency"`
	P50Latency        time.Duration `json:"p50_latency"`
	P95Latency        time.Duration `json:"p95_latency"`
	P99Latency        time.Duration `json:"p99_latency"`
	RequestsPerSecond float64       `json:"requests_per_second"`
	ErrorRate         float64       `json:"error_rate"`
	HeatScore         float64       `json:"heat_score"`
	AvgResponseSize   float64       `json:"avg_response_size"`
}

// Key returns the route key for s.
func (s RouteStats) Key() RouteKey {
	return RouteKey{Method: s.Method, Path: s.Path}
}

// ID returns the "METHOD /pattern" route ID.
func (s RouteStats) ID() string {
	return s.Key().String()
}

// MiddlewareStats is a point-in-time copy of a middleware's counters.
type MiddlewareStats struct {
	Name             string        `json:"name"`
	TotalCalls       int64         `json:"total_calls"`
	ShortCircuits    int64         `json:"short_circuits"`
	AvgLatency       time.Duration `json:"avg_latency"`
	ShortCircuitRate float64       `json:"short_circuit_rate"`
}

// HeatScore combines request rate, latency and error rate into a
// single [0,1] hotness value:
//
//	0.5*min(rps/10, 1) + 0.3*(1 - min(avg/2s, 1)) + 0.2*(1 - errorRate)
func HeatScore(rps float64, avgLatency time.Duration, errorRate float64) float64 {
	freq := clamp01(rps / HeatRPSScale)
	lat := clamp01(avgLatency.Seconds() / HeatLatencyScale.Seconds())
	errs := clamp01(errorRate)
	return clamp01(0.5*freq + 0.3*(1-lat) + 0.2*(1-errs))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

type routeMetrics struct {
	key           RouteKey
	latencies     *window.Ring[time.Duration]
	timestamps    *window.Ring[time.Time]
	errorCodes    *window.Ring[int]
	responseSizes *window.Ring[int]

	totalRequests int64
	totalErrors   int64
	total5xx      int64

	avgLatency   time.Duration
	p50, p95     time.Duration
	p99          time.Duration
	rps          float64
	errorRate    float64
	heat         float64
	avgRespBytes float64
}

func newRouteMetrics(key RouteKey, windowSize int) *routeMetrics {
	half := max(windowSize/2, 1)
	return &routeMetrics{
		key:           key,
		latencies:     window.New[time.Duration](windowSize),
		timestamps:    window.New[time.Time](windowSize),
		errorCodes:    window.New[int](half),
		responseSizes: window.New[int](half),
	}
}

func (m *routeMetrics) record(now time.Time, latency time.Duration, status, size int) {
	m.latencies.Push(latency)
	m.timestamps.Push(now)
	m.responseSizes.Push(size)
	m.totalRequests++
	if status >= 400 {
		m.errorCodes.Push(status)
		m.totalErrors++
	}
	if status >= 500 {
		m.total5xx++
	}
}

// compute recomputes derived statistics from the rolling windows.
func (m *routeMetrics) compute(now time.Time) {
	n := m.latencies.Len()
	if n == 0 {
		return
	}

	sorted := m.latencies.Values()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	m.avgLatency = sum / time.Duration(n)
	m.p50 = sorted[n/2]
	m.p95 = sorted[n-1]
	if n >= p95MinSamples {
		m.p95 = sorted[int(float64(n)*0.95)]
	}
	m.p99 = sorted[n-1]
	if n >= p99MinSamples {
		m.p99 = sorted[int(float64(n)*0.99)]
	}

	m.rps = ratePerSecond(m.timestamps, now)

	if m.totalRequests > 0 {
		m.errorRate = float64(m.totalErrors) / float64(m.totalRequests)
	}

	if sizes := m.responseSizes.Len(); sizes > 0 {
		var total int
		m.responseSizes.Each(func(s int) { total += s })
		m.avgRespBytes = float64(total) / float64(sizes)
	}

	m.heat = HeatScore(m.rps, m.avgLatency, m.errorRate)
}

func (m *routeMetrics) stats() RouteStats {
	return RouteStats{
		Method:            m.key.Method,
		Path:              m.key.Path,
		TotalRequests:     m.totalRequests,
		TotalErrors:       m.totalErrors,
		Total5xx:          m.total5xx,
		AvgLatency:        m.avgLatency,
		P50Latency:        m.p50,
		P95Latency:        m.p95,
		P99Latency:        m.p99,
		RequestsPerSecond: m.rps,
		ErrorRate:         m.errorRate,
		HeatScore:         m.heat,
		AvgResponseSize:   m.avgRespBytes,
	}
}

type middlewareMetrics struct {
	name          string
	latencies     *window.Ring[time.Duration]
	totalCalls    int64
	shortCircuits int64
	avgLatency    time.Duration
}

func newMiddlewareMetrics(name string, windowSize int) *middlewareMetrics {
	return &middlewareMetrics{
		name:      name,
		latencies: window.New[time.Duration](windowSize),
	}
}

func (m *middlewareMetrics) record(latency time.Duration, shortCircuited bool) {
	m.latencies.Push(latency)
	m.totalCalls++
	if shortCircuited {
		m.shortCircuits++
	}
}

func (m *middlewareMetrics) compute() {
	n := m.latencies.Len()
	if n == 0 {
		return
	}
	var sum time.Duration
	m.latencies.Each(func(l time.Duration) { sum += l })
	m.avgLatency = sum / time.Duration(n)
}

func (m *middlewareMetrics) stats() MiddlewareStats {
	s := MiddlewareStats{
		Name:          m.name,
		TotalCalls:    m.totalCalls,
		ShortCircuits: m.shortCircuits,
		AvgLatency:    m.avgLatency,
	}
	if m.totalCalls > 0 {
		s.ShortCircuitRate = float64(m.shortCircuits) / float64(m.totalCalls)
	}
	return s
}

// ratePerSecond counts timestamps inside the trailing RPSWindow.
func ratePerSecond(ts *window.Ring[time.Time], now time.Time) float64 {
	recent := 0
	ts.Each(func(t time.Time) {
		if now.Sub(t) <= RPSWindow {
			recent++
		}
	})
	return float64(recent) / RPSWindow.Seconds()
}
