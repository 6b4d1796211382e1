// Package metrics exports engine statistics in the Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/revittco/sare/internal/sare"
	"github.com/revittco/sare/internal/traffic"
)

const namespace = "sare"

// Source is the engine surface the collector reads at scrape time.
type Source interface {
	Stats() sare.Stats
	Analyzer() *traffic.Analyzer
}

// Collector is a prometheus.Collector that snapshots a Source on every
// scrape. All values are const metrics; nothing is kept between scrapes.
type Collector struct {
	src Source

	enabled       *prometheus.Desc
	requests      *prometheus.Desc
	errors        *prometheus.Desc
	globalRPS     *prometheus.Desc
	trackedRoutes *prometheus.Desc

	cycles       *prometheus.Desc
	failedCycles *prometheus.Desc
	reorders     *prometheus.Desc
	actions      *prometheus.Desc
	hotRoutes    *prometheus.Desc

	memoized    *prometheus.Desc
	preencoded  *prometheus.Desc
	cacheHits   *prometheus.Desc
	cacheMisses *prometheus.Desc
	evictions   *prometheus.Desc
	entries     *prometheus.Desc
	fastEncodes *prometheus.Desc

	spikes *prometheus.Desc

	routeRequests *prometheus.Desc
	routeRPS      *prometheus.Desc
	routeHeat     *prometheus.Desc
	routeP95      *prometheus.Desc
	routeErrRate  *prometheus.Desc

	mwCalls         *prometheus.Desc
	mwShortCircuits *prometheus.Desc
	mwLatency       *prometheus.Desc
}

func desc(name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	return &Collector{
		src: src,

		enabled:       desc("enabled", "1 when the engine is intercepting requests."),
		requests:      desc("requests_total", "Requests recorded by the traffic analyzer."),
		errors:        desc("errors_total", "Recorded requests with status >= 400."),
		globalRPS:     desc("global_rps", "Requests per second across all routes."),
		trackedRoutes: desc("tracked_routes", "Routes with recorded traffic."),

		cycles:       desc("optimization_cycles_total", "Adaptive optimization cycles run."),
		failedCycles: desc("optimization_failed_cycles_total", "Optimization cycles that failed to plan."),
		reorders:     desc("middleware_reorders_total", "Adopted middleware order changes."),
		actions:      desc("optimization_actions_total", "Actions recorded in the evolution log."),
		hotRoutes:    desc("hot_routes", "Routes currently in the hot set."),

		memoized:    desc("memoized_routes", "Routes with response memoization enabled."),
		preencoded:  desc("preencoded_routes", "Routes with JSON pre-encoding enabled."),
		cacheHits:   desc("cache_hits_total", "Response cache hits."),
		cacheMisses: desc("cache_misses_total", "Response cache misses."),
		evictions:   desc("cache_evictions_total", "Response cache LRU evictions."),
		entries:     desc("cache_entries", "Responses currently cached."),
		fastEncodes: desc("fast_encodes_total", "Responses encoded from a learned template."),

		spikes: desc("predictor_spikes_total", "Traffic spikes detected by the predictor."),

		routeRequests: desc("route_requests_total", "Requests recorded per route.", "route"),
		routeRPS:      desc("route_rps", "Requests per second per route.", "route"),
		routeHeat:     desc("route_heat_score", "Heat score per route.", "route"),
		routeP95:      desc("route_p95_latency_seconds", "Windowed p95 latency per route.", "route"),
		routeErrRate:  desc("route_error_rate", "Windowed error rate per route.", "route"),

		mwCalls:         desc("middleware_calls_total", "Middleware invocations.", "middleware"),
		mwShortCircuits: desc("middleware_short_circuits_total", "Middleware short-circuits.", "middleware"),
		mwLatency:       desc("middleware_avg_latency_seconds", "Windowed average middleware latency.", "middleware"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.enabled, c.requests, c.errors, c.globalRPS, c.trackedRoutes,
		c.cycles, c.failedCycles, c.reorders, c.actions, c.hotRoutes,
		c.memoized, c.preencoded, c.cacheHits, c.cacheMisses, c.evictions, c.entries, c.fastEncodes,
		c.spikes,
		c.routeRequests, c.routeRPS, c.routeHeat, c.routeP95, c.routeErrRate,
		c.mwCalls, c.mwShortCircuits, c.mwLatency,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	enabled := 0.0
	if s.Enabled {
		enabled = 1
	}
	gauge(c.enabled, enabled)
	counter(c.requests, float64(s.Traffic.TotalRequests))
	counter(c.errors, float64(s.Traffic.TotalErrors))
	gauge(c.globalRPS, s.Traffic.GlobalRPS)
	gauge(c.trackedRoutes, float64(s.Traffic.TrackedRoutes))

	counter(c.cycles, float64(s.Optimizer.Cycles))
	counter(c.failedCycles, float64(s.Optimizer.FailedCycles))
	counter(c.reorders, float64(s.Optimizer.MiddlewareReorders))
	counter(c.actions, float64(s.Optimizer.TotalActions))
	gauge(c.hotRoutes, float64(s.Optimizer.HotRoutesCached))

	cp := s.CodePath
	gauge(c.memoized, float64(cp.MemoizedRoutes))
	gauge(c.preencoded, float64(cp.PreencodedRoutes))
	counter(c.cacheHits, float64(cp.ResponseCache.Hits))
	counter(c.cacheMisses, float64(cp.ResponseCache.Misses))
	counter(c.evictions, float64(cp.ResponseCache.Evictions))
	gauge(c.entries, float64(cp.ResponseCache.Entries))
	counter(c.fastEncodes, float64(cp.FastEncodes))

	if s.Predictor != nil {
		counter(c.spikes, float64(s.Predictor.SpikesDetected))
	}

	a := c.src.Analyzer()
	for _, r := range a.Routes() {
		id := r.ID()
		counter(c.routeRequests, float64(r.TotalRequests), id)
		gauge(c.routeRPS, r.RequestsPerSecond, id)
		gauge(c.routeHeat, r.HeatScore, id)
		gauge(c.routeP95, r.P95Latency.Seconds(), id)
		gauge(c.routeErrRate, r.ErrorRate, id)
	}
	for _, m := range a.Middleware() {
		counter(c.mwCalls, float64(m.TotalCalls), m.Name)
		counter(c.mwShortCircuits, float64(m.ShortCircuits), m.Name)
		gauge(c.mwLatency, m.AvgLatency.Seconds(), m.Name)
	}
}

// NewRegistry returns a registry holding a collector over src plus the
// Go runtime and process collectors.
func NewRegistry(src Source) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(src),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
