// Package sare is the self-evolving adaptive routing engine: one Engine
// owns the traffic analyzer, predictor, code path optimizer, adaptive
// optimizer and reporter, and exposes the hooks a host calls around
// each request.
package sare

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/revittco/sare/internal/audit"
	"github.com/revittco/sare/internal/codepath"
	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/predictor"
	"github.com/revittco/sare/internal/report"
	"github.com/revittco/sare/internal/traffic"
)

// Request identifies an in-flight request. Pattern is the matched route
// pattern; when empty the concrete Path is used as the route key.
type Request struct {
	Method  string
	Path    string
	Pattern string
	Query   string
}

// RouteID returns the "METHOD /pattern" key the request is tracked under.
func (r Request) RouteID() string {
	return traffic.RouteKey{Method: strings.ToUpper(r.Method), Path: r.pattern()}.String()
}

func (r Request) pattern() string {
	if r.Pattern != "" {
		return r.Pattern
	}
	return r.Path
}

// Response is a completed response as seen by AfterRequest. Encoded
// marks a body produced by EncodeJSON, whose structure was already
// learned when it was encoded.
type Response struct {
	Status      int
	Header      http.Header
	ContentType string
	Body        []byte
	Encoded     bool
}

// Stats combines the counters of every component.
type Stats struct {
	Enabled     bool              `json:"enabled"`
	Traffic     traffic.Summary   `json:"traffic"`
	Optimizer   optimizer.Stats   `json:"optimizer"`
	CodePath    codepath.Stats    `json:"codepath"`
	Predictor   *predictor.Stats  `json:"predictor,omitempty"`
	Predictions *predictor.Report `json:"predictions,omitempty"`
}

// Engine wires the SARE components together. Construct one per host
// application with New; all methods are safe for concurrent use and
// never fail a request.
type Engine struct {
	opts   Options
	logger *slog.Logger
	now    func() time.Time

	analyzer  *traffic.Analyzer
	optimizer *optimizer.Optimizer
	predictor *predictor.Predictor
	codepath  *codepath.Optimizer
	reporter  *report.Reporter

	enabled atomic.Bool
	memoGen atomic.Uint64

	pinMu  sync.Mutex
	pinned map[string]time.Duration
}

// Option configures an Engine beyond its Options.
type Option func(*engineConfig)

type engineConfig struct {
	logger    *slog.Logger
	now       func() time.Time
	publisher optimizer.Publisher
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock overrides the time source of every component.
func WithClock(now func() time.Time) Option {
	return func(c *engineConfig) {
		if now != nil {
			c.now = now
		}
	}
}

// WithPublisher receives every evolution entry as it is appended.
func WithPublisher(p optimizer.Publisher) Option {
	return func(c *engineConfig) { c.publisher = p }
}

// New validates opts and builds an Engine. Invalid options return a
// *ValidationError.
func New(opts Options, extra ...Option) (*Engine, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := engineConfig{logger: slog.Default(), now: time.Now}
	for _, o := range extra {
		o(&cfg)
	}

	e := &Engine{
		opts:   opts,
		logger: cfg.logger.With("component", "sare"),
		now:    cfg.now,
		pinned: make(map[string]time.Duration),
	}
	e.analyzer = traffic.NewAnalyzer(
		traffic.WithWindowSize(opts.WindowSize),
		traffic.WithSnapshotInterval(opts.SnapshotInterval),
		traffic.WithClock(cfg.now),
	)

	optOpts := []optimizer.Option{
		optimizer.WithClock(cfg.now),
		optimizer.WithLogger(cfg.logger.With("component", "optimizer")),
	}
	if cfg.publisher != nil {
		optOpts = append(optOpts, optimizer.WithPublisher(cfg.publisher))
	}
	e.optimizer = optimizer.New(e.analyzer, optimizer.Config{
		Interval:          opts.OptimizeInterval,
		HotRouteSlots:     opts.HotRouteSlots,
		ReorderThreshold:  opts.ReorderThreshold,
		RouteCaching:      opts.RouteCaching,
		MiddlewareReorder: opts.MiddlewareReorder,
		MaxLogEntries:     optimizer.DefaultMaxLogEntries,
	}, optOpts...)

	if opts.PredictorEnabled {
		e.predictor = predictor.New(e.analyzer,
			predictor.WithAlpha(opts.EWMAAlpha),
			predictor.WithSpikeThreshold(opts.SpikeZThreshold),
			predictor.WithLogger(cfg.logger.With("component", "predictor")),
		)
	}

	e.codepath = codepath.New(codepath.Config{
		CacheMaxSize:    opts.CacheMaxSize,
		CacheDefaultTTL: opts.CacheDefaultTTL,
		MaxTemplates:    opts.MaxJSONTemplates,
	}, codepath.WithClock(cfg.now), codepath.WithLogger(cfg.logger.With("component", "codepath")))

	e.reporter = report.New(report.Sources{
		Analyzer:  e.analyzer,
		Optimizer: e.optimizer,
		Predictor: e.predictor,
		CodePath:  e.codepath,
	}, report.WithClock(cfg.now))

	e.enabled.Store(true)
	e.logger.Info("engine initialized",
		"optimize_interval", opts.OptimizeInterval,
		"cache_max_size", opts.CacheMaxSize,
		"predictor", opts.PredictorEnabled,
		"auto_memoize", opts.AutoMemoize,
	)
	return e, nil
}

// BeforeRequest runs the pre-route phase: a non-blocking optimization
// check, the auto-memoize policy and a response cache lookup. A true
// result means the caller should serve the returned response and skip
// normal handling.
func (e *Engine) BeforeRequest(req Request) (codepath.CachedResponse, bool) {
	if !e.enabled.Load() {
		return codepath.CachedResponse{}, false
	}
	e.optimizer.MaybeOptimize()
	if e.opts.AutoMemoize {
		e.autoMemoize()
	}
	return e.codepath.TryCacheHit(req.RouteID(), req.Method, req.Path, req.Query)
}

// AfterRequest runs the post-route phase: record the request, memoize
// a successful response, learn JSON structure and feed the predictor.
func (e *Engine) AfterRequest(req Request, resp Response, latency time.Duration) {
	if !e.enabled.Load() {
		return
	}
	route := req.RouteID()
	e.analyzer.RecordRequest(req.Method, req.pattern(), latency, resp.Status, len(resp.Body))

	if resp.Status < http.StatusBadRequest {
		e.codepath.StoreResponse(route, req.Method, req.Path, req.Query, codepath.CachedResponse{
			Status:      resp.Status,
			Header:      audit.StripHeaders(resp.Header, e.opts.RedactHeaders),
			ContentType: resp.ContentType,
			Body:        resp.Body,
		})
		if !resp.Encoded && e.codepath.IsPreencoded(route) && isJSON(resp.ContentType) {
			if data, ok := decodeObject(resp.Body); ok {
				e.codepath.Learn(route, data)
			}
		}
	}

	if e.predictor != nil {
		e.predictor.Observe()
	}
}

// EncodeJSON encodes v for route. A pre-encoded route whose payload
// matches its learned template is encoded from the template; anything
// else goes through json.Marshal. The output is the same either way.
func (e *Engine) EncodeJSON(route string, v map[string]any) ([]byte, error) {
	if e.enabled.Load() {
		if b, ok := e.codepath.TryFastEncode(route, v); ok {
			return b, nil
		}
	}
	return json.Marshal(v)
}

// RecordMiddlewareTiming records one middleware execution.
func (e *Engine) RecordMiddlewareTiming(name string, latency time.Duration, shortCircuited bool) {
	if !e.enabled.Load() {
		return
	}
	e.analyzer.RecordMiddleware(name, latency, shortCircuited)
}

// Tick drives periodic work when there is no traffic to do it: the
// optimization cycle, a statistics refresh, a predictor sample and
// expired cache eviction. It reports whether a cycle ran.
func (e *Engine) Tick() bool {
	if !e.enabled.Load() {
		return false
	}
	ran := e.optimizer.MaybeOptimize()
	e.analyzer.MaybeRefresh()
	if e.predictor != nil {
		e.predictor.Observe()
	}
	if n := e.codepath.Cleanup(); n > 0 {
		e.logger.Debug("expired responses evicted", "count", n)
	}
	return ran
}

// autoMemoize enables memoization and pre-encoding for hot, stable GET
// routes. It runs at most once per analyzer refresh.
func (e *Engine) autoMemoize() {
	e.analyzer.MaybeRefresh()
	gen := e.analyzer.Generation()
	prev := e.memoGen.Load()
	if prev == gen || !e.memoGen.CompareAndSwap(prev, gen) {
		return
	}

	var actions []optimizer.Action
	for _, rs := range e.analyzer.HotRoutes(e.opts.HotRouteSlots) {
		if rs.Method != http.MethodGet {
			continue
		}
		id := rs.ID()
		if e.codepath.IsMemoized(id) {
			continue
		}
		if rs.RequestsPerSecond < e.opts.AutoMemoizeRPS ||
			rs.ErrorRate > e.opts.AutoMemoizeErrorRate ||
			rs.TotalRequests < e.opts.AutoMemoizeMinRequests {
			continue
		}

		e.codepath.EnableMemoization(id, 0)
		e.codepath.EnablePreencoding(id)
		e.logger.Info("auto-memoize enabled",
			"route", id, "rps", rs.RequestsPerSecond, "error_rate", rs.ErrorRate)
		actions = append(actions, optimizer.Action{
			Type:   optimizer.ActionAutoMemoize,
			Detail: fmt.Sprintf("Enabled memoization for %s (rps=%.1f, err=%.3f)", id, rs.RequestsPerSecond, rs.ErrorRate),
			Routes: []string{id},
		})
	}
	if len(actions) > 0 {
		e.optimizer.Record(actions...)
	}
}

// Memoize pins route into response caching and pre-encoding. A positive
// ttl overrides the cache default. Pinned routes survive Reset.
func (e *Engine) Memoize(route string, ttl time.Duration) {
	e.pinMu.Lock()
	e.pinned[route] = ttl
	e.pinMu.Unlock()
	e.codepath.EnableMemoization(route, ttl)
	e.codepath.EnablePreencoding(route)
}

// Unmemoize removes route from caching and pre-encoding and drops its
// cached responses.
func (e *Engine) Unmemoize(route string) {
	e.pinMu.Lock()
	delete(e.pinned, route)
	e.pinMu.Unlock()
	e.codepath.DisableMemoization(route)
	e.codepath.DisablePreencoding(route)
}

// IsHotRoute reports whether the route is in the optimizer's hot set.
func (e *Engine) IsHotRoute(method, pattern string) bool {
	return e.optimizer.IsHotRoute(method, pattern)
}

// OptimizedMiddlewareOrder returns the adopted middleware order, or nil
// before one exists.
func (e *Engine) OptimizedMiddlewareOrder() []string {
	return e.optimizer.OptimalMiddlewareOrder()
}

// Report generates a full intelligence report.
func (e *Engine) Report() report.Report {
	return e.reporter.Generate()
}

// WriteReport renders a report as console text.
func (e *Engine) WriteReport(w io.Writer) error {
	return report.Render(w, e.Report())
}

// Enable resumes processing.
func (e *Engine) Enable() {
	e.enabled.Store(true)
	e.logger.Info("engine enabled")
}

// Disable switches to pass-through mode: every hook becomes a no-op.
func (e *Engine) Disable() {
	e.enabled.Store(false)
	e.logger.Info("engine disabled")
}

// Enabled reports whether the engine is processing requests.
func (e *Engine) Enabled() bool {
	return e.enabled.Load()
}

// Reset discards all learned state: traffic, predictions, decisions,
// cached responses and route opt-ins. Pinned routes are re-applied.
func (e *Engine) Reset() {
	e.analyzer.Reset()
	e.optimizer.Reset()
	if e.predictor != nil {
		e.predictor.Reset()
	}
	e.codepath.Reset()
	e.memoGen.Store(e.analyzer.Generation())

	e.pinMu.Lock()
	for route, ttl := range e.pinned {
		e.codepath.EnableMemoization(route, ttl)
		e.codepath.EnablePreencoding(route)
	}
	e.pinMu.Unlock()
	e.logger.Info("engine reset")
}

// Stats returns the combined component counters.
func (e *Engine) Stats() Stats {
	s := Stats{
		Enabled:   e.enabled.Load(),
		Traffic:   e.analyzer.Summary(),
		Optimizer: e.optimizer.Stats(),
		CodePath:  e.codepath.Stats(),
	}
	if e.predictor != nil {
		ps := e.predictor.Stats()
		rep := e.predictor.FullReport()
		s.Predictor = &ps
		s.Predictions = &rep
	}
	return s
}

// Options returns the options the engine was built with.
func (e *Engine) Options() Options { return e.opts }

// Analyzer exposes the traffic analyzer for read-only consumers.
func (e *Engine) Analyzer() *traffic.Analyzer { return e.analyzer }

// Optimizer exposes the adaptive optimizer for read-only consumers.
func (e *Engine) Optimizer() *optimizer.Optimizer { return e.optimizer }

// CodePath exposes the code path optimizer.
func (e *Engine) CodePath() *codepath.Optimizer { return e.codepath }

// Predictor returns the predictor, or nil when prediction is disabled.
func (e *Engine) Predictor() *predictor.Predictor { return e.predictor }

func isJSON(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// decodeObject parses body as a JSON object, keeping numbers exact.
func decodeObject(body []byte) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data map[string]any
	if err := dec.Decode(&data); err != nil || data == nil {
		return nil, false
	}
	return data, true
}
