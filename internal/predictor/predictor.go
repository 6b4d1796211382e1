// Package predictor forecasts per-route load and latency from periodic
// traffic snapshots and recommends an execution strategy for each route.
// Everything is plain arithmetic over bounded windows.
package predictor

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/revittco/sare/internal/traffic"
)

// Forecast horizons in snapshot intervals (5s each by default).
const (
	Steps30s = 6
	Steps60s = 12

	maxTrendWeight = 0.7
	minSpikeTrend  = 5
)

// Reward thresholds applied on every ingested sample.
const (
	cacheMaxErrorRate    = 0.01
	cacheMinRPS          = 2.0
	asyncMinLatency      = 100 * time.Millisecond
	precompileHotHeat    = 0.5
	precompileWarmHeat   = 0.2
	spikeSlopeThreshold  = 0.05
	spikeStrongSlope     = 0.1
	spikeAccelThreshold  = 0.5
	spikeMaxProbability  = 0.95
	accelerationBaseline = 0.001
)

// Source is the traffic view the predictor samples from.
type Source interface {
	MaybeRefresh() bool
	Generation() uint64
	Routes() []traffic.RouteStats
	GlobalRPS() float64
}

// SpikePrediction is the outcome of PredictSpike.
type SpikePrediction struct {
	Likely       bool      `json:"likely"`
	Probability  float64   `json:"probability"`
	Direction    Direction `json:"direction,omitempty"`
	Slope        float64   `json:"slope"`
	Acceleration float64   `json:"acceleration"`
	Reason       string    `json:"reason"`
}

// Recommendation is the outcome of RecommendStrategy.
type Recommendation struct {
	Strategy     Strategy             `json:"strategy"`
	Confidence   float64              `json:"confidence"`
	Reason       string               `json:"reason"`
	Scores       map[Strategy]float64 `json:"scores,omitempty"`
	Observations int64                `json:"observations"`
}

// RouteForecast bundles every prediction for one route.
type RouteForecast struct {
	Route               string          `json:"route"`
	PredictedRPS30s     float64         `json:"predicted_rps_30s"`
	PredictedRPS60s     float64         `json:"predicted_rps_60s"`
	PredictedLatency30s time.Duration   `json:"predicted_latency_30s"`
	Spike               SpikePrediction `json:"spike_prediction"`
	Recommended         Recommendation  `json:"recommended_strategy"`
	RPSTrend            Direction       `json:"rps_trend"`
	LatencyTrend        Direction       `json:"latency_trend"`
}

// GlobalForecast summarizes trends across all routes.
type GlobalForecast struct {
	CurrentRPS              float64 `json:"current_rps"`
	TrackedRoutes           int     `json:"tracked_routes"`
	RoutesWithRisingTraffic int     `json:"routes_with_rising_traffic"`
	RoutesWithRisingLatency int     `json:"routes_with_rising_latency"`
}

// Report is the full per-route and global forecast.
type Report struct {
	Routes []RouteForecast `json:"routes"`
	Global GlobalForecast  `json:"global"`
}

// Stats are predictor counters.
type Stats struct {
	Updates        int64 `json:"updates"`
	SpikesDetected int64 `json:"spikes_detected"`
	TrackedRoutes  int   `json:"tracked_routes"`
}

type routeModel struct {
	rpsAvg       *EWMA
	latencyAvg   *EWMA
	rpsTrend     *TrendDetector
	latencyTrend *TrendDetector
	spikes       *SpikeDetector
	strategy     *RouteStrategy
}

// Predictor holds per-route models. Safe for concurrent use.
type Predictor struct {
	mu sync.Mutex

	src            Source
	alpha          float64
	spikeThreshold float64
	logger         *slog.Logger

	routes  map[string]*routeModel
	lastGen uint64
	stats   Stats
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithAlpha sets the EWMA smoothing factor for new route models.
func WithAlpha(alpha float64) Option {
	return func(p *Predictor) { p.alpha = alpha }
}

// WithSpikeThreshold sets the z-score threshold for new route models.
func WithSpikeThreshold(z float64) Option {
	return func(p *Predictor) { p.spikeThreshold = z }
}

// WithLogger sets the logger used for spike warnings.
func WithLogger(l *slog.Logger) Option {
	return func(p *Predictor) {
		if l != nil {
			p.logger = l
		}
	}
}

// New creates a Predictor sampling from src. src may be nil when samples
// are supplied through Ingest only.
func New(src Source, opts ...Option) *Predictor {
	p := &Predictor{
		src:            src,
		alpha:          DefaultAlpha,
		spikeThreshold: DefaultSpikeThreshold,
		logger:         slog.Default(),
		routes:         make(map[string]*routeModel),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Update samples every route from the source unconditionally.
func (p *Predictor) Update() {
	if p.src == nil {
		return
	}
	p.Ingest(p.src.Routes())
}

// Observe refreshes the source if stale and samples it only when a new
// snapshot generation is available, so the models advance once per
// snapshot interval regardless of how often Observe is called. It
// reports whether a sample was ingested.
func (p *Predictor) Observe() bool {
	if p.src == nil {
		return false
	}
	p.src.MaybeRefresh()
	gen := p.src.Generation()

	p.mu.Lock()
	if gen == p.lastGen {
		p.mu.Unlock()
		return false
	}
	p.lastGen = gen
	p.mu.Unlock()

	p.Ingest(p.src.Routes())
	return true
}

// Ingest feeds one sample per route into the models.
func (p *Predictor) Ingest(routes []traffic.RouteStats) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats.Updates++
	for _, rs := range routes {
		id := rs.ID()
		m, ok := p.routes[id]
		if !ok {
			m = p.newModel(id)
			p.routes[id] = m
		}

		latency := rs.AvgLatency.Seconds()
		m.rpsAvg.Update(rs.RequestsPerSecond)
		m.latencyAvg.Update(latency)
		m.rpsTrend.Add(rs.RequestsPerSecond)
		m.latencyTrend.Add(latency)

		if m.spikes.Add(rs.RequestsPerSecond) {
			p.stats.SpikesDetected++
			p.logger.Warn("traffic spike detected",
				"route", id,
				"rps", rs.RequestsPerSecond,
			)
		}

		rewardStrategies(m.strategy, rs)
	}
}

func (p *Predictor) newModel(id string) *routeModel {
	return &routeModel{
		rpsAvg:       NewEWMA(p.alpha),
		latencyAvg:   NewEWMA(p.alpha),
		rpsTrend:     NewTrendDetector(DefaultTrendWindow),
		latencyTrend: NewTrendDetector(DefaultTrendWindow),
		spikes:       NewSpikeDetector(DefaultSpikeWindow, p.spikeThreshold),
		strategy:     &RouteStrategy{Route: id},
	}
}

func rewardStrategies(s *RouteStrategy, rs traffic.RouteStats) {
	if rs.ErrorRate < cacheMaxErrorRate && rs.RequestsPerSecond > cacheMinRPS {
		s.Reward(StrategyCache, 1.0)
	} else {
		s.Reward(StrategyCache, -0.2)
	}

	if rs.AvgLatency > asyncMinLatency {
		s.Reward(StrategyAsyncPriority, 0.8)
	} else {
		s.Reward(StrategyAsyncPriority, -0.1)
	}

	switch {
	case rs.HeatScore > precompileHotHeat:
		s.Reward(StrategyPrecompile, 1.0)
	case rs.HeatScore > precompileWarmHeat:
		s.Reward(StrategyPrecompile, 0.3)
	default:
		s.Reward(StrategyPrecompile, -0.3)
	}
}

// blend mixes trend extrapolation with the moving average. Longer
// horizons lean on the trend, capped at maxTrendWeight.
func blend(trend *TrendDetector, avg *EWMA, steps int) float64 {
	w := math.Min(float64(steps)/float64(Steps60s), maxTrendWeight)
	return math.Max(0, trend.PredictNext(steps)*w+avg.Value()*(1-w))
}

// PredictRPS forecasts the request rate steps snapshot intervals ahead.
func (p *Predictor) PredictRPS(route string, steps int) (float64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.routes[route]
	if !ok {
		return 0, false
	}
	return blend(m.rpsTrend, m.rpsAvg, steps), true
}

// PredictLatency forecasts average latency steps snapshot intervals ahead.
func (p *Predictor) PredictLatency(route string, steps int) (time.Duration, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.routes[route]
	if !ok {
		return 0, false
	}
	return seconds(blend(m.latencyTrend, m.latencyAvg, steps)), true
}

// PredictSpike estimates whether a traffic spike is coming. The score is
// a heuristic, not a calibrated probability.
func (p *Predictor) PredictSpike(route string) SpikePrediction {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.routes[route]
	if !ok {
		return SpikePrediction{Reason: "insufficient data"}
	}
	return predictSpike(m.rpsTrend)
}

func predictSpike(t *TrendDetector) SpikePrediction {
	if t.Len() < minSpikeTrend {
		return SpikePrediction{Reason: "insufficient data"}
	}

	slope := t.Slope()
	dir := t.Direction()
	accel := acceleration(t.Values())

	var prob float64
	var reasons []string
	if slope > spikeSlopeThreshold {
		prob += 0.3
		reasons = append(reasons, fmt.Sprintf("rising trend (slope=%.4f)", slope))
	}
	if accel > spikeAccelThreshold {
		prob += 0.4
		reasons = append(reasons, fmt.Sprintf("accelerating traffic (%.1f%%)", accel*100))
	}
	if dir == Rising && slope > spikeStrongSlope {
		prob += 0.2
		reasons = append(reasons, "strong upward momentum")
	}
	prob = math.Round(math.Min(prob, spikeMaxProbability)*1000) / 1000

	reason := "stable traffic pattern"
	if len(reasons) > 0 {
		reason = strings.Join(reasons, "; ")
	}
	return SpikePrediction{
		Likely:       prob > 0.5,
		Probability:  prob,
		Direction:    dir,
		Slope:        slope,
		Acceleration: accel,
		Reason:       reason,
	}
}

// acceleration compares the mean of the later half of vals with the
// earlier half, relative to the earlier mean.
func acceleration(vals []float64) float64 {
	mid := len(vals) / 2
	first, recent := vals[:mid], vals[mid:]
	if len(first) < 2 || len(recent) < 2 {
		return 0
	}
	early, late := mean(first), mean(recent)
	return (late - early) / math.Max(early, accelerationBaseline)
}

func mean(vals []float64) float64 {
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

// RecommendStrategy returns the highest-rewarded strategy for route and a
// confidence equal to its reward clamped to [0,1].
func (p *Predictor) RecommendStrategy(route string) Recommendation {
	p.mu.Lock()
	defer p.mu.Unlock()
	m, ok := p.routes[route]
	if !ok {
		return Recommendation{Strategy: StrategyDefault, Reason: StrategyDefault.Reason()}
	}
	return recommend(m.strategy)
}

func recommend(s *RouteStrategy) Recommendation {
	best, score := s.Best()
	return Recommendation{
		Strategy:     best,
		Confidence:   math.Min(math.Max(score, 0), 1),
		Reason:       best.Reason(),
		Scores:       s.Scores(),
		Observations: s.Observations,
	}
}

// Routes returns the IDs of every modelled route, sorted.
func (p *Predictor) Routes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.routeIDsLocked()
}

func (p *Predictor) routeIDsLocked() []string {
	ids := make([]string, 0, len(p.routes))
	for id := range p.routes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FullReport forecasts every modelled route.
func (p *Predictor) FullReport() Report {
	var globalRPS float64
	if p.src != nil {
		globalRPS = p.src.GlobalRPS()
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	rep := Report{
		Routes: make([]RouteForecast, 0, len(p.routes)),
		Global: GlobalForecast{
			CurrentRPS:    math.Round(globalRPS*100) / 100,
			TrackedRoutes: len(p.routes),
		},
	}
	for _, id := range p.routeIDsLocked() {
		m := p.routes[id]
		f := RouteForecast{
			Route:               id,
			PredictedRPS30s:     blend(m.rpsTrend, m.rpsAvg, Steps30s),
			PredictedRPS60s:     blend(m.rpsTrend, m.rpsAvg, Steps60s),
			PredictedLatency30s: seconds(blend(m.latencyTrend, m.latencyAvg, Steps30s)),
			Spike:               predictSpike(m.rpsTrend),
			Recommended:         recommend(m.strategy),
			RPSTrend:            m.rpsTrend.Direction(),
			LatencyTrend:        m.latencyTrend.Direction(),
		}
		if f.RPSTrend == Rising {
			rep.Global.RoutesWithRisingTraffic++
		}
		if f.LatencyTrend == Rising {
			rep.Global.RoutesWithRisingLatency++
		}
		rep.Routes = append(rep.Routes, f)
	}
	return rep
}

// Stats returns a copy of the predictor counters.
func (p *Predictor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.TrackedRoutes = len(p.routes)
	return s
}

// Reset discards every route model.
func (p *Predictor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes = make(map[string]*routeModel)
	p.stats = Stats{}
	p.lastGen = 0
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
