package predictor

import (
	"math"
	"testing"
	"time"

	"github.com/revittco/sare/internal/traffic"
)

type fakeSource struct {
	gen       uint64
	routes    []traffic.RouteStats
	globalRPS float64
	refreshes int
}

func (f *fakeSource) MaybeRefresh() bool            { f.refreshes++; return false }
func (f *fakeSource) Generation() uint64            { return f.gen }
func (f *fakeSource) Routes() []traffic.RouteStats { return f.routes }
func (f *fakeSource) GlobalRPS() float64            { return f.globalRPS }

func route(rps float64, latency time.Duration, errRate, heat float64) traffic.RouteStats {
	return traffic.RouteStats{
		Method:            "GET",
		Path:              "/api/x",
		RequestsPerSecond: rps,
		AvgLatency:        latency,
		ErrorRate:         errRate,
		HeatScore:         heat,
	}
}

func TestPredictor_SpikeScenario(t *testing.T) {
	p := New(nil)
	for _, rps := range []float64{1, 2, 4, 8, 16} {
		p.Ingest([]traffic.RouteStats{route(rps, 10*time.Millisecond, 0, 0.5)})
	}

	sp := p.PredictSpike("GET /api/x")
	if !sp.Likely {
		t.Fatalf("Likely = false; want true (%+v)", sp)
	}
	if math.Abs(sp.Probability-0.9) > 1e-9 {
		t.Fatalf("Probability = %v; want 0.9", sp.Probability)
	}
	if sp.Direction != Rising {
		t.Fatalf("Direction = %v; want rising", sp.Direction)
	}
}

func TestPredictor_SpikeInsufficientData(t *testing.T) {
	p := New(nil)
	if sp := p.PredictSpike("GET /missing"); sp.Likely || sp.Probability != 0 {
		t.Fatalf("unknown route = %+v; want zero prediction", sp)
	}
	for range 4 {
		p.Ingest([]traffic.RouteStats{route(100, 0, 0, 0)})
	}
	if sp := p.PredictSpike("GET /api/x"); sp.Reason != "insufficient data" {
		t.Fatalf("Reason = %q; want insufficient data", sp.Reason)
	}
}

func TestPredictor_StableTrafficNotLikely(t *testing.T) {
	p := New(nil)
	for range 20 {
		p.Ingest([]traffic.RouteStats{route(5, 10*time.Millisecond, 0, 0.5)})
	}
	sp := p.PredictSpike("GET /api/x")
	if sp.Likely || sp.Probability != 0 {
		t.Fatalf("stable traffic prediction = %+v; want not likely", sp)
	}
	if sp.Reason != "stable traffic pattern" {
		t.Fatalf("Reason = %q", sp.Reason)
	}
}

func TestPredictor_PredictRPSBlend(t *testing.T) {
	p := New(nil)
	if _, ok := p.PredictRPS("GET /api/x", Steps30s); ok {
		t.Fatal("PredictRPS on unknown route should report !ok")
	}

	for range 10 {
		p.Ingest([]traffic.RouteStats{route(5, 50*time.Millisecond, 0, 0.5)})
	}
	got, ok := p.PredictRPS("GET /api/x", Steps30s)
	if !ok || math.Abs(got-5) > 1e-9 {
		t.Fatalf("PredictRPS = %v, %v; want 5, true", got, ok)
	}
	lat, ok := p.PredictLatency("GET /api/x", Steps30s)
	if !ok || lat < 49*time.Millisecond || lat > 51*time.Millisecond {
		t.Fatalf("PredictLatency = %v, %v; want ~50ms", lat, ok)
	}
}

func TestPredictor_PredictionsNeverNegative(t *testing.T) {
	p := New(nil)
	for i := 10; i >= 0; i-- {
		p.Ingest([]traffic.RouteStats{route(float64(i), time.Duration(i)*time.Millisecond, 0, 0)})
	}
	if got, _ := p.PredictRPS("GET /api/x", Steps60s); got < 0 {
		t.Fatalf("PredictRPS = %v; want >= 0", got)
	}
	if got, _ := p.PredictLatency("GET /api/x", Steps60s); got < 0 {
		t.Fatalf("PredictLatency = %v; want >= 0", got)
	}
}

func TestPredictor_RecommendStrategy(t *testing.T) {
	tests := []struct {
		name  string
		stats traffic.RouteStats
		want  Strategy
	}{
		{"cache friendly", route(10, 5*time.Millisecond, 0, 0.3), StrategyCache},
		{"latency heavy", route(0.5, 300*time.Millisecond, 0.2, 0.1), StrategyAsyncPriority},
		{"hot with errors", route(10, 5*time.Millisecond, 0.2, 0.8), StrategyPrecompile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(nil)
			for range 30 {
				p.Ingest([]traffic.RouteStats{tt.stats})
			}
			rec := p.RecommendStrategy("GET /api/x")
			if rec.Strategy != tt.want {
				t.Fatalf("Strategy = %v; want %v (scores %v)", rec.Strategy, tt.want, rec.Scores)
			}
			if rec.Confidence < 0 || rec.Confidence > 1 {
				t.Fatalf("Confidence = %v; want within [0,1]", rec.Confidence)
			}
			if rec.Observations != 90 {
				t.Fatalf("Observations = %d; want 90", rec.Observations)
			}
		})
	}

	p := New(nil)
	if rec := p.RecommendStrategy("GET /none"); rec.Strategy != StrategyDefault || rec.Confidence != 0 {
		t.Fatalf("unknown route = %+v; want default, 0", rec)
	}
}

func TestPredictor_ObserveOncePerGeneration(t *testing.T) {
	src := &fakeSource{gen: 1, routes: []traffic.RouteStats{route(1, time.Millisecond, 0, 0.5)}}
	p := New(src)

	if !p.Observe() {
		t.Fatal("first Observe should ingest")
	}
	if p.Observe() {
		t.Fatal("Observe without a new generation should not ingest")
	}
	src.gen = 2
	if !p.Observe() {
		t.Fatal("Observe after a new generation should ingest")
	}
	if got := p.Stats().Updates; got != 2 {
		t.Fatalf("Updates = %d; want 2", got)
	}
	if src.refreshes != 3 {
		t.Fatalf("refreshes = %d; want 3", src.refreshes)
	}
}

func TestPredictor_FullReport(t *testing.T) {
	src := &fakeSource{globalRPS: 12.3456}
	p := New(src)
	for _, rps := range []float64{1, 2, 4, 8, 16} {
		src.routes = []traffic.RouteStats{
			route(rps, time.Duration(rps)*time.Millisecond, 0, 0.6),
			{Method: "POST", Path: "/flat", RequestsPerSecond: 1},
		}
		p.Update()
	}

	rep := p.FullReport()
	if len(rep.Routes) != 2 {
		t.Fatalf("len(Routes) = %d; want 2", len(rep.Routes))
	}
	if rep.Routes[0].Route != "GET /api/x" || rep.Routes[1].Route != "POST /flat" {
		t.Fatalf("routes not sorted: %s, %s", rep.Routes[0].Route, rep.Routes[1].Route)
	}
	if rep.Global.CurrentRPS != 12.35 {
		t.Fatalf("CurrentRPS = %v; want 12.35", rep.Global.CurrentRPS)
	}
	if rep.Global.RoutesWithRisingTraffic != 1 {
		t.Fatalf("RoutesWithRisingTraffic = %d; want 1", rep.Global.RoutesWithRisingTraffic)
	}
	x := rep.Routes[0]
	if x.PredictedRPS60s <= x.PredictedRPS30s {
		t.Fatalf("rising route: 60s forecast %v should exceed 30s forecast %v", x.PredictedRPS60s, x.PredictedRPS30s)
	}
	if !x.Spike.Likely {
		t.Fatal("expected spike warning on rising route")
	}
}

func TestPredictor_Reset(t *testing.T) {
	p := New(nil)
	p.Ingest([]traffic.RouteStats{route(1, 0, 0, 0)})
	p.Reset()
	if got := p.Stats(); got.TrackedRoutes != 0 || got.Updates != 0 {
		t.Fatalf("Stats after Reset = %+v", got)
	}
}
