package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/revittco/sare/internal/sare"
)

const sampleYAML = `
sare:
  optimize_interval: 15s
  cache_default_ttl: 45s
  hot_route_slots: 5
  predictor_enabled: false
  auto_memoize: true
  auto_memoize_rps: 2.5
  redact_headers: [x-session]
routes:
  - route: GET /items/{id}
    ttl: 2m
  - route: GET /health
middleware:
  - name: request_id
  - name: cors
    origins: [https://example.com]
  - name: rate_limit
    rps: 100
    burst: 20
archive:
  dsn: /tmp/sare.db
  retention: 168h
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(cfg.Routes) != 2 {
		t.Fatalf("got %d routes, want 2", len(cfg.Routes))
	}
	if cfg.Routes[0].TTL.Std() != 2*time.Minute {
		t.Errorf("route ttl = %v, want 2m", cfg.Routes[0].TTL.Std())
	}
	if cfg.Routes[1].TTL != 0 {
		t.Errorf("unset ttl = %v, want 0", cfg.Routes[1].TTL.Std())
	}
	if cfg.Archive.DSN != "/tmp/sare.db" || cfg.Archive.Retention.Std() != 168*time.Hour {
		t.Errorf("archive = %+v", cfg.Archive)
	}
}

func TestOptions_Overlay(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	o := cfg.Options()
	def := sare.DefaultOptions()

	if o.OptimizeInterval != 15*time.Second {
		t.Errorf("OptimizeInterval = %v", o.OptimizeInterval)
	}
	if o.CacheDefaultTTL != 45*time.Second {
		t.Errorf("CacheDefaultTTL = %v", o.CacheDefaultTTL)
	}
	if o.HotRouteSlots != 5 {
		t.Errorf("HotRouteSlots = %d", o.HotRouteSlots)
	}
	if o.PredictorEnabled {
		t.Error("PredictorEnabled should be false")
	}
	if !o.AutoMemoize || o.AutoMemoizeRPS != 2.5 {
		t.Errorf("auto memoize = %v/%v", o.AutoMemoize, o.AutoMemoizeRPS)
	}
	if len(o.RedactHeaders) != 1 || o.RedactHeaders[0] != "x-session" {
		t.Errorf("RedactHeaders = %v", o.RedactHeaders)
	}
	// Untouched fields keep their defaults.
	if o.SnapshotInterval != def.SnapshotInterval || o.WindowSize != def.WindowSize {
		t.Errorf("defaults not kept: %v %d", o.SnapshotInterval, o.WindowSize)
	}
	if o.RouteCaching != def.RouteCaching || o.EWMAAlpha != def.EWMAAlpha {
		t.Error("defaults not kept for bool/float fields")
	}
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse([]byte(""))
	if err != nil {
		t.Fatalf("parse empty: %v", err)
	}
	o := cfg.Options()
	def := sare.DefaultOptions()
	if o.OptimizeInterval != def.OptimizeInterval || o.CacheMaxSize != def.CacheMaxSize {
		t.Errorf("empty config should yield defaults, got %+v", o)
	}
	if len(cfg.Pipeline()) != 0 {
		t.Error("empty config should have no middleware")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	_, err := Parse([]byte("sare: [unclosed"))
	if err == nil {
		t.Fatal("expected parse error")
	}
	if !strings.Contains(err.Error(), "parse yaml") {
		t.Errorf("error = %v", err)
	}
}

func TestParse_BadDuration(t *testing.T) {
	_, err := Parse([]byte("sare:\n  optimize_interval: soon\n"))
	if err == nil {
		t.Fatal("expected duration error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"engine option", "sare:\n  window_size: 0\n", "sare: "},
		{"reorder threshold", "sare:\n  reorder_threshold: 2\n", "sare: "},
		{"route without method", "routes:\n  - route: /items\n", "invalid route"},
		{"route with POST", "routes:\n  - route: POST /items\n", "must be GET or HEAD"},
		{"duplicate route", "routes:\n  - route: GET /a\n  - route: GET /a\n", "duplicate route"},
		{"negative ttl", "routes:\n  - route: GET /a\n    ttl: -1s\n", "ttl must not be negative"},
		{"unknown middleware", "middleware:\n  - name: gzip\n", "unknown middleware"},
		{"unnamed middleware", "middleware:\n  - rps: 1\n", "name is required"},
		{"rate limit rps", "middleware:\n  - name: rate_limit\n", "rps must be positive"},
		{"duplicate middleware", "middleware:\n  - name: cors\n  - name: cors\n", "duplicate middleware"},
		{"negative retention", "archive:\n  retention: -1h\n", "retention must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("error type = %T, want *ValidationError", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	_, err := Parse([]byte("routes:\n  - route: bad\nmiddleware:\n  - name: gzip\n"))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("error type = %T", err)
	}
	if len(ve.Errors) != 2 {
		t.Errorf("got %d errors, want 2: %v", len(ve.Errors), ve.Errors)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sare.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.Middleware) != 3 {
		t.Errorf("got %d middleware, want 3", len(cfg.Middleware))
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestPipeline(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	mws := cfg.Pipeline()
	want := []string{"request_id", "cors", "rate_limit"}
	if len(mws) != len(want) {
		t.Fatalf("got %d middleware, want %d", len(mws), len(want))
	}
	for i, m := range mws {
		if m.Name != want[i] {
			t.Errorf("middleware[%d] = %q, want %q", i, m.Name, want[i])
		}
	}
}

func TestApply_PinsRoutes(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatal(err)
	}
	e, err := sare.New(cfg.Options())
	if err != nil {
		t.Fatal(err)
	}
	cfg.Apply(e)

	cp := e.CodePath()
	if !cp.IsMemoized("GET /items/{id}") || !cp.IsMemoized("GET /health") {
		t.Fatalf("memoized = %v", cp.MemoizedRoutes())
	}
	if got := cp.RouteTTL("GET /items/{id}"); got != 2*time.Minute {
		t.Errorf("ttl = %v, want 2m", got)
	}
	if got := cp.RouteTTL("GET /health"); got != 45*time.Second {
		t.Errorf("default ttl = %v, want 45s", got)
	}
}

func TestDefault_RoundTrip(t *testing.T) {
	data, err := Marshal(Default())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "optimize_interval: 10s") {
		t.Errorf("durations should marshal as strings:\n%s", data)
	}
	cfg, err := Parse(data)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	o, def := cfg.Options(), sare.DefaultOptions()
	if o.OptimizeInterval != def.OptimizeInterval || o.AutoMemoizeMinRequests != def.AutoMemoizeMinRequests {
		t.Errorf("round trip changed options: %+v", o)
	}
}
