package sare

import (
	"fmt"
	"strings"
	"time"

	"github.com/revittco/sare/internal/codepath"
	"github.com/revittco/sare/internal/optimizer"
	"github.com/revittco/sare/internal/predictor"
	"github.com/revittco/sare/internal/traffic"
)

// Options configures an Engine. Start from DefaultOptions.
type Options struct {
	OptimizeInterval time.Duration
	SnapshotInterval time.Duration
	WindowSize       int

	CacheMaxSize     int
	CacheDefaultTTL  time.Duration
	MaxJSONTemplates int

	HotRouteSlots     int
	RouteCaching      bool
	MiddlewareReorder bool
	ReorderThreshold  float64

	PredictorEnabled bool
	SpikeZThreshold  float64
	EWMAAlpha        float64

	AutoMemoize            bool
	AutoMemoizeRPS         float64
	AutoMemoizeErrorRate   float64
	AutoMemoizeMinRequests int64

	// RedactHeaders are extra header name substrings stripped from
	// responses before they are memoized, on top of the built-in
	// credential and cookie patterns.
	RedactHeaders []string
}

// DefaultOptions returns the default engine configuration.
func DefaultOptions() Options {
	return Options{
		OptimizeInterval:       optimizer.DefaultInterval,
		SnapshotInterval:       traffic.DefaultSnapshotInterval,
		WindowSize:             traffic.DefaultWindowSize,
		CacheMaxSize:           codepath.DefaultCacheMaxSize,
		CacheDefaultTTL:        codepath.DefaultCacheTTL,
		MaxJSONTemplates:       codepath.DefaultMaxTemplates,
		HotRouteSlots:          optimizer.DefaultHotRouteSlots,
		RouteCaching:           true,
		MiddlewareReorder:      true,
		ReorderThreshold:       optimizer.DefaultReorderThreshold,
		PredictorEnabled:       true,
		SpikeZThreshold:        predictor.DefaultSpikeThreshold,
		EWMAAlpha:              predictor.DefaultAlpha,
		AutoMemoize:            true,
		AutoMemoizeRPS:         5.0,
		AutoMemoizeErrorRate:   0.02,
		AutoMemoizeMinRequests: 50,
		RedactHeaders:          []string{"request-id"},
	}
}

// ValidationError holds all option validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid sare options: %s", strings.Join(e.Errors, "; "))
}

// Validate checks every option and reports all failures at once.
func (o Options) Validate() error {
	var errs []string
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Sprintf("%s must be positive, got %s", name, d))
		}
	}
	atLeastOne := func(name string, n int) {
		if n < 1 {
			errs = append(errs, fmt.Sprintf("%s must be at least 1, got %d", name, n))
		}
	}
	unit := func(name string, v float64, openLow bool) {
		if v > 1 || v < 0 || (openLow && v == 0) {
			lo := "["
			if openLow {
				lo = "("
			}
			errs = append(errs, fmt.Sprintf("%s must be in %s0, 1], got %g", name, lo, v))
		}
	}

	positive("optimize_interval", o.OptimizeInterval)
	positive("snapshot_interval", o.SnapshotInterval)
	positive("cache_default_ttl", o.CacheDefaultTTL)
	atLeastOne("window_size", o.WindowSize)
	atLeastOne("cache_max_size", o.CacheMaxSize)
	atLeastOne("max_json_templates", o.MaxJSONTemplates)
	atLeastOne("hot_route_slots", o.HotRouteSlots)
	unit("reorder_threshold", o.ReorderThreshold, true)
	unit("ewma_alpha", o.EWMAAlpha, true)
	unit("auto_memoize_error_rate", o.AutoMemoizeErrorRate, false)
	if !(o.SpikeZThreshold > 0) {
		errs = append(errs, fmt.Sprintf("spike_z_threshold must be positive, got %g", o.SpikeZThreshold))
	}
	if !(o.AutoMemoizeRPS >= 0) {
		errs = append(errs, fmt.Sprintf("auto_memoize_rps must not be negative, got %g", o.AutoMemoizeRPS))
	}
	if o.AutoMemoizeMinRequests < 0 {
		errs = append(errs, fmt.Sprintf("auto_memoize_min_requests must not be negative, got %d", o.AutoMemoizeMinRequests))
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}
