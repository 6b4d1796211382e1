// Package config loads the sare.yaml file: engine tunables, pinned
// memoized routes, the host middleware pipeline and the archive.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/revittco/sare/internal/sare"
)

// FileConfig represents the top-level sare.yaml structure. Absent
// fields keep their defaults.
type FileConfig struct {
	SARE       engineConfig       `yaml:"sare"`
	Routes     []routeConfig      `yaml:"routes,omitempty"`
	Middleware []middlewareConfig `yaml:"middleware,omitempty"`
	Archive    archiveConfig      `yaml:"archive,omitempty"`
}

type engineConfig struct {
	OptimizeInterval       *Duration `yaml:"optimize_interval,omitempty"`
	SnapshotInterval       *Duration `yaml:"snapshot_interval,omitempty"`
	WindowSize             *int      `yaml:"window_size,omitempty"`
	CacheMaxSize           *int      `yaml:"cache_max_size,omitempty"`
	CacheDefaultTTL        *Duration `yaml:"cache_default_ttl,omitempty"`
	MaxJSONTemplates       *int      `yaml:"max_json_templates,omitempty"`
	HotRouteSlots          *int      `yaml:"hot_route_slots,omitempty"`
	RouteCaching           *bool     `yaml:"route_caching,omitempty"`
	MiddlewareReorder      *bool     `yaml:"middleware_reorder,omitempty"`
	ReorderThreshold       *float64  `yaml:"reorder_threshold,omitempty"`
	PredictorEnabled       *bool     `yaml:"predictor_enabled,omitempty"`
	SpikeZThreshold        *float64  `yaml:"spike_z_threshold,omitempty"`
	EWMAAlpha              *float64  `yaml:"ewma_alpha,omitempty"`
	AutoMemoize            *bool     `yaml:"auto_memoize,omitempty"`
	AutoMemoizeRPS         *float64  `yaml:"auto_memoize_rps,omitempty"`
	AutoMemoizeErrorRate   *float64  `yaml:"auto_memoize_error_rate,omitempty"`
	AutoMemoizeMinRequests *int64    `yaml:"auto_memoize_min_requests,omitempty"`
	RedactHeaders          []string  `yaml:"redact_headers,omitempty"`
}

// routeConfig pins a route into memoization. A zero TTL uses the cache
// default.
type routeConfig struct {
	Route string   `yaml:"route"`
	TTL   Duration `yaml:"ttl,omitempty"`
}

type middlewareConfig struct {
	Name    string   `yaml:"name"`
	RPS     float64  `yaml:"rps,omitempty"`
	Burst   int      `yaml:"burst,omitempty"`
	Origins []string `yaml:"origins,omitempty"`
	Label   string   `yaml:"label,omitempty"`
}

type archiveConfig struct {
	DSN       string   `yaml:"dsn,omitempty"`
	Retention Duration `yaml:"retention,omitempty"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// LoadFile reads, parses, and validates a YAML config file.
func LoadFile(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data.
func Parse(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a config with every engine option spelled out at its
// default value.
func Default() *FileConfig {
	o := sare.DefaultOptions()
	return &FileConfig{
		SARE: engineConfig{
			OptimizeInterval:       ptr(Duration(o.OptimizeInterval)),
			SnapshotInterval:       ptr(Duration(o.SnapshotInterval)),
			WindowSize:             ptr(o.WindowSize),
			CacheMaxSize:           ptr(o.CacheMaxSize),
			CacheDefaultTTL:        ptr(Duration(o.CacheDefaultTTL)),
			MaxJSONTemplates:       ptr(o.MaxJSONTemplates),
			HotRouteSlots:          ptr(o.HotRouteSlots),
			RouteCaching:           ptr(o.RouteCaching),
			MiddlewareReorder:      ptr(o.MiddlewareReorder),
			ReorderThreshold:       ptr(o.ReorderThreshold),
			PredictorEnabled:       ptr(o.PredictorEnabled),
			SpikeZThreshold:        ptr(o.SpikeZThreshold),
			EWMAAlpha:              ptr(o.EWMAAlpha),
			AutoMemoize:            ptr(o.AutoMemoize),
			AutoMemoizeRPS:         ptr(o.AutoMemoizeRPS),
			AutoMemoizeErrorRate:   ptr(o.AutoMemoizeErrorRate),
			AutoMemoizeMinRequests: ptr(o.AutoMemoizeMinRequests),
			RedactHeaders:          o.RedactHeaders,
		},
		Middleware: []middlewareConfig{{Name: "request_id"}},
	}
}

// Marshal encodes cfg as YAML.
func Marshal(cfg *FileConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

// Options overlays the file's engine settings on sare.DefaultOptions.
func (c *FileConfig) Options() sare.Options {
	o := sare.DefaultOptions()
	s := c.SARE
	setDuration(&o.OptimizeInterval, s.OptimizeInterval)
	setDuration(&o.SnapshotInterval, s.SnapshotInterval)
	setDuration(&o.CacheDefaultTTL, s.CacheDefaultTTL)
	set(&o.WindowSize, s.WindowSize)
	set(&o.CacheMaxSize, s.CacheMaxSize)
	set(&o.MaxJSONTemplates, s.MaxJSONTemplates)
	set(&o.HotRouteSlots, s.HotRouteSlots)
	set(&o.RouteCaching, s.RouteCaching)
	set(&o.MiddlewareReorder, s.MiddlewareReorder)
	set(&o.ReorderThreshold, s.ReorderThreshold)
	set(&o.PredictorEnabled, s.PredictorEnabled)
	set(&o.SpikeZThreshold, s.SpikeZThreshold)
	set(&o.EWMAAlpha, s.EWMAAlpha)
	set(&o.AutoMemoize, s.AutoMemoize)
	set(&o.AutoMemoizeRPS, s.AutoMemoizeRPS)
	set(&o.AutoMemoizeErrorRate, s.AutoMemoizeErrorRate)
	set(&o.AutoMemoizeMinRequests, s.AutoMemoizeMinRequests)
	if s.RedactHeaders != nil {
		o.RedactHeaders = s.RedactHeaders
	}
	return o
}

// Apply pins the configured routes into memoization.
func (c *FileConfig) Apply(e *sare.Engine) {
	for _, r := range c.Routes {
		e.Memoize(r.Route, r.TTL.Std())
	}
}

// Pipeline builds the configured host middleware in file order.
func (c *FileConfig) Pipeline() []sare.Middleware {
	out := make([]sare.Middleware, 0, len(c.Middleware))
	for _, m := range c.Middleware {
		switch m.Name {
		case mwRequestID:
			out = append(out, sare.RequestID())
		case mwCORS:
			out = append(out, sare.CORS(m.Origins...))
		case mwRateLimit:
			out = append(out, sare.RateLimit(m.RPS, m.Burst))
		case mwServerTiming:
			out = append(out, sare.Timing(m.Label))
		}
	}
	return out
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *Duration) {
	if v != nil {
		*dst = v.Std()
	}
}

func ptr[T any](v T) *T { return &v }
