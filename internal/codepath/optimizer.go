package codepath

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/revittco/sare/internal/cache"
)

// Defaults for Config.
const (
	DefaultCacheMaxSize = 500
	DefaultCacheTTL     = 30 * time.Second
)

// Config sizes the response cache and template store.
type Config struct {
	CacheMaxSize    int
	CacheDefaultTTL time.Duration
	MaxTemplates    int
}

// Stats are code path counters.
type Stats struct {
	MemoizedRoutes    int          `json:"memoized_routes"`
	PreencodedRoutes  int          `json:"preencoded_routes"`
	TotalRequestsSeen int64        `json:"total_requests_seen"`
	CacheBypasses     int64        `json:"cache_bypasses"`
	CacheHits         int64        `json:"cache_hits"`
	FastEncodes       int64        `json:"fast_encodes"`
	DefaultTTL        string       `json:"default_ttl"`
	ResponseCache     cache.Stats  `json:"response_cache"`
	Encoder           EncoderStats `json:"json_encoder"`
}

// Optimizer owns the response cache and the JSON pre-encoder. Which
// routes participate is decided by the caller through the Enable and
// Disable methods; request handling only reads that state.
type Optimizer struct {
	responses *cache.Cache[string, CachedResponse]
	encoder   *PreEncoder
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.RWMutex
	memoized   map[string]struct{}
	preencoded map[string]struct{}
	ttls       map[string]time.Duration

	requests    atomic.Int64
	bypasses    atomic.Int64
	hits        atomic.Int64
	fastEncodes atomic.Int64
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock overrides the time source for cache expiry.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an Optimizer. Zero Config fields take their defaults.
func New(cfg Config, opts ...Option) *Optimizer {
	if cfg.CacheMaxSize <= 0 {
		cfg.CacheMaxSize = DefaultCacheMaxSize
	}
	if cfg.CacheDefaultTTL <= 0 {
		cfg.CacheDefaultTTL = DefaultCacheTTL
	}
	o := &Optimizer{
		now:        time.Now,
		logger:     slog.Default(),
		memoized:   make(map[string]struct{}),
		preencoded: make(map[string]struct{}),
		ttls:       make(map[string]time.Duration),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.responses = cache.New[string, CachedResponse](cfg.CacheMaxSize, cfg.CacheDefaultTTL, cache.WithClock(o.now))
	o.encoder = NewPreEncoder(cfg.MaxTemplates)
	return o
}

// EnableMemoization opts route into response caching. A positive ttl
// overrides the cache default for that route.
func (o *Optimizer) EnableMemoization(route string, ttl time.Duration) {
	o.mu.Lock()
	o.memoized[route] = struct{}{}
	if ttl > 0 {
		o.ttls[route] = ttl
	} else {
		ttl = o.ttlLocked(route)
	}
	o.mu.Unlock()

	o.logger.Info("memoization enabled", "route", route, "ttl", ttl)
}

// DisableMemoization opts route out and drops its cached entries.
func (o *Optimizer) DisableMemoization(route string) {
	o.mu.Lock()
	delete(o.memoized, route)
	delete(o.ttls, route)
	o.mu.Unlock()

	prefix := route + ":"
	n := o.responses.InvalidateFunc(func(k string) bool { return strings.HasPrefix(k, prefix) })
	o.logger.Info("memoization disabled", "route", route, "invalidated", n)
}

// EnablePreencoding opts route into structure learning and fast encoding.
func (o *Optimizer) EnablePreencoding(route string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.preencoded[route] = struct{}{}
}

// DisablePreencoding opts route out and forgets its template.
func (o *Optimizer) DisablePreencoding(route string) {
	o.mu.Lock()
	delete(o.preencoded, route)
	o.mu.Unlock()
	o.encoder.Forget(route)
}

// IsMemoized reports whether route participates in response caching.
func (o *Optimizer) IsMemoized(route string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.memoized[route]
	return ok
}

// IsPreencoded reports whether route participates in fast encoding.
func (o *Optimizer) IsPreencoded(route string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.preencoded[route]
	return ok
}

// MemoizedRoutes returns the memoized route IDs, sorted.
func (o *Optimizer) MemoizedRoutes() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedKeys(o.memoized)
}

// PreencodedRoutes returns the pre-encoded route IDs, sorted.
func (o *Optimizer) PreencodedRoutes() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return sortedKeys(o.preencoded)
}

// RouteTTL returns the TTL applied to route's cached responses.
func (o *Optimizer) RouteTTL(route string) time.Duration {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.ttlLocked(route)
}

func (o *Optimizer) ttlLocked(route string) time.Duration {
	if ttl, ok := o.ttls[route]; ok {
		return ttl
	}
	return o.responses.DefaultTTL()
}

// TryCacheHit looks up a memoized response. Only GET and HEAD requests
// on memoized routes are eligible.
func (o *Optimizer) TryCacheHit(route, method, path, query string) (CachedResponse, bool) {
	o.requests.Add(1)
	if !cacheableMethod(method) || !o.IsMemoized(route) {
		o.bypasses.Add(1)
		return CachedResponse{}, false
	}

	resp, ok := o.responses.Get(entryKey(route, method, path, query))
	if !ok {
		return CachedResponse{}, false
	}
	o.hits.Add(1)
	o.logger.Debug("response cache hit", "route", route, "path", path)
	return resp.Clone(), true
}

// StoreResponse memoizes resp if route is memoized and the method is
// cacheable. It reports whether the response was stored.
func (o *Optimizer) StoreResponse(route, method, path, query string, resp CachedResponse) bool {
	if !cacheableMethod(method) {
		return false
	}
	o.mu.RLock()
	_, ok := o.memoized[route]
	ttl := o.ttlLocked(route)
	o.mu.RUnlock()
	if !ok {
		return false
	}

	resp = resp.Clone()
	if resp.StoredAt.IsZero() {
		resp.StoredAt = o.now()
	}
	o.responses.SetWithTTL(entryKey(route, method, path, query), resp, ttl)
	return true
}

// Learn feeds a decoded JSON object to the structure learner when route
// is pre-encoded. It reports whether the structure was consistent.
func (o *Optimizer) Learn(route string, data map[string]any) bool {
	if !o.IsPreencoded(route) {
		return false
	}
	return o.encoder.LearnStructure(route, data)
}

// TryFastEncode learns data's structure and, when it matches the
// route's template, encodes it without the general-purpose encoder. It
// is meant for payloads about to be sent; each success is counted as a
// fast encode.
func (o *Optimizer) TryFastEncode(route string, data map[string]any) ([]byte, bool) {
	if data == nil || !o.IsPreencoded(route) {
		return nil, false
	}
	if !o.encoder.LearnStructure(route, data) {
		return nil, false
	}
	b, ok := o.encoder.FastEncode(route, data)
	if ok {
		o.fastEncodes.Add(1)
	}
	return b, ok
}

// Cleanup evicts expired cache entries and reports how many were removed.
func (o *Optimizer) Cleanup() int {
	return o.responses.EvictExpired()
}

// FlushCache drops every cached response while keeping route opt-ins.
func (o *Optimizer) FlushCache() {
	o.responses.Flush()
}

// Reset drops every opt-in, cached response, template and counter.
func (o *Optimizer) Reset() {
	o.mu.Lock()
	o.memoized = make(map[string]struct{})
	o.preencoded = make(map[string]struct{})
	o.ttls = make(map[string]time.Duration)
	o.mu.Unlock()

	o.responses.Flush()
	o.responses.ResetStats()
	o.encoder.Reset()
	o.requests.Store(0)
	o.bypasses.Store(0)
	o.hits.Store(0)
	o.fastEncodes.Store(0)
}

// Stats returns code path counters.
func (o *Optimizer) Stats() Stats {
	o.mu.RLock()
	memo, pre := len(o.memoized), len(o.preencoded)
	o.mu.RUnlock()

	return Stats{
		MemoizedRoutes:    memo,
		PreencodedRoutes:  pre,
		TotalRequestsSeen: o.requests.Load(),
		CacheBypasses:     o.bypasses.Load(),
		CacheHits:         o.hits.Load(),
		FastEncodes:       o.fastEncodes.Load(),
		DefaultTTL:        o.responses.DefaultTTL().String(),
		ResponseCache:     o.responses.Stats(),
		Encoder:           o.encoder.Stats(),
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
