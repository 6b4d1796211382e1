package sare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheHeader is set on responses served from the response cache.
const CacheHeader = "X-Sare-Cache"

// UnmatchedPattern is the route pattern recorded for requests a
// ServeMux has no route for, so stray paths cannot grow the route table.
const UnmatchedPattern = "(unmatched)"

// Middleware is a named pipeline stage. Before runs ahead of the
// handler and may replace the request; returning false means it wrote a
// response itself and the pipeline stops there. After runs once the
// handler has produced a response, in reverse pipeline order, and may
// edit the buffered response. Either half may be nil.
type Middleware struct {
	Name   string
	Before func(w http.ResponseWriter, r *http.Request) (*http.Request, bool)
	After  func(r *http.Request, rec *Recorder)
}

// Recorder buffers a response so it can be inspected, memoized and
// edited by after-hooks before it is written to the client.
type Recorder struct {
	header      http.Header
	status      int
	wroteHeader bool
	body        bytes.Buffer
}

func newRecorder() *Recorder {
	return &Recorder{header: make(http.Header), status: http.StatusOK}
}

func (r *Recorder) Header() http.Header { return r.header }

func (r *Recorder) WriteHeader(status int) {
	if r.wroteHeader {
		return
	}
	r.status = status
	r.wroteHeader = true
}

func (r *Recorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.body.Write(b)
}

// Status returns the recorded status code.
func (r *Recorder) Status() int { return r.status }

// Body returns the buffered body.
func (r *Recorder) Body() []byte { return r.body.Bytes() }

func (r *Recorder) flush(w http.ResponseWriter) {
	dst := w.Header()
	for k, vs := range r.header {
		dst[k] = vs
	}
	w.WriteHeader(r.status)
	w.Write(r.body.Bytes()) //nolint:errcheck
}

type routeContextKey struct{}

// routeContext rides on requests inside a Handler so WriteJSON can
// reach the engine. encoded is set once WriteJSON produced the body.
type routeContext struct {
	engine  *Engine
	route   string
	encoded bool
}

// WriteJSON writes v as a JSON response. Behind a Handler, successful
// responses are encoded with Engine.EncodeJSON, so pre-encoded routes
// are served from their learned template; elsewhere it is json.Marshal.
func WriteJSON(w http.ResponseWriter, r *http.Request, status int, v map[string]any) error {
	rc, _ := r.Context().Value(routeContextKey{}).(*routeContext)

	var b []byte
	var err error
	if rc != nil && status < http.StatusBadRequest {
		b, err = rc.engine.EncodeJSON(rc.route, v)
		rc.encoded = err == nil
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(b)
	return err
}

// Handler adapts an Engine to net/http. It serves memoized responses,
// runs the named middleware in the optimizer's recommended order while
// timing each half, and reports completed requests. Responses are
// buffered, so streaming handlers are not supported.
type Handler struct {
	engine  *Engine
	next    http.Handler
	pattern func(*http.Request) string
	logger  *slog.Logger

	registered []Middleware

	mu      sync.RWMutex
	order   []Middleware
	applied uint64
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPatternFunc sets how a request's route pattern is resolved. By
// default a *http.ServeMux is asked for its matching pattern and any
// other handler falls back to the request path.
func WithPatternFunc(fn func(*http.Request) string) HandlerOption {
	return func(h *Handler) {
		if fn != nil {
			h.pattern = fn
		}
	}
}

// WithMiddleware appends pipeline stages in registration order.
func WithMiddleware(mws ...Middleware) HandlerOption {
	return func(h *Handler) { h.registered = append(h.registered, mws...) }
}

// NewHandler wraps next.
func NewHandler(e *Engine, next http.Handler, opts ...HandlerOption) *Handler {
	h := &Handler{
		engine: e,
		next:   next,
		logger: e.logger,
	}
	h.pattern = defaultPattern(next)
	for _, o := range opts {
		o(h)
	}
	h.order = slices.Clone(h.registered)
	return h
}

// Wrap is shorthand for NewHandler(e, next, WithMiddleware(mws...)).
func (e *Engine) Wrap(next http.Handler, mws ...Middleware) *Handler {
	return NewHandler(e, next, WithMiddleware(mws...))
}

func defaultPattern(next http.Handler) func(*http.Request) string {
	mux, ok := next.(*http.ServeMux)
	if !ok {
		return func(r *http.Request) string { return r.URL.Path }
	}
	return func(r *http.Request) string {
		_, p := mux.Handler(r)
		if p == "" {
			return UnmatchedPattern
		}
		return stripPattern(p)
	}
}

// stripPattern removes the method and host parts of a ServeMux pattern.
func stripPattern(p string) string {
	if i := strings.IndexByte(p, ' '); i >= 0 {
		p = strings.TrimLeft(p[i+1:], " ")
	}
	if i := strings.IndexByte(p, '/'); i > 0 {
		p = p[i:]
	}
	return p
}

// Order returns the names of the middleware in execution order.
func (h *Handler) Order() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.order))
	for i, m := range h.order {
		names[i] = m.Name
	}
	return names
}

// pipeline returns the current execution order, rebuilding it when
// the optimizer's order version has moved past the one this handler
// applied. Several handlers may share one engine.
func (h *Handler) pipeline() []Middleware {
	v := h.engine.Optimizer().OrderVersion()
	h.mu.RLock()
	stale := v != h.applied
	order := h.order
	h.mu.RUnlock()
	if stale {
		order = h.applyOrder(h.engine.OptimizedMiddlewareOrder(), v)
	}
	return order
}

// applyOrder sorts the registered middleware by their position in
// optimal. Middleware the optimizer has not ranked keep their
// registration order after the ranked ones.
func (h *Handler) applyOrder(optimal []string, version uint64) []Middleware {
	pos := make(map[string]int, len(optimal))
	for i, name := range optimal {
		pos[name] = i
	}
	next := slices.Clone(h.registered)
	rank := func(m Middleware) int {
		if p, ok := pos[m.Name]; ok {
			return p
		}
		return len(optimal)
	}
	sort.SliceStable(next, func(i, j int) bool { return rank(next[i]) < rank(next[j]) })

	h.mu.Lock()
	h.order = next
	h.applied = version
	h.mu.Unlock()
	h.logger.Info("middleware pipeline reordered", "order", h.Order())
	return next
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	req := Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Pattern: h.pattern(r),
		Query:   r.URL.RawQuery,
	}

	if cached, ok := h.engine.BeforeRequest(req); ok {
		dst := w.Header()
		for k, vs := range cached.Header {
			dst[k] = vs
		}
		if cached.ContentType != "" {
			dst.Set("Content-Type", cached.ContentType)
		}
		dst.Set(CacheHeader, "HIT")
		w.WriteHeader(cached.Status)
		if r.Method != http.MethodHead {
			w.Write(cached.Body) //nolint:errcheck
		}
		return
	}

	rc := &routeContext{engine: h.engine, route: req.RouteID()}
	r = r.WithContext(context.WithValue(r.Context(), routeContextKey{}, rc))

	rec := newRecorder()
	stages := h.pipeline()
	ran := 0
	for _, m := range stages {
		ran++
		if m.Before == nil {
			continue
		}
		t := time.Now()
		next, cont := m.Before(rec, r)
		h.engine.RecordMiddlewareTiming(m.Name, time.Since(t), !cont)
		if !cont {
			rec.flush(w)
			return
		}
		if next != nil {
			r = next
		}
	}

	if !h.serveNext(rec, r, req, start) {
		rec.flush(w)
		return
	}

	for i := ran - 1; i >= 0; i-- {
		m := stages[i]
		if m.After == nil {
			continue
		}
		t := time.Now()
		m.After(r, rec)
		h.engine.RecordMiddlewareTiming(m.Name, time.Since(t), false)
	}

	h.engine.AfterRequest(req, Response{
		Status:      rec.status,
		Header:      rec.header,
		ContentType: rec.header.Get("Content-Type"),
		Body:        rec.Body(),
		Encoded:     rc.encoded,
	}, time.Since(start))
	rec.flush(w)
}

// serveNext runs the wrapped handler. A panic is recorded as a 500 and
// reported as false.
func (h *Handler) serveNext(rec *Recorder, r *http.Request, req Request, start time.Time) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				panic(v)
			}
			h.logger.Error("handler panic",
				"method", req.Method, "path", req.Path, "panic", fmt.Sprint(v))
			h.engine.AfterRequest(req, Response{Status: http.StatusInternalServerError}, time.Since(start))

			rec.header = make(http.Header)
			rec.body.Reset()
			rec.status = http.StatusInternalServerError
			rec.header.Set("Content-Type", "text/plain; charset=utf-8")
			rec.body.WriteString(http.StatusText(http.StatusInternalServerError) + "\n")
			ok = false
		}
	}()
	h.next.ServeHTTP(rec, r)
	return true
}
