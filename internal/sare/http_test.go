package sare

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
)

func itemsMux(calls *atomic.Int64) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"` + r.PathValue("id") + `"}`))
	})
	mux.HandleFunc("GET /panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})
	return mux
}

func serve(h http.Handler, method, target string, hdr http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, vs := range hdr {
		req.Header[k] = vs
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_RecordsMuxPattern(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, newFakeClock(), nil)
	h := e.Wrap(itemsMux(&calls))

	serve(h, "GET", "/items/1", nil)
	serve(h, "GET", "/items/2", nil)
	if rec := serve(h, "GET", "/nope", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("GET /nope = %d; want 404", rec.Code)
	}

	rs, ok := e.Analyzer().Route("GET", "/items/{id}")
	if !ok || rs.TotalRequests != 2 {
		t.Fatalf("GET /items/{id} = %+v, %v; want 2 requests", rs, ok)
	}
	if _, ok := e.Analyzer().Route("GET", "/items/1"); ok {
		t.Fatal("concrete paths must not become route keys")
	}
	if rs, ok := e.Analyzer().Route("GET", UnmatchedPattern); !ok || rs.TotalErrors != 1 {
		t.Fatalf("unmatched = %+v, %v", rs, ok)
	}
}

func TestHandler_ServesFromCache(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, newFakeClock(), nil)
	e.Memoize("GET /items/{id}", 0)
	h := e.Wrap(itemsMux(&calls))

	first := serve(h, "GET", "/items/1", nil)
	if first.Header().Get(CacheHeader) != "" {
		t.Fatal("first response should not come from cache")
	}

	second := serve(h, "GET", "/items/1", nil)
	if second.Header().Get(CacheHeader) != "HIT" {
		t.Fatal("second response should be a cache hit")
	}
	if second.Body.String() != `{"id":"1"}` || second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("cached response = %q, %q", second.Body.String(), second.Header().Get("Content-Type"))
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d; want 1", calls.Load())
	}

	serve(h, "GET", "/items/2", nil)
	if calls.Load() != 2 {
		t.Fatalf("different path should miss, handler calls = %d", calls.Load())
	}
}

func TestHandler_ShortCircuitMiddleware(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, newFakeClock(), nil)
	h := e.Wrap(itemsMux(&calls), RateLimit(0.001, 1))

	if rec := serve(h, "GET", "/items/1", nil); rec.Code != http.StatusOK {
		t.Fatalf("first = %d; want 200", rec.Code)
	}
	rec := serve(h, "GET", "/items/1", nil)
	if rec.Code != http.StatusTooManyRequests || rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("second = %d; want 429 with Retry-After", rec.Code)
	}
	if calls.Load() != 1 {
		t.Fatalf("handler calls = %d; want 1", calls.Load())
	}

	var found bool
	for _, m := range e.Analyzer().Middleware() {
		if m.Name == "rate_limit" {
			found = true
			if m.TotalCalls != 2 || m.ShortCircuits != 1 {
				t.Fatalf("rate_limit stats = %+v", m)
			}
		}
	}
	if !found {
		t.Fatal("rate_limit timings were not recorded")
	}
	if rs, _ := e.Analyzer().Route("GET", "/items/{id}"); rs.TotalRequests != 1 {
		t.Fatalf("short-circuited requests should not be recorded, got %d", rs.TotalRequests)
	}
}

func TestHandler_RequestIDAndCORS(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, newFakeClock(), nil)
	h := e.Wrap(itemsMux(&calls), RequestID(), CORS("https://app.example"))

	rec := serve(h, "GET", "/items/1", http.Header{"Origin": {"https://app.example"}})
	if _, err := uuid.Parse(rec.Header().Get(RequestIDHeader)); err != nil {
		t.Fatalf("request id %q is not a uuid: %v", rec.Header().Get(RequestIDHeader), err)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("allow origin = %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	rec = serve(h, "GET", "/items/1", http.Header{RequestIDHeader: {"given"}, "Origin": {"https://evil.example"}})
	if rec.Header().Get(RequestIDHeader) != "given" {
		t.Fatalf("incoming request id not reused: %q", rec.Header().Get(RequestIDHeader))
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("unlisted origin must not be allowed")
	}

	before := calls.Load()
	rec = serve(h, "OPTIONS", "/items/1", http.Header{
		"Origin":                        {"https://app.example"},
		"Access-Control-Request-Method": {"GET"},
	})
	if rec.Code != http.StatusNoContent || calls.Load() != before {
		t.Fatalf("preflight = %d, handler calls +%d; want 204 and no handler call", rec.Code, calls.Load()-before)
	}
}

func TestHandler_MiddlewareRunOrder(t *testing.T) {
	var mu sync.Mutex
	var trace []string
	step := func(s string) {
		mu.Lock()
		trace = append(trace, s)
		mu.Unlock()
	}
	stage := func(name string) Middleware {
		return Middleware{
			Name: name,
			Before: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
				step(name + ".before")
				return r, true
			},
			After: func(r *http.Request, rec *Recorder) {
				step(name + ".after")
			},
		}
	}

	e := newTestEngine(t, newFakeClock(), nil)
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { step("handler") })
	h := e.Wrap(next, stage("a"), stage("b"))

	serve(h, "GET", "/x", nil)
	want := "a.before,b.before,handler,b.after,a.after"
	if got := strings.Join(trace, ","); got != want {
		t.Fatalf("trace = %s; want %s", got, want)
	}
}

func TestHandler_AdoptsOptimizedOrder(t *testing.T) {
	e := newTestEngine(t, newFakeClock(), nil)
	pass := func(name string) Middleware {
		return Middleware{
			Name:   name,
			Before: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) { return r, true },
		}
	}
	h := e.Wrap(http.NotFoundHandler(), pass("a"), pass("c"), pass("b"))

	for range 10 {
		e.RecordMiddlewareTiming("a", 20*time.Millisecond, false)
		e.RecordMiddlewareTiming("b", time.Millisecond, true)
	}
	e.Analyzer().Refresh()
	e.Tick()

	if got := strings.Join(h.Order(), ","); got != "a,c,b" {
		t.Fatalf("order before any request = %s; want registration order", got)
	}
	serve(h, "GET", "/x", nil)
	if got := strings.Join(h.Order(), ","); got != "b,a,c" {
		t.Fatalf("order after adoption = %s; want b,a,c", got)
	}
}

func TestHandler_SharedEngineReorders(t *testing.T) {
	e := newTestEngine(t, newFakeClock(), nil)
	pass := func(name string) Middleware {
		return Middleware{
			Name:   name,
			Before: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) { return r, true },
		}
	}
	h1 := e.Wrap(http.NotFoundHandler(), pass("a"), pass("c"), pass("b"))
	h2 := e.Wrap(http.NotFoundHandler(), pass("a"), pass("c"), pass("b"))

	for range 10 {
		e.RecordMiddlewareTiming("a", 20*time.Millisecond, false)
		e.RecordMiddlewareTiming("b", time.Millisecond, true)
	}
	e.Analyzer().Refresh()
	e.Tick()

	serve(h1, "GET", "/x", nil)
	serve(h2, "GET", "/x", nil)
	for i, h := range []*Handler{h1, h2} {
		if got := strings.Join(h.Order(), ","); got != "b,a,c" {
			t.Fatalf("handler %d order = %s; want b,a,c", i+1, got)
		}
	}

	e.Reset()
	serve(h2, "GET", "/x", nil)
	if got := strings.Join(h2.Order(), ","); got != "a,c,b" {
		t.Fatalf("order after reset = %s; want registration order", got)
	}
}

func TestHandler_WriteJSONServesPreencodedBytes(t *testing.T) {
	e := newTestEngine(t, newFakeClock(), nil)
	mux := http.NewServeMux()
	payload := func(id string) map[string]any {
		return map[string]any{"id": id, "label": "<item " + id + ">", "price": 2.5, "stock": 40}
	}
	mux.HandleFunc("GET /items/{id}", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, r, http.StatusOK, payload(r.PathValue("id"))) //nolint:errcheck
	})
	mux.HandleFunc("GET /missing", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, r, http.StatusNotFound, map[string]any{"error": "missing"}) //nolint:errcheck
	})
	e.CodePath().EnablePreencoding("GET /items/{id}")
	e.CodePath().EnablePreencoding("GET /missing")
	h := e.Wrap(mux)

	for _, id := range []string{"1", "2", "3"} {
		rec := serve(h, "GET", "/items/"+id, nil)
		want, err := json.Marshal(payload(id))
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if rec.Code != http.StatusOK || rec.Body.String() != string(want) {
			t.Fatalf("GET /items/%s = %d %s; want %s", id, rec.Code, rec.Body.String(), want)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Fatalf("Content-Type = %q", ct)
		}
	}
	if got := e.CodePath().Stats().FastEncodes; got != 3 {
		t.Fatalf("FastEncodes = %d; want 3", got)
	}

	rec := serve(h, "GET", "/missing", nil)
	if rec.Code != http.StatusNotFound || rec.Body.String() != `{"error":"missing"}` {
		t.Fatalf("GET /missing = %d %s", rec.Code, rec.Body.String())
	}
	if got := e.CodePath().Stats().FastEncodes; got != 3 {
		t.Fatalf("error responses must not use templates; FastEncodes = %d", got)
	}
}

func TestWriteJSON_OutsideHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	if err := WriteJSON(rec, req, http.StatusCreated, map[string]any{"b": 1, "a": "&"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if rec.Code != http.StatusCreated || rec.Body.String() != `{"a":"\u0026","b":1}` {
		t.Fatalf("WriteJSON = %d %s", rec.Code, rec.Body.String())
	}
}

func TestHandler_PanicRecordedAs500(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, newFakeClock(), nil)
	h := e.Wrap(itemsMux(&calls))

	rec := serve(h, "GET", "/panic", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d; want 500", rec.Code)
	}
	rs, ok := e.Analyzer().Route("GET", "/panic")
	if !ok || rs.Total5xx != 1 {
		t.Fatalf("GET /panic = %+v, %v; want one 5xx", rs, ok)
	}
}

func TestHandler_DisabledPassThrough(t *testing.T) {
	var calls atomic.Int64
	e := newTestEngine(t, newFakeClock(), nil)
	h := e.Wrap(itemsMux(&calls), RequestID())
	e.Disable()

	rec := serve(h, "GET", "/items/7", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != `{"id":"7"}` {
		t.Fatalf("disabled response = %d %q", rec.Code, rec.Body.String())
	}
	if reqs, _ := e.Analyzer().Totals(); reqs != 0 {
		t.Fatalf("disabled engine recorded %d requests", reqs)
	}
}

func TestStripPattern(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/items/{id}", "/items/{id}"},
		{"GET /items/{id}", "/items/{id}"},
		{"example.com/items/", "/items/"},
		{"POST example.com/items", "/items"},
	}
	for _, tt := range tests {
		if got := stripPattern(tt.in); got != tt.want {
			t.Errorf("stripPattern(%q) = %q; want %q", tt.in, got, tt.want)
		}
	}
}
