package sare

import (
	"context"
	"net/http"
	"slices"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// RequestIDHeader carries the request ID on requests and responses.
const RequestIDHeader = "X-Request-Id"

// RequestIDFromContext returns the ID set by the request_id middleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// RequestID assigns each request a UUID, reusing an incoming
// X-Request-Id header when present, and echoes it on the response.
func RequestID() Middleware {
	return Middleware{
		Name: "request_id",
		Before: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			id := r.Header.Get(RequestIDHeader)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)
			return r.WithContext(context.WithValue(r.Context(), requestIDKey, id)), true
		},
	}
}

// CORS sets cross-origin headers and answers preflight requests. With
// no origins every origin is allowed.
func CORS(origins ...string) Middleware {
	allowAll := len(origins) == 0 || slices.Contains(origins, "*")
	return Middleware{
		Name: "cors",
		Before: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(origins, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				w.WriteHeader(http.StatusNoContent)
				return r, false
			}
			return r, true
		},
	}
}

// RateLimit short-circuits with 429 once the shared token bucket of rps
// requests per second with the given burst is exhausted.
func RateLimit(rps float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	return Middleware{
		Name: "rate_limit",
		Before: func(w http.ResponseWriter, r *http.Request) (*http.Request, bool) {
			if limiter.Allow() {
				return r, true
			}
			w.Header().Set("Retry-After", "1")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}` + "\n")) //nolint:errcheck
			return r, false
		},
	}
}

// Timing tags every handled response with a Server-Timing entry.
func Timing(name string) Middleware {
	name = strings.TrimSpace(name)
	if name == "" {
		name = "app"
	}
	return Middleware{
		Name: "server_timing",
		After: func(r *http.Request, rec *Recorder) {
			rec.Header().Add("Server-Timing", name)
		},
	}
}
