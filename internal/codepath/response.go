// Package codepath short-circuits hot request paths: memoized responses
// for routes the optimizer opts in, and a learned flat-object JSON
// encoder for routes with a stable response shape.
package codepath

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

// keyLen is the number of hex characters kept from the request hash.
const keyLen = 32

// CachedResponse is a memoized response payload.
type CachedResponse struct {
	Status      int         `json:"status"`
	Header      http.Header `json:"header,omitempty"`
	ContentType string      `json:"content_type,omitempty"`
	Body        []byte      `json:"body"`
	StoredAt    time.Time   `json:"stored_at"`
}

// Clone returns a deep copy so callers cannot mutate cached state.
func (r CachedResponse) Clone() CachedResponse {
	out := r
	out.Header = r.Header.Clone()
	if r.Body != nil {
		out.Body = append([]byte(nil), r.Body...)
	}
	return out
}

// BuildCacheKey returns a deterministic hash of method, path and query.
func BuildCacheKey(method, path, query string) string {
	sum := sha256.Sum256([]byte(strings.ToUpper(method) + "|" + path + "|" + query))
	return hex.EncodeToString(sum[:])[:keyLen]
}

// entryKey prefixes the request hash with the route ID so every entry
// of a route can be invalidated together.
func entryKey(route, method, path, query string) string {
	return route + ":" + BuildCacheKey(method, path, query)
}

func cacheableMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead:
		return true
	}
	return false
}
