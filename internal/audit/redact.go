package audit

import (
	"net/http"
	"strings"
)

// globalRedactPatterns are header name substrings that always mark a
// header as sensitive.
var globalRedactPatterns = []string{
	"token",
	"key",
	"secret",
	"password",
	"authorization",
	"cookie",
	"credential",
}

// SensitiveHeader reports whether a header name matches a global
// pattern or one of the extra hints.
func SensitiveHeader(name string, hints []string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range globalRedactPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	for _, hint := range hints {
		if hint != "" && strings.Contains(lower, strings.ToLower(hint)) {
			return true
		}
	}
	return false
}

// StripHeaders returns a copy of h without sensitive headers. Responses
// are stripped this way before they are memoized so one client's
// cookies are never replayed to another.
func StripHeaders(h http.Header, hints []string) http.Header {
	out := make(http.Header, len(h))
	for k, vs := range h {
		if SensitiveHeader(k, hints) {
			continue
		}
		out[k] = append([]string(nil), vs...)
	}
	return out
}
