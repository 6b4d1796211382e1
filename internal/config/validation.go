package config

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/revittco/sare/internal/sare"
)

// Built-in middleware names accepted in the middleware list.
const (
	mwRequestID    = "request_id"
	mwCORS         = "cors"
	mwRateLimit    = "rate_limit"
	mwServerTiming = "server_timing"
)

// ValidationError holds all validation failures for a config file.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: %s", strings.Join(e.Errors, "; "))
}

// validate checks the parsed config for correctness.
func validate(cfg *FileConfig) error {
	var errs []string

	if err := cfg.Options().Validate(); err != nil {
		var ve *sare.ValidationError
		if errors.As(err, &ve) {
			for _, e := range ve.Errors {
				errs = append(errs, "sare: "+e)
			}
		} else {
			errs = append(errs, "sare: "+err.Error())
		}
	}

	seen := make(map[string]bool, len(cfg.Routes))
	for i, r := range cfg.Routes {
		if err := ValidateRoute(r.Route); err != nil {
			errs = append(errs, fmt.Sprintf("routes[%d]: %v", i, err))
		}
		if seen[r.Route] {
			errs = append(errs, fmt.Sprintf("routes[%d]: duplicate route %q", i, r.Route))
		}
		seen[r.Route] = true
		if r.TTL < 0 {
			errs = append(errs, fmt.Sprintf("routes[%d]: ttl must not be negative", i))
		}
	}

	names := make(map[string]bool, len(cfg.Middleware))
	for i, m := range cfg.Middleware {
		if err := validateMiddleware(m); err != nil {
			errs = append(errs, fmt.Sprintf("middleware[%d]: %v", i, err))
		}
		if names[m.Name] {
			errs = append(errs, fmt.Sprintf("middleware[%d]: duplicate middleware %q", i, m.Name))
		}
		names[m.Name] = true
	}

	if cfg.Archive.Retention < 0 {
		errs = append(errs, "archive: retention must not be negative")
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidateRoute checks a "METHOD /pattern" route ID. Only cacheable
// methods can be memoized.
func ValidateRoute(id string) error {
	method, pattern, ok := strings.Cut(id, " ")
	if !ok || method == "" || !strings.HasPrefix(pattern, "/") {
		return fmt.Errorf("invalid route %q (must be \"METHOD /pattern\")", id)
	}
	switch method {
	case http.MethodGet, http.MethodHead:
		return nil
	default:
		return fmt.Errorf("invalid method %q in route %q (must be GET or HEAD)", method, id)
	}
}

func validateMiddleware(m middlewareConfig) error {
	switch m.Name {
	case mwRequestID, mwServerTiming:
		return nil
	case mwCORS:
		for _, o := range m.Origins {
			if o == "" {
				return fmt.Errorf("cors: empty origin")
			}
		}
		return nil
	case mwRateLimit:
		if m.RPS <= 0 {
			return fmt.Errorf("rate_limit: rps must be positive, got %g", m.RPS)
		}
		if m.Burst < 0 {
			return fmt.Errorf("rate_limit: burst must not be negative, got %d", m.Burst)
		}
		return nil
	case "":
		return fmt.Errorf("name is required")
	default:
		return fmt.Errorf("unknown middleware %q (must be request_id, cors, rate_limit, or server_timing)", m.Name)
	}
}
