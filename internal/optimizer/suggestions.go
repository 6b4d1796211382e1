package optimizer

import "time"

// Suggestion thresholds.
const (
	SuggestSlowThreshold  = 100 * time.Millisecond
	suggestAsyncLatency   = 500 * time.Millisecond
	suggestMemoizeLatency = 200 * time.Millisecond
	suggestMemoizeRPS     = 5.0
	suggestHighErrorRate  = 0.1
	suggestErrorProneRate = 0.05
)

// SuggestionType classifies a suggestion.
type SuggestionType string

const (
	SuggestionSlowEndpoint SuggestionType = "slow_endpoint"
	SuggestionErrorProne   SuggestionType = "error_prone"
)

// Suggestion is a manual-action hint for one route.
type Suggestion struct {
	Route           string         `json:"route"`
	Type            SuggestionType `json:"type"`
	P95Latency      time.Duration  `json:"p95_latency,omitempty"`
	ErrorRate       float64        `json:"error_rate,omitempty"`
	Recommendations []string       `json:"recommendations"`
}

// Suggestions derives hints from current statistics: slow endpoints
// by p95, then error-prone routes not already listed.
func (o *Optimizer) Suggestions() []Suggestion {
	var out []Suggestion
	seen := make(map[string]bool)

	for _, rs := range o.src.SlowRoutes(SuggestSlowThreshold) {
		s := Suggestion{
			Route:           rs.ID(),
			Type:            SuggestionSlowEndpoint,
			P95Latency:      rs.P95Latency,
			ErrorRate:       rs.ErrorRate,
			Recommendations: []string{},
		}
		if rs.P95Latency > suggestAsyncLatency {
			s.Recommendations = append(s.Recommendations, "Consider async execution or background task offload")
		}
		if rs.RequestsPerSecond > suggestMemoizeRPS && rs.P95Latency > suggestMemoizeLatency {
			s.Recommendations = append(s.Recommendations, "Enable response memoization for this endpoint")
		}
		if rs.ErrorRate > suggestHighErrorRate {
			s.Recommendations = append(s.Recommendations, "High error rate detected: investigate handler logic")
		}
		seen[s.Route] = true
		out = append(out, s)
	}

	for _, rs := range o.src.ErrorProneRoutes(suggestErrorProneRate) {
		if seen[rs.ID()] {
			continue
		}
		out = append(out, Suggestion{
			Route:           rs.ID(),
			Type:            SuggestionErrorProne,
			ErrorRate:       rs.ErrorRate,
			Recommendations: []string{"Investigate error patterns", "Add circuit breaker"},
		})
	}
	return out
}
