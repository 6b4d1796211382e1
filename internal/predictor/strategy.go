package predictor

// Strategy is an execution hint recommended for a route.
type Strategy string

const (
	StrategyCache         Strategy = "cache"
	StrategyAsyncPriority Strategy = "async_priority"
	StrategyPrecompile    Strategy = "precompile"
	StrategyDefault       Strategy = "default"
)

// LearningRate is the smoothing factor applied to strategy rewards.
const LearningRate = 0.1

var strategyReasons = map[Strategy]string{
	StrategyCache:         "Enable response memoization: route is cache-friendly",
	StrategyAsyncPriority: "Prioritize async execution: route is latency-heavy",
	StrategyPrecompile:    "Pre-compile response templates: route is hot and stable",
	StrategyDefault:       "no data",
}

// Reason returns the human-readable rationale for s.
func (s Strategy) Reason() string {
	return strategyReasons[s]
}

// RouteStrategy accumulates a smoothed reward per strategy for one route.
type RouteStrategy struct {
	Route            string  `json:"route"`
	CacheReward      float64 `json:"cache_reward"`
	AsyncReward      float64 `json:"async_reward"`
	PrecompileReward float64 `json:"precompile_reward"`
	Observations     int64   `json:"observations"`
}

// Best returns the strategy with the highest reward. Ties resolve in the
// order cache, async_priority, precompile.
func (r *RouteStrategy) Best() (Strategy, float64) {
	best, score := StrategyCache, r.CacheReward
	if r.AsyncReward > score {
		best, score = StrategyAsyncPriority, r.AsyncReward
	}
	if r.PrecompileReward > score {
		best, score = StrategyPrecompile, r.PrecompileReward
	}
	return best, score
}

// Reward moves the accumulator for s toward reward.
func (r *RouteStrategy) Reward(s Strategy, reward float64) {
	r.Observations++
	switch s {
	case StrategyCache:
		r.CacheReward += LearningRate * (reward - r.CacheReward)
	case StrategyAsyncPriority:
		r.AsyncReward += LearningRate * (reward - r.AsyncReward)
	case StrategyPrecompile:
		r.PrecompileReward += LearningRate * (reward - r.PrecompileReward)
	}
}

// Scores returns a copy of the accumulators keyed by strategy.
func (r *RouteStrategy) Scores() map[Strategy]float64 {
	return map[Strategy]float64{
		StrategyCache:         r.CacheReward,
		StrategyAsyncPriority: r.AsyncReward,
		StrategyPrecompile:    r.PrecompileReward,
	}
}
