package predictor

// DefaultAlpha is the smoothing factor used for per-route moving averages.
const DefaultAlpha = 0.3

// EWMA is an exponentially weighted moving average. The zero value is
// not usable; construct with NewEWMA.
type EWMA struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewEWMA returns an EWMA with the given smoothing factor. Values
// outside (0,1] fall back to DefaultAlpha.
func NewEWMA(alpha float64) *EWMA {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultAlpha
	}
	return &EWMA{alpha: alpha}
}

// Update folds sample into the average and returns the new value. The
// first sample seeds the average directly.
func (e *EWMA) Update(sample float64) float64 {
	if !e.initialized {
		e.value = sample
		e.initialized = true
		return e.value
	}
	e.value = e.alpha*sample + (1-e.alpha)*e.value
	return e.value
}

// Value returns the current average, or 0 before any sample.
func (e *EWMA) Value() float64 {
	return e.value
}
