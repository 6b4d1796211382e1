package predictor

import "github.com/revittco/sare/internal/window"

// DefaultTrendWindow is the number of samples a TrendDetector regresses over.
const DefaultTrendWindow = 30

// trendEpsilon is the slope magnitude below which a series is stable.
const trendEpsilon = 0.01

// Direction classifies a trend slope.
type Direction string

const (
	Rising  Direction = "rising"
	Falling Direction = "falling"
	Stable  Direction = "stable"
)

// TrendDetector fits a least-squares line over the most recent samples,
// using the sample index as x.
type TrendDetector struct {
	values *window.Ring[float64]
}

// NewTrendDetector returns a detector over the last size samples.
func NewTrendDetector(size int) *TrendDetector {
	if size <= 0 {
		size = DefaultTrendWindow
	}
	return &TrendDetector{values: window.New[float64](size)}
}

// Add appends a sample.
func (t *TrendDetector) Add(v float64) {
	t.values.Push(v)
}

// Len returns the number of retained samples.
func (t *TrendDetector) Len() int {
	return t.values.Len()
}

// Values returns the retained samples, oldest first.
func (t *TrendDetector) Values() []float64 {
	return t.values.Values()
}

// Slope returns the regression slope per sample. Fewer than three
// samples yield 0.
func (t *TrendDetector) Slope() float64 {
	n := t.values.Len()
	if n < 3 {
		return 0
	}

	var sumY float64
	t.values.Each(func(v float64) { sumY += v })
	xMean := float64(n-1) / 2
	yMean := sumY / float64(n)

	var num, den float64
	i := 0
	t.values.Each(func(v float64) {
		dx := float64(i) - xMean
		num += dx * (v - yMean)
		den += dx * dx
		i++
	})
	if den == 0 {
		return 0
	}
	return num / den
}

// Direction classifies the current slope.
func (t *TrendDetector) Direction() Direction {
	s := t.Slope()
	switch {
	case s > trendEpsilon:
		return Rising
	case s < -trendEpsilon:
		return Falling
	default:
		return Stable
	}
}

// PredictNext linearly extrapolates steps samples past the latest one.
// With fewer than three samples the latest sample is returned as-is.
func (t *TrendDetector) PredictNext(steps int) float64 {
	last, ok := t.values.Last()
	if !ok {
		return 0
	}
	if t.values.Len() < 3 {
		return last
	}
	return last + t.Slope()*float64(steps)
}
