package predictor

import (
	"math"

	"github.com/revittco/sare/internal/window"
)

// Spike detection defaults.
const (
	DefaultSpikeWindow     = 100
	DefaultSpikeThreshold  = 2.5
	minSpikeSamples        = 10
	flatSeriesStdDeviation = 0.001
)

// SpikeDetector flags samples whose z-score against the rolling window
// exceeds a threshold.
type SpikeDetector struct {
	threshold float64
	values    *window.Ring[float64]
}

// NewSpikeDetector returns a detector over size samples that flags
// |z| > threshold.
func NewSpikeDetector(size int, threshold float64) *SpikeDetector {
	if size <= 0 {
		size = DefaultSpikeWindow
	}
	if threshold <= 0 {
		threshold = DefaultSpikeThreshold
	}
	return &SpikeDetector{threshold: threshold, values: window.New[float64](size)}
}

// Add tests v against the current window, then appends it.
func (d *SpikeDetector) Add(v float64) bool {
	spike := d.IsSpike(v)
	d.values.Push(v)
	return spike
}

// IsSpike reports whether v deviates from the window without recording
// it. It never fires before the window holds ten samples.
func (d *SpikeDetector) IsSpike(v float64) bool {
	n := d.values.Len()
	if n < minSpikeSamples {
		return false
	}

	var sum float64
	d.values.Each(func(x float64) { sum += x })
	mean := sum / float64(n)

	var sq float64
	d.values.Each(func(x float64) { sq += (x - mean) * (x - mean) })
	std := flatSeriesStdDeviation
	if variance := sq / float64(n); variance > 0 {
		std = math.Sqrt(variance)
	}

	return math.Abs((v-mean)/std) > d.threshold
}
