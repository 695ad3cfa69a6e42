package analyzer

import (
	"math"
	"time"

	"github.com/ignite/insight-digest/internal/domain"
)

// SeasonalBaseline is the expected metric value per weekday.
type SeasonalBaseline map[time.Weekday]float64

// BuildBaseline averages the metric per weekday across the whole series. A
// weekday with no samples takes the overall mean.
func BuildBaseline(series []domain.MetricSample, metric domain.MetricName) SeasonalBaseline {
	var sums [7]float64
	var counts [7]int
	var total float64
	for _, s := range series {
		v := s.Value(metric)
		wd := s.Date.Weekday()
		sums[wd] += v
		counts[wd]++
		total += v
	}

	overall := 0.0
	if len(series) > 0 {
		overall = total / float64(len(series))
	}

	baseline := make(SeasonalBaseline, 7)
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if counts[wd] == 0 {
			baseline[wd] = overall
			continue
		}
		baseline[wd] = sums[wd] / float64(counts[wd])
	}
	return baseline
}

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := Mean(values)
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}

// flatTolerance is the relative size below which a spread or a deviation is
// floating-point noise rather than signal.
const flatTolerance = 1e-9

// Negligible reports whether diff is noise relative to scale.
func Negligible(diff, scale float64) bool {
	return math.Abs(diff) <= flatTolerance*math.Max(1, math.Abs(scale))
}

// IsFlat reports whether a series has no variance worth scoring: every value
// equals the first, or the spread is at rounding-noise level.
func IsFlat(values []float64) bool {
	if len(values) == 0 {
		return true
	}
	constant := true
	for _, v := range values[1:] {
		if v != values[0] {
			constant = false
			break
		}
	}
	return constant || Negligible(StdDev(values), Mean(values))
}

// Slope fits an ordinary least-squares line of value against position index
// and returns its slope. Fewer than two points have no slope.
func Slope(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	xMean := float64(n-1) / 2
	yMean := Mean(values)
	var num, den float64
	for i, y := range values {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	if den == 0 {
		return 0
	}
	return num / den
}

// ConfidenceLevel maps |z| onto the fixed two-sided normal confidence bands.
func ConfidenceLevel(z float64) float64 {
	az := math.Abs(z)
	switch {
	case az >= 3.0:
		return 99.7
	case az >= 2.5:
		return 98.8
	case az >= 2.0:
		return 95.4
	default:
		return 90.0
	}
}
