package trend

import (
	"math"
	"strconv"
	"strings"
)

// Classify derives the direction of a series from its points, which must be
// sorted by date. The earlier half of the points is compared against the
// later half; for an odd count the middle point belongs to the later half.
//
// Whether a rise is good or bad depends on the latest point: rising while
// abnormal is worsening, rising while normal is improving, and the reverse
// for falling values.
func Classify(points []Point) string {
	if len(points) < 2 {
		return DirectionUnknown
	}
	values := make([]float64, len(points))
	for i, p := range points {
		v, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return DirectionUnknown
		}
		values[i] = v
	}

	half := len(values) / 2
	mean1, mean2 := mean(values[:half]), mean(values[half:])
	if mean1 == 0 {
		if mean2 == 0 {
			return DirectionStable
		}
		return DirectionUnknown
	}

	diffPct := (mean2 - mean1) / mean1 * 100
	latestAbnormal := points[len(points)-1].IsAbnormal
	switch {
	case math.Abs(diffPct) < 5:
		return DirectionStable
	case diffPct > 10:
		if latestAbnormal {
			return DirectionWorsening
		}
		return DirectionImproving
	case diffPct < -10:
		if latestAbnormal {
			return DirectionImproving
		}
		return DirectionWorsening
	default:
		return DirectionFluctuating
	}
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
