package usecase

import (
	"math"
	"sort"
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdDev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// madConsistency scales the median absolute deviation to be a consistent
// estimator of the standard deviation under normality.
const madConsistency = 1.4826

// robustStdDev estimates the price spread via scaled MAD. Unlike the plain
// standard deviation it is not dragged up by the very outlier being tested,
// which is what makes single-outlier rejection possible in small sets.
func robustStdDev(xs []float64) float64 {
	med := median(xs)
	devs := make([]float64, len(xs))
	for i, x := range xs {
		devs[i] = math.Abs(x - med)
	}
	return madConsistency * median(devs)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
