package monitor

import (
	"math"

	"QuotePulse/internal/domain/models"
)

// computeQuality scores a consensus quote from its contributing raw quotes.
// All component scores are clamped to [0,100].
func computeQuality(q *models.ConsensusQuote) models.QualityRecord {
	rec := models.QualityRecord{
		Symbol:          q.Symbol,
		ConfidenceScore: clamp100(q.Confidence * 100),
		ComputedAt:      q.ComputedAt,
	}
	if len(q.Contributing) == 0 {
		return rec
	}

	prices := make([]float64, len(q.Contributing))
	withVolume := 0
	for i, rq := range q.Contributing {
		prices[i] = rq.Price
		if rq.Volume != nil {
			withVolume++
		}
	}

	m := mean(prices)
	sd := stdDev(prices)

	// Price consistency: inverse coefficient of variation. 1% CV already
	// costs ten points.
	if m > 0 {
		cvPct := sd / m * 100
		rec.PriceConsistency = clamp100(100 - cvPct*10)
	}

	rec.VolumeReliability = clamp100(float64(withVolume) / float64(len(q.Contributing)) * 100)

	// Source agreement: inverse of the min-max spread relative to the mean.
	if m > 0 {
		minP, maxP := prices[0], prices[0]
		for _, p := range prices {
			minP = math.Min(minP, p)
			maxP = math.Max(maxP, p)
		}
		spreadPct := (maxP - minP) / m * 100
		rec.SourceAgreement = clamp100(100 - spreadPct*10)
	}

	if sd > 0 {
		for _, p := range prices {
			if math.Abs(p-m) > 2*sd {
				rec.OutlierCount++
			}
		}
	}
	return rec
}

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

func clamp100(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 100 {
		return 100
	}
	return x
}
