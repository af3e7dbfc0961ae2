package events

import (
	"math"
	"time"

	"QuotePulse/internal/domain/models"
)

// ObserveQuote feeds a fresh consensus quote through both threshold
// detectors. The quote service calls this after every successful refresh,
// with the aggregate volume across contributing sources.
func (s *Service) ObserveQuote(q *models.ConsensusQuote) {
	s.MonitorPriceChange(q.Symbol, q.Price)

	var volume float64
	for _, rq := range q.Contributing {
		if rq.Volume != nil {
			volume += *rq.Volume
		}
	}
	if volume > 0 {
		s.MonitorVolumeSpike(q.Symbol, volume)
	}
}

// MonitorPriceChange compares price against the last seen value for symbol
// and emits a price_change event when the percentage delta crosses the
// configured threshold. Crossing the high threshold raises the priority.
func (s *Service) MonitorPriceChange(symbol string, price float64) {
	if price <= 0 {
		return
	}

	s.mu.Lock()
	last, seen := s.lastPrice[symbol]
	s.lastPrice[symbol] = price
	s.mu.Unlock()

	if !seen || last <= 0 {
		return
	}

	pct := math.Abs(price-last) / last * 100
	if pct < s.cfg.PriceChangePct {
		return
	}

	prio := models.PriorityMedium
	if pct >= s.cfg.PriceChangeHighPct {
		prio = models.PriorityHigh
	}
	_ = s.Emit(models.MarketEvent{
		Type:     models.EventPriceChange,
		Symbol:   symbol,
		Priority: prio,
		Source:   "price_monitor",
		Data: map[string]interface{}{
			"old_price":  last,
			"new_price":  price,
			"change_pct": pct,
		},
		Timestamp: time.Now(),
	})
}

// MonitorVolumeSpike tracks a rolling volume average per symbol and emits a
// volume_spike event when the current reading exceeds the configured
// multiple of that average.
func (s *Service) MonitorVolumeSpike(symbol string, volume float64) {
	if volume <= 0 {
		return
	}

	s.mu.Lock()
	hist := s.volumes[symbol]
	var avg float64
	if len(hist) > 0 {
		var sum float64
		for _, v := range hist {
			sum += v
		}
		avg = sum / float64(len(hist))
	}
	hist = append(hist, volume)
	if len(hist) > s.cfg.VolumeWindow {
		hist = hist[len(hist)-s.cfg.VolumeWindow:]
	}
	s.volumes[symbol] = hist
	s.mu.Unlock()

	// Need a few readings before a spike means anything.
	if len(hist) < 4 || avg <= 0 {
		return
	}
	if volume < avg*s.cfg.VolumeSpikeRatio {
		return
	}

	_ = s.Emit(models.MarketEvent{
		Type:     models.EventVolumeSpike,
		Symbol:   symbol,
		Priority: models.PriorityHigh,
		Source:   "volume_monitor",
		Data: map[string]interface{}{
			"volume":      volume,
			"rolling_avg": avg,
			"ratio":       volume / avg,
		},
		Timestamp: time.Now(),
	})
}
