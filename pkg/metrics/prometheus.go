package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain repository.Metrics using Prometheus.
type Recorder struct {
	fetchDuration  *prometheus.HistogramVec
	fetchErrors    *prometheus.CounterVec
	lastPrice      *prometheus.GaugeVec
	lastConfidence *prometheus.GaugeVec
	cacheAccess    *prometheus.CounterVec
	evictions      prometheus.Counter
	alertsRaised   *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		fetchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quotepulse_source_fetch_duration_seconds",
				Help:    "Duration of single-source quote fetches",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		),
		fetchErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepulse_source_fetch_errors_total",
				Help: "Total failed single-source fetches",
			},
			[]string{"source"},
		),
		lastPrice: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotepulse_consensus_price",
				Help: "Last consensus price per symbol",
			},
			[]string{"symbol"},
		),
		lastConfidence: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quotepulse_consensus_confidence",
				Help: "Last consensus confidence per symbol",
			},
			[]string{"symbol"},
		),
		cacheAccess: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepulse_cache_access_total",
				Help: "Cache lookups partitioned by hit/miss",
			},
			[]string{"result"},
		),
		evictions: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "quotepulse_cache_evictions_total",
				Help: "Entries evicted under capacity pressure",
			},
		),
		alertsRaised: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepulse_alerts_raised_total",
				Help: "Monitor alerts raised",
			},
			[]string{"kind", "severity"},
		),
		eventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quotepulse_market_events_total",
				Help: "Market events partitioned by type and accepted/rejected",
			},
			[]string{"type", "outcome"},
		),
	}
}

func (r *Recorder) RecordFetch(source string, seconds float64, success bool) {
	r.fetchDuration.WithLabelValues(source).Observe(seconds)
	if !success {
		r.fetchErrors.WithLabelValues(source).Inc()
	}
}

func (r *Recorder) RecordConsensus(symbol string, price, confidence float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
	r.lastConfidence.WithLabelValues(symbol).Set(confidence)
}

func (r *Recorder) RecordCacheAccess(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.cacheAccess.WithLabelValues(result).Inc()
}

func (r *Recorder) RecordEviction() {
	r.evictions.Inc()
}

func (r *Recorder) RecordAlert(kind, severity string) {
	r.alertsRaised.WithLabelValues(kind, severity).Inc()
}

func (r *Recorder) RecordEvent(eventType string, accepted bool) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	r.eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// Nop is a metrics recorder that does nothing. Used in tests.
type Nop struct{}

func (Nop) RecordFetch(string, float64, bool)      {}
func (Nop) RecordConsensus(string, float64, float64) {}
func (Nop) RecordCacheAccess(bool)                 {}
func (Nop) RecordEviction()                        {}
func (Nop) RecordAlert(string, string)             {}
func (Nop) RecordEvent(string, bool)               {}
