// Package metrics holds the Prometheus instruments of extraction and mining.
//
// A nil *Metrics is valid and records nothing, so library code can take an
// optional *Metrics without nil checks at every call site.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "assocminer"

// Prune reasons used as the "reason" label of CandidatesPruned.
const (
	ReasonSubsumed     = "subsumed"
	ReasonEmpty        = "empty"
	ReasonSignificance = "significance"
	ReasonDifference   = "difference"
	ReasonDepth        = "depth"
)

// Metrics groups every instrument.
type Metrics struct {
	CandidatesEvaluated prometheus.Counter
	CandidatesPruned    *prometheus.CounterVec
	RulesAccepted       prometheus.Counter
	ImagesFlushed       prometheus.Counter
	RecordsExtracted    prometheus.Counter
	FrontierLevel       prometheus.Gauge
	IntersectDuration   prometheus.Histogram
}

// New creates the instruments and registers them on reg. A nil reg skips
// registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CandidatesEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_evaluated_total",
			Help:      "Candidate rules evaluated by the miner.",
		}),
		CandidatesPruned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_pruned_total",
			Help:      "Candidate rules discarded, by reason.",
		}, []string{"reason"}),
		RulesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rules_accepted_total",
			Help:      "Rules emitted to the sink.",
		}),
		ImagesFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "images_flushed_total",
			Help:      "Dirty images written to storage.",
		}),
		RecordsExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_extracted_total",
			Help:      "Input records applied to images during extraction.",
		}),
		FrontierLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frontier_level",
			Help:      "Current breadth-first level of the candidate frontier.",
		}),
		IntersectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "intersect_duration_seconds",
			Help:      "Time spent intersecting images.",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.CandidatesEvaluated,
			m.CandidatesPruned,
			m.RulesAccepted,
			m.ImagesFlushed,
			m.RecordsExtracted,
			m.FrontierLevel,
			m.IntersectDuration,
		)
	}
	return m
}

func (m *Metrics) Evaluated() {
	if m != nil {
		m.CandidatesEvaluated.Inc()
	}
}

func (m *Metrics) Pruned(reason string) {
	if m != nil {
		m.CandidatesPruned.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) Accepted() {
	if m != nil {
		m.RulesAccepted.Inc()
	}
}

func (m *Metrics) Flushed() {
	if m != nil {
		m.ImagesFlushed.Inc()
	}
}

func (m *Metrics) Extracted(n int) {
	if m != nil {
		m.RecordsExtracted.Add(float64(n))
	}
}

func (m *Metrics) Level(level int) {
	if m != nil {
		m.FrontierLevel.Set(float64(level))
	}
}

// Intersected records one intersection that started at start.
func (m *Metrics) Intersected(start time.Time) {
	if m != nil {
		m.IntersectDuration.Observe(time.Since(start).Seconds())
	}
}
