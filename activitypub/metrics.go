package activitypub

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts processed activities and remote lookups. A nil *Metrics
// is valid and records nothing, so tests can leave it out.
type Metrics struct {
	activities *prometheus.CounterVec
	lookups    *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loxodon_activities_total",
			Help: "Inbound activities by type and outcome.",
		}, []string{"type", "outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "loxodon_lookups_total",
			Help: "Remote object lookups by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.activities, m.lookups)
	return m
}

func (m *Metrics) RecordActivity(activityType, outcome string) {
	if m == nil {
		return
	}
	m.activities.WithLabelValues(activityType, outcome).Inc()
}

func (m *Metrics) RecordLookup(outcome string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(outcome).Inc()
}
