package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChecksTotal     *prometheus.CounterVec
	DenialsTotal    *prometheus.CounterVec
	ActiveOverrides prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		ChecksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_ratelimit_checks_total",
			Help: "Total number of rate limit checks by scope and outcome",
		}, []string{"scope", "outcome"}),
		DenialsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_ratelimit_denials_total",
			Help: "Total number of denied requests by scope",
		}, []string{"scope"}),
		ActiveOverrides: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bastion_ratelimit_active_overrides",
			Help: "Current number of tightened per-actor rate limit overrides",
		}),
	}
}

func (m *Metrics) RecordCheck(scope string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
		m.DenialsTotal.WithLabelValues(scope).Inc()
	}
	m.ChecksTotal.WithLabelValues(scope, outcome).Inc()
}

func (m *Metrics) SetActiveOverrides(n int) {
	m.ActiveOverrides.Set(float64(n))
}
