package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	IncidentsTotal      *prometheus.CounterVec
	ContainmentsTotal   prometheus.Counter
	ContainmentFailures prometheus.Counter
	EscalationsTotal    prometheus.Counter
	ActiveIncidents     prometheus.Gauge
}

func New() *Metrics {
	return &Metrics{
		IncidentsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "bastion_incidents_total",
			Help: "Total number of incidents opened by severity",
		}, []string{"severity"}),
		ContainmentsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_incident_containments_total",
			Help: "Total number of successful automated containments",
		}),
		ContainmentFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_incident_containment_failures_total",
			Help: "Total number of failed containment attempts",
		}),
		EscalationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "bastion_incident_escalations_total",
			Help: "Total number of incidents escalated for manual review",
		}),
		ActiveIncidents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "bastion_incidents_active",
			Help: "Current number of unresolved incidents",
		}),
	}
}

func (m *Metrics) RecordIncidentCreated(severity string) {
	m.IncidentsTotal.WithLabelValues(severity).Inc()
}

func (m *Metrics) RecordContainment() {
	m.ContainmentsTotal.Inc()
}

func (m *Metrics) RecordContainmentFailure() {
	m.ContainmentFailures.Inc()
}

func (m *Metrics) RecordEscalation() {
	m.EscalationsTotal.Inc()
}

func (m *Metrics) SetActiveIncidents(n int) {
	m.ActiveIncidents.Set(float64(n))
}
