// Package metrics exposes the boot pipeline's and housekeeper's runtime
// state as Prometheus gauges/counters (spec C15), grounded on the
// prometheus/client_golang usage in Tutu-Engine's internal/infra/metrics
// and ipiton-alert-history-service's prometheus handlers.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector this module registers.
type Metrics struct {
	ConfigVersion    prometheus.Gauge
	HousekeeperDepth prometheus.Gauge
	PurgeTotal       *prometheus.CounterVec
	AcmeRenewalTotal *prometheus.CounterVec
	IndexTotal       *prometheus.CounterVec
}

// New builds and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ConfigVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restinmail_config_version",
			Help: "Monotonically increasing version of the currently published configuration snapshot.",
		}),
		HousekeeperDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restinmail_housekeeper_queue_depth",
			Help: "Number of actions currently pending in the housekeeper scheduler's queue.",
		}),
		PurgeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restinmail_purge_total",
			Help: "Total number of store purge passes, by store and outcome.",
		}, []string{"store", "outcome"}),
		AcmeRenewalTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restinmail_acme_renewal_total",
			Help: "Total number of ACME certificate renewal attempts, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		IndexTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restinmail_index_total",
			Help: "Total number of full-text indexing passes, by outcome.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.ConfigVersion, m.HousekeeperDepth, m.PurgeTotal, m.AcmeRenewalTotal, m.IndexTotal)
	return m
}

// ObservePurge records the outcome of one store purge pass.
func (m *Metrics) ObservePurge(storeID string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.PurgeTotal.WithLabelValues(storeID, outcome).Inc()
}

// ObserveAcmeRenewal records the outcome of one ACME renewal attempt.
func (m *Metrics) ObserveAcmeRenewal(providerID string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.AcmeRenewalTotal.WithLabelValues(providerID, outcome).Inc()
}

// ObserveIndex records the outcome of one indexing pass.
func (m *Metrics) ObserveIndex(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.IndexTotal.WithLabelValues(outcome).Inc()
}
