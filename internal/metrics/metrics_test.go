package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObservePurgeLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObservePurge("data-1", nil)
	m.ObservePurge("data-1", errors.New("disk full"))

	if got := testutil.ToFloat64(m.PurgeTotal.WithLabelValues("data-1", "ok")); got != 1 {
		t.Fatalf("ok counter = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.PurgeTotal.WithLabelValues("data-1", "error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}

func TestObserveAcmeRenewalLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAcmeRenewal("primary", nil)

	if got := testutil.ToFloat64(m.AcmeRenewalTotal.WithLabelValues("primary", "ok")); got != 1 {
		t.Fatalf("ok counter = %v, want 1", got)
	}
}

func TestObserveIndexLabelsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveIndex(errors.New("fts backend unavailable"))

	if got := testutil.ToFloat64(m.IndexTotal.WithLabelValues("error")); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}

func TestNewRegistersConfigVersionGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ConfigVersion.Set(42)

	if got := testutil.ToFloat64(m.ConfigVersion); got != 42 {
		t.Fatalf("ConfigVersion = %v, want 42", got)
	}
}
