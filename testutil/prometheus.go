package testutil

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// PromGaugeHasValue reports whether the named gauge with the given label
// values currently holds value.
func PromGaugeHasValue(t testing.TB, families []*dto.MetricFamily, value float64, name string, labels ...string) bool {
	t.Helper()
	m, ok := promMetric(t, families, name, labels)
	return ok && m.GetGauge().GetValue() == value
}

// PromCounterHasValue reports whether the named counter with the given label
// values currently holds value.
func PromCounterHasValue(t testing.TB, families []*dto.MetricFamily, value float64, name string, labels ...string) bool {
	t.Helper()
	m, ok := promMetric(t, families, name, labels)
	return ok && m.GetCounter().GetValue() == value
}

// promMetric finds the metric in family name whose label values match in
// order. Label arity must match the metric exactly.
func promMetric(t testing.TB, families []*dto.MetricFamily, name string, labels []string) (*dto.Metric, bool) {
	t.Helper()
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	search:
		for _, m := range family.GetMetric() {
			require.Equal(t, len(labels), len(m.GetLabel()))
			for i, want := range labels {
				if m.GetLabel()[i].GetValue() != want {
					continue search
				}
			}
			return m, true
		}
	}
	return nil, false
}
