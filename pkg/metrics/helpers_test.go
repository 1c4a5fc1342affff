package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// sample returns the value of the first series in family name whose labels
// include every pair in match. Histograms report their sample sum.
func sample(t *testing.T, g prometheus.Gatherer, name string, match ...string) float64 {
	t.Helper()
	if len(match)%2 != 0 {
		t.Fatalf("label pairs must be even, got %v", match)
	}
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			if !hasLabels(m, match) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return m.GetHistogram().GetSampleSum()
			}
		}
	}
	t.Fatalf("no series %s%v", name, match)
	return 0
}

func hasLabels(m *dto.Metric, match []string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for i := 0; i < len(match); i += 2 {
		if got[match[i]] != match[i+1] {
			return false
		}
	}
	return true
}
