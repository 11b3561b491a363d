package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gobeaver/imageguard"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	origReg := prometheus.DefaultRegisterer
	origGather := prometheus.DefaultGatherer
	reg := prometheus.NewRegistry()
	prometheus.DefaultRegisterer = reg
	prometheus.DefaultGatherer = reg
	t.Cleanup(func() {
		prometheus.DefaultRegisterer = origReg
		prometheus.DefaultGatherer = origGather
	})
	return reg
}

func TestPromMetrics(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewProm("imageguard")
	m.IncValidations(imageguard.OutcomeRejected)
	m.IncRejections(string(imageguard.CodeSignatureMismatch))
	m.AddWarnings(3)
	m.ObserveStage("threat_scan", 0.002)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "imageguard_validations_total", map[string]string{"outcome": "rejected"}) {
		t.Fatalf("expected validations metric")
	}
	if !hasMetric(families, "imageguard_rejections_total", map[string]string{"code": "SignatureMismatch"}) {
		t.Fatalf("expected rejections metric")
	}
	if !hasMetric(families, "imageguard_stage_duration_seconds", map[string]string{"stage": "threat_scan"}) {
		t.Fatalf("expected stage duration metric")
	}
	if got := counterValue(families, "imageguard_sanitizer_warnings_total"); got != 3 {
		t.Errorf("Expected 3 warnings, got %v", got)
	}
}

func TestValidatorReportsOutcome(t *testing.T) {
	reg := withTestRegistry(t)
	m := NewProm("ig")

	v := imageguard.NewDefault(imageguard.WithMetrics(m))
	data := append([]byte{0x89, 0x50, 0x4E, 0x47}, make([]byte, 200)...)
	result := v.ValidateBytes(t.Context(), "photo.jpg", "image/jpeg", data, nil)
	if result.Valid {
		t.Fatal("Expected PNG bytes declared as JPEG to be rejected")
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if !hasMetric(families, "ig_rejections_total", map[string]string{"code": "SignatureMismatch"}) {
		t.Fatalf("expected SignatureMismatch rejection to be counted")
	}
	if !hasMetric(families, "ig_stage_duration_seconds", map[string]string{"stage": "structural_check"}) {
		t.Fatalf("expected structural_check timing")
	}
}

func TestHandler(t *testing.T) {
	withTestRegistry(t)
	m := NewProm("imageguard")
	m.IncValidations(imageguard.OutcomeValid)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatalf("expected metrics output")
	}
}

func counterValue(families []*dto.MetricFamily, name string) float64 {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			return metric.GetCounter().GetValue()
		}
	}
	return -1
}

func hasMetric(families []*dto.MetricFamily, name string, labels map[string]string) bool {
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if matchLabels(metric.GetLabel(), labels) {
				return true
			}
		}
	}
	return false
}

func matchLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	if len(want) == 0 {
		return true
	}
	found := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			found++
		}
	}
	return found == len(want)
}
