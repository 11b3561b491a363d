// Package metrics exports imageguard pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/gobeaver/imageguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prom implements imageguard.Metrics backed by Prometheus collectors.
type Prom struct {
	validations *prometheus.CounterVec
	rejections  *prometheus.CounterVec
	warnings    prometheus.Counter
	stages      *prometheus.HistogramVec
	once        sync.Once
}

// NewProm creates the collectors under namespace and registers them with
// the default registerer.
func NewProm(namespace string) *Prom {
	p := &Prom{
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Validations by outcome",
		}, []string{"outcome"}),
		rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected files by failure code",
		}, []string{"code"}),
		warnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sanitizer_warnings_total",
			Help:      "Warnings emitted while validating and sanitizing",
		}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Pipeline stage latency by stage",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"stage"}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.validations, p.rejections, p.warnings, p.stages)
	})
}

func (p *Prom) IncValidations(outcome string) {
	p.validations.WithLabelValues(outcome).Inc()
}

func (p *Prom) IncRejections(code string) {
	p.rejections.WithLabelValues(code).Inc()
}

func (p *Prom) AddWarnings(n int) {
	if n > 0 {
		p.warnings.Add(float64(n))
	}
}

func (p *Prom) ObserveStage(stage string, durationSeconds float64) {
	p.stages.WithLabelValues(stage).Observe(durationSeconds)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve exposes /metrics on addr until the server fails.
func Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	return http.ListenAndServe(addr, mux)
}

var _ imageguard.Metrics = (*Prom)(nil)
