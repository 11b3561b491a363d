package imageguard

// Metrics receives pipeline counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	IncValidations(outcome string)
	IncRejections(code string)
	AddWarnings(n int)
	ObserveStage(stage string, durationSeconds float64)
}

// Validation outcomes reported to Metrics.
const (
	OutcomeValid    = "valid"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeCacheHit = "cache_hit"
)

// NoopMetrics implements Metrics without emitting anything.
type NoopMetrics struct{}

func (NoopMetrics) IncValidations(string)        {}
func (NoopMetrics) IncRejections(string)         {}
func (NoopMetrics) AddWarnings(int)              {}
func (NoopMetrics) ObserveStage(string, float64) {}
