package domain

import "time"

// OutcomeStatus labels the outcome of a generation request.
type OutcomeStatus string

const (
	// OutcomeSuccess indicates the tool produced a result.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeError indicates the request failed.
	OutcomeError OutcomeStatus = "error"
)

// GenerateMetric describes one finished generation.
type GenerateMetric struct {
	Tool     string
	Mode     ToolMode
	Streamed bool
	Status   OutcomeStatus
	Code     ErrorCode
	Duration time.Duration
}

// Metrics records gateway observability signals.
type Metrics interface {
	ObserveGenerate(metric GenerateMetric)
	SetActiveSlots(count int)
	RecordRateLimited()
	RecordUpstreamRetry(tool string, status int)
	RecordTokenRefresh(tool string, success bool)
	RecordModelDiscovery(tool string, cached bool)
}

// NoopMetrics discards all signals.
type NoopMetrics struct{}

func (NoopMetrics) ObserveGenerate(GenerateMetric)      {}
func (NoopMetrics) SetActiveSlots(int)                  {}
func (NoopMetrics) RecordRateLimited()                  {}
func (NoopMetrics) RecordUpstreamRetry(string, int)     {}
func (NoopMetrics) RecordTokenRefresh(string, bool)     {}
func (NoopMetrics) RecordModelDiscovery(string, bool)   {}
