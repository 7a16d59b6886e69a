package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cliproxy/internal/domain"
)

func TestNewPrometheusMetrics_UsesProvidedRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()

	m := NewPrometheusMetrics(registry)
	m.ObserveGenerate(domain.GenerateMetric{
		Tool:     "claude",
		Mode:     domain.ToolModeSpawn,
		Status:   domain.OutcomeSuccess,
		Duration: 2 * time.Second,
	})
	m.SetActiveSlots(2)
	m.RecordRateLimited()
	m.RecordUpstreamRetry("gemini-api", 429)
	m.RecordTokenRefresh("gemini-api", true)
	m.RecordModelDiscovery("codex", false)

	metrics, err := registry.Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(metrics))
	for _, m := range metrics {
		names = append(names, m.GetName())
	}

	assert.Contains(t, names, "cliproxy_generate_requests_total")
	assert.Contains(t, names, "cliproxy_generate_duration_seconds")
	assert.Contains(t, names, "cliproxy_active_processes")
	assert.Contains(t, names, "cliproxy_rate_limited_total")
	assert.Contains(t, names, "cliproxy_upstream_retries_total")
	assert.Contains(t, names, "cliproxy_token_refreshes_total")
	assert.Contains(t, names, "cliproxy_model_discovery_total")
}

func TestPrometheusMetrics_ObserveGenerateLabels(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.ObserveGenerate(domain.GenerateMetric{
		Tool:     "gemini",
		Mode:     domain.ToolModeSpawn,
		Streamed: true,
		Status:   domain.OutcomeError,
		Code:     domain.CodeTimeout,
		Duration: time.Second,
	})
	m.ObserveGenerate(domain.GenerateMetric{
		Tool:     "gemini",
		Mode:     domain.ToolModeSpawn,
		Streamed: true,
		Status:   domain.OutcomeError,
		Code:     domain.CodeTimeout,
		Duration: time.Second,
	})

	got := testutil.ToFloat64(m.generateTotal.WithLabelValues("gemini", "spawn", "true", "error", "TIMEOUT"))
	assert.Equal(t, float64(2), got)
}

func TestPrometheusMetrics_GaugesAndCounters(t *testing.T) {
	m := NewPrometheusMetrics(prometheus.NewRegistry())
	m.SetActiveSlots(3)
	m.SetActiveSlots(1)
	m.RecordRateLimited()
	m.RecordTokenRefresh("gemini-api", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.activeSlots))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.rateLimited))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.tokenRefreshes.WithLabelValues("gemini-api", "error")))
}

func TestPrometheusMetrics_ImplementsInterface(t *testing.T) {
	var _ domain.Metrics = (*PrometheusMetrics)(nil)
}
