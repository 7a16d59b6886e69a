package telemetry

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"cliproxy/internal/domain"
)

type PrometheusMetrics struct {
	generateTotal    *prometheus.CounterVec
	generateDuration *prometheus.HistogramVec
	activeSlots      prometheus.Gauge
	rateLimited      prometheus.Counter
	upstreamRetries  *prometheus.CounterVec
	tokenRefreshes   *prometheus.CounterVec
	modelDiscovery   *prometheus.CounterVec
}

func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &PrometheusMetrics{
		generateTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliproxy_generate_requests_total",
				Help: "Total number of finished generation requests",
			},
			[]string{"tool", "mode", "stream", "status", "code"},
		),
		generateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cliproxy_generate_duration_seconds",
				Help:    "Duration of generation requests in seconds",
				Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
			},
			[]string{"tool", "status"},
		),
		activeSlots: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cliproxy_active_processes",
				Help: "Current number of live tool processes",
			},
		),
		rateLimited: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cliproxy_rate_limited_total",
				Help: "Total number of generation requests rejected by the rate limiter",
			},
		),
		upstreamRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliproxy_upstream_retries_total",
				Help: "Total number of retried upstream API calls",
			},
			[]string{"tool", "status"},
		),
		tokenRefreshes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliproxy_token_refreshes_total",
				Help: "Total number of OAuth access token refresh attempts",
			},
			[]string{"tool", "result"},
		),
		modelDiscovery: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cliproxy_model_discovery_total",
				Help: "Total number of model list lookups",
			},
			[]string{"tool", "cached"},
		),
	}
}

func (p *PrometheusMetrics) ObserveGenerate(metric domain.GenerateMetric) {
	status := string(metric.Status)
	if status == "" {
		status = string(domain.OutcomeSuccess)
	}
	p.generateTotal.WithLabelValues(
		metric.Tool,
		string(metric.Mode),
		strconv.FormatBool(metric.Streamed),
		status,
		string(metric.Code),
	).Inc()
	p.generateDuration.WithLabelValues(metric.Tool, status).Observe(metric.Duration.Seconds())
}

func (p *PrometheusMetrics) SetActiveSlots(count int) {
	p.activeSlots.Set(float64(count))
}

func (p *PrometheusMetrics) RecordRateLimited() {
	p.rateLimited.Inc()
}

func (p *PrometheusMetrics) RecordUpstreamRetry(tool string, status int) {
	p.upstreamRetries.WithLabelValues(tool, strconv.Itoa(status)).Inc()
}

func (p *PrometheusMetrics) RecordTokenRefresh(tool string, success bool) {
	result := "success"
	if !success {
		result = "error"
	}
	p.tokenRefreshes.WithLabelValues(tool, result).Inc()
}

func (p *PrometheusMetrics) RecordModelDiscovery(tool string, cached bool) {
	p.modelDiscovery.WithLabelValues(tool, strconv.FormatBool(cached)).Inc()
}

var _ domain.Metrics = (*PrometheusMetrics)(nil)
