package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: сколько заявок создано
	Created *prometheus.CounterVec

	// Решения по результату: applied, already_decided, not_found, invalid, downstream_error
	Decisions *prometheus.CounterVec

	// Latency вызова оркестратора (resume/abort)
	DownstreamDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		Created: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approval_created_total",
			Help: "Total number of created approval requests.",
		}, []string{"mode"}),

		Decisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approval_decisions_total",
			Help: "Total number of decide calls by decision and result.",
		}, []string{"decision", "result"}),

		DownstreamDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approval_downstream_duration_seconds",
			Help:    "Latency of resume/abort calls to the orchestration engine.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action", "result"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "approval_circuit_breaker_state",
			Help: "Current state of the orchestrator circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"name"}),
	}
}
