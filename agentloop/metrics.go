package agentloop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the Prometheus collectors a Loop updates as it drives
// turns, mirroring nexus's metrics-on-the-runtime convention scaled down
// to this package's three load-bearing signals: turn throughput, step
// latency, and tool-call outcomes.
type metrics struct {
	turnsTotal     *prometheus.CounterVec
	stepDuration   prometheus.Histogram
	toolCallsTotal *prometheus.CounterVec
}



func newMetrics() *metrics {
	return &metrics{
		turnsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillagent_turns_total",
				Help: "Total number of turns run, by outcome.",
			},
			[]string{"outcome"},
		),
		stepDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "skillagent_step_duration_seconds",
				Help:    "Duration of a single model-invocation step within a turn.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		toolCallsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "skillagent_tool_calls_total",
				Help: "Total number of tool calls dispatched, by tool and outcome.",
			},
			[]string{"tool", "outcome"},
		),
	}
}

func (m *metrics) observeStep(seconds float64) {
	if m == nil {
		return
	}
	m.stepDuration.Observe(seconds)
}

func (m *metrics) recordTurn(outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(outcome).Inc()
}

func (m *metrics) recordToolCall(tool, outcome string) {
	if m == nil {
		return
	}
	m.toolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// sharedMetrics is built once per process, since promauto registers each
// collector with the default registry and a second registration of the
// same metric name panics — every Loop a process constructs shares it.
var sharedMetrics = newMetrics()
