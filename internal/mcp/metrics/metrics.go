package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pgmcp_build_info",
			Help: "Build information of the pgmcp server",
		},
		[]string{"version", "commit", "date"},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmcp_tool_calls_total",
			Help: "Total number of tool calls",
		},
		[]string{"tool_name", "status"},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pgmcp_tool_call_duration_seconds",
			Help:    "Duration of tool calls",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~16s
		},
		[]string{"tool_name"},
	)

	ResourceReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pgmcp_resource_reads_total",
			Help: "Total number of resource reads",
		},
		[]string{"resource", "status"},
	)

	QueryRowsReturned = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pgmcp_query_rows_returned",
			Help:    "Rows returned per query tool call",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8), // 1 to ~16k
		},
	)
)

// ObserveToolCall records the outcome of one tool invocation.
func ObserveToolCall(toolName string, seconds float64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ToolCallsTotal.WithLabelValues(toolName, status).Inc()
	ToolCallDuration.WithLabelValues(toolName).Observe(seconds)
}

func ObserveResourceRead(resource string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ResourceReadsTotal.WithLabelValues(resource, status).Inc()
}
