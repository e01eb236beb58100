package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the engine-wide counters the control plane's
// dashboards poll over the bare-Prometheus-registry /metrics endpoint:
// branch teardown outcomes and source reconnect attempts, matching the
// teacher's SystemMetricsManager pattern of centralizing counters one
// layer below the HTTP surface that reads them.
type Metrics struct {
	BranchTeardowns  *prometheus.CounterVec
	SourceReconnects *prometheus.CounterVec
}

// NewMetrics registers the engine's counters against reg. Pass
// prometheus.NewRegistry() for isolated tests, or
// prometheus.DefaultRegisterer to expose them on the process-wide
// /metrics endpoint.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		BranchTeardowns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_branch_teardowns_total",
			Help: "Branch detachments, labeled by outcome (clean, timeout).",
		}, []string{"outcome"}),
		SourceReconnects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_source_reconnects_total",
			Help: "Pipeline source reconnect attempts, labeled by outcome (success, failure).",
		}, []string{"outcome"}),
	}
}
