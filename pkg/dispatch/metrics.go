package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/backkem/hdcp/pkg/action"
	"github.com/backkem/hdcp/pkg/status"
)

// Metrics are the dispatcher counters. The zero value and a nil pointer
// count nothing.
type Metrics struct {
	Actions    *prometheus.CounterVec
	Elevations *prometheus.CounterVec
}

// NewMetrics creates the dispatcher counters and registers them on reg.
// With a nil reg the counters work but are not exported.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Actions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hdcp_dispatch_actions_total",
			Help: "Secure actions dispatched, by kind and result status.",
		}, []string{"kind", "status"}),
		Elevations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hdcp_dispatch_elevation_failures_total",
			Help: "Failed privilege raises or overlay attachments, by mode.",
		}, []string{"mode"}),
	}
}

func (m *Metrics) observe(k action.Kind, err error) {
	if m == nil || m.Actions == nil {
		return
	}
	kind := "unknown"
	if k.IsValid() {
		kind = k.String()
	}
	m.Actions.WithLabelValues(kind, status.Of(err).String()).Inc()
}

func (m *Metrics) elevationFailed(mode Mode) {
	if m == nil || m.Elevations == nil {
		return
	}
	m.Elevations.WithLabelValues(mode.String()).Inc()
}
