package apiclient

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts token renewals and the requests that waited on them. A nil
// *Metrics records nothing.
type Metrics struct {
	refreshes *prometheus.CounterVec
	queued    prometheus.Counter
	retried   prometheus.Counter
}

// NewMetrics registers the transport metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ucoclient",
			Subsystem: "apiclient",
			Name:      "token_refreshes_total",
			Help:      "Token renewals triggered by authorization failures, by result.",
		}, []string{"result"}),
		queued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ucoclient",
			Subsystem: "apiclient",
			Name:      "queued_requests_total",
			Help:      "Requests that waited for an in-flight token renewal.",
		}),
		retried: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ucoclient",
			Subsystem: "apiclient",
			Name:      "retried_requests_total",
			Help:      "Requests resent after a token renewal.",
		}),
	}
}

func (m *Metrics) refreshDone(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.refreshes.WithLabelValues(result).Inc()
}

func (m *Metrics) requestQueued() {
	if m == nil {
		return
	}
	m.queued.Inc()
}

func (m *Metrics) requestRetried() {
	if m == nil {
		return
	}
	m.retried.Inc()
}
