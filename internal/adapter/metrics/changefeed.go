package metrics

import "github.com/prometheus/client_golang/prometheus"

// ChangeFeedMetrics holds Prometheus metrics for the change-feed stream.
type ChangeFeedMetrics struct {
	Published  *prometheus.CounterVec
	Entries    *prometheus.CounterVec
	ReadErrors prometheus.Counter
}

// NewChangeFeedMetrics creates and registers change-feed metrics on the given registry.
func NewChangeFeedMetrics(reg prometheus.Registerer) *ChangeFeedMetrics {
	m := &ChangeFeedMetrics{
		Published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "published_total",
			Help:      "Total number of change events appended to the stream, by status.",
		}, []string{"status"}),
		Entries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "entries_total",
			Help:      "Total number of stream entries consumed, by result.",
		}, []string{"result"}),
		ReadErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "changefeed",
			Name:      "read_errors_total",
			Help:      "Total number of failed stream reads.",
		}),
	}

	reg.MustRegister(m.Published, m.Entries, m.ReadErrors)
	return m
}
