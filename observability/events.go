package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"datalayr/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking emitted module events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "datalayr",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed module events segmented by module and type.",
			}, []string{"module", "type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for an event type such as
// "datastore.confirmed".
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(eventType)
	if normalized == "" {
		return
	}
	m.emitted.WithLabelValues(types.ModuleOf(normalized), normalized).Inc()
}
