package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EventMetrics содержит метрики обработки событий консьюмерами.
type EventMetrics struct {
	// Счётчики по ключам маршрутизации.
	eventsConsumed *prometheus.CounterVec
	eventsFailed   *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec

	// Гистограмма времени обработки одного события.
	handleDuration *prometheus.HistogramVec
}

// NewEventMetrics создаёт метрики консьюмера в default registry.
func NewEventMetrics(service string) *EventMetrics {
	return newEventMetricsWithRegisterer(prometheus.DefaultRegisterer, service)
}

func newEventMetricsWithRegisterer(registerer prometheus.Registerer, service string) *EventMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	labels := prometheus.Labels{"service": service}

	return &EventMetrics{
		eventsConsumed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name:        "dds_events_consumed_total",
			Help:        "Total number of events handled successfully",
			ConstLabels: labels,
		}, []string{"routing_key"}),
		eventsFailed: registerCounterVec(registerer, prometheus.CounterOpts{
			Name:        "dds_events_failed_total",
			Help:        "Total number of events that finished with an error",
			ConstLabels: labels,
		}, []string{"routing_key"}),
		eventsDropped: registerCounterVec(registerer, prometheus.CounterOpts{
			Name:        "dds_events_dropped_total",
			Help:        "Total number of events acked without effect (duplicates, stale updates, unknown keys)",
			ConstLabels: labels,
		}, []string{"routing_key"}),
		handleDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:        "dds_event_handle_duration_seconds",
			Help:        "Duration of a single event handling in seconds",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"routing_key"}),
	}
}

// RecordConsumed фиксирует успешно обработанное событие.
func (m *EventMetrics) RecordConsumed(routingKey string, duration time.Duration) {
	m.eventsConsumed.WithLabelValues(routingKey).Inc()
	m.handleDuration.WithLabelValues(routingKey).Observe(duration.Seconds())
}

// RecordFailed фиксирует событие, обработка которого завершилась ошибкой.
func (m *EventMetrics) RecordFailed(routingKey string) {
	m.eventsFailed.WithLabelValues(routingKey).Inc()
}

// RecordDropped фиксирует событие, подтверждённое без эффекта.
func (m *EventMetrics) RecordDropped(routingKey string) {
	m.eventsDropped.WithLabelValues(routingKey).Inc()
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
