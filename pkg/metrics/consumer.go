package metrics

import "github.com/prometheus/client_golang/prometheus"

// ConsumerMetrics counts how Pub/Sub consumers settle each message.
type ConsumerMetrics struct {
	settled *prometheus.CounterVec
}

func NewConsumerMetrics(reg prometheus.Registerer, consumer string) *ConsumerMetrics {
	if reg == nil {
		return &ConsumerMetrics{}
	}
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pubsub_messages_settled_total",
		Help:        "Pub/Sub messages settled by a consumer, by disposition.",
		ConstLabels: prometheus.Labels{"consumer": normalizeLabel(consumer)},
	}, []string{"disposition"})
	reg.MustRegister(settled)
	return &ConsumerMetrics{settled: settled}
}

// ObserveDisposition records one settled message: "ack", "nack" or "dropped".
func (m *ConsumerMetrics) ObserveDisposition(disposition string) {
	if m == nil || m.settled == nil {
		return
	}
	m.settled.WithLabelValues(normalizeLabel(disposition)).Inc()
}
