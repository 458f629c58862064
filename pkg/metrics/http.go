package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics counts webhook responses by status class.
type WebhookMetrics struct {
	responses *prometheus.CounterVec
}

func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	responses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_responses_total",
		Help: "Webhook responses, by provider and status class.",
	}, []string{"provider", "class"})
	reg.MustRegister(responses)
	return &WebhookMetrics{responses: responses}
}

// ObserveStatus records one response, e.g. 503 is counted as "5xx".
func (m *WebhookMetrics) ObserveStatus(provider string, status int) {
	if m == nil || m.responses == nil {
		return
	}
	m.responses.WithLabelValues(normalizeLabel(provider), statusClass(status)).Inc()
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "unknown"
	}
	return strconv.Itoa(status/100) + "xx"
}

// NotificationMetrics counts dispatch results per fan-out channel.
type NotificationMetrics struct {
	delivered *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dropped   prometheus.Counter
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return &NotificationMetrics{}
	}
	delivered := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_deliveries_total",
		Help: "Notifications delivered, by channel.",
	}, []string{"channel"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "notification_failures_total",
		Help: "Notification deliveries that failed, by channel.",
	}, []string{"channel"})
	dropped := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notification_dropped_total",
		Help: "Notifications dropped because the dispatch queue was full.",
	})
	reg.MustRegister(delivered, failed, dropped)
	return &NotificationMetrics{delivered: delivered, failed: failed, dropped: dropped}
}

func (m *NotificationMetrics) IncDelivered(channel string) {
	if m == nil || m.delivered == nil {
		return
	}
	m.delivered.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *NotificationMetrics) IncFailed(channel string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(channel)).Inc()
}

func (m *NotificationMetrics) IncDropped() {
	if m == nil || m.dropped == nil {
		return
	}
	m.dropped.Inc()
}
