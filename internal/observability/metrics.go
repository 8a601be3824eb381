package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ConnectedUsers       prometheus.Gauge
	SocketEvents         *prometheus.CounterVec
	NotificationsCreated *prometheus.CounterVec
	NotificationsPushed  prometheus.Counter
	NotificationsDropped prometheus.Counter
	ChatDenials          *prometheus.CounterVec
	RequestDecisions     *prometheus.CounterVec
	TaskTransitions      *prometheus.CounterVec
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ConnectedUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_users",
			Help:      "Number of users with at least one live websocket connection.",
		}),
		SocketEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "socket_events_total",
			Help:      "Websocket connection events by type.",
		}, []string{"event"}),
		NotificationsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_created_total",
			Help:      "Durable notifications written, by type.",
		}, []string{"type"}),
		NotificationsPushed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_pushed_total",
			Help:      "Notifications delivered over a live websocket.",
		}),
		NotificationsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_push_failures_total",
			Help:      "Best-effort pushes that failed or were dropped; never surfaced to callers.",
		}),
		ChatDenials: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_denials_total",
			Help:      "Chat authorization denials by reason.",
		}, []string{"reason"}),
		RequestDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "request_decisions_total",
			Help:      "Task request outcomes (created, accepted, rejected).",
		}, []string{"decision"}),
		TaskTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Task lifecycle transitions by target status.",
		}, []string{"to"}),
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
