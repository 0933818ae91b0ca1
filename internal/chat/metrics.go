package chat

import "github.com/prometheus/client_golang/prometheus"

var (
	RegisteredSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_registered_sessions",
		Help: "Number of sessions holding a username",
	})

	PendingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_pending_sessions",
		Help: "Number of accepted connections that have not registered yet",
	})

	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total lines processed by type",
	}, []string{"type"})

	DeliveryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chat_delivery_failures_total",
		Help: "Lines that could not be written to an open session",
	})

	FanoutDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_broadcast_seconds",
		Help:    "Time to deliver one line to every recipient",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(RegisteredSessions)
	prometheus.MustRegister(PendingSessions)
	prometheus.MustRegister(MessagesTotal)
	prometheus.MustRegister(DeliveryFailures)
	prometheus.MustRegister(FanoutDuration)
}
