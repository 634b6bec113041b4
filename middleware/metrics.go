package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Total number of events handed to the broker",
		},
		[]string{"event_type", "result"},
	)

	messagesConsumedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_consumed_total",
			Help: "Total number of broker messages consumed",
		},
		[]string{"topic", "result"},
	)

	messageRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "message_retries_total",
			Help: "Total number of handler retries",
		},
		[]string{"topic"},
	)

	deadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letters_total",
			Help: "Total number of messages moved to a dead-letter topic",
		},
		[]string{"topic"},
	)

	notificationsSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications sent",
		},
		[]string{"event_type"},
	)

	paymentDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_decisions_total",
			Help: "Total number of simulated payment outcomes",
		},
		[]string{"outcome"},
	)

	ordersExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "orders_expired_total",
			Help: "Total number of orders expired by the sweeper",
		},
	)

	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Total number of expiration sweeps",
		},
		[]string{"result"},
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Expiration sweep duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(eventsPublishedTotal)
	prometheus.MustRegister(messagesConsumedTotal)
	prometheus.MustRegister(messageRetriesTotal)
	prometheus.MustRegister(deadLettersTotal)
	prometheus.MustRegister(notificationsSentTotal)
	prometheus.MustRegister(paymentDecisionsTotal)
	prometheus.MustRegister(ordersExpiredTotal)
	prometheus.MustRegister(sweepRunsTotal)
	prometheus.MustRegister(sweepDuration)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		duration := time.Since(start).Seconds()

		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func RecordEventPublished(eventType string, err error) {
	eventsPublishedTotal.WithLabelValues(eventType, resultLabel(err)).Inc()
}

func RecordMessageConsumed(topic, result string) {
	messagesConsumedTotal.WithLabelValues(topic, result).Inc()
}

func RecordMessageRetry(topic string) {
	messageRetriesTotal.WithLabelValues(topic).Inc()
}

func RecordDeadLetter(topic string) {
	deadLettersTotal.WithLabelValues(topic).Inc()
}

func RecordNotificationSent(eventType string) {
	notificationsSentTotal.WithLabelValues(eventType).Inc()
}

func RecordPaymentDecision(approved bool) {
	outcome := "declined"
	if approved {
		outcome = "approved"
	}
	paymentDecisionsTotal.WithLabelValues(outcome).Inc()
}

func RecordSweep(expired int, duration time.Duration, err error) {
	ordersExpiredTotal.Add(float64(expired))
	sweepRunsTotal.WithLabelValues(resultLabel(err)).Inc()
	sweepDuration.Observe(duration.Seconds())
}
