package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "playback_active_sessions",
			Help: "Number of live playback sessions",
		},
	)

	HeartbeatFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_heartbeat_flushes_total",
			Help: "Heartbeat flush attempts against the remote authority",
		},
		[]string{"result"}, // ok | error | skipped
	)

	AccessEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_access_events_total",
			Help: "Item access events sent to the remote authority",
		},
		[]string{"result"},
	)

	CompletionSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "playback_completion_submissions_total",
			Help: "Item completion submissions",
		},
		[]string{"result"}, // ok | error | duplicate
	)

	CertificateUnlocks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "playback_certificate_unlocks_total",
			Help: "Certificate gate unlock events",
		},
	)
)

func Init() {
	prometheus.MustRegister(RequestCounter)
	prometheus.MustRegister(RequestDuration)
	prometheus.MustRegister(ActiveSessions)
	prometheus.MustRegister(HeartbeatFlushes)
	prometheus.MustRegister(AccessEvents)
	prometheus.MustRegister(CompletionSubmissions)
	prometheus.MustRegister(CertificateUnlocks)
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
