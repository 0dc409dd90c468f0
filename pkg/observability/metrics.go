package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Flush metrics
	flushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfolio_session_flushes_total",
			Help: "Total number of session document flushes",
		},
		[]string{"reason", "status"},
	)

	flushesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfolio_session_flushes_dropped_total",
			Help: "Total number of flushes dropped by the minimum-interval throttle",
		},
		[]string{"reason"},
	)

	flushDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentfolio_session_flush_duration_seconds",
			Help:    "Session flush duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"reason"},
	)

	// Aggregation metrics
	summaryMergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfolio_summary_merges_total",
			Help: "Total number of hourly summary merges",
		},
		[]string{"status"},
	)

	// Chat widget metrics
	chatRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfolio_chat_replies_total",
			Help: "Total number of chat widget replies",
		},
		[]string{"source", "status"},
	)

	// Session metrics
	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentfolio_active_sessions",
			Help: "Number of live tracked sessions",
		},
	)

	eventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentfolio_tracked_events_total",
			Help: "Total number of tracked visitor events",
		},
		[]string{"type", "outcome"},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			flushesTotal,
			flushesDropped,
			flushDuration,
			summaryMergesTotal,
			chatRepliesTotal,
			activeSessions,
			eventsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordFlush records a completed session flush
func RecordFlush(reason, status string, duration time.Duration) {
	flushesTotal.WithLabelValues(reason, status).Inc()
	flushDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordFlushDropped records a flush rejected by the throttle
func RecordFlushDropped(reason string) {
	flushesDropped.WithLabelValues(reason).Inc()
}

// RecordSummaryMerge records an hourly summary merge
func RecordSummaryMerge(status string) {
	summaryMergesTotal.WithLabelValues(status).Inc()
}

// RecordChatReply records a chat widget reply by source (faq or generative)
func RecordChatReply(source, status string) {
	chatRepliesTotal.WithLabelValues(source, status).Inc()
}

// RecordEvent records a tracked visitor event and whether it was recorded or
// deduplicated
func RecordEvent(eventType, outcome string) {
	eventsTotal.WithLabelValues(eventType, outcome).Inc()
}

// AddActiveSessions adjusts the live session gauge
func AddActiveSessions(delta int) {
	activeSessions.Add(float64(delta))
}
