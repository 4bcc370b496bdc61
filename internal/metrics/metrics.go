// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Chat reward tick results.
const (
	TickAwarded  = "awarded"
	TickInactive = "inactive"
	TickFailed   = "failed"
	TickEnded    = "ended"
)

var (
	ChatRewardTicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_chat_ticks_total",
		Help: "Chat reward accrual ticks by result",
	}, []string{"result"})
	ChatRewardPoints = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reward_chat_points_total",
		Help: "Points credited by chat reward accrual",
	})
	ChatRewardSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reward_chat_sessions",
		Help: "Live chat reward accrual sessions",
	})
	SpinsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reward_spins_total",
		Help: "Daily spins by outcome",
	}, []string{"outcome"})
	PresenceOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "reward_presence_online",
		Help: "Presence keys currently announced on the channel",
	})
	HttpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	HttpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

func init() {
	prometheus.MustRegister(
		ChatRewardTicks,
		ChatRewardPoints,
		ChatRewardSessions,
		SpinsTotal,
		PresenceOnline,
		HttpRequestsTotal,
		HttpRequestDuration,
	)
}

// GinMiddleware records request counts and latency per route.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		labels := prometheus.Labels{"method": c.Request.Method, "path": path, "status": status}
		HttpRequestsTotal.With(labels).Inc()
		HttpRequestDuration.With(labels).Observe(time.Since(start).Seconds())
	}
}
