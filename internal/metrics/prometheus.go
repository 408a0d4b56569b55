package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_radar_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "product_radar_http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "route", "status"},
	)
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_radar_signals_total",
			Help: "Signal updates by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	casRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "product_radar_score_cas_retries_total",
			Help: "Score writes that lost the revision compare-and-set and were retried.",
		},
	)
	statsCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "product_radar_stats_cache_total",
			Help: "Stats cache lookups by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(signalsTotal)
	prometheus.MustRegister(casRetriesTotal)
	prometheus.MustRegister(statsCacheTotal)
}

// RecordRequest 记录一次 HTTP 请求。route 用路由模板，避免商品 id 撑爆标签基数。
func RecordRequest(method, route string, statusCode int, duration time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordSignal outcome: applied|stale|queued|duplicate|dropped|failed
func RecordSignal(kind, outcome string) {
	signalsTotal.WithLabelValues(kind, outcome).Inc()
}

func RecordCASRetry() {
	casRetriesTotal.Inc()
}

func RecordStatsCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	statsCacheTotal.WithLabelValues(result).Inc()
}

func classifyStatus(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 300 && statusCode < 400:
		return "3xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500 && statusCode < 600:
		return "5xx"
	}
	return "unknown"
}

// Handler 导出 Prometheus 指标。
func Handler() http.Handler {
	return promhttp.Handler()
}
