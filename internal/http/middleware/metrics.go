// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus collectors for HTTP traffic. Label
// cardinality stays bounded: the path label is always the registered route
// pattern (e.g. /api/v1/middleman/:id), never the raw URL, so request and
// trade identifiers cannot multiply series.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// reqTotal counts finished requests by method, route pattern, and status.
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	// reqDuration records request latency. Status is omitted from the label
	// set to keep the histogram series count low.
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// reqInflight gauges requests currently inside a handler.
	reqInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "requests_inflight",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	// respSize captures response body sizes. Buckets cover the JSON payloads
	// this API produces, from empty envelopes to full request listings.
	respSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "Size of HTTP responses in bytes.",
			Buckets: []float64{
				200, 1 << 10, 5 << 10, 25 << 10,
				100 << 10, 500 << 10, 1 << 20,
			},
		},
		[]string{"method", "path"},
	)

	// reqThrottled counts requests rejected by the rate limiter, labelled by
	// the limiter key kind so moderator bursts and anonymous scraping can be
	// told apart.
	reqThrottled = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "market",
			Subsystem: "http",
			Name:      "throttled_total",
			Help:      "Total number of requests rejected by the rate limiter.",
		},
		[]string{"key_kind"},
	)
)

func init() {
	prometheus.MustRegister(reqTotal, reqDuration, reqInflight, respSize, reqThrottled)
}

// Metrics returns a Gin middleware that instruments every request.
//
// Per request it increments market_http_requests_total, observes
// market_http_request_duration_seconds and market_http_response_size_bytes,
// and tracks market_http_requests_inflight while the handler runs. When no
// route matched (404s), the raw URL path is used since FullPath is empty;
// those requests share the small set of not-found paths clients actually hit.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqInflight.Inc()
		defer reqInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		reqTotal.WithLabelValues(method, path, status).Inc()
		reqDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size >= 0 {
			respSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// markThrottled records a rate-limiter rejection for the given key kind
// ("user" or "ip"). Called by the rate limit middleware.
func markThrottled(kind string) {
	reqThrottled.WithLabelValues(kind).Inc()
}
