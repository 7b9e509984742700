package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claridad_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)
	uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claridad_uploads_total",
			Help: "Total number of CSV uploads by outcome",
		},
		[]string{"outcome"},
	)
	uploadedRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "claridad_uploaded_rows_total",
			Help: "Total number of rows stored from uploads",
		},
	)
	queries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "claridad_queries_total",
			Help: "Total number of SQL queries by outcome",
		},
		[]string{"outcome"},
	)
	queryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "claridad_query_duration_seconds",
			Help:    "Time spent executing SQL queries",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func outcome(status int) string {
	if status >= 200 && status < 300 {
		return "ok"
	}
	return strconv.Itoa(status)
}

func metricsHandler() http.Handler {
	return promhttp.Handler()
}
