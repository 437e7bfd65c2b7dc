package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(HTTPRequestDuration) }

// HTTPRequestDuration is labelled by route template, not raw path, to keep cardinality bounded.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds.",
		Buckets: []float64{0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	},
	[]string{"method", "route", "status"},
)
