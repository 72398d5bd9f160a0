package netapi

import "github.com/prometheus/client_golang/prometheus"

func init() {
	prometheus.MustRegister(metricsRequestsByEndpoint)
	prometheus.MustRegister(metricsEndpointToStatus)
	prometheus.MustRegister(metricsResponseTimeHistogram)
	prometheus.MustRegister(metricsResponseBytes)
	prometheus.MustRegister(metricsCurrentEpoch)
}

var metricsRequestsByEndpoint = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "myco_requests_by_endpoint",
		Help: "RPC requests by endpoint",
	},
	[]string{"endpoint"},
)

var metricsEndpointToStatus = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "myco_endpoint_to_status",
		Help: "Endpoint to success or failure",
	},
	[]string{"endpoint", "status"},
)

var metricsResponseTimeHistogram = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "myco_response_time_seconds",
		Help:    "Response time by endpoint",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 16),
	},
	[]string{"endpoint"},
)

var metricsResponseBytes = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "myco_response_bytes_total",
		Help: "Response payload bytes by endpoint",
	},
	[]string{"endpoint"},
)

var metricsCurrentEpoch = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "myco_current_epoch",
		Help: "Current epoch of this server",
	},
)
