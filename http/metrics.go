package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fertilizer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	predictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fertilizer_predictions_total",
			Help: "Total number of successful predictions by recommended fertilizer",
		},
		[]string{"fertilizer"},
	)

	predictionErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fertilizer_prediction_errors_total",
			Help: "Total number of rejected or failed prediction requests",
		},
		[]string{"reason"},
	)

	modelLoaded = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fertilizer_model_loaded",
			Help: "1 when a model artifact is loaded, 0 otherwise",
		},
	)
)

const (
	reasonInvalidBody      = "invalid_body"
	reasonSchema           = "schema_validation"
	reasonModelUnavailable = "model_unavailable"
	reasonPrediction       = "prediction_error"
	reasonTimeout          = "timeout"
)
