package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WeatherAPICallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverml_weather_api_calls_total",
			Help: "Total Open-Meteo API calls",
		},
		[]string{"endpoint", "status"},
	)

	WeatherAPILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "riverml_weather_api_latency_seconds",
			Help:    "Open-Meteo API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	PreprocessRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverml_preprocess_runs_total",
			Help: "Total feature preprocessing runs",
		},
		[]string{"status"},
	)

	PreprocessDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "riverml_preprocess_duration_seconds",
			Help:    "Feature preprocessing run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	TrainingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverml_trainings_total",
			Help: "Total model training runs per horizon",
		},
		[]string{"horizon", "status"},
	)

	ForecastsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverml_forecasts_generated_total",
			Help: "Total water-level forecasts generated",
		},
		[]string{"station"},
	)

	AlignmentWarningsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "riverml_alignment_warnings_total",
			Help: "Feature alignment warnings during inference",
		},
		[]string{"kind"},
	)
)
