package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// OpenWeatherMap call rate per endpoint (weather, forecast). Watch for: error vs success ratio.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Provider latency per request. Watch for: p95 > 2s (upstream degradation).
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts. Zero unless retries are configured.
	WeatherAPIRetriesTotal *prometheus.CounterVec

	// Breaker state changes. Watch for: flapping between open and half_open.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Fetches that resolved to "no data", by operation and error category.
	AbsentResultsTotal *prometheus.CounterVec

	// Forecast cache saves/loads by backend and result (ok, miss, error, malformed).
	ForecastCacheOpsTotal *prometheus.CounterVec

	// View-state mutations by field (current, forecast).
	ViewUpdatesTotal *prometheus.CounterVec

	// Updates not delivered because a subscriber's buffer was full.
	ViewUpdatesDroppedTotal prometheus.Counter

	// User-facing alerts by kind (permission_denied, empty_input).
	AlertsTotal *prometheus.CounterVec

	// Coordinates emitted by the location provider, by source.
	LocationUpdatesTotal *prometheus.CounterVec

	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Refresh commands rejected by the rate limiter.
	RateLimitDeniedTotal prometheus.Counter
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of OpenWeatherMap API calls",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "OpenWeatherMap API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather API calls",
		},
		[]string{"endpoint"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	AbsentResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "absentResultsTotal",
			Help: "Weather fetches that resolved without data",
		},
		[]string{"operation", "category"},
	)
	ForecastCacheOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forecastCacheOperationsTotal",
			Help: "Forecast cache operations by backend, operation and result",
		},
		[]string{"backend", "operation", "result"},
	)
	ViewUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewUpdatesTotal",
			Help: "View-state mutations by field",
		},
		[]string{"field"},
	)
	ViewUpdatesDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "viewUpdatesDroppedTotal",
			Help: "View-state updates dropped for slow subscribers",
		},
	)
	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alertsTotal",
			Help: "User-facing alerts raised",
		},
		[]string{"kind"},
	)
	LocationUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "locationUpdatesTotal",
			Help: "Coordinates emitted by the location provider",
		},
		[]string{"source"},
	)
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of refresh requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CircuitBreakerTransitionsTotal, AbsentResultsTotal,
		ForecastCacheOpsTotal,
		ViewUpdatesTotal, ViewUpdatesDroppedTotal, AlertsTotal,
		LocationUpdatesTotal,
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		RateLimitDeniedTotal,
	)
}

// RecordCircuitBreakerTransition counts one breaker state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// RecordCacheOp counts one forecast cache operation.
func RecordCacheOp(backend, operation, result string) {
	ForecastCacheOpsTotal.WithLabelValues(backend, operation, result).Inc()
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
