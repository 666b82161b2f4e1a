package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/balandzin/Weather-API/internal/observability"
)

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// Limiter guards POST /weather/refresh. Nil disables rate limiting.
	Limiter *rate.Limiter
	// RequestTimeout bounds non-streaming handlers. Zero disables it.
	RequestTimeout time.Duration
}

// NewRouter mounts h's routes with correlation IDs and metrics on every request.
func NewRouter(h *Handler, opts RouterOptions, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/events", h.StreamEvents).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	if opts.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(opts.RequestTimeout))
	}
	api.HandleFunc("/weather/current", h.GetCurrent).Methods(http.MethodGet)
	api.HandleFunc("/weather/forecast", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/location/authorization", h.PutAuthorization).Methods(http.MethodPut)

	refresh := api.NewRoute().Subrouter()
	refresh.Use(RateLimitMiddleware(opts.Limiter))
	refresh.HandleFunc("/weather/refresh", h.PostRefresh).Methods(http.MethodPost)

	return router
}
