package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/balandzin/Weather-API/internal/location"
	"github.com/balandzin/Weather-API/internal/validation"
	"github.com/balandzin/Weather-API/internal/viewstate"
)

// Refresher issues fetch cycles. *app.Controller implements it.
type Refresher interface {
	Refresh(ctx context.Context, city string) error
}

// APIKeyChecker reports whether the provider accepts the configured key.
type APIKeyChecker interface {
	ValidateAPIKey(ctx context.Context) error
}

// Authorizer accepts permission changes. *location.Provider implements it.
type Authorizer interface {
	SetAuthorization(location.Authorization)
	Authorization() location.Authorization
}

// HandlerConfig holds optional collaborators and display settings.
type HandlerConfig struct {
	// Location is the timezone for forecast rows. Defaults to time.Local.
	Location *time.Location
	// CachePing, when set, is called to check cache reachability.
	CachePing func(ctx context.Context) error
	// Heartbeat is the SSE keep-alive period. Defaults to 15s.
	Heartbeat time.Duration
}

// Handler serves the two weather screens and the commands that drive them.
type Handler struct {
	store      *viewstate.Store
	refresher  Refresher
	keyChecker APIKeyChecker
	authorizer Authorizer
	cfg        HandlerConfig
	logger     *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

var validate = validator.New()

// NewHandler returns a new Handler. keyChecker and authorizer may be nil.
func NewHandler(
	store *viewstate.Store,
	refresher Refresher,
	keyChecker APIKeyChecker,
	authorizer Authorizer,
	cfg HandlerConfig,
	logger *zap.Logger,
) *Handler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:      store,
		refresher:  refresher,
		keyChecker: keyChecker,
		authorizer: authorizer,
		cfg:        cfg,
		logger:     logger,
	}
}

// SetShuttingDown marks the process as draining. Health turns 503 and event streams end.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// IsShuttingDown reports the draining flag.
func (h *Handler) IsShuttingDown() bool {
	return h.shuttingDown.Load()
}

type currentResponse struct {
	Current viewstate.CurrentView `json:"current"`
	Version uint64                `json:"version"`
}

type forecastResponse struct {
	Populated bool                    `json:"populated"`
	Rows      []viewstate.ForecastRow `json:"rows"`
	Version   uint64                  `json:"version"`
}

// GetCurrent handles GET /weather/current.
func (h *Handler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()
	writeJSON(w, http.StatusOK, currentResponse{Current: snap.Current(), Version: snap.Version()})
}

// GetForecast handles GET /weather/forecast.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.forecastBody(h.store.Snapshot()))
}

func (h *Handler) forecastBody(snap *viewstate.Snapshot) forecastResponse {
	_, populated := snap.ForecastBundle()
	rows := snap.ForecastRows(h.cfg.Location)
	if rows == nil {
		rows = []viewstate.ForecastRow{}
	}
	return forecastResponse{Populated: populated, Rows: rows, Version: snap.Version()}
}

type refreshRequest struct {
	City string `json:"city" validate:"required"`
}

// PostRefresh handles POST /weather/refresh. The fetch runs in the background; watch
// /events or poll the screens for the result.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	var body refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a city field")
		return
	}
	if err := validate.Struct(body); err != nil {
		h.store.NotifyEmptyInput()
		writeError(w, r, http.StatusBadRequest, "EMPTY_INPUT", viewstate.AlertEmptyInput.Message())
		return
	}

	err := h.refresher.Refresh(r.Context(), body.City)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"accepted": true,
			"city":     body.City,
		})
	case errors.Is(err, validation.ErrEmptyInput):
		writeError(w, r, http.StatusBadRequest, "EMPTY_INPUT", viewstate.AlertEmptyInput.Message())
	case errors.Is(err, validation.ErrCityTooLong), errors.Is(err, validation.ErrCityInvalidChars):
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
	default:
		loggerFrom(r, h.logger).Error("refresh failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "refresh failed")
	}
}

type authorizationRequest struct {
	Status string `json:"status" validate:"required,oneof=not_determined authorized denied restricted"`
}

// PutAuthorization handles PUT /location/authorization.
func (h *Handler) PutAuthorization(w http.ResponseWriter, r *http.Request) {
	if h.authorizer == nil {
		writeError(w, r, http.StatusConflict, "LOCATION_DISABLED", "no location source is configured")
		return
	}
	var body authorizationRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "request body must be JSON with a status field")
		return
	}
	if err := validate.Struct(body); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATUS", "status must be one of not_determined, authorized, denied, restricted")
		return
	}
	auth, err := location.ParseAuthorization(body.Status)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_STATUS", err.Error())
		return
	}
	h.authorizer.SetAuthorization(auth)
	writeJSON(w, http.StatusOK, map[string]string{"status": h.authorizer.Authorization().String()})
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	status, statusCode, checks := h.computeHealth(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", status))
	}
	h.healthStatusPrev = status
	h.healthStatusMu.Unlock()

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-api",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealth evaluates, in order: shutting-down, API key, cache. Location permission
// is reported but never degrades health.
func (h *Handler) computeHealth(ctx context.Context) (string, int, map[string]string) {
	checks := make(map[string]string)
	if h.IsShuttingDown() {
		return "shutting-down", http.StatusServiceUnavailable, checks
	}

	status, code := "healthy", http.StatusOK
	if h.keyChecker != nil {
		if err := h.keyChecker.ValidateAPIKey(ctx); err != nil {
			checks["weatherApi"] = "unhealthy"
			status, code = "degraded", http.StatusServiceUnavailable
		} else {
			checks["weatherApi"] = "healthy"
		}
	}
	if h.cfg.CachePing != nil {
		if err := h.cfg.CachePing(ctx); err != nil {
			checks["cache"] = "unhealthy"
			status, code = "degraded", http.StatusServiceUnavailable
		} else {
			checks["cache"] = "healthy"
		}
	}
	if h.authorizer != nil {
		checks["location"] = h.authorizer.Authorization().String()
	}
	return status, code, checks
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": correlationID(r),
		},
	})
}

func correlationID(r *http.Request) string {
	if v, ok := r.Context().Value("correlation_id").(string); ok {
		return v
	}
	return ""
}

func loggerFrom(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return fallback
}
