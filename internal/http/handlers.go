package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-refresher/internal/client"
	"github.com/kjstillabower/weather-refresher/internal/degraded"
	"github.com/kjstillabower/weather-refresher/internal/display"
	"github.com/kjstillabower/weather-refresher/internal/lifecycle"
	"github.com/kjstillabower/weather-refresher/internal/location"
	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/observability"
	"github.com/kjstillabower/weather-refresher/internal/overload"
	"github.com/kjstillabower/weather-refresher/internal/parser"
	"github.com/kjstillabower/weather-refresher/internal/service"
	"github.com/kjstillabower/weather-refresher/internal/validation"
)

// Refresher runs on-demand refreshes and reports per-trigger status.
type Refresher interface {
	Refresh(ctx context.Context, trigger service.Trigger, city string) (models.WeatherRecord, error)
	Status(trigger service.Trigger) service.Status
}

// ViewSource is the display surface read by GET /weather.
type ViewSource interface {
	Snapshot() display.View
	City() string
}

// LocationPublisher accepts location events from POST /location.
type LocationPublisher interface {
	Publish(ev location.Event) bool
}

// Geocoder resolves coordinates to a city name.
type Geocoder interface {
	CityName(ctx context.Context, lat, lon float64) (string, error)
}

// HealthConfig holds lifecycle thresholds for the health handler.
type HealthConfig struct {
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	StartTime            time.Time
	// StorePing, when set, is called to check store reachability.
	StorePing func(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	refresher        Refresher
	view             ViewSource
	publisher        LocationPublisher
	geocoder         Geocoder
	healthConfig     *HealthConfig
	logger           *zap.Logger
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. publisher and geocoder may be nil; POST /location then
// answers 503 and coordinate updates are rejected.
func NewHandler(refresher Refresher, view ViewSource, publisher LocationPublisher, geocoder Geocoder, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		refresher:    refresher,
		view:         view,
		publisher:    publisher,
		geocoder:     geocoder,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

type weatherResponse struct {
	display.View
	Refresh map[service.Trigger]service.Status `json:"refresh"`
}

// GetWeather handles GET /weather.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, weatherResponse{
		View: h.view.Snapshot(),
		Refresh: map[service.Trigger]service.Status{
			service.TriggerOnDemand: h.refresher.Status(service.TriggerOnDemand),
			service.TriggerPeriodic: h.refresher.Status(service.TriggerPeriodic),
		},
	})
}

type refreshRequest struct {
	City string `json:"city"`
}

// PostRefresh handles POST /weather/refresh. An empty body refreshes the city currently shown.
func (h *Handler) PostRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeOptionalJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}
	city := req.City
	if city == "" {
		city = h.view.City()
	}
	if city == "" {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", validation.ErrCityEmpty.Error())
		return
	}

	rec, err := h.refresher.Refresh(r.Context(), service.TriggerOnDemand, city)
	if err != nil {
		writeRefreshError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type locationRequest struct {
	City string   `json:"city"`
	Lat  *float64 `json:"lat"`
	Lon  *float64 `json:"lon"`
}

// PostLocation handles POST /location. The body carries either a city or coordinates;
// coordinates are reverse geocoded first. The event is handed to the location bus and
// processed asynchronously.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON")
		return
	}

	city := req.City
	source := "http"
	switch {
	case city != "":
	case req.Lat != nil && req.Lon != nil:
		if h.geocoder == nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "coordinates are not supported")
			return
		}
		resolved, err := h.geocoder.CityName(r.Context(), *req.Lat, *req.Lon)
		if err != nil {
			writeGeocodeError(w, r, err)
			return
		}
		city = resolved
		source = "geocoder"
	default:
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", "city or lat/lon is required")
		return
	}

	city, err := validation.ValidateCity(city, 0, validation.DefaultMaxCityLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return
	}

	ev := location.Event{CityName: city, At: time.Now(), Source: source}
	if h.publisher == nil || !h.publisher.Publish(ev) {
		writeError(w, r, http.StatusServiceUnavailable, "LOCATION_UNAVAILABLE", "location updates are not being consumed")
		return
	}
	writeJSON(w, http.StatusAccepted, ev)
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.status == "degraded" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.StorePing != nil {
		if h.healthConfig.StorePing(r.Context()) == nil {
			checks["store"] = "healthy"
		} else {
			checks["store"] = "unhealthy"
		}
	}
	resp := map[string]interface{}{
		"status":    result.status,
		"service":   "weather-refresher",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.healthConfig != nil && !h.healthConfig.StartTime.IsZero() {
		resp["uptime"] = time.Since(h.healthConfig.StartTime).Round(time.Second).String()
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > starting > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if !lifecycle.IsReady() {
		return healthResult{"starting", http.StatusServiceUnavailable, "not_ready"}
	}
	if h.healthConfig == nil {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if h.healthConfig.RateLimitRPS > 0 && overload.IsOverloaded(h.healthConfig.OverloadWindow, h.healthConfig.RateLimitRPS, h.healthConfig.OverloadThresholdPct) {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if degraded.IsDegraded(h.healthConfig.DegradedWindow, h.healthConfig.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// decodeOptionalJSON decodes r.Body into v; an empty body leaves v untouched.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
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
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// refreshErrorStatus maps a refresh error to its HTTP status and error code.
func refreshErrorStatus(err error) (int, string) {
	var fe *client.FetchError
	switch {
	case validation.IsValidationError(err):
		return http.StatusBadRequest, "INVALID_LOCATION"
	case errors.Is(err, service.ErrRefreshInProgress):
		return http.StatusConflict, "REFRESH_IN_PROGRESS"
	case errors.Is(err, service.ErrRefreshCancelled):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	case errors.Is(err, client.ErrLocationNotFound):
		return http.StatusNotFound, "CITY_NOT_FOUND"
	case errors.Is(err, parser.ErrParse):
		return http.StatusBadGateway, "INVALID_UPSTREAM_RESPONSE"
	case errors.Is(err, service.ErrStore):
		return http.StatusInternalServerError, "STORE_ERROR"
	case errors.As(err, &fe) && fe.Kind == client.KindHTTPStatus:
		return http.StatusBadGateway, "UPSTREAM_ERROR"
	case errors.Is(err, client.ErrNetwork), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func writeRefreshError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := refreshErrorStatus(err)
	message := service.Describe(err)
	if code == "INVALID_LOCATION" {
		message = err.Error()
	}
	writeError(w, r, status, code, message)
	observability.LoggerFromContext(r.Context(), zap.NewNop()).Debug("refresh error",
		zap.String("code", code), zap.Error(err))
}

func writeGeocodeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, location.ErrInvalidCoordinates):
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
	case errors.Is(err, location.ErrNoCity):
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no city found for coordinates")
	default:
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_ERROR", "reverse geocoding failed")
	}
}
