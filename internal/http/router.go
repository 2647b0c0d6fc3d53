package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-refresher/internal/observability"
)

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter wires routes and middleware. Rate limiting and the request timeout apply to
// the routes that can trigger upstream calls.
func NewRouter(h *Handler, logger *zap.Logger, cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)

	upstream := router.NewRoute().Subrouter()
	upstream.Use(RateLimitMiddleware(cfg.Limiter))
	upstream.Use(TimeoutMiddleware(cfg.RequestTimeout))
	upstream.HandleFunc("/weather/refresh", h.PostRefresh).Methods(http.MethodPost)
	upstream.HandleFunc("/location", h.PostLocation).Methods(http.MethodPost)
	return router
}
