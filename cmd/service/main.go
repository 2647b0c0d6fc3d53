package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-refresher/internal/circuitbreaker"
	"github.com/kjstillabower/weather-refresher/internal/client"
	"github.com/kjstillabower/weather-refresher/internal/config"
	"github.com/kjstillabower/weather-refresher/internal/display"
	httphandler "github.com/kjstillabower/weather-refresher/internal/http"
	"github.com/kjstillabower/weather-refresher/internal/lifecycle"
	"github.com/kjstillabower/weather-refresher/internal/location"
	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/notify"
	"github.com/kjstillabower/weather-refresher/internal/observability"
	"github.com/kjstillabower/weather-refresher/internal/scheduler"
	"github.com/kjstillabower/weather-refresher/internal/service"
	"github.com/kjstillabower/weather-refresher/internal/store"
	"github.com/kjstillabower/weather-refresher/internal/validation"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	weatherClient, err := client.NewOpenWeatherClient(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout)
	if err != nil {
		logger.Fatal("weather client", zap.Error(err))
	}
	cb := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		IsFailure:        client.TripsBreaker,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition("weather_api", from.String(), to.String(), int(to))
			logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	weatherClient.SetCircuitBreaker(cb)

	startCtx, startCancel := context.WithTimeout(context.Background(), 10*time.Second)
	prefs, err := store.Open(startCtx, store.Config{
		Backend:               cfg.StoreBackend,
		Namespace:             cfg.StoreNamespace,
		TimeZone:              cfg.TimeZone,
		FilePath:              cfg.StoreFilePath,
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      cfg.MemcachedTimeout,
		MemcachedMaxIdleConns: cfg.MemcachedMaxIdleConns,
		RedisAddr:             cfg.RedisAddr,
		RedisPassword:         cfg.RedisPassword,
		RedisDB:               cfg.RedisDB,
		PostgresDSN:           cfg.PostgresDSN,
	})
	if err != nil {
		startCancel()
		logger.Fatal("preference store", zap.Error(err))
	}
	logger.Info("store backend", zap.String("backend", cfg.StoreBackend), zap.String("namespace", cfg.StoreNamespace))

	board := display.NewBoard()
	lastCity := ""
	if state, ok, err := prefs.Load(startCtx); err != nil {
		logger.Warn("load cached weather", zap.Error(err))
	} else if ok {
		board.Preload(state)
		lastCity = state.Localization
		logger.Info("cached weather restored", zap.String("city", state.Localization), zap.String("last_update", state.LastUpdate))
	}
	startCancel()

	refresher := service.NewRefreshService(weatherClient, prefs, board, logger, service.Config{
		MinCityLength: cfg.MinCityLength,
		MaxCityLength: cfg.MaxCityLength,
		TimeZone:      cfg.TimeZone,
	})

	notifier, closeNotifier, err := newNotifier(cfg, logger)
	if err != nil {
		logger.Fatal("notifier", zap.Error(err))
	}

	periodic := scheduler.NewPeriodicRefresher(refresher, notifier, logger, scheduler.Config{
		Interval:   cfg.RefreshInterval,
		RunTimeout: cfg.RefreshRunTimeout,
		OnFinish: func(o scheduler.Outcome) {
			logger.Debug("periodic refresh finished", zap.String("outcome", string(o)))
		},
	})
	periodic.SetCity(lastCity)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	onLocation := locationHandler(refresher, periodic, cfg.RequestTimeout, logger)
	bus := location.NewBus()
	go func() {
		if err := location.Follow(appCtx, bus, onLocation); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("location bus stopped", zap.Error(err))
		}
	}()
	if cfg.DefaultCity != "" {
		go func() {
			if err := location.Follow(appCtx, location.StaticSource{City: cfg.DefaultCity}, onLocation); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("default city source", zap.Error(err))
			}
		}()
	}

	if err := periodic.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	geocoder := location.NewReverseGeocoder(cfg.WeatherAPIKey, cfg.GeocodingURL, cfg.WeatherAPITimeout)
	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		StartTime:            time.Now(),
		StorePing:            prefs.Ping,
	}
	handler := httphandler.NewHandler(refresher, board, bus, geocoder, healthConfig, logger)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	router := httphandler.NewRouter(handler, logger, httphandler.RouterConfig{
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	readyTimer := time.AfterFunc(cfg.ReadyDelay, func() { lifecycle.SetReady(true) })
	defer readyTimer.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	periodic.Stop()
	appCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	if err := httphandler.WaitForInFlight(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if err := closeNotifier(); err != nil {
		logger.Error("notifier close", zap.Error(err))
	}
	if err := prefs.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// newNotifier builds the configured notifier and its close function.
func newNotifier(cfg *config.Config, logger *zap.Logger) (notify.Notifier, func() error, error) {
	switch cfg.NotifyBackend {
	case notify.BackendMQTT:
		n, err := notify.NewMQTTNotifier(notify.MQTTConfig{
			BrokerURL:      cfg.MQTTBroker,
			ClientIDPrefix: cfg.MQTTClientIDPrefix,
			Username:       cfg.MQTTUsername,
			Password:       cfg.MQTTPassword,
			Topic:          cfg.MQTTTopic,
			ConnectTimeout: cfg.MQTTConnectTimeout,
			PublishTimeout: cfg.MQTTPublishTimeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("notify backend: mqtt", zap.String("broker", cfg.MQTTBroker), zap.String("topic", cfg.MQTTTopic))
		return n, n.Close, nil
	case notify.BackendLog, "":
		logger.Info("notify backend: log")
		return notify.NewLogNotifier(logger), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", notify.ErrUnknownBackend, cfg.NotifyBackend)
	}
}

type onDemandRefresher interface {
	Refresh(ctx context.Context, trigger service.Trigger, city string) (models.WeatherRecord, error)
}

type cityTarget interface {
	SetCity(city string)
}

// locationHandler refreshes on demand for every location event and re-targets the periodic
// job to the new city. Cities rejected by validation leave the periodic target unchanged.
func locationHandler(refresher onDemandRefresher, target cityTarget, timeout time.Duration, logger *zap.Logger) func(context.Context, location.Event) {
	return func(ctx context.Context, ev location.Event) {
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		log := logger.With(zap.String("city", ev.CityName), zap.String("source", ev.Source))
		_, err := refresher.Refresh(ctx, service.TriggerOnDemand, ev.CityName)
		if err != nil && validation.IsValidationError(err) {
			log.Warn("location event rejected", zap.Error(err))
			return
		}
		target.SetCity(ev.CityName)
		if err != nil {
			log.Warn("on-demand refresh after location change failed", zap.Error(err))
			return
		}
		log.Info("location changed")
	}
}
