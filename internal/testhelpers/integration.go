//go:build integration
// +build integration

package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/kjstillabower/weather-refresher/internal/client"
	"github.com/kjstillabower/weather-refresher/internal/display"
	"github.com/kjstillabower/weather-refresher/internal/observability"
	"github.com/kjstillabower/weather-refresher/internal/service"
	"github.com/kjstillabower/weather-refresher/internal/store"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey         string
	APIURL         string
	StoreBackend   string // any store backend; empty means memory
	MemcachedAddrs string
	RedisAddr      string
	PostgresDSN    string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	return IntegrationTestConfig{
		APIKey:         apiKey,
		APIURL:         envOr("WEATHER_API_URL", "https://api.openweathermap.org/data/2.5/weather"),
		StoreBackend:   os.Getenv("INTEGRATION_STORE_BACKEND"),
		MemcachedAddrs: envOr("MEMCACHED_ADDRS", "localhost:11211"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
	}
}

// IntegrationService bundles the live pipeline pieces a test inspects.
type IntegrationService struct {
	Refresher *service.RefreshService
	Store     *store.Instrumented
	Board     *display.Board
}

// SetupIntegrationService wires a RefreshService against the live API and the configured
// store backend under a fresh namespace. Falls back to the memory store when the backend
// cannot be opened.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig) (*IntegrationService, func()) {
	t.Helper()
	logger, err := observability.NewLogger()
	if err != nil {
		t.Fatalf("NewLogger() error = %v", err)
	}

	weatherClient := SetupIntegrationClient(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	namespace := "it-" + uuid.NewString()
	st, err := store.Open(ctx, store.Config{
		Backend:               cfg.StoreBackend,
		Namespace:             namespace,
		FilePath:              t.TempDir() + "/preferences.yaml",
		MemcachedAddrs:        cfg.MemcachedAddrs,
		MemcachedTimeout:      500 * time.Millisecond,
		MemcachedMaxIdleConns: 2,
		RedisAddr:             cfg.RedisAddr,
		PostgresDSN:           cfg.PostgresDSN,
	})
	if err != nil {
		t.Logf("store backend %q not available (%v), using memory store", cfg.StoreBackend, err)
		st, _ = store.Open(ctx, store.Config{Namespace: namespace})
	}

	board := display.NewBoard()
	svc := service.NewRefreshService(weatherClient, st, board, logger, service.Config{})
	cleanup := func() { _ = st.Close() }
	return &IntegrationService{Refresher: svc, Store: st, Board: board}, cleanup
}

// SetupIntegrationClient creates a weather client for integration tests.
func SetupIntegrationClient(t *testing.T, cfg IntegrationTestConfig) *client.OpenWeatherClient {
	t.Helper()
	c, err := client.NewOpenWeatherClient(cfg.APIKey, cfg.APIURL, 5*time.Second)
	if err != nil {
		t.Fatalf("NewOpenWeatherClient() error = %v", err)
	}
	return c
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
