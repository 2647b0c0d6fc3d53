package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/weather-refresher/internal/notify"
	"github.com/kjstillabower/weather-refresher/internal/store"
)

// Config holds service configuration loaded from YAML, .env and env.
type Config struct {
	ServerPort string

	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	GeocodingURL      string

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	StoreBackend          string // memory, file, memcached, redis or postgres
	StoreNamespace        string
	TimeZone              *time.Location
	StoreFilePath         string
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	PostgresDSN           string

	RefreshInterval   time.Duration
	RefreshRunTimeout time.Duration
	DefaultCity       string
	MinCityLength     int
	MaxCityLength     int

	NotifyBackend      string // log or mqtt
	MQTTBroker         string
	MQTTClientIDPrefix string
	MQTTUsername       string
	MQTTPassword       string
	MQTTTopic          string
	MQTTConnectTimeout time.Duration
	MQTTPublishTimeout time.Duration

	ShutdownTimeout time.Duration

	ReadyDelay           time.Duration
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"weather_api"`

	Geocoding struct {
		URL string `yaml:"url"`
	} `yaml:"geocoding"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Store struct {
		Backend   string `yaml:"backend"`
		Namespace string `yaml:"namespace"`
		TimeZone  string `yaml:"time_zone"`
		File      struct {
			Path string `yaml:"path"`
		} `yaml:"file"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		Postgres struct {
			DSN string `yaml:"dsn"`
		} `yaml:"postgres"`
	} `yaml:"store"`

	Refresh struct {
		Interval      string `yaml:"interval"`
		RunTimeout    string `yaml:"run_timeout"`
		DefaultCity   string `yaml:"default_city"`
		MinCityLength int    `yaml:"min_city_length"`
		MaxCityLength int    `yaml:"max_city_length"`
	} `yaml:"refresh"`

	Notify struct {
		Backend string `yaml:"backend"`
		MQTT    struct {
			Broker         string `yaml:"broker"`
			ClientIDPrefix string `yaml:"client_id_prefix"`
			Username       string `yaml:"username"`
			Topic          string `yaml:"topic"`
			ConnectTimeout string `yaml:"connect_timeout"`
			PublishTimeout string `yaml:"publish_timeout"`
		} `yaml:"mqtt"`
	} `yaml:"notify"`

	Reliability struct {
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay           string `yaml:"ready_delay"`
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
	} `yaml:"lifecycle"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
	RedisPassword string `yaml:"redis_password"`
	MQTTPassword  string `yaml:"mqtt_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; variables already set in the
// environment win over it. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := readSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.ServerPort = fc.Server.Port
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}

	cfg.WeatherAPIKey = envOr("WEATHER_API_KEY", sec.WeatherAPIKey)
	if cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required (set env, .env or config/secrets.yaml weather_api_key)")
	}
	cfg.WeatherAPIURL = fc.WeatherAPI.URL
	if cfg.WeatherAPIURL == "" {
		cfg.WeatherAPIURL = "https://api.openweathermap.org/data/2.5/weather"
	}
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 2*time.Second)
	cfg.GeocodingURL = fc.Geocoding.URL
	if cfg.GeocodingURL == "" {
		cfg.GeocodingURL = "https://api.openweathermap.org/geo/1.0/reverse"
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 5
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 10
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.StoreBackend = strings.TrimSpace(strings.ToLower(envOr("STORE_BACKEND", fc.Store.Backend)))
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = store.BackendFile
	}
	cfg.StoreNamespace = strings.TrimSpace(fc.Store.Namespace)
	if cfg.StoreNamespace == "" {
		cfg.StoreNamespace = store.DefaultNamespace
	}
	cfg.TimeZone = time.Local
	if tz := strings.TrimSpace(fc.Store.TimeZone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("store.time_zone: %w", err)
		}
		cfg.TimeZone = loc
	}
	cfg.StoreFilePath = strings.TrimSpace(fc.Store.File.Path)
	if cfg.StoreFilePath == "" {
		cfg.StoreFilePath = filepath.Join("data", "preferences.yaml")
	}
	cfg.MemcachedAddrs = strings.TrimSpace(envOr("MEMCACHED_ADDRS", fc.Store.Memcached.Addrs))
	if cfg.MemcachedAddrs == "" {
		cfg.MemcachedAddrs = "localhost:11211"
	}
	cfg.MemcachedTimeout = parseDuration(fc.Store.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Store.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}
	cfg.RedisAddr = strings.TrimSpace(envOr("REDIS_ADDR", fc.Store.Redis.Addr))
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	cfg.RedisPassword = sec.RedisPassword
	cfg.RedisDB = fc.Store.Redis.DB
	cfg.PostgresDSN = strings.TrimSpace(envOr("POSTGRES_DSN", fc.Store.Postgres.DSN))

	cfg.RefreshInterval = parseDuration(fc.Refresh.Interval, 60*time.Minute)
	cfg.RefreshRunTimeout = parseDurationOrZero(fc.Refresh.RunTimeout, 0)
	cfg.DefaultCity = strings.TrimSpace(envOr("DEFAULT_CITY", fc.Refresh.DefaultCity))
	cfg.MinCityLength = fc.Refresh.MinCityLength
	if cfg.MinCityLength <= 0 {
		cfg.MinCityLength = 1
	}
	cfg.MaxCityLength = fc.Refresh.MaxCityLength
	if cfg.MaxCityLength <= 0 {
		cfg.MaxCityLength = 100
	}

	cfg.NotifyBackend = strings.TrimSpace(strings.ToLower(envOr("NOTIFY_BACKEND", fc.Notify.Backend)))
	if cfg.NotifyBackend == "" {
		cfg.NotifyBackend = notify.BackendLog
	}
	cfg.MQTTBroker = strings.TrimSpace(envOr("MQTT_BROKER", fc.Notify.MQTT.Broker))
	cfg.MQTTClientIDPrefix = fc.Notify.MQTT.ClientIDPrefix
	if cfg.MQTTClientIDPrefix == "" {
		cfg.MQTTClientIDPrefix = "weather-refresher"
	}
	cfg.MQTTUsername = fc.Notify.MQTT.Username
	cfg.MQTTPassword = sec.MQTTPassword
	cfg.MQTTTopic = fc.Notify.MQTT.Topic
	if cfg.MQTTTopic == "" {
		cfg.MQTTTopic = notify.DefaultTopic
	}
	cfg.MQTTConnectTimeout = parseDuration(fc.Notify.MQTT.ConnectTimeout, 5*time.Second)
	cfg.MQTTPublishTimeout = parseDuration(fc.Notify.MQTT.PublishTimeout, 2*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.ReadyDelay = parseDurationOrZero(fc.Lifecycle.ReadyDelay, 0)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadThresholdPct = fc.Lifecycle.OverloadThresholdPct
	if cfg.OverloadThresholdPct <= 0 {
		cfg.OverloadThresholdPct = 80
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 10*time.Minute)
	cfg.DegradedErrorPct = fc.Lifecycle.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// envOr returns the trimmed env value for key, or fallback when unset or blank.
func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation. RequestTimeout is raised above WeatherAPITimeout
// so an on-demand refresh always outlives its upstream call.
func validate(cfg *Config) error {
	if cfg.WeatherAPITimeout <= 0 {
		return fmt.Errorf("weather_api.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
		cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
	}
	if cfg.RefreshRunTimeout < 0 {
		return fmt.Errorf("refresh.run_timeout must not be negative")
	}
	if cfg.MinCityLength > cfg.MaxCityLength {
		return fmt.Errorf("refresh.min_city_length %d exceeds max_city_length %d", cfg.MinCityLength, cfg.MaxCityLength)
	}
	switch cfg.StoreBackend {
	case store.BackendMemory, store.BackendFile, store.BackendMemcached, store.BackendRedis:
	case store.BackendPostgres:
		if cfg.PostgresDSN == "" {
			return fmt.Errorf("store.postgres.dsn (or POSTGRES_DSN) required for postgres backend")
		}
	default:
		return fmt.Errorf("store.backend must be memory, file, memcached, redis or postgres, got %q", cfg.StoreBackend)
	}
	switch cfg.NotifyBackend {
	case notify.BackendLog:
	case notify.BackendMQTT:
		if cfg.MQTTBroker == "" {
			return fmt.Errorf("notify.mqtt.broker (or MQTT_BROKER) required for mqtt backend")
		}
	default:
		return fmt.Errorf("notify.backend must be log or mqtt, got %q", cfg.NotifyBackend)
	}
	return nil
}
