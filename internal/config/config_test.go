package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var overrideVars = []string{
	"ENV_NAME", "WEATHER_API_KEY", "STORE_BACKEND", "MEMCACHED_ADDRS", "REDIS_ADDR",
	"POSTGRES_DSN", "NOTIFY_BACKEND", "MQTT_BROKER", "DEFAULT_CITY",
}

// clearEnv unsets every variable Load reads and restores them when the test ends.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range overrideVars {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

// chdir switches to dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
}

// loadFrom writes the env file and optional secrets into a temp dir and runs Load there.
func loadFrom(t *testing.T, envYAML, secrets string) (*Config, error) {
	t.Helper()
	dir := t.TempDir()
	writeEnvFile(t, dir, envYAML)
	if secrets != "" {
		writeSecretsFile(t, dir, secrets)
	}
	chdir(t, dir)
	return Load()
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML, "")
	if err == nil {
		t.Fatal("Load() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("Load() error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML,
		"weather_api_key: key-from-secrets-file\nredis_password: redis-secret\nmqtt_password: mqtt-secret\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
	if cfg.RedisPassword != "redis-secret" || cfg.MQTTPassword != "mqtt-secret" {
		t.Errorf("passwords = %q/%q, want values from secrets file", cfg.RedisPassword, cfg.MQTTPassword)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	chdir(t, t.TempDir())

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := loadFrom(t, minimalEnvYAML, "weather_api_key: key\n")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ServerPort", cfg.ServerPort, "8080"},
		{"StoreBackend", cfg.StoreBackend, "file"},
		{"StoreNamespace", cfg.StoreNamespace, "WeatherAppPreference"},
		{"StoreFilePath", cfg.StoreFilePath, filepath.Join("data", "preferences.yaml")},
		{"RedisAddr", cfg.RedisAddr, "localhost:6379"},
		{"RefreshInterval", cfg.RefreshInterval, 60 * time.Minute},
		{"RefreshRunTimeout", cfg.RefreshRunTimeout, time.Duration(0)},
		{"MinCityLength", cfg.MinCityLength, 1},
		{"MaxCityLength", cfg.MaxCityLength, 100},
		{"NotifyBackend", cfg.NotifyBackend, "log"},
		{"MQTTTopic", cfg.MQTTTopic, "weather/notifications"},
		{"GeocodingURL", cfg.GeocodingURL, "https://api.openweathermap.org/geo/1.0/reverse"},
		{"BreakerFailureThreshold", cfg.BreakerFailureThreshold, 5},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 50},
		{"TimeZone", cfg.TimeZone, time.Local},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		key   string
		value string
		get   func(*Config) string
	}{
		{"WEATHER_API_KEY", "env-key", func(c *Config) string { return c.WeatherAPIKey }},
		{"STORE_BACKEND", "Redis", func(c *Config) string { return c.StoreBackend }},
		{"MEMCACHED_ADDRS", "mc1:11211,mc2:11211", func(c *Config) string { return c.MemcachedAddrs }},
		{"REDIS_ADDR", "redis:6380", func(c *Config) string { return c.RedisAddr }},
		{"DEFAULT_CITY", "Krakow", func(c *Config) string { return c.DefaultCity }},
		{"MQTT_BROKER", "tcp://broker:1883", func(c *Config) string { return c.MQTTBroker }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tt.key, tt.value)

			cfg, err := loadFrom(t, minimalEnvYAML, "weather_api_key: key\n")
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			want := tt.value
			if tt.key == "STORE_BACKEND" {
				want = "redis"
			}
			if got := tt.get(cfg); got != want {
				t.Errorf("%s override = %q, want %q", tt.key, got, want)
			}
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("WEATHER_API_KEY=dotenv-key\nDEFAULT_CITY=Gdansk\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	// Variables already in the process env win over .env.
	t.Setenv("DEFAULT_CITY", "Lodz")
	chdir(t, dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIKey != "dotenv-key" {
		t.Errorf("WeatherAPIKey = %q, want value from .env", cfg.WeatherAPIKey)
	}
	if cfg.DefaultCity != "Lodz" {
		t.Errorf("DefaultCity = %q, want process env to win over .env", cfg.DefaultCity)
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")

	cfg, err := loadFrom(t, `
weather_api:
  timeout: ""
refresh:
  interval: ""
`, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 2*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want default 2s", cfg.WeatherAPITimeout)
	}
	if cfg.RefreshInterval != 60*time.Minute {
		t.Errorf("RefreshInterval = %v, want default 60m", cfg.RefreshInterval)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")

	cfg, err := loadFrom(t, `
refresh:
  interval: "hourly"
shutdown:
  timeout: "-5s"
`, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RefreshInterval != 60*time.Minute {
		t.Errorf("RefreshInterval = %v, want default 60m", cfg.RefreshInterval)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("ShutdownTimeout = %v, want default 30s", cfg.ShutdownTimeout)
	}
}

func TestLoad_RequestTimeoutRaisedAboveAPITimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")

	cfg, err := loadFrom(t, `
weather_api:
  timeout: "4s"
request:
  timeout: "3s"
`, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 5*time.Second {
		t.Errorf("RequestTimeout = %v, want 5s", cfg.RequestTimeout)
	}
}

func TestLoad_TimeZone(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")

	cfg, err := loadFrom(t, "store:\n  time_zone: \"UTC\"\n", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TimeZone != time.UTC {
		t.Errorf("TimeZone = %v, want UTC", cfg.TimeZone)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero api timeout", "weather_api:\n  timeout: \"0s\"\n", "weather_api.timeout"},
		{"unknown store backend", "store:\n  backend: \"sqlite\"\n", "store.backend"},
		{"postgres without dsn", "store:\n  backend: \"postgres\"\n", "POSTGRES_DSN"},
		{"unknown notify backend", "notify:\n  backend: \"sms\"\n", "notify.backend"},
		{"mqtt without broker", "notify:\n  backend: \"mqtt\"\n", "MQTT_BROKER"},
		{"negative run timeout", "refresh:\n  run_timeout: \"-1s\"\n", "run_timeout"},
		{"min above max", "refresh:\n  min_city_length: 10\n  max_city_length: 5\n", "min_city_length"},
		{"bad time zone", "store:\n  time_zone: \"Nowhere/City\"\n", "time_zone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("WEATHER_API_KEY", "test-key")

			cfg, err := loadFrom(t, tt.yaml, "")
			if err == nil {
				t.Fatalf("Load() = %+v, want error", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key")
	chdir(t, findProjectRoot(t))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StoreBackend != "file" || cfg.NotifyBackend != "log" {
		t.Errorf("backends = %s/%s, want file/log", cfg.StoreBackend, cfg.NotifyBackend)
	}
	if cfg.RefreshRunTimeout != 30*time.Second {
		t.Errorf("RefreshRunTimeout = %v, want 30s", cfg.RefreshRunTimeout)
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com"
  timeout: "2s"
request:
  timeout: "5s"
shutdown:
  timeout: "10s"
`

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
