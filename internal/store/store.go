// Package store persists the last successful weather record as string key-values
// under a namespace and reads it back at startup.
package store

import (
	"context"
	"errors"
	"math"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/observability"
)

// Persisted keys.
const (
	KeyLastUpdate         = "lastUpdate"
	KeyWeatherMain        = "weatherMain"
	KeyWeatherDescription = "weatherDescription"
	KeyTemp               = "temp"
	KeyFeelsLike          = "feelsLike"
	KeyTempMin            = "tempMin"
	KeyTempMax            = "tempMax"
	KeyPressure           = "pressure"
	KeyWindSpeed          = "windSpeed"
	KeyLocalization       = "localization"
)

// DefaultNamespace is used when Options.Namespace is empty.
const DefaultNamespace = "WeatherAppPreference"

// TimeLayout renders lastUpdate as dd-MM-yyyy HH:mm.
const TimeLayout = "02-01-2006 15:04"

// Backend names accepted by config.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendMemcached = "memcached"
	BackendRedis     = "redis"
	BackendPostgres  = "postgres"
)

var ErrUnknownBackend = errors.New("unknown store backend")

// Store is the preference store for the last weather record. Save commits every key in one
// write; Load returns ok=false when nothing has been saved yet.
type Store interface {
	Save(ctx context.Context, rec models.WeatherRecord) error
	Load(ctx context.Context) (models.CachedState, bool, error)
}

// Pinger is implemented by backends with a remote dependency, for health checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are shared by all backends.
type Options struct {
	Namespace string
	// TimeZone for lastUpdate; nil means time.Local.
	TimeZone *time.Location
}

func (o Options) withDefaults() Options {
	if o.Namespace == "" {
		o.Namespace = DefaultNamespace
	}
	if o.TimeZone == nil {
		o.TimeZone = time.Local
	}
	return o
}

// Encode renders rec as the persisted key-value set.
func Encode(rec models.WeatherRecord, tz *time.Location) map[string]string {
	if tz == nil {
		tz = time.Local
	}
	return map[string]string{
		KeyLastUpdate:         rec.FetchedAt.In(tz).Format(TimeLayout),
		KeyWeatherMain:        rec.ConditionMain,
		KeyWeatherDescription: rec.ConditionDescription,
		KeyTemp:               formatFloat(rec.TemperatureC),
		KeyFeelsLike:          formatFloat(rec.FeelsLikeC),
		KeyTempMin:            formatFloat(rec.TemperatureMinC),
		KeyTempMax:            formatFloat(rec.TemperatureMaxC),
		KeyPressure:           strconv.Itoa(rec.PressureHPa),
		KeyWindSpeed:          formatFloat(rec.WindSpeed),
		KeyLocalization:       rec.LocationLabel,
	}
}

// Decode reads a persisted key-value set. ok is false when lastUpdate is absent.
func Decode(values map[string]string) (models.CachedState, bool) {
	last, ok := values[KeyLastUpdate]
	if !ok {
		return models.CachedState{}, false
	}
	return models.CachedState{
		LastUpdate:         last,
		WeatherMain:        values[KeyWeatherMain],
		WeatherDescription: values[KeyWeatherDescription],
		Temp:               values[KeyTemp],
		FeelsLike:          values[KeyFeelsLike],
		TempMin:            values[KeyTempMin],
		TempMax:            values[KeyTempMax],
		Pressure:           values[KeyPressure],
		WindSpeed:          values[KeyWindSpeed],
		Localization:       values[KeyLocalization],
	}, true
}

// StateOf is the CachedState a Save of rec would persist.
func StateOf(rec models.WeatherRecord, tz *time.Location) models.CachedState {
	state, _ := Decode(Encode(rec, tz))
	return state
}

func formatFloat(v float64) string {
	// Strip float noise from the Kelvin subtraction (e.g. 11.850000000000023).
	v = math.Round(v*1e6) / 1e6
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Instrumented records latency and errors for every store operation.
type Instrumented struct {
	next Store
}

// WithMetrics wraps s with store metrics. Ping and Close are forwarded when s supports them.
func WithMetrics(s Store) *Instrumented {
	return &Instrumented{next: s}
}

func (i *Instrumented) Save(ctx context.Context, rec models.WeatherRecord) error {
	start := time.Now()
	err := i.next.Save(ctx, rec)
	observe("save", start, err)
	return err
}

func (i *Instrumented) Load(ctx context.Context) (models.CachedState, bool, error) {
	start := time.Now()
	state, ok, err := i.next.Load(ctx)
	observe("load", start, err)
	return state, ok, err
}

// Ping reports nil for backends without a remote dependency.
func (i *Instrumented) Ping(ctx context.Context) error {
	p, ok := i.next.(Pinger)
	if !ok {
		return nil
	}
	start := time.Now()
	err := p.Ping(ctx)
	observe("ping", start, err)
	return err
}

func (i *Instrumented) Close() error {
	if c, ok := i.next.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

func observe(op string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
		observability.StoreErrorsTotal.WithLabelValues(op).Inc()
	}
	observability.StoreOperationDuration.WithLabelValues(op, result).Observe(time.Since(start).Seconds())
}
