package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-refresher/internal/client"
	"github.com/kjstillabower/weather-refresher/internal/degraded"
	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/observability"
	"github.com/kjstillabower/weather-refresher/internal/parser"
	"github.com/kjstillabower/weather-refresher/internal/store"
	"github.com/kjstillabower/weather-refresher/internal/validation"
)

var (
	ErrRefreshInProgress = errors.New("refresh already in progress for another city")
	ErrRefreshCancelled  = errors.New("refresh cancelled")
	ErrStore             = errors.New("preference store failure")
)

// Trigger identifies what started a refresh. Each trigger has its own single flight.
type Trigger string

const (
	TriggerOnDemand Trigger = "on_demand"
	TriggerPeriodic Trigger = "periodic"
)

// State is the refresh state of one trigger: Idle -> Fetching -> {Persisted | Reported} -> Idle.
type State int

const (
	StateIdle State = iota
	StateFetching
	StatePersisted
	StateReported
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePersisted:
		return "persisted"
	case StateReported:
		return "reported"
	default:
		return "unknown"
	}
}

// Display is the surface that shows refresh results.
type Display interface {
	Show(state models.CachedState)
	ShowError(message string)
}

// Status is the observable state of one trigger.
type Status struct {
	State       State     `json:"-"`
	StateName   string    `json:"state"`
	LastOutcome string    `json:"lastOutcome,omitempty"`
	LastCity    string    `json:"lastCity,omitempty"`
	LastRunAt   time.Time `json:"lastRunAt,omitempty"`
}

// Config tunes the refresh pipeline.
type Config struct {
	MinCityLength int
	MaxCityLength int
	// TimeZone for persisted timestamps; nil means time.Local.
	TimeZone *time.Location
}

// RefreshService runs the fetch, parse, persist and display pipeline.
type RefreshService struct {
	fetcher client.WeatherFetcher
	store   store.Store
	display Display
	logger  *zap.Logger
	cfg     Config
	now     func() time.Time

	flights map[Trigger]*singleFlight
	overlap *overlapTracker

	mu     sync.Mutex
	status map[Trigger]Status
}

func NewRefreshService(fetcher client.WeatherFetcher, st store.Store, display Display, logger *zap.Logger, cfg Config) *RefreshService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCityLength == 0 {
		cfg.MaxCityLength = validation.DefaultMaxCityLength
	}
	if cfg.MinCityLength == 0 {
		cfg.MinCityLength = validation.DefaultMinCityLength
	}
	if cfg.TimeZone == nil {
		cfg.TimeZone = time.Local
	}
	s := &RefreshService{
		fetcher: fetcher,
		store:   st,
		display: display,
		logger:  logger,
		cfg:     cfg,
		now:     time.Now,
		flights: map[Trigger]*singleFlight{
			TriggerOnDemand: newSingleFlight(),
			TriggerPeriodic: newSingleFlight(),
		},
		overlap: newOverlapTracker(),
		status:  make(map[Trigger]Status),
	}
	for t := range s.flights {
		s.setState(t, StateIdle)
	}
	return s
}

// Refresh fetches weather for city and, on success, persists and displays it. A call for
// the city already being refreshed by the same trigger shares that result; a call for
// another city returns ErrRefreshInProgress.
func (s *RefreshService) Refresh(ctx context.Context, trigger Trigger, city string) (models.WeatherRecord, error) {
	sf, ok := s.flights[trigger]
	if !ok {
		return models.WeatherRecord{}, fmt.Errorf("unknown refresh trigger %q", trigger)
	}
	city, err := validation.ValidateCity(city, s.cfg.MinCityLength, s.cfg.MaxCityLength)
	if err != nil {
		return models.WeatherRecord{}, err
	}
	key := validation.NormalizeCity(city)

	rec, joined, busyWith, err := sf.Do(ctx, key, func() (models.WeatherRecord, error) {
		return s.run(ctx, trigger, city, key)
	})
	if errors.Is(err, ErrRefreshInProgress) {
		return models.WeatherRecord{}, fmt.Errorf("%w: %s", ErrRefreshInProgress, busyWith)
	}
	if joined {
		observability.RefreshCoalescedTotal.WithLabelValues(string(trigger)).Inc()
	}
	return rec, err
}

// State returns the current refresh state of trigger.
func (s *RefreshService) State(trigger Trigger) State {
	return s.Status(trigger).State
}

// Status returns the current state and last outcome of trigger.
func (s *RefreshService) Status(trigger Trigger) Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[trigger]
}

func (s *RefreshService) run(ctx context.Context, trigger Trigger, city, key string) (rec models.WeatherRecord, err error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger).With(
		zap.String("trigger", string(trigger)),
		zap.String("city", city),
	)
	s.setState(trigger, StateFetching)

	if n := s.overlap.Begin(key); n > 1 {
		observability.RefreshOverlapTotal.Inc()
		logger.Info("refresh overlaps another trigger for the same city", zap.Int("concurrent", n))
	}
	defer s.overlap.End(key)

	defer func() {
		outcome := StatePersisted
		if err != nil {
			outcome = StateReported
		}
		s.finish(trigger, city, outcome)
		observability.RefreshTotal.WithLabelValues(string(trigger), outcome.String()).Inc()
		observability.RefreshDuration.WithLabelValues(string(trigger)).Observe(time.Since(start).Seconds())
	}()

	rec, err = s.pipeline(ctx, city)
	if err != nil {
		category := errorCategory(err)
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(category)).Inc()
		degraded.RecordError()
		if errors.Is(err, ErrRefreshCancelled) {
			logger.Info("refresh cancelled", zap.Error(err))
			return models.WeatherRecord{}, err
		}
		logger.Warn("refresh failed", zap.String("category", string(category)), zap.Error(err))
		s.display.ShowError(Describe(err))
		return models.WeatherRecord{}, err
	}

	degraded.RecordSuccess()
	s.display.Show(store.StateOf(rec, s.cfg.TimeZone))
	logger.Info("weather refreshed",
		zap.String("condition", rec.ConditionMain),
		zap.Float64("temperature_c", rec.TemperatureC),
		zap.Duration("duration", time.Since(start)),
	)
	return rec, nil
}

func (s *RefreshService) pipeline(ctx context.Context, city string) (models.WeatherRecord, error) {
	raw, err := s.fetcher.Fetch(ctx, city)
	if err != nil {
		if ctx.Err() != nil {
			return models.WeatherRecord{}, fmt.Errorf("%w: %w", ErrRefreshCancelled, err)
		}
		return models.WeatherRecord{}, err
	}

	rec, err := parser.Parse(raw, city, s.now())
	if err != nil {
		return models.WeatherRecord{}, fmt.Errorf("parse weather for %s: %w", city, err)
	}

	// A run stopped while fetching must not persist.
	if err := ctx.Err(); err != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w before persist: %w", ErrRefreshCancelled, err)
	}

	if err := s.store.Save(ctx, rec); err != nil {
		return models.WeatherRecord{}, fmt.Errorf("%w: save weather for %s: %w", ErrStore, city, err)
	}
	return rec, nil
}

func (s *RefreshService) setState(trigger Trigger, state State) {
	s.mu.Lock()
	st := s.status[trigger]
	st.State = state
	st.StateName = state.String()
	s.status[trigger] = st
	s.mu.Unlock()
	observability.RefreshState.WithLabelValues(string(trigger)).Set(float64(state))
}

// finish passes through the terminal state and settles back to Idle.
func (s *RefreshService) finish(trigger Trigger, city string, outcome State) {
	s.setState(trigger, outcome)
	s.mu.Lock()
	st := s.status[trigger]
	st.LastOutcome = outcome.String()
	st.LastCity = city
	st.LastRunAt = s.now()
	s.status[trigger] = st
	s.mu.Unlock()
	s.setState(trigger, StateIdle)
}

func errorCategory(err error) client.ErrorCategory {
	switch {
	case errors.Is(err, ErrRefreshCancelled):
		return client.ErrorCategoryCancelled
	case errors.Is(err, ErrStore):
		return "store"
	default:
		return client.CategorizeError(err)
	}
}

// Describe renders err as the message shown on the display.
func Describe(err error) string {
	var fe *client.FetchError
	switch {
	case err == nil:
		return ""
	case validation.IsValidationError(err):
		return "invalid city"
	case errors.Is(err, ErrRefreshInProgress):
		return "a refresh for another city is already running"
	case errors.Is(err, ErrRefreshCancelled):
		return "refresh cancelled"
	case errors.Is(err, client.ErrLocationNotFound):
		return "city not found"
	case errors.Is(err, parser.ErrParse):
		return "weather service returned an invalid response"
	case errors.Is(err, ErrStore):
		return "could not save weather"
	case errors.As(err, &fe) && fe.Kind == client.KindHTTPStatus:
		return fmt.Sprintf("weather service error (%d %s)", fe.StatusCode, http.StatusText(fe.StatusCode))
	case errors.Is(err, client.ErrNetwork):
		return "weather service unavailable"
	default:
		return "refresh failed"
	}
}
