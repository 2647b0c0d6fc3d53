// Package scheduler runs the periodic weather refresh and posts a notification after
// each successful run.
package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/notify"
	"github.com/kjstillabower/weather-refresher/internal/observability"
	"github.com/kjstillabower/weather-refresher/internal/service"
)

// DefaultInterval is the refresh period when Config.Interval is zero.
const DefaultInterval = 60 * time.Minute

// Refresher runs one refresh; implemented by service.RefreshService.
type Refresher interface {
	Refresh(ctx context.Context, trigger service.Trigger, city string) (models.WeatherRecord, error)
}

// Outcome is how a periodic run finished.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeCancelled Outcome = "cancelled"
)

// Config tunes the periodic job.
type Config struct {
	Interval time.Duration
	// RunTimeout bounds one run; zero means no bound beyond Stop.
	RunTimeout time.Duration
	// OnFinish is called exactly once per run with its outcome.
	OnFinish func(Outcome)
}

// PeriodicRefresher refreshes the current city on a fixed interval. Runs never overlap;
// a run still executing when the next tick fires causes that tick to be skipped.
type PeriodicRefresher struct {
	sched     *gocron.Scheduler
	refresher Refresher
	notifier  notify.Notifier
	logger    *zap.Logger
	cfg       Config

	mu   sync.Mutex
	city string

	runCtx    context.Context
	cancelRun context.CancelFunc
}

func NewPeriodicRefresher(refresher Refresher, notifier notify.Notifier, logger *zap.Logger, cfg Config) *PeriodicRefresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &PeriodicRefresher{
		sched:     gocron.NewScheduler(time.Local),
		refresher: refresher,
		notifier:  notifier,
		logger:    logger,
		cfg:       cfg,
		runCtx:    ctx,
		cancelRun: cancel,
	}
}

// SetCity re-targets future runs.
func (p *PeriodicRefresher) SetCity(city string) {
	city = strings.TrimSpace(city)
	p.mu.Lock()
	changed := p.city != city
	p.city = city
	p.mu.Unlock()
	if changed {
		p.logger.Info("periodic refresh target changed", zap.String("city", city))
	}
}

func (p *PeriodicRefresher) City() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.city
}

// Start schedules the job and starts the scheduler. The first run happens immediately.
func (p *PeriodicRefresher) Start() error {
	_, err := p.sched.Every(p.cfg.Interval).StartImmediately().SingletonMode().Do(p.runJob)
	if err != nil {
		return err
	}
	p.sched.StartAsync()
	p.logger.Info("periodic refresh scheduled", zap.Duration("interval", p.cfg.Interval))
	return nil
}

// Stop cancels a running job and stops future runs. A cancelled run never persists.
func (p *PeriodicRefresher) Stop() {
	p.cancelRun()
	p.sched.Stop()
}

func (p *PeriodicRefresher) runJob() {
	p.RunNow(p.runCtx)
}

// RunNow executes one run synchronously on the calling goroutine.
func (p *PeriodicRefresher) RunNow(ctx context.Context) Outcome {
	var once sync.Once
	var outcome Outcome
	finish := func(o Outcome) {
		once.Do(func() {
			outcome = o
			observability.SchedulerRunsTotal.WithLabelValues(string(o)).Inc()
			if p.cfg.OnFinish != nil {
				p.cfg.OnFinish(o)
			}
		})
	}
	// Covers a panic in the refresher so the run is still marked finished.
	defer finish(OutcomeFailure)

	city := p.City()
	if city == "" {
		p.logger.Debug("periodic refresh skipped: no city yet")
		finish(OutcomeSkipped)
		return outcome
	}

	if p.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.RunTimeout)
		defer cancel()
	}

	rec, err := p.refresher.Refresh(ctx, service.TriggerPeriodic, city)
	if err != nil {
		if errors.Is(err, service.ErrRefreshCancelled) || errors.Is(err, context.Canceled) {
			finish(OutcomeCancelled)
			return outcome
		}
		p.logger.Warn("periodic refresh failed", zap.String("city", city), zap.Error(err))
		finish(OutcomeFailure)
		return outcome
	}

	if p.notifier != nil {
		if err := p.notifier.Notify(ctx, models.NotificationFor(rec)); err != nil {
			p.logger.Warn("notification failed", zap.String("city", city), zap.Error(err))
		}
	}
	finish(OutcomeSuccess)
	return outcome
}
