// Package notify delivers weather notifications produced by the periodic refresh.
package notify

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/observability"
)

// Backend names accepted by config.
const (
	BackendLog  = "log"
	BackendMQTT = "mqtt"
)

var ErrUnknownBackend = errors.New("unknown notify backend")

// Notifier posts a notification. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, n models.Notification) error
}

// LogNotifier writes notifications to the structured log.
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		observability.NotificationsTotal.WithLabelValues(BackendLog, "error").Inc()
		return err
	}
	l.logger.Info("weather notification",
		zap.String("title", n.Title()),
		zap.String("text", n.Text()),
		zap.String("condition", n.ConditionMain),
		zap.Float64("temperature_c", n.TemperatureC),
		zap.Float64("feels_like_c", n.FeelsLikeC),
	)
	observability.NotificationsTotal.WithLabelValues(BackendLog, "success").Inc()
	return nil
}

// payload is the JSON body published for each notification.
type payload struct {
	Title  string              `json:"title"`
	Text   string              `json:"text"`
	Fields models.Notification `json:"fields"`
}

func newPayload(n models.Notification) payload {
	return payload{Title: n.Title(), Text: n.Text(), Fields: n}
}
