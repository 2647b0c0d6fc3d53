package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-refresher/internal/models"
	"github.com/kjstillabower/weather-refresher/internal/observability"
)

// DefaultTopic is used when MQTTConfig.Topic is empty.
const DefaultTopic = "weather/notifications"

const qosAtLeastOnce = 1

var ErrPublishTimeout = errors.New("mqtt publish timed out")

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	BrokerURL      string
	ClientIDPrefix string
	Username       string
	Password       string
	Topic          string
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTNotifier publishes notifications as JSON with QoS 1.
type MQTTNotifier struct {
	client         mqtt.Client
	topic          string
	publishTimeout time.Duration
	logger         *zap.Logger
}

// NewMQTTNotifier connects to the broker. The client reconnects on its own after the
// initial connection succeeds.
func NewMQTTNotifier(cfg MQTTConfig, logger *zap.Logger) (*MQTTNotifier, error) {
	if cfg.BrokerURL == "" {
		return nil, errors.New("mqtt: broker URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "weather-refresher"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	// Unique client id so several instances can share a broker.
	opts.SetClientID(fmt.Sprintf("%s-%s", cfg.ClientIDPrefix, uuid.New().String()[:8]))
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetCleanSession(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	})
	opts.SetOnConnectHandler(func(_ mqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("mqtt: connect to %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTNotifier{
		client:         client,
		topic:          cfg.Topic,
		publishTimeout: cfg.PublishTimeout,
		logger:         logger,
	}, nil
}

// newMQTTNotifierWithClient is used by tests with a fake client.
func newMQTTNotifierWithClient(client mqtt.Client, topic string, timeout time.Duration) *MQTTNotifier {
	return &MQTTNotifier{client: client, topic: topic, publishTimeout: timeout, logger: zap.NewNop()}
}

func (m *MQTTNotifier) Notify(ctx context.Context, n models.Notification) error {
	err := m.publish(ctx, n)
	result := "success"
	if err != nil {
		result = "error"
	}
	observability.NotificationsTotal.WithLabelValues(BackendMQTT, result).Inc()
	return err
}

func (m *MQTTNotifier) publish(ctx context.Context, n models.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := json.Marshal(newPayload(n))
	if err != nil {
		return fmt.Errorf("mqtt: marshal notification: %w", err)
	}

	token := m.client.Publish(m.topic, qosAtLeastOnce, false, body)
	timer := time.NewTimer(m.publishTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt: publish to %s: %w", m.topic, err)
		}
		return nil
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker, waiting up to 250ms for pending work.
func (m *MQTTNotifier) Close() error {
	m.client.Disconnect(250)
	return nil
}
