// Package publisher forwards stored readings to an MQTT broker
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/chaunceygardiner/airgradient-proxy/pkg/models"
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time
var ErrPublishTimeout = errors.New("mqtt publish timed out")

// Config configures the broker connection
type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
	Timeout     time.Duration
}

// Publisher publishes readings as JSON to <prefix>/<record type>. Current and
// short-window records are retained so new subscribers see the latest values.
type Publisher struct {
	client  mqtt.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Connect dials the broker and returns a Publisher using it
func Connect(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			logger.Info("✓ Connected to MQTT broker", "broker", cfg.Broker)
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		// ConnectRetry keeps trying in the background
		logger.Warn("MQTT broker not reachable yet", "broker", cfg.Broker)
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.Broker, err)
	}

	return New(client, cfg.TopicPrefix, cfg.Timeout, logger), nil
}

// New wraps an existing client
func New(client mqtt.Client, topicPrefix string, timeout time.Duration, logger *slog.Logger) *Publisher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{
		client:  client,
		prefix:  topicPrefix,
		timeout: timeout,
		logger:  logger,
	}
}

// Topic returns the topic records of recordType are published to
func (p *Publisher) Topic(recordType models.RecordType) string {
	if p.prefix == "" {
		return recordType.String()
	}
	return p.prefix + "/" + recordType.String()
}

// Publish sends r with QoS 0 and waits for the client to hand it off
func (p *Publisher) Publish(ctx context.Context, recordType models.RecordType, r models.Reading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode reading: %w", err)
	}

	topic := p.Topic(recordType)
	token := p.client.Publish(topic, 0, recordType.Replaces(), payload)

	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrPublishTimeout, topic)
	}

	p.logger.Debug("published reading", "topic", topic, "bytes", len(payload))
	return nil
}

// Close disconnects from the broker
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
