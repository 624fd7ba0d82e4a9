package publish

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when the broker connection is down
var ErrNotConnected = errors.New("publisher not connected")

// Publisher pushes an encoded payload to subscribers of a topic
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close() error
}

// Topic returns the topic an update for name is published on
func Topic(prefix, name string) string {
	return prefix + name
}

// MQTTConfig holds MQTT broker settings
type MQTTConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	QoS            byte
	Retained       bool
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
}

// MQTTPublisher publishes over an MQTT broker
type MQTTPublisher struct {
	client mqtt.Client
	cfg    MQTTConfig
	logger *zap.Logger
}

// NewMQTTPublisher connects to the broker
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(cfg.ConnectTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost", zap.Error(err))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	logger.Info("Connected to MQTT broker", zap.String("broker", cfg.Broker))
	return newMQTTPublisher(client, cfg, logger), nil
}

func newMQTTPublisher(client mqtt.Client, cfg MQTTConfig, logger *zap.Logger) *MQTTPublisher {
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	return &MQTTPublisher{client: client, cfg: cfg, logger: logger}
}

// Publish sends payload with the configured QoS and waits for the broker ack
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	if !p.client.IsConnected() {
		return ErrNotConnected
	}

	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, payload)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.cfg.PublishTimeout):
		return fmt.Errorf("timed out publishing to topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}

// RedisPublisher publishes with Redis PUBLISH
type RedisPublisher struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisPublisher creates a publisher on an existing client; Close does not close the client
func NewRedisPublisher(client *redis.Client, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, logger: logger}
}

// Publish sends payload to the channel named topic
func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	receivers, err := p.client.Publish(ctx, topic, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to channel %s: %w", topic, err)
	}
	p.logger.Debug("Published update",
		zap.String("channel", topic),
		zap.Int64("receivers", receivers))
	return nil
}

// Close is a no-op; the client is owned by the caller
func (p *RedisPublisher) Close() error {
	return nil
}

// LogPublisher only logs publications
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher creates a log-only publisher
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	p.logger.Info("Published update",
		zap.String("topic", topic),
		zap.Int("bytes", len(payload)))
	return nil
}

func (p *LogPublisher) Close() error {
	return nil
}
