package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/config"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 1000 // milliseconds
	qos               = 1
)

// MQTTPublisher writes events as JSON to <prefix>/<device_id>/<type>.
type MQTTPublisher struct {
	client pahomqtt.Client
	prefix string
	logger zerolog.Logger
}

// ConnectMQTT dials the broker from config and returns a publisher.
func ConnectMQTT(cfg config.MQTTConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(connectTimeout)

	logger = logger.With().Str("component", "mqtt").Logger()
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt connection lost")
	})

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	return NewMQTTPublisher(client, cfg.TopicPrefix, logger), nil
}

// NewMQTTPublisher wraps an already configured client.
func NewMQTTPublisher(client pahomqtt.Client, prefix string, logger zerolog.Logger) *MQTTPublisher {
	return &MQTTPublisher{
		client: client,
		prefix: strings.TrimRight(prefix, "/"),
		logger: logger,
	}
}

// Topic returns the topic an event is published on.
func (p *MQTTPublisher) Topic(event Event) string {
	return p.prefix + "/" + event.DeviceID + "/" + string(event.Type)
}

// Publish sends one event. Power events are retained so late subscribers see
// the current state.
func (p *MQTTPublisher) Publish(ctx context.Context, event Event) error {
	if event.DeviceID == "" {
		return errors.New("event device id is required")
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	token := p.client.Publish(p.Topic(event), qos, event.Type == TypePower, payload)
	timeout := publishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("publish %s: timed out", p.Topic(event))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.Topic(event), err)
	}
	return nil
}

func (p *MQTTPublisher) Close() {
	p.client.Disconnect(disconnectQuiesce)
}
