package events

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/config"
)

const influxPingTimeout = 5 * time.Second

// InfluxPublisher records every event as a point so power history can be
// graphed next to the Prometheus metrics.
type InfluxPublisher struct {
	client      influxdb2.Client
	write       api.WriteAPIBlocking
	measurement string
	logger      zerolog.Logger
}

// ConnectInflux builds the client from config and verifies the server answers
// a ping.
func ConnectInflux(ctx context.Context, cfg config.InfluxConfig, logger zerolog.Logger) (*InfluxPublisher, error) {
	token, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("read influxdb token: %w", err)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, strings.TrimSpace(string(token)),
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(uint(influxPingTimeout/time.Second)))

	pingCtx, cancel := context.WithTimeout(ctx, influxPingTimeout)
	defer cancel()
	ok, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping %s: %w", cfg.URL, err)
	}
	if !ok {
		client.Close()
		return nil, fmt.Errorf("influxdb ping %s: server not ready", cfg.URL)
	}

	logger = logger.With().Str("component", "influxdb").Logger()
	logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("influxdb connected")
	return &InfluxPublisher{
		client:      client,
		write:       client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		measurement: cfg.Measurement,
		logger:      logger,
	}, nil
}

func (p *InfluxPublisher) Publish(ctx context.Context, event Event) error {
	fields := map[string]interface{}{"count": 1}
	if event.On != nil {
		fields["on"] = *event.On
	}
	point := influxdb2.NewPoint(p.measurement,
		map[string]string{
			"device_id": event.DeviceID,
			"name":      event.Name,
			"event":     string(event.Type),
		},
		fields,
		event.At,
	)
	if err := p.write.WritePoint(ctx, point); err != nil {
		return fmt.Errorf("influxdb write %s: %w", event.Type, err)
	}
	return nil
}

func (p *InfluxPublisher) Close() {
	p.client.Close()
}
