package spotify

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/joshp123/gohome-spotify/internal/config"
	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/oauth"
	"github.com/joshp123/gohome-spotify/internal/rate"
)

//go:embed dashboard.json
var dashboardJSON []byte

// Platform is the name accessories are registered under with the host.
const Platform = "Spotify"

// Plugin bundles the API client, which owns the token cache, and plugin health.
type Plugin struct {
	client *Client
	health *core.HealthTracker
}

// NewPlugin builds the Spotify plugin from the loaded configuration. Rotated
// refresh tokens are written through store.
func NewPlugin(cfg *config.Config, store oauth.TokenStore, logger zerolog.Logger, opts ...oauth.Option) (*Plugin, error) {
	return newPlugin(DefaultConfig(), cfg, store, logger, opts...)
}

func newPlugin(apiCfg Config, cfg *config.Config, store oauth.TokenStore, logger zerolog.Logger, opts ...oauth.Option) (*Plugin, error) {
	creds, err := CredentialsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	decl := apiCfg.Declaration()
	exchanger := oauth.NewOAuth2Exchanger(decl, creds, &http.Client{Timeout: 15 * time.Second})
	opts = append([]oauth.Option{oauth.WithLogger(logger)}, opts...)
	tokens, err := oauth.NewCache(decl, creds, exchanger, store, opts...)
	if err != nil {
		return nil, err
	}

	client, err := NewClient(apiCfg, tokens)
	if err != nil {
		return nil, err
	}

	return &Plugin{client: client, health: core.NewHealthTracker()}, nil
}

func (p *Plugin) ID() string {
	return ProviderID
}

func (p *Plugin) Manifest() core.Manifest {
	return core.Manifest{
		PluginID:    ProviderID,
		DisplayName: "Spotify",
		Version:     "0.1.0",
		Platform:    Platform,
	}
}

func (p *Plugin) Dashboards() []core.Dashboard {
	return []core.Dashboard{{Name: "spotify-overview", JSON: dashboardJSON}}
}

func (p *Plugin) Collectors() []prometheus.Collector {
	collectors := oauth.MetricsCollectors()
	return append(collectors, rate.MetricsCollectors()...)
}

func (p *Plugin) Client() *Client {
	return p.client
}

// SetHealth is called by the reconciler after every tick.
func (p *Plugin) SetHealth(status core.HealthStatus, message string) {
	p.health.Set(status, message)
}

func (p *Plugin) Health() core.HealthStatus {
	status, _ := p.health.Status()
	return status
}

func (p *Plugin) HealthMessage() string {
	_, message := p.health.Status()
	return message
}

var _ core.Plugin = (*Plugin)(nil)
