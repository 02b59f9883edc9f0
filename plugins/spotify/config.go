package spotify

import (
	"fmt"
	"strings"

	"github.com/joshp123/gohome-spotify/internal/config"
	"github.com/joshp123/gohome-spotify/internal/oauth"
)

const (
	ProviderID      = "spotify"
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token"
	authorizeURL    = "https://accounts.spotify.com/authorize"
	// Scopes needed to read and drive playback.
	defaultScope = "user-read-playback-state user-modify-playback-state"
)

// Config defines runtime configuration for the Spotify client.
type Config struct {
	BaseURL  string
	TokenURL string
	// RequestsPerMinute caps outgoing API calls; 0 means no local cap.
	RequestsPerMinute int
}

func DefaultConfig() Config {
	return Config{
		BaseURL:           defaultBaseURL,
		TokenURL:          defaultTokenURL,
		RequestsPerMinute: 120,
	}
}

// Declaration returns the OAuth declaration for the Spotify accounts service.
func (c Config) Declaration() oauth.Declaration {
	tokenURL := strings.TrimSpace(c.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	return oauth.Declaration{
		Provider:     ProviderID,
		AuthorizeURL: authorizeURL,
		TokenURL:     tokenURL,
		Scope:        defaultScope,
	}
}

// CredentialsFromConfig extracts the OAuth credentials from the plugin config.
func CredentialsFromConfig(cfg *config.Config) (oauth.Credentials, error) {
	if cfg == nil {
		return oauth.Credentials{}, fmt.Errorf("spotify config is required")
	}
	return oauth.Credentials{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
	}, nil
}
