package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/joshp123/gohome-spotify/internal/config"
	"github.com/joshp123/gohome-spotify/internal/oauth"
	"github.com/joshp123/gohome-spotify/plugins/spotify"
)

// restoreTokenMain writes the refresh token last mirrored to S3 back into the
// config file. It recovers from a config restored from an older backup.
func restoreTokenMain(args []string) {
	flags := flag.NewFlagSet("restore-token", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config.yaml")
	timeout := flags.Duration("timeout", 30*time.Second, "Timeout for the mirror read")
	_ = flags.Parse(args)

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fatal("restore-token", err)
	}
	if !cfg.OAuthMirror.Enabled {
		fatal("restore-token", fmt.Errorf("oauth_mirror is not enabled"))
	}
	store, err := oauth.NewS3Store(cfg.OAuthMirror)
	if err != nil {
		fatal("restore-token", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	state, err := store.Load(ctx, spotify.ProviderID)
	if err != nil {
		fatal("restore-token", err)
	}
	if state.ClientID != "" && state.ClientID != cfg.ClientID {
		fatal("restore-token", fmt.Errorf("mirrored state belongs to a different client_id"))
	}
	if state.RefreshToken == cfg.RefreshToken {
		fmt.Println("Config already holds the mirrored refresh token")
		return
	}
	if err := config.NewFileTokenStore(path).SaveRefreshToken(ctx, cfg.RefreshToken, state.RefreshToken); err != nil {
		fatal("restore-token", err)
	}
	fmt.Printf("Config updated: %s (token rotated %s)\n", path, state.RotatedAt.Format(time.RFC3339))
}
