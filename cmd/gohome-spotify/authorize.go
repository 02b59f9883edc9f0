package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"runtime"
	"time"

	"github.com/joshp123/gohome-spotify/internal/config"
	"github.com/joshp123/gohome-spotify/internal/oauth"
	"github.com/joshp123/gohome-spotify/internal/oauthflow"
	"github.com/joshp123/gohome-spotify/plugins/spotify"
)

type authorizeOutput struct {
	Provider       string `json:"provider"`
	ConfigPath     string `json:"config_path"`
	MirrorUploaded bool   `json:"mirror_uploaded"`
	RefreshToken   string `json:"refresh_token,omitempty"`
}

// authorizeMain swaps the refresh_token placeholder in the config file for a
// real token obtained through the authorization code flow.
func authorizeMain(args []string) {
	flags := flag.NewFlagSet("authorize", flag.ExitOnError)
	configPath := flags.String("config", "", "Path to config.yaml")
	redirectURL := flags.String("redirect-url", "http://127.0.0.1:8888/callback", "Redirect URL registered with Spotify")
	noOpen := flags.Bool("no-open", false, "Do not open the browser automatically")
	timeout := flags.Duration("timeout", 5*time.Minute, "Timeout for the authorization flow")
	jsonOut := flags.Bool("json", false, "Output JSON to stdout")
	printToken := flags.Bool("print-token", false, "Include refresh token in output")
	_ = flags.Parse(args)

	cfg, path, err := loadConfig(*configPath)
	if err != nil {
		fatal("authorize", err)
	}
	creds, err := spotify.CredentialsFromConfig(cfg)
	if err != nil {
		fatal("authorize", err)
	}
	decl := spotify.DefaultConfig().Declaration()

	flow, err := oauthflow.NewAuthCode(decl, creds, *redirectURL)
	if err != nil {
		fatal("authorize", err)
	}
	state, err := oauthflow.RandomState(16)
	if err != nil {
		fatal("authorize", err)
	}

	authURL := flow.URL(state)
	printPrompt(*jsonOut, "Open this URL to authorize:", authURL, "")
	if !*noOpen {
		_ = openBrowser(authURL)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	code, err := waitForCode(ctx, *redirectURL, state, *jsonOut)
	if err != nil {
		fatal("authorize", err)
	}
	refreshToken, err := flow.Exchange(ctx, code)
	if err != nil {
		fatal("authorize", err)
	}

	if err := config.NewFileTokenStore(path).SaveRefreshToken(ctx, creds.RefreshToken, refreshToken); err != nil {
		fatal("authorize", err)
	}

	output := authorizeOutput{Provider: decl.Provider, ConfigPath: path}
	if cfg.OAuthMirror.Enabled {
		if err := mirrorToken(ctx, cfg, decl.Provider, refreshToken); err != nil {
			fmt.Fprintf(os.Stderr, "authorize: mirror upload failed: %v\n", err)
		} else {
			output.MirrorUploaded = true
		}
	}
	if *printToken {
		output.RefreshToken = refreshToken
	}
	emitOutput(output, *jsonOut)
}

func mirrorToken(ctx context.Context, cfg *config.Config, provider, refreshToken string) error {
	store, err := oauth.NewS3Store(cfg.OAuthMirror)
	if err != nil {
		return err
	}
	data, err := oauth.EncodeState(oauth.MirrorState{
		Provider:     provider,
		ClientID:     cfg.ClientID,
		RefreshToken: refreshToken,
		RotatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	return store.Save(ctx, provider, data)
}

func waitForCode(ctx context.Context, redirectURL, state string, jsonOut bool) (string, error) {
	parsed, err := url.Parse(redirectURL)
	if err != nil {
		return "", fmt.Errorf("invalid redirect URL: %w", err)
	}

	if oauthflow.IsLoopback(parsed.Hostname()) && parsed.Scheme == "http" && parsed.Host != "" {
		code, err := oauthflow.ListenForCode(ctx, parsed, state)
		if err == nil {
			return code, nil
		}
		printPrompt(jsonOut, fmt.Sprintf("Warning: failed to listen for callback, falling back to manual paste: %v", err))
	}

	printPrompt(jsonOut, "Paste the authorization code (or full redirect URL): ")
	return oauthflow.ReadCode(os.Stdin)
}

func emitOutput(output authorizeOutput, jsonOut bool) {
	if jsonOut {
		payload, err := json.MarshalIndent(output, "", "  ")
		if err != nil {
			fatal("authorize", err)
		}
		fmt.Fprintln(os.Stdout, string(payload))
		return
	}
	fmt.Printf("Config updated: %s\n", output.ConfigPath)
	fmt.Printf("Mirror uploaded: %t\n", output.MirrorUploaded)
	if output.RefreshToken != "" {
		fmt.Printf("Refresh token: %s\n", output.RefreshToken)
	}
}

func printPrompt(jsonOut bool, lines ...string) {
	out := os.Stdout
	if jsonOut {
		out = os.Stderr
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
}

func openBrowser(target string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target).Start()
	case "linux":
		return exec.Command("xdg-open", target).Start()
	default:
		return nil
	}
}
