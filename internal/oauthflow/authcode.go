// Package oauthflow runs the one-off authorization code flow that produces the
// first refresh token.
package oauthflow

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/gohome-spotify/internal/oauth"
)

// AuthCode drives the authorization code grant for one provider.
type AuthCode struct {
	conf *oauth2.Config
}

func NewAuthCode(decl oauth.Declaration, creds oauth.Credentials, redirectURL string) (*AuthCode, error) {
	if decl.AuthorizeURL == "" || decl.TokenURL == "" {
		return nil, fmt.Errorf("provider %q missing authorize or token URL", decl.Provider)
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("client_id and client_secret are required")
	}
	if redirectURL == "" {
		return nil, fmt.Errorf("redirect URL is required")
	}
	return &AuthCode{conf: &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   decl.AuthorizeURL,
			TokenURL:  decl.TokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		RedirectURL: redirectURL,
		Scopes:      strings.Fields(decl.Scope),
	}}, nil
}

// URL is the page the user opens to grant access.
func (a *AuthCode) URL(state string) string {
	return a.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a refresh token.
func (a *AuthCode) Exchange(ctx context.Context, code string) (string, error) {
	token, err := a.conf.Exchange(ctx, code)
	if err != nil {
		return "", err
	}
	if token.RefreshToken == "" {
		return "", fmt.Errorf("no refresh_token returned; check scope and redirect URL")
	}
	return token.RefreshToken, nil
}

func RandomState(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// IsLoopback reports whether a redirect host can be served locally.
func IsLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// ListenForCode serves the redirect URL on its loopback address until the
// browser delivers a code or ctx ends.
func ListenForCode(ctx context.Context, redirect *url.URL, state string) (string, error) {
	ln, err := net.Listen("tcp", redirect.Host)
	if err != nil {
		return "", err
	}
	return ServeCallback(ctx, ln, redirect.Path, state)
}

// ServeCallback accepts one authorization callback on ln.
func ServeCallback(ctx context.Context, ln net.Listener, path, state string) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler:           callbackHandler(path, state, codeCh, errCh),
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sendErr(errCh, err)
		}
	}()
	defer func() {
		_ = srv.Close()
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("authorization timed out")
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}

func callbackHandler(path, state string, codeCh chan<- string, errCh chan<- error) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != "" && r.URL.Path != path {
			http.NotFound(w, r)
			return
		}
		query := r.URL.Query()
		if errStr := query.Get("error"); errStr != "" {
			sendErr(errCh, fmt.Errorf("authorization error: %s", errStr))
			_, _ = w.Write([]byte("Authorization failed. You can close this window."))
			return
		}
		if got := query.Get("state"); got != state {
			sendErr(errCh, fmt.Errorf("state mismatch"))
			_, _ = w.Write([]byte("State mismatch. You can close this window."))
			return
		}
		code := query.Get("code")
		if code == "" {
			sendErr(errCh, fmt.Errorf("missing code in callback"))
			_, _ = w.Write([]byte("Missing authorization code. You can close this window."))
			return
		}
		select {
		case codeCh <- code:
		default:
		}
		_, _ = w.Write([]byte("Authorization received. You can close this window."))
	})
}

func sendErr(ch chan<- error, err error) {
	select {
	case ch <- err:
	default:
	}
}

// ReadCode reads a pasted code or full redirect URL.
func ReadCode(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("no code provided")
	}
	if parsed, err := url.Parse(line); err == nil && parsed.Query().Get("code") != "" {
		return parsed.Query().Get("code"), nil
	}
	return line, nil
}
