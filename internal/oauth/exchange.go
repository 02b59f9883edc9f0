package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

var errMissingAccessToken = errors.New("token response missing access_token")

// Grant is the result of a refresh-token exchange. RefreshToken is set only
// when the provider rotated it.
type Grant struct {
	AccessToken  string
	ExpiresIn    time.Duration
	RefreshToken string
}

// Exchanger trades a refresh token for a new access token.
type Exchanger interface {
	Exchange(ctx context.Context, refreshToken string) (Grant, error)
}

// OAuth2Exchanger performs the refresh_token grant with client credentials in
// an HTTP Basic header.
type OAuth2Exchanger struct {
	config     *oauth2.Config
	httpClient *http.Client
}

func NewOAuth2Exchanger(decl Declaration, creds Credentials, httpClient *http.Client) *OAuth2Exchanger {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &OAuth2Exchanger{
		httpClient: httpClient,
		config: &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  decl.TokenURL,
				AuthStyle: oauth2.AuthStyleInHeader,
			},
			Scopes: strings.Fields(decl.Scope),
		},
	}
}

func (e *OAuth2Exchanger) Exchange(ctx context.Context, refreshToken string) (Grant, error) {
	if refreshToken == "" {
		return Grant{}, fmt.Errorf("refresh token is empty")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	source := e.config.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := source.Token()
	if err != nil {
		return Grant{}, err
	}
	if token.AccessToken == "" {
		return Grant{}, errMissingAccessToken
	}

	grant := Grant{AccessToken: token.AccessToken}
	if !token.Expiry.IsZero() {
		grant.ExpiresIn = time.Until(token.Expiry).Round(time.Second)
	}
	// oauth2 carries the old refresh token over when the response has none.
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		grant.RefreshToken = token.RefreshToken
	}
	return grant, nil
}
