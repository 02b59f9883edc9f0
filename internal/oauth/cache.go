package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/joshp123/gohome-spotify/internal/clock"
)

// TokenLifetime is how long an access token is reused. It sits below the
// provider's one hour expiry.
const TokenLifetime = 3000 * time.Second

const refreshTimeout = 15 * time.Second

// TokenStore persists a rotated refresh token.
type TokenStore interface {
	SaveRefreshToken(ctx context.Context, oldToken, newToken string) error
}

// Cache hands out access tokens, refreshing at most once at a time.
type Cache struct {
	decl      Declaration
	clientID  string
	exchanger Exchanger
	store     TokenStore
	mirror    Mirror
	clock     clock.Clock
	logger    zerolog.Logger

	flight singleflight.Group

	mu           sync.Mutex
	accessToken  string
	issuedAt     time.Time
	refreshToken string
}

type Option func(*Cache)

func WithClock(c clock.Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(cache *Cache) { cache.logger = logger }
}

// WithMirror mirrors rotated refresh tokens to remote storage.
func WithMirror(m Mirror) Option {
	return func(cache *Cache) { cache.mirror = m }
}

func NewCache(decl Declaration, creds Credentials, exchanger Exchanger, store TokenStore, opts ...Option) (*Cache, error) {
	if decl.Provider == "" {
		return nil, fmt.Errorf("provider is required")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("exchanger is required")
	}
	if store == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("refresh token is required")
	}

	c := &Cache{
		decl:         decl,
		clientID:     creds.ClientID,
		exchanger:    exchanger,
		store:        store,
		clock:        clock.Real{},
		logger:       zerolog.Nop(),
		refreshToken: creds.RefreshToken,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "oauth").Str("provider", decl.Provider).Logger()
	return c, nil
}

// Token returns a valid access token, refreshing it when the cached one is
// older than TokenLifetime. Concurrent callers share one refresh.
func (c *Cache) Token(ctx context.Context) (string, error) {
	if token, ok := c.cached(); ok {
		cacheHits.WithLabelValues(c.decl.Provider).Inc()
		return token, nil
	}

	flightCtx := context.WithoutCancel(ctx)
	ch := c.flight.DoChan("refresh", func() (any, error) {
		return c.refresh(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached access token so the next Token call refreshes.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.accessToken = ""
	c.issuedAt = time.Time{}
	c.mu.Unlock()
	tokenValid.WithLabelValues(c.decl.Provider).Set(0)
}

func (c *Cache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == "" || c.issuedAt.IsZero() {
		return "", false
	}
	if c.clock.Now().Sub(c.issuedAt) > TokenLifetime {
		return "", false
	}
	return c.accessToken, true
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	// A caller may have lost the race with the flight that just finished.
	if token, ok := c.cached(); ok {
		return token, nil
	}

	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	c.mu.Lock()
	current := c.refreshToken
	c.mu.Unlock()

	c.logger.Debug().Msg("refreshing access token")
	start := c.clock.Now()
	grant, err := c.exchanger.Exchange(ctx, current)
	refreshDuration.WithLabelValues(c.decl.Provider).Observe(c.clock.Now().Sub(start).Seconds())
	if err != nil {
		refreshFailure.WithLabelValues(c.decl.Provider).Inc()
		tokenValid.WithLabelValues(c.decl.Provider).Set(0)
		authErr := c.authError(err)
		c.logger.Error().Err(authErr).Msg("access token refresh failed")
		return "", authErr
	}

	if grant.RefreshToken != "" && grant.RefreshToken != current {
		c.rotate(ctx, current, grant.RefreshToken)
	}

	c.mu.Lock()
	c.accessToken = grant.AccessToken
	c.issuedAt = c.clock.Now()
	c.mu.Unlock()

	refreshSuccess.WithLabelValues(c.decl.Provider).Inc()
	tokenValid.WithLabelValues(c.decl.Provider).Set(1)
	c.logger.Info().Dur("expires_in", grant.ExpiresIn).Msg("access token refreshed")
	return grant.AccessToken, nil
}

// rotate persists the new refresh token before the old one is dropped. The
// in-memory value moves to the new token even when persisting fails, since
// the provider may already have revoked the old one.
func (c *Cache) rotate(ctx context.Context, oldToken, newToken string) {
	rotations.WithLabelValues(c.decl.Provider).Inc()
	if err := c.store.SaveRefreshToken(ctx, oldToken, newToken); err != nil {
		persistFailure.WithLabelValues(c.decl.Provider).Inc()
		c.logger.Error().Err(err).Msg("persist rotated refresh token failed; re-authorization may be required after restart")
	}

	c.mu.Lock()
	c.refreshToken = newToken
	c.mu.Unlock()

	if c.mirror == nil {
		return
	}
	state := MirrorState{
		SchemaVersion: SchemaVersion,
		Provider:      c.decl.Provider,
		ClientID:      c.clientID,
		RefreshToken:  newToken,
		RotatedAt:     c.clock.Now().UTC(),
	}
	if err := c.persistMirror(ctx, state); err != nil {
		remotePersistOK.WithLabelValues(c.decl.Provider).Set(0)
		c.logger.Warn().Err(err).Msg("mirror rotated refresh token failed")
		return
	}
	remotePersistOK.WithLabelValues(c.decl.Provider).Set(1)
}

func (c *Cache) persistMirror(ctx context.Context, state MirrorState) error {
	data, err := EncodeState(state)
	if err != nil {
		return err
	}
	return c.mirror.Save(ctx, c.decl.Provider, data)
}

func (c *Cache) authError(err error) *AuthError {
	authErr := &AuthError{Provider: c.decl.Provider, Err: err}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		authErr.Status = retrieveErr.Response.StatusCode
		authErr.Body = string(retrieveErr.Body)
	}
	return authErr
}
