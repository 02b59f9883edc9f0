package oauth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-spotify/internal/clock"
	"github.com/joshp123/gohome-spotify/internal/config"
)

type tokenServer struct {
	t        *testing.T
	requests atomic.Int32

	mu       sync.Mutex
	status   int
	body     string
	lastForm string
	block    chan struct{}
	started  chan struct{}
	once     sync.Once
}

func newTokenServer(t *testing.T) (*tokenServer, *httptest.Server) {
	ts := &tokenServer{t: t, status: http.StatusOK, body: `{"access_token":"access-1","token_type":"Bearer","expires_in":3600}`}
	srv := httptest.NewServer(http.HandlerFunc(ts.serve))
	t.Cleanup(srv.Close)
	return ts, srv
}

func (ts *tokenServer) serve(w http.ResponseWriter, r *http.Request) {
	ts.requests.Add(1)
	if r.Method != http.MethodPost {
		ts.t.Errorf("expected POST to token endpoint, got %s", r.Method)
	}
	user, pass, ok := r.BasicAuth()
	if !ok || user != "client-id" || pass != "client-secret" {
		ts.t.Errorf("unexpected basic auth %q/%q (ok=%v)", user, pass, ok)
	}
	body, _ := io.ReadAll(r.Body)

	ts.mu.Lock()
	ts.lastForm = string(body)
	status, payload, block, started := ts.status, ts.body, ts.block, ts.started
	ts.mu.Unlock()

	if started != nil {
		ts.once.Do(func() { close(started) })
	}
	if block != nil {
		<-block
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, payload)
}

func (ts *tokenServer) respond(status int, body string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = status
	ts.body = body
}

func (ts *tokenServer) form() string {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.lastForm
}

type memoryTokenStore struct {
	mu    sync.Mutex
	saved []string
	err   error
}

func (m *memoryTokenStore) SaveRefreshToken(_ context.Context, _, newToken string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.saved = append(m.saved, newToken)
	return nil
}

type memoryMirror struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memoryMirror) Save(_ context.Context, provider string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.data[provider] = data
	return nil
}

func newTestCache(t *testing.T, tokenURL string, store TokenStore, opts ...Option) (*Cache, *clock.Manual) {
	t.Helper()
	decl := Declaration{Provider: "spotify", TokenURL: tokenURL}
	creds := Credentials{ClientID: "client-id", ClientSecret: "client-secret", RefreshToken: "rt-1"}
	mc := clock.NewManual(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	opts = append([]Option{WithClock(mc)}, opts...)
	cache, err := NewCache(decl, creds, NewOAuth2Exchanger(decl, creds, nil), store, opts...)
	require.NoError(t, err)
	return cache, mc
}

func TestTokenServedFromCacheWithinLifetime(t *testing.T) {
	ts, srv := newTokenServer(t)
	cache, mc := newTestCache(t, srv.URL, &memoryTokenStore{})
	ctx := context.Background()

	token, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Contains(t, ts.form(), "grant_type=refresh_token")
	assert.Contains(t, ts.form(), "refresh_token=rt-1")

	for i := 0; i < 5; i++ {
		mc.Advance(10 * time.Minute)
		token, err = cache.Token(ctx)
		require.NoError(t, err)
		assert.Equal(t, "access-1", token)
	}
	require.Equal(t, int32(1), ts.requests.Load())

	// 50 minutes have passed; one more step crosses the lifetime.
	mc.Advance(time.Second)
	ts.respond(http.StatusOK, `{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
	token, err = cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", token)
	assert.Equal(t, int32(2), ts.requests.Load())
}

func TestTokenSingleFlightAcrossCallers(t *testing.T) {
	ts, srv := newTokenServer(t)
	release := make(chan struct{})
	started := make(chan struct{})
	ts.mu.Lock()
	ts.block = release
	ts.started = started
	ts.mu.Unlock()

	cache, _ := newTestCache(t, srv.URL, &memoryTokenStore{})

	const callers = 16
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.Token(context.Background())
		}(i)
	}

	<-started
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "access-1", tokens[i])
	}
	assert.Equal(t, int32(1), ts.requests.Load())
}

func TestRotatedRefreshTokenIsPersisted(t *testing.T) {
	ts, srv := newTokenServer(t)
	ts.respond(http.StatusOK, `{"access_token":"access-1","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-2"}`)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("client_id: client-id\nclient_secret: client-secret\nrefresh_token: rt-1\n"), 0o600))
	mirror := &memoryMirror{}
	cache, mc := newTestCache(t, srv.URL, config.NewFileTokenStore(path), WithMirror(mirror))

	_, err := cache.Token(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "refresh_token: rt-2")
	assert.NotContains(t, string(data), "rt-1")
	assert.Equal(t, "rt-2", cache.refreshToken)

	state, err := DecodeState(mirror.data["spotify"])
	require.NoError(t, err)
	assert.Equal(t, "rt-2", state.RefreshToken)
	assert.Equal(t, "client-id", state.ClientID)

	// The next exchange must use the rotated token.
	mc.Advance(TokenLifetime + time.Second)
	ts.respond(http.StatusOK, `{"access_token":"access-2","token_type":"Bearer","expires_in":3600}`)
	_, err = cache.Token(context.Background())
	require.NoError(t, err)
	assert.Contains(t, ts.form(), "refresh_token=rt-2")
	assert.Equal(t, "rt-2", cache.refreshToken)
}

func TestRotationKeepsNewTokenWhenPersistFails(t *testing.T) {
	ts, srv := newTokenServer(t)
	ts.respond(http.StatusOK, `{"access_token":"access-1","token_type":"Bearer","expires_in":3600,"refresh_token":"rt-2"}`)
	store := &memoryTokenStore{err: errors.New("disk full")}
	cache, _ := newTestCache(t, srv.URL, store)

	token, err := cache.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)
	assert.Equal(t, "rt-2", cache.refreshToken)
}

func TestRefreshFailureLeavesStateUntouched(t *testing.T) {
	ts, srv := newTokenServer(t)
	store := &memoryTokenStore{}
	cache, mc := newTestCache(t, srv.URL, store)
	ctx := context.Background()

	_, err := cache.Token(ctx)
	require.NoError(t, err)

	mc.Advance(TokenLifetime + time.Second)
	ts.respond(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"Refresh token revoked"}`)
	_, err = cache.Token(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefreshFailed)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, http.StatusBadRequest, authErr.Status)
	assert.Contains(t, authErr.Body, "invalid_grant")
	assert.Equal(t, "rt-1", cache.refreshToken)
	assert.Empty(t, store.saved)

	ts.respond(http.StatusOK, `{"access_token":"access-3","token_type":"Bearer","expires_in":3600}`)
	token, err := cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-3", token)
}

func TestRefreshRejectsUnparseableBody(t *testing.T) {
	ts, srv := newTokenServer(t)
	ts.respond(http.StatusOK, `<html>gateway error</html>`)
	cache, _ := newTestCache(t, srv.URL, &memoryTokenStore{})

	_, err := cache.Token(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestRefreshNetworkErrorIsAuthError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cache, _ := newTestCache(t, url, &memoryTokenStore{})
	_, err := cache.Token(context.Background())
	assert.ErrorIs(t, err, ErrRefreshFailed)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	ts, srv := newTokenServer(t)
	cache, _ := newTestCache(t, srv.URL, &memoryTokenStore{})
	ctx := context.Background()

	_, err := cache.Token(ctx)
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Token(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), ts.requests.Load())
}

func TestTokenHonoursCallerCancellation(t *testing.T) {
	ts, srv := newTokenServer(t)
	release := make(chan struct{})
	ts.mu.Lock()
	ts.block = release
	ts.mu.Unlock()
	defer close(release)

	cache, _ := newTestCache(t, srv.URL, &memoryTokenStore{})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.Token(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewCacheValidates(t *testing.T) {
	decl := Declaration{Provider: "spotify", TokenURL: "http://example.invalid"}
	creds := Credentials{ClientID: "id", ClientSecret: "secret", RefreshToken: "rt"}
	ex := NewOAuth2Exchanger(decl, creds, nil)

	_, err := NewCache(Declaration{}, creds, ex, &memoryTokenStore{})
	assert.Error(t, err)
	_, err = NewCache(decl, Credentials{ClientID: "id"}, ex, &memoryTokenStore{})
	assert.Error(t, err)
	_, err = NewCache(decl, creds, nil, &memoryTokenStore{})
	assert.Error(t, err)
	_, err = NewCache(decl, creds, ex, nil)
	assert.Error(t, err)
}

func TestAuthErrorMessage(t *testing.T) {
	err := &AuthError{Provider: "spotify", Status: 400, Body: " bad "}
	assert.Equal(t, "spotify token refresh failed 400: bad", err.Error())
	err = &AuthError{Provider: "spotify", Err: fmt.Errorf("dial tcp: refused")}
	assert.Equal(t, "spotify token refresh failed: dial tcp: refused", err.Error())
}
