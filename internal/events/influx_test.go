package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-spotify/internal/config"
)

type influxServer struct {
	mu     sync.Mutex
	lines  []string
	auth   string
	query  string
	status int
}

func (s *influxServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.lines = append(s.lines, string(body))
		s.auth = r.Header.Get("Authorization")
		s.query = r.URL.RawQuery
		status := s.status
		s.mu.Unlock()
		if status != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func connectTestInflux(t *testing.T, srv *influxServer) *InfluxPublisher {
	t.Helper()
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)

	tokenFile := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(tokenFile, []byte("influx-token\n"), 0o600))

	pub, err := ConnectInflux(context.Background(), config.InfluxConfig{
		Enabled:     true,
		URL:         hs.URL,
		TokenFile:   tokenFile,
		Org:         "home",
		Bucket:      "spotify",
		Measurement: config.DefaultMeasurement,
	}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pub.Close)
	return pub
}

func TestInfluxPublishPower(t *testing.T) {
	srv := &influxServer{}
	pub := connectTestInflux(t, srv)

	at := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, pub.Publish(context.Background(), Power("abc", "Kitchen", true, at)))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.lines, 1)
	line := srv.lines[0]
	assert.Contains(t, line, "spotify_accessory,")
	assert.Contains(t, line, "device_id=abc")
	assert.Contains(t, line, "event=power")
	assert.Contains(t, line, "on=true")
	assert.Equal(t, "Token influx-token", srv.auth)
	assert.Contains(t, srv.query, "bucket=spotify")
	assert.Contains(t, srv.query, "org=home")
}

func TestInfluxPublishFailure(t *testing.T) {
	srv := &influxServer{status: http.StatusBadRequest}
	pub := connectTestInflux(t, srv)

	err := pub.Publish(context.Background(), Event{Type: TypeRegistered, DeviceID: "abc", At: time.Now()})
	assert.ErrorContains(t, err, "influxdb write registered")
}

func TestConnectInfluxMissingToken(t *testing.T) {
	_, err := ConnectInflux(context.Background(), config.InfluxConfig{
		URL:       "http://127.0.0.1:1",
		TokenFile: filepath.Join(t.TempDir(), "missing"),
	}, zerolog.Nop())
	assert.ErrorContains(t, err, "read influxdb token")
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, Event) error { return f.err }

func TestMultiJoinsErrors(t *testing.T) {
	errA := errors.New("a down")
	var seen []Event
	rec := publisherFunc(func(_ context.Context, e Event) error {
		seen = append(seen, e)
		return nil
	})

	err := Multi{failingPublisher{errA}, rec}.Publish(context.Background(), Event{Type: TypePower, DeviceID: "abc"})
	assert.ErrorIs(t, err, errA)
	assert.Len(t, seen, 1)

	assert.NoError(t, Multi{Nop{}, rec}.Publish(context.Background(), Event{}))
}

type publisherFunc func(context.Context, Event) error

func (f publisherFunc) Publish(ctx context.Context, e Event) error { return f(ctx, e) }
