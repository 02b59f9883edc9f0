package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshp123/gohome-spotify/internal/accessory"
	"github.com/joshp123/gohome-spotify/internal/clock"
	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/events"
	"github.com/joshp123/gohome-spotify/internal/host"
	"github.com/joshp123/gohome-spotify/internal/oauth"
	"github.com/joshp123/gohome-spotify/internal/remote"
)

type fakeRemote struct {
	mu       sync.Mutex
	devices  []remote.Device
	err      error
	playback remote.PlaybackState
	lists    chan struct{}
	block    chan struct{}
}

func newFakeRemote(ids ...string) *fakeRemote {
	f := &fakeRemote{lists: make(chan struct{}, 16)}
	f.set(ids...)
	return f
}

func (f *fakeRemote) set(ids ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.devices = nil
	for _, id := range ids {
		f.devices = append(f.devices, remote.Device{ID: id, Name: "Speaker " + id})
	}
}

func (f *fakeRemote) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeRemote) ListDevices(context.Context) ([]remote.Device, error) {
	f.mu.Lock()
	block := f.block
	devices := append([]remote.Device(nil), f.devices...)
	err := f.err
	f.mu.Unlock()

	f.lists <- struct{}{}
	if block != nil {
		<-block
	}
	return devices, err
}

func (f *fakeRemote) GetPlaybackState(context.Context) (remote.PlaybackState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playback, nil
}

func (f *fakeRemote) Play(context.Context, string) error           { return nil }
func (f *fakeRemote) Pause(context.Context, string) error          { return nil }
func (f *fakeRemote) SetVolume(context.Context, string, int) error { return nil }

type recordingEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEvents) Publish(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type cancelled struct {
	mu  sync.Mutex
	ids []string
}

func (c *cancelled) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, id)
}

func newTestReconciler(t *testing.T, rem *fakeRemote, h host.Host, cfg Config, opts ...Option) *Reconciler {
	t.Helper()
	cfg.PluginID = "spotify"
	cfg.Platform = "Spotify"
	factory := func(device remote.Device) *accessory.Accessory {
		return accessory.New(device, accessory.Deps{Client: rem, Notifier: h, Kind: "lightbulb", Logger: zerolog.Nop()})
	}
	r, err := New(cfg, rem, h, factory, opts...)
	require.NoError(t, err)
	return r
}

func registeredIDs(r *Reconciler) []string {
	var ids []string
	for _, acc := range r.Accessories() {
		ids = append(ids, acc.DeviceID())
	}
	return ids
}

func TestTickConvergesRegistry(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote("A", "B")
	mem := host.NewMemory()
	ev := &recordingEvents{}
	fades := &cancelled{}
	r := newTestReconciler(t, rem, mem, Config{}, WithEvents(ev), WithCanceller(fades))

	_, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, registeredIDs(r))

	rem.set("B", "C")
	res, err := r.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"B", "C"}, registeredIDs(r))
	assert.Equal(t, []string{"A"}, res.Unregistered)
	assert.Equal(t, []string{"C"}, res.Registered)
	assert.Equal(t, 2, res.Checked)

	calls := mem.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, host.Call{Op: "unregister", PluginID: "spotify", Platform: "Spotify", UUIDs: []string{accessory.UUIDFor("A")}}, calls[1])
	assert.Equal(t, host.Call{Op: "register", PluginID: "spotify", Platform: "Spotify", UUIDs: []string{accessory.UUIDFor("C")}}, calls[2])
	assert.Equal(t, []string{"A"}, fades.ids)

	var types []events.Type
	for _, e := range ev.events {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.TypeUnregistered)
	assert.Equal(t, 3, countType(ev.events, events.TypeRegistered))
}

func countType(evs []events.Event, typ events.Type) int {
	n := 0
	for _, e := range evs {
		if e.Type == typ {
			n++
		}
	}
	return n
}

func TestNameChangeDoesNotReregister(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote("A")
	mem := host.NewMemory()
	r := newTestReconciler(t, rem, mem, Config{})

	_, err := r.Tick(ctx)
	require.NoError(t, err)
	rem.mu.Lock()
	rem.devices[0].Name = "Renamed"
	rem.mu.Unlock()
	_, err = r.Tick(ctx)
	require.NoError(t, err)

	assert.Len(t, mem.Calls(), 1)
}

func TestRestoredAccessoriesCleanedOnce(t *testing.T) {
	ctx := context.Background()
	stale := host.CachedHandle{ID: "stale-uuid", Name: "Old speaker"}
	mem := host.NewMemory(stale)
	rem := newFakeRemote("A")
	r := newTestReconciler(t, rem, mem, Config{})
	require.NoError(t, mem.Restore(ctx, r.RestoreCached))

	res, err := r.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Restored)
	res, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Restored)

	calls := mem.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "unregister", calls[0].Op)
	assert.Equal(t, []string{"stale-uuid"}, calls[0].UUIDs)
	assert.Equal(t, "register", calls[1].Op)

	r.RestoreCached(stale)
	_, err = r.Tick(ctx)
	require.NoError(t, err)
	assert.Len(t, mem.Calls(), 2)
}

func TestDeviceFilter(t *testing.T) {
	rem := newFakeRemote("A", "B", "C")
	r := newTestReconciler(t, rem, host.NewMemory(), Config{DeviceID: "B"})

	_, err := r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, registeredIDs(r))
}

func TestFailedTickKeepsRegistryAndReportsHealth(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote("A")
	var mu sync.Mutex
	var health []core.HealthStatus
	r := newTestReconciler(t, rem, host.NewMemory(), Config{}, WithHealth(func(s core.HealthStatus, _ string) {
		mu.Lock()
		defer mu.Unlock()
		health = append(health, s)
	}))

	_, err := r.Tick(ctx)
	require.NoError(t, err)

	rem.fail(&remote.TransportError{Op: "list devices", Err: errors.New("connection refused")})
	_, err = r.Tick(ctx)
	require.Error(t, err)
	assert.Equal(t, []string{"A"}, registeredIDs(r))

	rem.fail(nil)
	_, err = r.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []core.HealthStatus{core.HealthHealthy, core.HealthDegraded, core.HealthHealthy}, health)
}

func TestRejectedRefreshTokenReportsError(t *testing.T) {
	ctx := context.Background()
	rem := newFakeRemote("A")
	var mu sync.Mutex
	var health []core.HealthStatus
	r := newTestReconciler(t, rem, host.NewMemory(), Config{}, WithHealth(func(s core.HealthStatus, _ string) {
		mu.Lock()
		defer mu.Unlock()
		health = append(health, s)
	}))

	rejected := &oauth.AuthError{Provider: "spotify", Status: 400, Body: `{"error":"invalid_grant"}`}
	rem.fail(&remote.TransportError{Op: "list devices", Err: rejected})
	_, err := r.Tick(ctx)
	require.Error(t, err)

	unreachable := &oauth.AuthError{Provider: "spotify", Err: errors.New("dial tcp: timeout")}
	rem.fail(&remote.TransportError{Op: "list devices", Err: unreachable})
	_, err = r.Tick(ctx)
	require.Error(t, err)

	assert.Equal(t, []core.HealthStatus{core.HealthError, core.HealthDegraded}, health)
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	rem := newFakeRemote("A")
	rem.block = make(chan struct{})
	r := newTestReconciler(t, rem, host.NewMemory(), Config{})

	done := make(chan error, 1)
	go func() {
		_, err := r.Tick(context.Background())
		done <- err
	}()
	<-rem.lists

	_, err := r.Tick(context.Background())
	assert.ErrorIs(t, err, ErrTickInProgress)

	close(rem.block)
	require.NoError(t, <-done)
	assert.Equal(t, []string{"A"}, registeredIDs(r))
}

func TestPanickingTickIsRecovered(t *testing.T) {
	rem := newFakeRemote("A")
	calls := 0
	factory := func(device remote.Device) *accessory.Accessory {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return accessory.New(device, accessory.Deps{Client: rem, Logger: zerolog.Nop()})
	}
	r, err := New(Config{}, rem, host.NewMemory(), factory)
	require.NoError(t, err)

	_, err = r.Tick(context.Background())
	assert.ErrorContains(t, err, "panicked")
	_, err = r.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, registeredIDs(r))
}

func TestCheckPushesPowerToHost(t *testing.T) {
	rem := newFakeRemote("A", "B")
	rem.playback = remote.PlaybackState{IsPlaying: true, ActiveDeviceID: "B"}
	mem := host.NewMemory()
	r := newTestReconciler(t, rem, mem, Config{})

	_, err := r.Tick(context.Background())
	require.NoError(t, err)

	on, ok := mem.Power(accessory.UUIDFor("B"))
	require.True(t, ok)
	assert.True(t, on)
	on, ok = mem.Power(accessory.UUIDFor("A"))
	require.True(t, ok)
	assert.False(t, on)
}

func TestRunTicksImmediatelyAndSurvivesFailures(t *testing.T) {
	rem := newFakeRemote("A")
	rem.fail(errors.New("token refresh failed"))
	clk := clock.NewManual(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	r := newTestReconciler(t, rem, host.NewMemory(), Config{Interval: 10 * time.Second}, WithClock(clk))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	waitList(t, rem)
	require.Eventually(t, func() bool { return clk.Tickers() == 1 && !r.running.Load() }, time.Second, time.Millisecond)
	assert.Empty(t, registeredIDs(r))

	rem.fail(nil)
	clk.Advance(10 * time.Second)
	waitList(t, rem)
	require.Eventually(t, func() bool { return len(registeredIDs(r)) == 1 }, time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Zero(t, clk.Tickers())
}

func waitList(t *testing.T, rem *fakeRemote) {
	t.Helper()
	select {
	case <-rem.lists:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for ListDevices")
	}
}

func TestNewValidates(t *testing.T) {
	rem := newFakeRemote()
	factory := func(remote.Device) *accessory.Accessory { return nil }
	_, err := New(Config{}, nil, host.NewMemory(), factory)
	assert.Error(t, err)
	_, err = New(Config{}, rem, nil, factory)
	assert.Error(t, err)
	_, err = New(Config{}, rem, host.NewMemory(), nil)
	assert.Error(t, err)
}
