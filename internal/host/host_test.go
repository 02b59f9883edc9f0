package host

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func handle(id, name string) Handle {
	return CachedHandle{ID: id, Name: name}
}

func TestMemoryRecordsCalls(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.RegisterAccessories(ctx, "spotify", "Spotify", []Handle{handle("b", "B"), handle("a", "A")}))
	m.UpdatePower("a", true)
	m.UpdatePower("unknown", true)
	require.NoError(t, m.UnregisterAccessories(ctx, "spotify", "Spotify", []Handle{handle("b", "B")}))

	registered := m.Registered()
	require.Len(t, registered, 1)
	assert.Equal(t, "a", registered[0].UUID())

	on, ok := m.Power("a")
	assert.True(t, ok)
	assert.True(t, on)
	_, ok = m.Power("unknown")
	assert.False(t, ok)

	assert.Equal(t, []Call{
		{Op: "register", PluginID: "spotify", Platform: "Spotify", UUIDs: []string{"b", "a"}},
		{Op: "unregister", PluginID: "spotify", Platform: "Spotify", UUIDs: []string{"b"}},
	}, m.Calls())
}

func openTestCache(t *testing.T) *Cached {
	t.Helper()
	db, err := OpenCache(filepath.Join(t.TempDir(), "state", "accessories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	c := NewCached(NewMemory(), db)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	step := 0
	c.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Second)
	}
	return c
}

func restoreAll(t *testing.T, r Restorer) []Handle {
	t.Helper()
	var restored []Handle
	require.NoError(t, r.Restore(context.Background(), func(h Handle) { restored = append(restored, h) }))
	return restored
}

func TestCachedPersistsRegistrations(t *testing.T) {
	ctx := context.Background()
	c := openTestCache(t)

	require.NoError(t, c.RegisterAccessories(ctx, "spotify", "Spotify", []Handle{handle("a", "Kitchen"), handle("b", "Office")}))
	require.NoError(t, c.RegisterAccessories(ctx, "spotify", "Spotify", []Handle{handle("c", "Car")}))
	require.NoError(t, c.UnregisterAccessories(ctx, "spotify", "Spotify", []Handle{handle("b", "Office")}))

	assert.Equal(t, []Handle{
		CachedHandle{ID: "a", Name: "Kitchen"},
		CachedHandle{ID: "c", Name: "Car"},
	}, restoreAll(t, c))

	inner := c.inner.(*Memory)
	assert.Len(t, inner.Registered(), 2)
}

func TestCachedSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "accessories.db")

	db, err := OpenCache(path)
	require.NoError(t, err)
	require.NoError(t, NewCached(NewMemory(), db).RegisterAccessories(ctx, "spotify", "Spotify", []Handle{handle("a", "Kitchen")}))
	require.NoError(t, db.Close())

	db, err = OpenCache(path)
	require.NoError(t, err)
	defer db.Close()
	restored := restoreAll(t, NewCached(NewMemory(), db))
	require.Len(t, restored, 1)
	assert.Equal(t, "Kitchen", restored[0].DisplayName())
}

type failingHost struct {
	*Memory
}

func (failingHost) RegisterAccessories(context.Context, string, string, []Handle) error {
	return errors.New("host rejected")
}

func TestCachedSkipsCacheWhenHostFails(t *testing.T) {
	db, err := OpenCache(filepath.Join(t.TempDir(), "accessories.db"))
	require.NoError(t, err)
	defer db.Close()

	c := NewCached(failingHost{NewMemory()}, db)
	require.Error(t, c.RegisterAccessories(context.Background(), "spotify", "Spotify", []Handle{handle("a", "Kitchen")}))
	assert.Empty(t, restoreAll(t, c))
}

func TestMemoryRestoreReplaysSeed(t *testing.T) {
	m := NewMemory(handle("old", "Old speaker"))
	restored := restoreAll(t, m)
	require.Len(t, restored, 1)
	assert.Equal(t, "old", restored[0].UUID())
}
