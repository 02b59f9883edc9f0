package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newAPIClient(strings.TrimPrefix(srv.URL, "http://"))
}

func accessoriesJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`[{"device_id":"dev-1","uuid":"u1","name":"Living Room","kind":"lightbulb","on":true},{"device_id":"dev-2","uuid":"u2","name":"Kitchen Speaker","kind":"lightbulb"}]`))
}

func TestAccessoriesTable(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/accessories", r.URL.Path)
		accessoriesJSON(w)
	})

	var out bytes.Buffer
	require.NoError(t, runAPICommand(context.Background(), api, "accessories", nil, &out))
	text := out.String()
	assert.Contains(t, text, "DEVICE")
	assert.Contains(t, text, "Living Room")
	assert.Contains(t, text, "unknown")
}

func TestPowerResolvesDeviceName(t *testing.T) {
	var gotPath string
	var gotBody map[string]bool
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			accessoriesJSON(w)
			return
		}
		gotPath = r.URL.Path
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_id":"dev-2","uuid":"u2","name":"Kitchen Speaker","kind":"lightbulb","on":false}`))
	})

	var out bytes.Buffer
	require.NoError(t, runAPICommand(context.Background(), api, "power", []string{"kitchen-speaker", "off"}, &out))
	assert.Equal(t, "/api/v1/accessories/dev-2/power", gotPath)
	assert.Equal(t, map[string]bool{"on": false}, gotBody)
	assert.Contains(t, out.String(), "Kitchen Speaker")
}

func TestVolumeAcceptsDeviceIDAndJSONFlag(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			accessoriesJSON(w)
			return
		}
		assert.Equal(t, "/api/v1/accessories/dev-1/volume", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"device_id":"dev-1","volume":40}`))
	})

	var out bytes.Buffer
	require.NoError(t, runAPICommand(context.Background(), api, "volume", []string{"dev-1", "40", "--json"}, &out))
	var resp map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &resp))
	assert.Equal(t, float64(40), resp["volume"])
}

func TestVolumeRejectsOutOfRange(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Error("no request expected")
	})
	err := runAPICommand(context.Background(), api, "volume", []string{"dev-1", "101"}, &bytes.Buffer{})
	assert.ErrorContains(t, err, "invalid volume")
}

func TestUnknownDeviceListsAvailable(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		accessoriesJSON(w)
	})
	err := runAPICommand(context.Background(), api, "power", []string{"garage", "on"}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Kitchen Speaker, Living Room")
}

func TestAPIErrorBody(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"status":409,"code":"conflict","message":"reconcile tick already in progress"}`))
	})
	err := runAPICommand(context.Background(), api, "reconcile", nil, &bytes.Buffer{})
	require.Error(t, err)
	assert.Equal(t, "conflict (409): reconcile tick already in progress", err.Error())
}

func TestReconcileOutput(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"restored":2,"registered":["c"],"unregistered":["a"],"checked":1}`))
	})
	var out bytes.Buffer
	require.NoError(t, runAPICommand(context.Background(), api, "reconcile", nil, &out))
	assert.Contains(t, out.String(), "registered: c")
	assert.Contains(t, out.String(), "unregistered: a")
	assert.Contains(t, out.String(), "restored cleaned: 2")
}

func TestParsePower(t *testing.T) {
	on, err := parsePower("ON")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = parsePower("off")
	require.NoError(t, err)
	assert.False(t, on)
	_, err = parsePower("maybe")
	assert.Error(t, err)
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "kitchen_speaker", normalizeName("  Kitchen - Speaker "))
	assert.Equal(t, "living_room", normalizeName("living-room"))
}

func TestFadesTable(t *testing.T) {
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/fades", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"device_id":"dev-1","volume":30,"interval":1000000000,"started_at":"2026-01-02T03:04:05Z"}]`))
	})
	var out bytes.Buffer
	require.NoError(t, runAPICommand(context.Background(), api, "fades", nil, &out))
	assert.Contains(t, out.String(), "dev-1")
	assert.Contains(t, out.String(), "1s")
	assert.Contains(t, out.String(), "2026-01-02T03:04:05Z")
}
