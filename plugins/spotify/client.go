package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/gohome-spotify/internal/rate"
	"github.com/joshp123/gohome-spotify/internal/remote"
)

// TokenSource supplies bearer tokens and accepts a hint that the current one
// was rejected.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client talks to the Spotify Web API player endpoints.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
}

func NewClient(cfg Config, tokens TokenSource) (*Client, error) {
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	decl := rate.Provider(ProviderID).
		MaxRequestsPerMinute(cfg.RequestsPerMinute).
		RetryHeader("Retry-After")
	return &Client{
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: rate.WrapHTTP(decl, &http.Client{Timeout: 15 * time.Second}),
	}, nil
}

func (c *Client) ListDevices(ctx context.Context) ([]remote.Device, error) {
	const op = "list devices"
	var resp devicesResponse
	if err := c.getJSON(ctx, op, "/me/player/devices", &resp); err != nil {
		return nil, err
	}
	if resp.Devices == nil {
		return nil, &remote.DecodeError{Op: op, Err: errors.New("missing devices field")}
	}

	devices := make([]remote.Device, 0, len(*resp.Devices))
	for _, d := range *resp.Devices {
		device := d.toRemote()
		// Restricted devices can come back without an id and cannot be addressed.
		if device.ID == "" {
			continue
		}
		devices = append(devices, device)
	}
	return devices, nil
}

func (c *Client) GetPlaybackState(ctx context.Context) (remote.PlaybackState, error) {
	const op = "get playback state"
	resp, err := c.doRequest(ctx, op, http.MethodGet, "/me/player")
	if err != nil {
		return remote.PlaybackState{}, err
	}
	defer resp.Body.Close()

	// No active session at all.
	if resp.StatusCode == http.StatusNoContent {
		return remote.PlaybackState{}, nil
	}
	if err := checkStatus(op, resp); err != nil {
		return remote.PlaybackState{}, err
	}

	var payload playbackResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		if errors.Is(err, io.EOF) {
			return remote.PlaybackState{}, nil
		}
		return remote.PlaybackState{}, &remote.DecodeError{Op: op, Err: err}
	}

	state := remote.PlaybackState{IsPlaying: payload.IsPlaying}
	if payload.Device != nil && payload.Device.ID != nil {
		state.ActiveDeviceID = *payload.Device.ID
	}
	return state, nil
}

func (c *Client) Play(ctx context.Context, deviceID string) error {
	return c.put(ctx, "play", "/me/player/play", deviceQuery(deviceID))
}

func (c *Client) Pause(ctx context.Context, deviceID string) error {
	return c.put(ctx, "pause", "/me/player/pause", deviceQuery(deviceID))
}

func (c *Client) SetVolume(ctx context.Context, deviceID string, percent int) error {
	if percent < 0 || percent > 100 {
		return fmt.Errorf("volume %d out of range 0..100", percent)
	}
	query := deviceQuery(deviceID)
	query.Set("volume_percent", strconv.Itoa(percent))
	return c.put(ctx, "set volume", "/me/player/volume", query)
}

func deviceQuery(deviceID string) url.Values {
	query := url.Values{}
	if deviceID != "" {
		query.Set("device_id", deviceID)
	}
	return query
}

func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	resp, err := c.doRequest(ctx, op, http.MethodGet, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := checkStatus(op, resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &remote.DecodeError{Op: op, Err: err}
	}
	return nil
}

// put issues a command; any 2xx counts as success and the body is ignored.
func (c *Client) put(ctx context.Context, op, path string, query url.Values) error {
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	resp, err := c.doRequest(ctx, op, http.MethodPut, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return checkStatus(op, resp)
}

func (c *Client) doRequest(ctx context.Context, op, method, path string) (*http.Response, error) {
	accessToken, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &remote.TransportError{Op: op, Err: err}
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	c.tokens.Invalidate()
	return nil, remote.HTTPStatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
}

func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(resp.Body)
	return remote.HTTPStatusError{Op: op, Status: resp.StatusCode, Body: string(body)}
}

var _ remote.Client = (*Client)(nil)
