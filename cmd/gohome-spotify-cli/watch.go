package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/joshp123/gohome-spotify/internal/events"
)

func (c *apiClient) streamURL(deviceID string) string {
	u := "ws" + strings.TrimPrefix(c.base, "http") + "/api/v1/events"
	if deviceID != "" {
		u += "?device_id=" + url.QueryEscape(deviceID)
	}
	return u
}

// watch prints accessory events until ctx is done or the server hangs up.
func (c *apiClient) watch(ctx context.Context, deviceID string, out outputMode) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.streamURL(deviceID), nil)
	if err != nil {
		return fmt.Errorf("connect event stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read event stream: %w", err)
		}
		if out.json {
			fmt.Fprintln(out.w, string(data))
			continue
		}
		var event events.Event
		if err := json.Unmarshal(data, &event); err != nil {
			return errors.New("malformed event from server")
		}
		fmt.Fprintln(out.w, eventLine(event))
	}
}

func eventLine(event events.Event) string {
	line := fmt.Sprintf("%s %-12s %s (%s)", event.At.Local().Format(time.TimeOnly), event.Type, event.Name, event.DeviceID)
	if event.On != nil {
		if *event.On {
			line += " on"
		} else {
			line += " off"
		}
	}
	return line
}
