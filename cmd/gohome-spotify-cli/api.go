package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/joshp123/gohome-spotify/internal/core"
	"github.com/joshp123/gohome-spotify/internal/fader"
	"github.com/joshp123/gohome-spotify/internal/reconcile"
	"github.com/joshp123/gohome-spotify/internal/server"
)

type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(addr string) *apiClient {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &apiClient{base: base, http: &http.Client{Timeout: 15 * time.Second}}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr server.Error
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%d): %s", apiErr.Code, resp.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("http %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) accessories(ctx context.Context) ([]server.AccessoryView, error) {
	var views []server.AccessoryView
	err := c.do(ctx, http.MethodGet, "/api/v1/accessories", nil, &views)
	return views, err
}

// resolveDevice maps a device name or id onto a registered device id.
func (c *apiClient) resolveDevice(ctx context.Context, input string) (string, error) {
	views, err := c.accessories(ctx)
	if err != nil {
		return "", err
	}
	options := make(map[string]string, len(views)*2)
	for _, view := range views {
		options[view.Name] = view.DeviceID
	}
	for _, view := range views {
		if view.DeviceID == input {
			return view.DeviceID, nil
		}
	}
	return resolveNamedID("device", input, options)
}

func runAPICommand(ctx context.Context, c *apiClient, cmd string, args []string, w io.Writer) error {
	flags := flag.NewFlagSet(cmd, flag.ContinueOnError)
	jsonOutput := flags.Bool("json", false, "Output JSON")
	if err := flags.Parse(reorderFlags(args)); err != nil {
		return err
	}
	out := outputMode{json: *jsonOutput, w: w}
	rest := flags.Args()

	switch cmd {
	case "plugins":
		var plugins []core.PluginInfo
		if err := c.do(ctx, http.MethodGet, "/api/v1/plugins", nil, &plugins); err != nil {
			return err
		}
		if out.json {
			return out.printJSON(plugins)
		}
		rows := [][]string{{"PLUGIN", "NAME", "VERSION", "HEALTH"}}
		for _, p := range plugins {
			rows = append(rows, []string{p.PluginID, p.DisplayName, p.Version, string(p.Health)})
		}
		out.table(rows)
	case "accessories":
		views, err := c.accessories(ctx)
		if err != nil {
			return err
		}
		if out.json {
			return out.printJSON(views)
		}
		rows := [][]string{{"DEVICE", "NAME", "KIND", "POWER"}}
		for _, v := range views {
			rows = append(rows, []string{v.DeviceID, v.Name, v.Kind, powerLabel(v)})
		}
		out.table(rows)
	case "fades":
		var fades []fader.FadeState
		if err := c.do(ctx, http.MethodGet, "/api/v1/fades", nil, &fades); err != nil {
			return err
		}
		if out.json {
			return out.printJSON(fades)
		}
		rows := [][]string{{"DEVICE", "VOLUME", "STEP", "STARTED"}}
		for _, f := range fades {
			rows = append(rows, []string{f.DeviceID, strconv.Itoa(f.Volume), f.Interval.String(), f.StartedAt.Format(time.RFC3339)})
		}
		out.table(rows)
	case "power":
		if len(rest) < 2 {
			return fmt.Errorf("usage: gohome-spotify-cli power <device> on|off")
		}
		on, err := parsePower(rest[1])
		if err != nil {
			return err
		}
		id, err := c.resolveDevice(ctx, rest[0])
		if err != nil {
			return err
		}
		var view server.AccessoryView
		if err := c.do(ctx, http.MethodPut, "/api/v1/accessories/"+id+"/power", map[string]bool{"on": on}, &view); err != nil {
			return err
		}
		if out.json {
			return out.printJSON(view)
		}
		fmt.Fprintf(w, "ok: %s -> %s\n", view.Name, rest[1])
	case "volume":
		if len(rest) < 2 {
			return fmt.Errorf("usage: gohome-spotify-cli volume <device> <0-100>")
		}
		volume, err := strconv.Atoi(rest[1])
		if err != nil || volume < 0 || volume > 100 {
			return fmt.Errorf("invalid volume %q", rest[1])
		}
		id, err := c.resolveDevice(ctx, rest[0])
		if err != nil {
			return err
		}
		var resp map[string]any
		if err := c.do(ctx, http.MethodPut, "/api/v1/accessories/"+id+"/volume", map[string]int{"volume": volume}, &resp); err != nil {
			return err
		}
		if out.json {
			return out.printJSON(resp)
		}
		fmt.Fprintf(w, "ok: %s -> %d%%\n", rest[0], volume)
	case "reconcile":
		var res reconcile.Result
		if err := c.do(ctx, http.MethodPost, "/api/v1/reconcile", nil, &res); err != nil {
			return err
		}
		if out.json {
			return out.printJSON(res)
		}
		fmt.Fprintf(w, "registered: %s\n", strings.Join(res.Registered, ", "))
		fmt.Fprintf(w, "unregistered: %s\n", strings.Join(res.Unregistered, ", "))
		if res.Restored > 0 {
			fmt.Fprintf(w, "restored cleaned: %d\n", res.Restored)
		}
	case "watch":
		var id string
		if len(rest) > 0 {
			var err error
			if id, err = c.resolveDevice(ctx, rest[0]); err != nil {
				return err
			}
		}
		return c.watch(ctx, id, out)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

// reorderFlags lets --json follow positional arguments.
func reorderFlags(args []string) []string {
	flags := make([]string, 0, len(args))
	positional := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") {
			flags = append(flags, arg)
			continue
		}
		positional = append(positional, arg)
	}
	return append(flags, positional...)
}

func parsePower(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("power must be on or off, got %q", value)
}

func powerLabel(v server.AccessoryView) string {
	switch {
	case v.Fade != nil:
		return fmt.Sprintf("on (fading %d%%)", v.Fade.Volume)
	case v.On == nil:
		return "unknown"
	case *v.On:
		return "on"
	default:
		return "off"
	}
}
