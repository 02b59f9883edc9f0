package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

func dashboardPath(pluginID, name string) string {
	return "/dashboards/" + pluginID + "/" + name + ".json"
}

// DashboardsMap keys every plugin dashboard by the URL it is served under.
func DashboardsMap(plugins []Plugin) map[string][]byte {
	out := make(map[string][]byte)
	for _, plugin := range plugins {
		for _, dash := range plugin.Dashboards() {
			out[dashboardPath(plugin.ID(), dash.Name)] = dash.JSON
		}
	}
	return out
}

// WriteDashboards lays dashboards out as <dir>/<plugin>/<name>.json for
// Grafana file provisioning. An empty dir writes nothing.
func WriteDashboards(dir string, plugins []Plugin) error {
	if dir == "" {
		return nil
	}
	for _, plugin := range plugins {
		dashboards := plugin.Dashboards()
		if len(dashboards) == 0 {
			continue
		}
		pluginDir := filepath.Join(dir, plugin.ID())
		if err := os.MkdirAll(pluginDir, 0o755); err != nil {
			return fmt.Errorf("create dashboard dir: %w", err)
		}
		for _, dash := range dashboards {
			if !json.Valid(dash.JSON) {
				return fmt.Errorf("dashboard %s/%s is not valid JSON", plugin.ID(), dash.Name)
			}
			path := filepath.Join(pluginDir, dash.Name+".json")
			if err := os.WriteFile(path, dash.JSON, 0o644); err != nil {
				return fmt.Errorf("write dashboard %s: %w", path, err)
			}
		}
	}
	return nil
}
