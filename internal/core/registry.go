package core

import (
	"fmt"
	"regexp"
	"sort"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// PluginInfo is the discovery view of one plugin.
type PluginInfo struct {
	Manifest
	Health        HealthStatus `json:"health"`
	HealthMessage string       `json:"health_message,omitempty"`
	Dashboards    []string     `json:"dashboards,omitempty"`
}

// Registry provides plugin discovery to the HTTP API.
type Registry struct {
	plugins []Plugin
}

// NewRegistry validates the plugin set and returns a registry over it.
func NewRegistry(plugins []Plugin) (*Registry, error) {
	if err := ValidatePlugins(plugins); err != nil {
		return nil, err
	}
	sorted := append([]Plugin(nil), plugins...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })
	return &Registry{plugins: sorted}, nil
}

func (r *Registry) Plugins() []Plugin {
	return append([]Plugin(nil), r.plugins...)
}

// List reports every plugin with its current health.
func (r *Registry) List() []PluginInfo {
	infos := make([]PluginInfo, 0, len(r.plugins))
	for _, plugin := range r.plugins {
		info := PluginInfo{
			Manifest:      plugin.Manifest(),
			Health:        plugin.Health(),
			HealthMessage: plugin.HealthMessage(),
		}
		for _, dash := range plugin.Dashboards() {
			info.Dashboards = append(info.Dashboards, dashboardPath(info.PluginID, dash.Name))
		}
		infos = append(infos, info)
	}
	return infos
}

// Healthy reports whether every plugin is healthy.
func (r *Registry) Healthy() bool {
	for _, plugin := range r.plugins {
		if plugin.Health() != HealthHealthy {
			return false
		}
	}
	return true
}

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
	}
	return nil
}
