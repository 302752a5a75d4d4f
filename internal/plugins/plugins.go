// Package plugins handles the local plugin manifest: a YAML file naming
// engine-side plugins to load into a session. The engine does the actual
// loading; this package parses the manifest and submits it.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vk/pipegrid/internal/ctxlog"
	"github.com/vk/pipegrid/internal/engine"
)

// Spec names one plugin the engine should load.
type Spec struct {
	Name    string `yaml:"name" json:"name"`
	Path    string `yaml:"path,omitempty" json:"path,omitempty"`
	Enabled *bool  `yaml:"enabled,omitempty" json:"-"`
}

// Manifest is the plugin manifest file.
type Manifest struct {
	Plugins []Spec `yaml:"plugins"`
}

// ParseManifest decodes manifest YAML, rejecting unnamed entries.
func ParseManifest(src []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(src, &m); err != nil {
		return nil, fmt.Errorf("decode plugin manifest: %w", err)
	}
	for i, p := range m.Plugins {
		if p.Name == "" {
			return nil, fmt.Errorf("plugin manifest: entry %d has no name", i)
		}
	}
	return &m, nil
}

// LoadManifestFile reads and parses a manifest from disk.
func LoadManifestFile(path string) (*Manifest, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	m, err := ParseManifest(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// Enabled returns the entries the manifest actually asks for. Entries
// default to enabled unless they opt out.
func (m *Manifest) Enabled() []Spec {
	out := make([]Spec, 0, len(m.Plugins))
	for _, p := range m.Plugins {
		if p.Enabled != nil && !*p.Enabled {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Submit sends the enabled manifest entries to the engine for the given
// session and logs the per-plugin outcome. A plugin the engine rejects is
// reported, not fatal; a failed call is.
func Submit(ctx context.Context, client *engine.Client, sessionID string, m *Manifest) (engine.PluginReport, error) {
	logger := ctxlog.FromContext(ctx)

	enabled := m.Enabled()
	if len(enabled) == 0 {
		return engine.PluginReport{}, nil
	}

	raw, err := json.Marshal(enabled)
	if err != nil {
		return engine.PluginReport{}, fmt.Errorf("encode plugin manifest: %w", err)
	}

	report, err := client.LoadPlugins(ctx, sessionID, raw)
	if err != nil {
		return engine.PluginReport{}, err
	}

	logger.Info("Plugins loaded", "requested", len(enabled), "loaded", len(report.Loaded), "failed", len(report.Failed))
	for name, reason := range report.Failed {
		logger.Warn("Plugin rejected by engine", "plugin", name, "reason", reason)
	}
	return report, nil
}
