package plugins_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegrid/internal/engine"
	"github.com/vk/pipegrid/internal/plugins"
	"github.com/vk/pipegrid/internal/testutil"
	"github.com/vk/pipegrid/internal/transport"
)

const sampleManifest = `
plugins:
  - name: cuvis
    path: /opt/plugins/cuvis.so
  - name: exotic
    enabled: false
  - name: denoise
`

func TestParseManifest(t *testing.T) {
	m, err := plugins.ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)
	require.Len(t, m.Plugins, 3)
	assert.Equal(t, "/opt/plugins/cuvis.so", m.Plugins[0].Path)

	enabled := m.Enabled()
	require.Len(t, enabled, 2)
	assert.Equal(t, "cuvis", enabled[0].Name)
	assert.Equal(t, "denoise", enabled[1].Name)
}

func TestParseManifestRejects(t *testing.T) {
	_, err := plugins.ParseManifest([]byte(`plugins: [{path: /x.so}]`))
	assert.Error(t, err)

	_, err = plugins.ParseManifest([]byte(`{{not yaml`))
	assert.Error(t, err)
}

func TestLoadManifestFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plugins.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleManifest), 0o644))

	m, err := plugins.LoadManifestFile(path)
	require.NoError(t, err)
	assert.Len(t, m.Plugins, 3)

	_, err = plugins.LoadManifestFile(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

type fixedSource struct {
	t transport.Transport
}

func (s fixedSource) Current() (transport.Transport, error) { return s.t, nil }

func TestSubmit(t *testing.T) {
	tr := testutil.NewFakeTransport()
	tr.HandleResult("plugins.load", map[string]any{
		"loaded_plugins": []string{"cuvis", "denoise"},
	})
	client := engine.NewClient(fixedSource{t: tr}, time.Second)

	m, err := plugins.ParseManifest([]byte(sampleManifest))
	require.NoError(t, err)

	report, err := plugins.Submit(context.Background(), client, "s1", m)
	require.NoError(t, err)
	assert.Equal(t, []string{"cuvis", "denoise"}, report.Loaded)
	assert.Equal(t, 1, tr.CallCount("plugins.load"))
}

func TestSubmitSkipsEmptyManifest(t *testing.T) {
	tr := testutil.NewFakeTransport()
	client := engine.NewClient(fixedSource{t: tr}, time.Second)

	enabled := false
	m := &plugins.Manifest{Plugins: []plugins.Spec{{Name: "off", Enabled: &enabled}}}

	_, err := plugins.Submit(context.Background(), client, "s1", m)
	require.NoError(t, err)
	assert.Empty(t, tr.Calls())
}
