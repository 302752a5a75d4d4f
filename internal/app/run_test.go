package app_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegrid/internal/app"
	"github.com/vk/pipegrid/internal/catalog"
	"github.com/vk/pipegrid/internal/testutil"
)

const testPipeline = `
pipeline {
  name = "smoke"
}

node "loader" {
  type = "io.CubeLoader"

  params {
    path = "/data/cube.bin"
  }
}

node "norm" {
  type = "spectra.Normalizer"
}

connection {
  from = "loader.cube"
  to   = "norm.in"
}
`

func writeCatalogCache(t *testing.T, dir string) string {
	t.Helper()
	raw, err := catalog.EncodeNodeTypes(testutil.SampleNodeTypes())
	require.NoError(t, err)
	path := filepath.Join(dir, "catalog.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func writePipeline(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "pipeline.hcl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRunOffline(t *testing.T) {
	dir := t.TempDir()
	writePath := filepath.Join(dir, "normalized.hcl")

	cfg, err := app.NewConfig(app.Config{
		Offline:          true,
		CatalogCachePath: writeCatalogCache(t, dir),
		PipelinePath:     writePipeline(t, dir, testPipeline),
		WritePath:        writePath,
		LogFormat:        "text",
		LogLevel:         "debug",
	})
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	a := app.NewApp(out, cfg, testutil.NewFakeDialer(0))

	require.NoError(t, a.Run(context.Background()))

	// Offline validation never dials; it relies on the cache alone.
	assert.Equal(t, uint64(1), a.Catalog().Snapshot().Version())

	normalized, err := os.ReadFile(writePath)
	require.NoError(t, err)
	assert.Contains(t, string(normalized), `node "loader"`)
	assert.Contains(t, string(normalized), "loader.cube")
}

func TestRunOfflineRejectsInvalidPipeline(t *testing.T) {
	dir := t.TempDir()

	cfg, err := app.NewConfig(app.Config{
		Offline:          true,
		CatalogCachePath: writeCatalogCache(t, dir),
		PipelinePath: writePipeline(t, dir, `
node "x" {
  type = "does.NotExist"
}
`),
		LogFormat: "text",
		LogLevel:  "error",
	})
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	a := app.NewApp(out, cfg, testutil.NewFakeDialer(0))

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed validation")
	// The diagnostic itself lands on the output stream with its location.
	assert.Contains(t, out.String(), "does.NotExist")
}

func TestRunOnline(t *testing.T) {
	dir := t.TempDir()
	cachePath := filepath.Join(dir, "catalog.json")

	catalogRaw, err := catalog.EncodeNodeTypes(testutil.SampleNodeTypes())
	require.NoError(t, err)

	dialer := testutil.NewFakeDialer(0)
	dialer.Setup = func(tr *testutil.FakeTransport) {
		tr.HandleResult("session.create", map[string]string{"session_id": "s1"})
		tr.HandleResult("session.heartbeat", map[string]any{})
		tr.HandleResult("session.close", map[string]any{})
		tr.Handle("catalog.list", func(any) (json.RawMessage, error) {
			return json.RawMessage(catalogRaw), nil
		})
	}

	cfg, err := app.NewConfig(app.Config{
		ServerAddress:    "http://engine.test:9190",
		PipelinePath:     writePipeline(t, dir, testPipeline),
		CatalogCachePath: cachePath,
		LogFormat:        "text",
		LogLevel:         "debug",
		CallTimeout:      time.Second,
	})
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	a := app.NewApp(out, cfg, dialer)

	require.NoError(t, a.Run(context.Background()))

	// The session was opened and closed, and the catalog cache was written
	// for later offline runs.
	assert.Equal(t, 1, dialer.Last().CallCount("session.create"))
	assert.Equal(t, 1, dialer.Last().CallCount("session.close"))

	types, err := catalog.LoadCacheFile(cachePath)
	require.NoError(t, err)
	assert.Len(t, types, len(testutil.SampleNodeTypes()))
}

func TestRunOnlineConnectFailure(t *testing.T) {
	cfg, err := app.NewConfig(app.Config{
		ServerAddress:     "http://engine.test:9190",
		LogFormat:         "text",
		LogLevel:          "error",
		DialTimeout:       100 * time.Millisecond,
		ReconnectAttempts: 1,
	})
	require.NoError(t, err)

	out := &testutil.SafeBuffer{}
	a := app.NewApp(out, cfg, testutil.NewFakeDialer(100))

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to establish session")
}
