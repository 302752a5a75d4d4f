package cli_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipegrid/internal/cli"
)

func TestParse(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := cli.Parse([]string{
		"--server", "http://localhost:9190",
		"--pipeline", "soil.hcl",
		"--catalog-cache", "catalog.json",
		"--write", "soil_norm.hcl",
		"--log-format", "text",
		"--log-level", "debug",
		"--call-timeout", "5s",
		"--reconnect-attempts", "7",
	}, &out)
	require.NoError(t, err)
	require.False(t, exit)

	assert.Equal(t, "http://localhost:9190", cfg.ServerAddress)
	assert.Equal(t, "soil.hcl", cfg.PipelinePath)
	assert.Equal(t, "catalog.json", cfg.CatalogCachePath)
	assert.Equal(t, "soil_norm.hcl", cfg.WritePath)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 5*time.Second, cfg.CallTimeout)
	assert.Equal(t, 7, cfg.ReconnectAttempts)
	assert.False(t, cfg.Offline)
}

func TestParsePositionalPipelinePath(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := cli.Parse([]string{"--server", "http://localhost:9190", "soil.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.Equal(t, "soil.hcl", cfg.PipelinePath)
}

func TestParseNoServerPrintsUsage(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := cli.Parse(nil, &out)
	require.NoError(t, err)
	assert.True(t, exit)
	assert.Nil(t, cfg)
	assert.Contains(t, out.String(), "Usage:")
}

func TestParseOfflineWithoutServer(t *testing.T) {
	var out bytes.Buffer
	cfg, exit, err := cli.Parse([]string{"--offline", "--catalog-cache", "catalog.json", "soil.hcl"}, &out)
	require.NoError(t, err)
	require.False(t, exit)
	assert.True(t, cfg.Offline)
	assert.Equal(t, "", cfg.ServerAddress)
}

func TestParseRejections(t *testing.T) {
	testCases := []struct {
		name string
		args []string
	}{
		{"bad log format", []string{"--server", "x", "--log-format", "xml"}},
		{"bad log level", []string{"--server", "x", "--log-level", "loud"}},
		{"unknown flag", []string{"--server", "x", "--frobnicate"}},
		{"offline without cache", []string{"--offline"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out bytes.Buffer
			_, _, err := cli.Parse(tc.args, &out)
			require.Error(t, err)

			var exitErr *cli.ExitError
			require.ErrorAs(t, err, &exitErr)
			assert.Equal(t, 2, exitErr.Code)
		})
	}
}

func TestParseHelp(t *testing.T) {
	var out bytes.Buffer
	_, exit, err := cli.Parse([]string{"--help"}, &out)
	require.NoError(t, err)
	assert.True(t, exit)
}
