package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, []int{404, 500}, cfg.Scraper.SkipStatusCodes)
	require.Equal(t, "local", cfg.Storage.Provider)
	require.Equal(t, 3, cfg.Notify.WebhookRetries)
	require.False(t, cfg.Auth.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
scraper:
  user_agent: custom-agent/2.0
  skip_status_codes: [404, 500, 502]
storage:
  provider: gcs
  gcs_bucket: harvester-archives
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "custom-agent/2.0", cfg.Scraper.UserAgent)
	require.Equal(t, []int{404, 500, 502}, cfg.Scraper.SkipStatusCodes)
	require.Equal(t, "harvester-archives", cfg.Storage.GCSBucket)
	// Unset keys keep their defaults.
	require.Equal(t, 15, cfg.HTTP.TimeoutSeconds)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"zero timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true; c.Auth.APIKey = "" }},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs"; c.Storage.GCSBucket = "" }},
		{"headless without slots", func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 }},
		{"empty output root", func(c *Config) { c.Storage.OutputRoot = "" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
