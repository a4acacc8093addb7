package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/heatmap"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 500, cfg.Analytics.HistoryCapacity)
	assert.Equal(t, 20, cfg.Analytics.Threshold)
	assert.Equal(t, time.Second, cfg.Analytics.StatusInterval)
	assert.Equal(t, 35, cfg.Heatmap.Radius)
	assert.Equal(t, 91, cfg.Heatmap.Kernel)
	assert.Equal(t, "./data/replays", cfg.Source.ReplayRoot)
	assert.Equal(t, []string{"stun:stun.l.google.com:19302"}, cfg.WebRTC.STUN)
	assert.Equal(t, geometry.BottomCenter, cfg.EntryPolicy())
	assert.Equal(t, *Default(), *cfg)
}

func TestLoadYAMLFile(t *testing.T) {
	path := writeFile(t, "zonecount.yaml", `
http:
  addr: ":9000"
source:
  uri: "replay:./clips/lobby"
  fps: 15
analytics:
  threshold: 35
counter:
  entry_policy: center
heatmap:
  strategy: decay
  decay: 0.5
telegram:
  enabled: true
  bot_token: "123:abc"
  chat_id: "-100200"
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "replay:./clips/lobby", cfg.Source.URI)
	assert.Equal(t, 15.0, cfg.Source.FPS)
	assert.Equal(t, 35, cfg.Analytics.Threshold)
	assert.Equal(t, geometry.Center, cfg.EntryPolicy())

	hm := cfg.HeatmapSettings()
	assert.Equal(t, heatmap.Decay, hm.Strategy)
	assert.Equal(t, 0.5, hm.Decay)
	assert.Equal(t, geometry.Center, hm.Policy)
	assert.Equal(t, 91, hm.Kernel, "unset keys keep defaults")
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("ZONECOUNT_ANALYTICS_THRESHOLD", "7")
	t.Setenv("ZONECOUNT_SOURCE_URI", "push")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Analytics.Threshold)
	assert.Equal(t, "push", cfg.Source.URI)
}

func TestDotEnvFile(t *testing.T) {
	env := writeFile(t, ".env", "ZONECOUNT_ZONES_FILE=/srv/zones.json\n")
	t.Cleanup(func() { os.Unsetenv("ZONECOUNT_ZONES_FILE") })

	cfg, err := Load("", env, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.Equal(t, "/srv/zones.json", cfg.Zones.File)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"negative threshold", func(c *Config) { c.Analytics.Threshold = -1 }, "analytics.threshold"},
		{"zero history", func(c *Config) { c.Analytics.HistoryCapacity = 0 }, "history_capacity"},
		{"even kernel", func(c *Config) { c.Heatmap.Kernel = 90 }, "heatmap.kernel"},
		{"bad strategy", func(c *Config) { c.Heatmap.Strategy = "forever" }, "heatmap.strategy"},
		{"bad policy", func(c *Config) { c.Counter.EntryPolicy = "head" }, "counter.entry_policy"},
		{"telegram without token", func(c *Config) { c.Telegram.Enabled = true }, "telegram.bot_token"},
		{"archive without path", func(c *Config) { c.Archive.Enabled = true; c.Archive.Path = "" }, "archive.path"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"empty source", func(c *Config) { c.Source.URI = "" }, "source.uri"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
