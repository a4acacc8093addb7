package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/crowdcount/zonecount/internal/geometry"
	"github.com/crowdcount/zonecount/internal/heatmap"
)

// EnvPrefix prefixes every environment override, e.g. ZONECOUNT_HTTP_ADDR.
const EnvPrefix = "ZONECOUNT"

// Config represents the complete application configuration
type Config struct {
	HTTP      HTTPConfig      `mapstructure:"http"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Zones     ZonesConfig     `mapstructure:"zones"`
	Source    SourceConfig    `mapstructure:"source"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
	Counter   CounterConfig   `mapstructure:"counter"`
	Heatmap   HeatmapConfig   `mapstructure:"heatmap"`
	Archive   ArchiveConfig   `mapstructure:"archive"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	WebRTC    WebRTCConfig    `mapstructure:"webrtc"`
	Recording RecordingConfig `mapstructure:"recording"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// HTTPConfig holds the dashboard server settings
type HTTPConfig struct {
	Addr          string        `mapstructure:"addr"`
	AssetsDir     string        `mapstructure:"assets_dir"`
	MJPEGInterval time.Duration `mapstructure:"mjpeg_interval"`
	MaxIngestMB   int           `mapstructure:"max_ingest_mb"`
}

// MetricsConfig holds the Prometheus listener settings
type MetricsConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// ZonesConfig holds zone persistence settings
type ZonesConfig struct {
	File string `mapstructure:"file"`
}

// SourceConfig selects the frame source
type SourceConfig struct {
	URI         string  `mapstructure:"uri"`
	ReplayRoot  string  `mapstructure:"replay_root"`
	FPS         float64 `mapstructure:"fps"`
	Loop        bool    `mapstructure:"loop"`
	JPEGQuality int     `mapstructure:"jpeg_quality"`
}

// AnalyticsConfig holds shared-state settings
type AnalyticsConfig struct {
	HistoryCapacity int           `mapstructure:"history_capacity"`
	Threshold       int           `mapstructure:"threshold"`
	StatusInterval  time.Duration `mapstructure:"status_interval"`
}

// CounterConfig holds counting settings
type CounterConfig struct {
	EntryPolicy string `mapstructure:"entry_policy"`
}

// HeatmapConfig holds density overlay settings
type HeatmapConfig struct {
	Radius   int     `mapstructure:"radius"`
	Kernel   int     `mapstructure:"kernel"`
	Alpha    float64 `mapstructure:"alpha"`
	Strategy string  `mapstructure:"strategy"`
	Decay    float64 `mapstructure:"decay"`
}

// ArchiveConfig holds the durable history archive settings
type ArchiveConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	Enabled  bool   `mapstructure:"enabled"`
}

// WebRTCConfig holds data-channel push settings
type WebRTCConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	STUN       []string `mapstructure:"stun"`
	MaxClients int      `mapstructure:"max_clients"`
}

// RecordingConfig holds composited stream recording settings
type RecordingConfig struct {
	OutputPath string `mapstructure:"output_path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// Load reads configuration from an optional file, .env files and
// environment variables. An empty path uses defaults plus environment.
func Load(path string, envFiles ...string) (*Config, error) {
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", f, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(err)
	}
	return &cfg
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.assets_dir", "")
	v.SetDefault("http.mjpeg_interval", "100ms")
	v.SetDefault("http.max_ingest_mb", 16)

	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("zones.file", "./data/zones.json")

	v.SetDefault("source.uri", "synthetic")
	v.SetDefault("source.replay_root", "./data/replays")
	v.SetDefault("source.fps", 10.0)
	v.SetDefault("source.loop", true)
	v.SetDefault("source.jpeg_quality", 80)

	v.SetDefault("analytics.history_capacity", 500)
	v.SetDefault("analytics.threshold", 20)
	v.SetDefault("analytics.status_interval", "1s")

	v.SetDefault("counter.entry_policy", "bottom_center")

	v.SetDefault("heatmap.radius", 35)
	v.SetDefault("heatmap.kernel", 91)
	v.SetDefault("heatmap.alpha", 0.3)
	v.SetDefault("heatmap.strategy", "instant")
	v.SetDefault("heatmap.decay", 0.85)

	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.path", "./data/history.db")
	v.SetDefault("archive.interval", "30s")

	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.bot_token", "")
	v.SetDefault("telegram.chat_id", "")

	v.SetDefault("webrtc.enabled", true)
	v.SetDefault("webrtc.stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.max_clients", 10)

	v.SetDefault("recording.output_path", "./recordings")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.color", true)
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http.addr is required")
	}
	if c.HTTP.MJPEGInterval < 10*time.Millisecond {
		return fmt.Errorf("http.mjpeg_interval must be at least 10ms")
	}
	if c.HTTP.MaxIngestMB < 1 {
		return fmt.Errorf("http.max_ingest_mb must be at least 1")
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	if c.Source.URI == "" {
		return fmt.Errorf("source.uri is required")
	}
	if c.Source.FPS < 0 || c.Source.FPS > 120 {
		return fmt.Errorf("source.fps must be between 0 and 120")
	}
	if c.Source.JPEGQuality < 1 || c.Source.JPEGQuality > 100 {
		return fmt.Errorf("source.jpeg_quality must be between 1 and 100")
	}

	if c.Analytics.HistoryCapacity < 1 {
		return fmt.Errorf("analytics.history_capacity must be at least 1")
	}
	if c.Analytics.Threshold < 0 {
		return fmt.Errorf("analytics.threshold must not be negative")
	}
	if c.Analytics.StatusInterval < 100*time.Millisecond {
		return fmt.Errorf("analytics.status_interval must be at least 100ms")
	}

	if _, err := geometry.ParseEntryPolicy(c.Counter.EntryPolicy); err != nil {
		return fmt.Errorf("counter.entry_policy: %w", err)
	}

	if c.Heatmap.Radius < 1 {
		return fmt.Errorf("heatmap.radius must be at least 1")
	}
	if c.Heatmap.Kernel < 3 || c.Heatmap.Kernel%2 == 0 {
		return fmt.Errorf("heatmap.kernel must be an odd number >= 3")
	}
	if c.Heatmap.Alpha <= 0 || c.Heatmap.Alpha > 1 {
		return fmt.Errorf("heatmap.alpha must be in (0, 1]")
	}
	if _, err := heatmap.ParseStrategy(c.Heatmap.Strategy); err != nil {
		return fmt.Errorf("heatmap.strategy: %w", err)
	}
	if c.Heatmap.Decay <= 0 || c.Heatmap.Decay >= 1 {
		return fmt.Errorf("heatmap.decay must be in (0, 1)")
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("archive.path is required when the archive is enabled")
		}
		if c.Archive.Interval < time.Second {
			return fmt.Errorf("archive.interval must be at least 1s")
		}
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	if c.WebRTC.Enabled && c.WebRTC.MaxClients < 1 {
		return fmt.Errorf("webrtc.max_clients must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "silent": true}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, silent")
	}

	return nil
}

// EntryPolicy returns the parsed counter entry policy.
func (c *Config) EntryPolicy() geometry.EntryPolicy {
	p, _ := geometry.ParseEntryPolicy(c.Counter.EntryPolicy)
	return p
}

// HeatmapSettings converts the heatmap section into renderer settings.
func (c *Config) HeatmapSettings() heatmap.Config {
	s, _ := heatmap.ParseStrategy(c.Heatmap.Strategy)
	return heatmap.Config{
		Radius:   c.Heatmap.Radius,
		Kernel:   c.Heatmap.Kernel,
		Alpha:    c.Heatmap.Alpha,
		Strategy: s,
		Decay:    c.Heatmap.Decay,
		Policy:   c.EntryPolicy(),
	}
}
