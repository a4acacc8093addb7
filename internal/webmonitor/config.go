package webmonitor

import "time"

// Config describes the dashboard server.
type Config struct {
	Addr           string
	AssetsDir      string
	StatusInterval time.Duration
	MJPEGInterval  time.Duration
	HistoryLimit   int   // history entries in /api/data
	MaxIngestBytes int64 // multipart limit for /api/ingest
}

// DefaultConfig returns defaults for the dashboard server.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		StatusInterval: time.Second,
		MJPEGInterval:  100 * time.Millisecond,
		HistoryLimit:   50,
		MaxIngestBytes: 16 << 20,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.StatusInterval <= 0 {
		c.StatusInterval = def.StatusInterval
	}
	if c.MJPEGInterval <= 0 {
		c.MJPEGInterval = def.MJPEGInterval
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = def.HistoryLimit
	}
	if c.MaxIngestBytes <= 0 {
		c.MaxIngestBytes = def.MaxIngestBytes
	}
	return c
}
