package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, SessionBackendFile, cfg.Scraper.SessionBackend)
	assert.Equal(t, 24*time.Hour, cfg.Scraper.SessionMaxAge)
	assert.Equal(t, EnginePlaywright, cfg.Browser.Engine)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "en-US", cfg.Browser.Locale)
	assert.Equal(t, []string{SinkJSON}, cfg.Scraper.Sinks)
	assert.Equal(t, "scrape:results", cfg.Redis.Stream)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
scraper:
  session_backend: redis
  sinks: [json, sqlite]
browser:
  engine: chromedp
logging:
  level: debug
`), 0o600))

	t.Setenv("SCRAPER_BROWSER_HEADLESS", "false")
	t.Setenv("SCRAPER_SCRAPER_CONCURRENCY", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, SessionBackendRedis, cfg.Scraper.SessionBackend)
	assert.Equal(t, EngineChromedp, cfg.Browser.Engine)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 4, cfg.Scraper.Concurrency)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.HasSink(SinkSQLite))
	assert.False(t, cfg.HasSink(SinkPostgres))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"ok", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"no concurrency", func(c *Config) { c.Scraper.Concurrency = 0 }, "concurrency"},
		{"no workers", func(c *Config) { c.Scraper.Workers = 0 }, "workers"},
		{"engine", func(c *Config) { c.Browser.Engine = "firefox" }, "browser.engine"},
		{"backend", func(c *Config) { c.Scraper.SessionBackend = "memcached" }, "session_backend"},
		{"sink", func(c *Config) { c.Scraper.Sinks = []string{"kafka"} }, "unknown sink"},
		{"postgres dsn", func(c *Config) { c.Scraper.Sinks = []string{SinkPostgres} }, "database.dsn"},
		{"sqlite path", func(c *Config) {
			c.Scraper.Sinks = []string{SinkSQLite}
			c.SQLite.Path = ""
		}, "sqlite.path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}
