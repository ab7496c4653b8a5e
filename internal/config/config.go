package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Database DatabaseConfig `mapstructure:"database"`
	SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type ScraperConfig struct {
	SitesDir       string        `mapstructure:"sites_dir"`
	SessionBackend string        `mapstructure:"session_backend"`
	SessionDir     string        `mapstructure:"session_dir"`
	SessionMaxAge  time.Duration `mapstructure:"session_max_age"`
	PageCacheSize  int           `mapstructure:"page_cache_size"`
	PageCacheTTL   time.Duration `mapstructure:"page_cache_ttl"`
	Concurrency    int           `mapstructure:"concurrency"`
	Workers        int           `mapstructure:"workers"`
	OutputFile     string        `mapstructure:"output_file"`
	Sinks          []string      `mapstructure:"sinks"`
}

type BrowserConfig struct {
	Engine         string        `mapstructure:"engine"`
	Headless       bool          `mapstructure:"headless"`
	Timeout        time.Duration `mapstructure:"timeout"`
	ViewportWidth  int           `mapstructure:"viewport_width"`
	ViewportHeight int           `mapstructure:"viewport_height"`
	Locale         string        `mapstructure:"locale"`
	TimezoneID     string        `mapstructure:"timezone_id"`
	AcceptLanguage string        `mapstructure:"accept_language"`
	ProxyServer    string        `mapstructure:"proxy_server"`
}

type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

const (
	EnginePlaywright = "playwright"
	EngineChromedp   = "chromedp"

	SessionBackendFile  = "file"
	SessionBackendRedis = "redis"
	SessionBackendNone  = "none"

	SinkJSON     = "json"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkRedis    = "redis"
)

// Load reads the optional config file at path, then SCRAPER_* environment
// variables (SCRAPER_BROWSER_HEADLESS=false overrides browser.headless).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCRAPER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	v.SetDefault("scraper.sites_dir", "configs/sites")
	v.SetDefault("scraper.session_backend", SessionBackendFile)
	v.SetDefault("scraper.session_dir", ".cache/sessions")
	v.SetDefault("scraper.session_max_age", 24*time.Hour)
	v.SetDefault("scraper.page_cache_size", 256)
	v.SetDefault("scraper.page_cache_ttl", 15*time.Minute)
	v.SetDefault("scraper.concurrency", 2)
	v.SetDefault("scraper.workers", 1)
	v.SetDefault("scraper.output_file", "products.json")
	v.SetDefault("scraper.sinks", []string{SinkJSON})

	v.SetDefault("browser.engine", EnginePlaywright)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.timeout", 30*time.Second)
	v.SetDefault("browser.viewport_width", 1920)
	v.SetDefault("browser.viewport_height", 1080)
	v.SetDefault("browser.locale", "en-US")
	v.SetDefault("browser.timezone_id", "America/New_York")
	v.SetDefault("browser.accept_language", "en-US,en;q=0.9")
	v.SetDefault("browser.proxy_server", "")

	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)

	v.SetDefault("sqlite.path", "scraper.db")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "scrape:results")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}

	if c.Scraper.Concurrency < 1 {
		return fmt.Errorf("scraper.concurrency must be at least 1")
	}

	if c.Scraper.Workers < 1 {
		return fmt.Errorf("scraper.workers must be at least 1")
	}

	switch c.Browser.Engine {
	case EnginePlaywright, EngineChromedp:
	default:
		return fmt.Errorf("unknown browser.engine %q", c.Browser.Engine)
	}

	switch c.Scraper.SessionBackend {
	case SessionBackendFile, SessionBackendRedis, SessionBackendNone:
	default:
		return fmt.Errorf("unknown scraper.session_backend %q", c.Scraper.SessionBackend)
	}

	for _, sink := range c.Scraper.Sinks {
		if !slices.Contains([]string{SinkJSON, SinkSQLite, SinkPostgres, SinkRedis}, sink) {
			return fmt.Errorf("unknown sink %q", sink)
		}
	}

	if c.HasSink(SinkPostgres) && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the postgres sink")
	}

	if c.HasSink(SinkSQLite) && c.SQLite.Path == "" {
		return fmt.Errorf("sqlite.path is required for the sqlite sink")
	}

	return nil
}

func (c *Config) HasSink(name string) bool {
	return slices.Contains(c.Scraper.Sinks, name)
}
