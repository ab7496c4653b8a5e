// Package app assembles the shared components of a scraping process from
// the application config.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/browser"
	"github.com/maltedev/retail-scraper/internal/cache"
	"github.com/maltedev/retail-scraper/internal/config"
	"github.com/maltedev/retail-scraper/internal/database"
	"github.com/maltedev/retail-scraper/internal/events"
	"github.com/maltedev/retail-scraper/internal/logging"
	"github.com/maltedev/retail-scraper/internal/metrics"
	"github.com/maltedev/retail-scraper/internal/ratelimit"
	"github.com/maltedev/retail-scraper/internal/scraper"
	"github.com/maltedev/retail-scraper/internal/session"
	"github.com/maltedev/retail-scraper/internal/storage"
)

// OpenFunc starts a browser driver; tests replace it with a fake.
type OpenFunc func(ctx context.Context, engine string, opts *browser.Options, logger *zap.Logger) (browser.Driver, error)

// App holds the components shared by every scrape in the process: one
// governor, one session store, one page cache and one set of sinks.
// Each scraper still gets its own browser.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Governor *ratelimit.Governor
	Sessions session.Store
	Pages    *cache.Pages
	Metrics  *metrics.Metrics
	Sink     storage.Sink

	agents *browser.UserAgents
	open   OpenFunc

	mu    sync.Mutex
	sites map[string]*config.Site

	redis   *redis.Client
	closers []func() error
}

func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	m := metrics.New()
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		Governor: ratelimit.NewGovernor(ratelimit.DefaultConfig(),
			ratelimit.WithObserver(m),
			ratelimit.WithLogger(logger.Named("governor")),
		),
		Pages:  cache.NewPages(cfg.Scraper.PageCacheSize, cfg.Scraper.PageCacheTTL),
		agents: browser.NewUserAgents(),
		open:   browser.Open,
		sites:  make(map[string]*config.Site),
	}

	if err := a.initSessions(); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.initSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

var ErrSessionsDisabled = errors.New("session cache is disabled")

// OpenSessions builds only the session store, for commands that manage the
// cache without scraping. The returned func releases it.
func OpenSessions(cfg *config.Config, logger *zap.Logger) (session.Store, func() error, error) {
	a := &App{Config: cfg, Logger: logger}
	if err := a.initSessions(); err != nil {
		a.Close()
		return nil, nil, err
	}
	if a.Sessions == nil {
		return nil, nil, ErrSessionsDisabled
	}
	return a.Sessions, a.Close, nil
}

func (a *App) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     a.Config.Redis.Addr,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
		})
		a.closers = append(a.closers, a.redis.Close)
	}
	return a.redis
}

func (a *App) initSessions() error {
	sc := a.Config.Scraper

	switch sc.SessionBackend {
	case config.SessionBackendFile:
		store, err := session.NewFileStore(sc.SessionDir, sc.SessionMaxAge, a.Logger)
		if err != nil {
			return err
		}
		a.Sessions = store
	case config.SessionBackendRedis:
		a.Sessions = session.NewRedisStore(a.redisClient(), sc.SessionMaxAge, a.Logger)
	case config.SessionBackendNone:
	default:
		return fmt.Errorf("unknown session backend %q", sc.SessionBackend)
	}
	return nil
}

func (a *App) initSinks(ctx context.Context) error {
	var sinks storage.Multi

	for _, name := range a.Config.Scraper.Sinks {
		switch name {
		case config.SinkJSON:
			sink, err := storage.NewJSONFile(a.Config.Scraper.OutputFile)
			if err != nil {
				return err
			}
			sinks = append(sinks, sink)

		case config.SinkSQLite:
			sink, err := storage.NewSQLite(ctx, a.Config.SQLite.Path)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, sink.Close)
			sinks = append(sinks, sink)

		case config.SinkPostgres:
			dbc := a.Config.Database
			db, err := database.New(ctx, database.Config{
				DSN:         dbc.DSN,
				MaxConns:    dbc.MaxConns,
				MinConns:    dbc.MinConns,
				MaxConnLife: dbc.MaxConnLifetime,
			})
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			a.closers = append(a.closers, func() error { db.Close(); return nil })

			store := database.NewRecordStore(db)
			if err := store.EnsureSchema(ctx); err != nil {
				return err
			}
			sinks = append(sinks, store)

		case config.SinkRedis:
			sinks = append(sinks, events.NewPublisher(a.redisClient(), a.Config.Redis.Stream, a.Logger))

		default:
			return fmt.Errorf("unknown sink %q", name)
		}
	}

	a.Sink = sinks
	return nil
}

// Site loads a site config once and installs its budget in the governor.
func (a *App) Site(name string) (*config.Site, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if site, ok := a.sites[name]; ok {
		return site, nil
	}

	site, err := config.LoadSite(a.Config.Scraper.SitesDir, name)
	if err != nil {
		return nil, err
	}
	a.Governor.Configure(name, site.Governor())
	a.sites[name] = site
	return site, nil
}

func (a *App) browserOptions(site string) *browser.Options {
	bc := a.Config.Browser
	opts := browser.DefaultOptions()
	opts.Headless = bc.Headless
	opts.Timeout = bc.Timeout
	opts.UserAgent = a.agents.ForSite(site)
	opts.ViewportWidth = bc.ViewportWidth
	opts.ViewportHeight = bc.ViewportHeight
	opts.Locale = bc.Locale
	opts.TimezoneID = bc.TimezoneID
	opts.AcceptLanguage = bc.AcceptLanguage
	opts.ProxyServer = bc.ProxyServer
	return opts
}

// NewScraper opens a browser for site and returns the workflow around it.
// The caller owns the result and must call Cleanup.
func (a *App) NewScraper(ctx context.Context, site string) (*scraper.Adapter, error) {
	cfg, err := a.Site(site)
	if err != nil {
		return nil, err
	}

	driver, err := a.open(ctx, a.Config.Browser.Engine, a.browserOptions(site), logging.ForSite(a.Logger, "browser", site))
	if err != nil {
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	s := scraper.New(site, cfg, scraper.Deps{
		Driver:   driver,
		Governor: a.Governor,
		Sessions: a.Sessions,
		Pages:    a.Pages,
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	})
	return scraper.NewAdapter(s, driver, a.Metrics, a.Logger), nil
}

// Close releases sinks and connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
