package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBackoffMultiplier = 2.0
	MaxBackoff               = 10.0
	DefaultPollInterval      = time.Second
)

// Config is the request budget of one site.
type Config struct {
	RequestsPerMinute int
	MinDelay          time.Duration
	MaxDelay          time.Duration
}

func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 10,
		MinDelay:          2 * time.Second,
		MaxDelay:          5 * time.Second,
	}
}

// Observer receives admission waits and backoff changes, e.g. for metrics.
type Observer interface {
	ObserveWait(site string, d time.Duration)
	SetBackoff(site string, factor float64)
}

type nopObserver struct{}

func (nopObserver) ObserveWait(string, time.Duration) {}
func (nopObserver) SetBackoff(string, float64)        {}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type bucket struct {
	// gate admits one Acquire per site at a time so spacing holds across
	// goroutines.
	gate chan struct{}

	mu          sync.Mutex
	cfg         Config
	tokens      float64
	lastRefill  time.Time
	lastRequest time.Time
	backoff     float64
}

func (b *bucket) capacity() float64 {
	return float64(b.cfg.RequestsPerMinute)
}

func (b *bucket) projected(now time.Time) float64 {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return b.tokens
	}
	return min(b.capacity(), b.tokens+elapsed*b.capacity()/60)
}

func (b *bucket) refill(now time.Time) {
	b.tokens = b.projected(now)
	if now.After(b.lastRefill) {
		b.lastRefill = now
	}
}

// Governor gates outbound page requests per site with a token bucket,
// a randomized inter-request delay and an adaptive backoff factor.
type Governor struct {
	defaults Config

	mu        sync.Mutex
	sites     map[string]*bucket
	overrides map[string]Config

	now      func() time.Time
	sleep    Sleeper
	rand     func() float64
	poll     time.Duration
	observer Observer
	logger   *zap.Logger
}

type Option func(*Governor)

func WithClock(now func() time.Time) Option {
	return func(g *Governor) { g.now = now }
}

func WithSleeper(s Sleeper) Option {
	return func(g *Governor) { g.sleep = s }
}

// WithRand sets the source of uniform [0,1) values used for jitter.
func WithRand(r func() float64) Option {
	return func(g *Governor) { g.rand = r }
}

func WithPollInterval(d time.Duration) Option {
	return func(g *Governor) { g.poll = d }
}

func WithObserver(o Observer) Option {
	return func(g *Governor) {
		if o != nil {
			g.observer = o
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(g *Governor) {
		if logger != nil {
			g.logger = logger
		}
	}
}

func NewGovernor(cfg Config, opts ...Option) *Governor {
	g := &Governor{
		defaults:  normalize(cfg),
		sites:     make(map[string]*bucket),
		overrides: make(map[string]Config),
		now:       time.Now,
		sleep:     sleepContext,
		rand:      rand.Float64,
		poll:      DefaultPollInterval,
		observer:  nopObserver{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func normalize(cfg Config) Config {
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if cfg.MinDelay < 0 {
		cfg.MinDelay = 0
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	return cfg
}

// Configure installs a budget for one site. An existing bucket keeps its
// tokens, capped to the new capacity.
func (g *Governor) Configure(site string, cfg Config) {
	cfg = normalize(cfg)

	g.mu.Lock()
	g.overrides[site] = cfg
	b, ok := g.sites[site]
	g.mu.Unlock()

	if ok {
		b.mu.Lock()
		b.cfg = cfg
		b.tokens = min(b.tokens, b.capacity())
		b.mu.Unlock()
	}
}

func (g *Governor) bucket(site string) *bucket {
	g.mu.Lock()
	defer g.mu.Unlock()

	if b, ok := g.sites[site]; ok {
		return b
	}

	cfg := g.defaults
	if o, ok := g.overrides[site]; ok {
		cfg = o
	}

	b := &bucket{
		gate:       make(chan struct{}, 1),
		cfg:        cfg,
		tokens:     float64(cfg.RequestsPerMinute),
		lastRefill: g.now(),
		backoff:    1.0,
	}
	g.sites[site] = b
	return b
}

// take consumes one token if available and returns the delay to enforce
// since the previous request.
func (g *Governor) take(b *bucket) (delay time.Duration, last time.Time, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(g.now())
	if b.tokens < 1 {
		return 0, time.Time{}, false
	}
	b.tokens--

	spread := float64(b.cfg.MaxDelay - b.cfg.MinDelay)
	base := float64(b.cfg.MinDelay) + g.rand()*spread
	return time.Duration(base * b.backoff), b.lastRequest, true
}

// Acquire blocks until site may issue one request. It returns an error only
// when ctx ends first.
func (g *Governor) Acquire(ctx context.Context, site string) error {
	b := g.bucket(site)
	start := g.now()

	select {
	case b.gate <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.gate }()

	var (
		delay time.Duration
		last  time.Time
	)
	for {
		var ok bool
		delay, last, ok = g.take(b)
		if ok {
			break
		}
		g.logger.Debug("rate limited, waiting for token", zap.String("site", site))
		if err := g.sleep(ctx, g.poll); err != nil {
			return err
		}
	}

	wait := delay
	if !last.IsZero() {
		wait = delay - g.now().Sub(last)
	}
	if wait > 0 {
		if err := g.sleep(ctx, wait); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.lastRequest = g.now()
	b.mu.Unlock()

	g.observer.ObserveWait(site, g.now().Sub(start))
	return nil
}

func (g *Governor) TriggerBackoff(site string) {
	g.TriggerBackoffBy(site, DefaultBackoffMultiplier)
}

// TriggerBackoffBy multiplies the backoff factor of site, capped at
// MaxBackoff. Multipliers below 1 are treated as the default.
func (g *Governor) TriggerBackoffBy(site string, multiplier float64) {
	if multiplier < 1 {
		multiplier = DefaultBackoffMultiplier
	}

	b := g.bucket(site)
	b.mu.Lock()
	b.backoff = min(b.backoff*multiplier, MaxBackoff)
	factor := b.backoff
	b.mu.Unlock()

	g.observer.SetBackoff(site, factor)
	g.logger.Warn("backoff triggered", zap.String("site", site), zap.Float64("factor", factor))
}

func (g *Governor) ResetBackoff(site string) {
	b := g.bucket(site)
	b.mu.Lock()
	prev := b.backoff
	b.backoff = 1.0
	b.mu.Unlock()

	g.observer.SetBackoff(site, 1.0)
	if prev > 1.0 {
		g.logger.Info("backoff reset", zap.String("site", site))
	}
}

func (g *Governor) Backoff(site string) float64 {
	b := g.bucket(site)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoff
}

// CurrentTokens reports the tokens site would have now, without consuming.
func (g *Governor) CurrentTokens(site string) float64 {
	b := g.bucket(site)
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.projected(g.now())
}

func (g *Governor) IsRateLimited(site string) bool {
	return g.CurrentTokens(site) < 1
}

// EstimatedWait is the time until site has a whole token again.
func (g *Governor) EstimatedWait(site string) time.Duration {
	b := g.bucket(site)
	b.mu.Lock()
	defer b.mu.Unlock()

	tokens := b.projected(g.now())
	if tokens >= 1 {
		return 0
	}
	secs := (1 - tokens) * 60 / b.capacity()
	return time.Duration(secs * float64(time.Second))
}
