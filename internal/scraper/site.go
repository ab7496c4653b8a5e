package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/browser"
	"github.com/maltedev/retail-scraper/internal/cache"
	"github.com/maltedev/retail-scraper/internal/config"
	"github.com/maltedev/retail-scraper/internal/extract"
	"github.com/maltedev/retail-scraper/internal/logging"
	"github.com/maltedev/retail-scraper/internal/metrics"
	"github.com/maltedev/retail-scraper/internal/models"
	"github.com/maltedev/retail-scraper/internal/session"
)

// SiteScraper runs the location, search and detail workflow for any site
// described by a site configuration.
type SiteScraper struct {
	cfg      *config.Site
	name     string
	origin   *url.URL
	driver   browser.Driver
	governor RateGovernor
	sessions session.Store
	pages    *cache.Pages
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	zipcode string
	state   State
	fetched int
}

func NewSiteScraper(cfg *config.Site, deps Deps) *SiteScraper {
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &SiteScraper{
		cfg:      cfg,
		name:     cfg.Site.Name,
		origin:   cfg.Origin(),
		driver:   deps.Driver,
		governor: deps.Governor,
		sessions: deps.Sessions,
		pages:    deps.Pages,
		metrics:  deps.Metrics,
		logger:   logging.ForSite(deps.Logger, "scraper", cfg.Site.Name),
		now:      now,
		sleep:    sleep,
	}
}

func (s *SiteScraper) Site() string { return s.name }

func (s *SiteScraper) Config() *config.Site { return s.cfg }

func (s *SiteScraper) Zipcode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.zipcode
}

func (s *SiteScraper) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SiteScraper) setState(state State) {
	s.mu.Lock()
	prev := s.state
	s.state = state
	s.mu.Unlock()

	if prev != state {
		s.logger.Debug("state changed", zap.Stringer("from", prev), zap.Stringer("to", state))
	}
}

func (s *SiteScraper) locationSet(zipcode string) {
	s.mu.Lock()
	s.zipcode = zipcode
	s.mu.Unlock()
	s.setState(StateLocationSet)
}

// Complete marks the run as finished.
func (s *SiteScraper) Complete() {
	s.setState(StateDone)
}

func (s *SiteScraper) ready() bool {
	return s.driver != nil && s.driver.Ready()
}

func (s *SiteScraper) acquire(ctx context.Context) error {
	if s.governor == nil {
		return nil
	}
	return s.governor.Acquire(ctx, s.name)
}

// navigate loads a page and feeds the response status back to the governor.
func (s *SiteScraper) navigate(ctx context.Context, target, waitUntil, phase string) (*browser.Response, error) {
	s.metrics.IncRequest(s.name, phase)

	resp, err := s.driver.Navigate(ctx, target, browser.NavigateOptions{
		WaitUntil: waitUntil,
		Timeout:   s.cfg.Timing.NavigationTimeout,
	})
	if err != nil {
		s.metrics.IncFailure(s.name, "navigation")
		return nil, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable:
		if s.governor != nil {
			s.governor.TriggerBackoff(s.name)
		}
		s.metrics.IncFailure(s.name, "rate_limited")
		return nil, fmt.Errorf("%w: status %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		s.metrics.IncFailure(s.name, "http_status")
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	if s.governor != nil {
		s.governor.ResetBackoff(s.name)
	}
	return resp, nil
}

// firstWorking calls try with each selector in order and reports the first
// one that succeeded.
func (s *SiteScraper) firstWorking(ctx context.Context, stage string, selectors []string, try func(selector string) error) (string, bool) {
	for _, sel := range selectors {
		if ctx.Err() != nil {
			return "", false
		}
		if err := try(sel); err != nil {
			s.logger.Debug("selector failed", zap.String("stage", stage), zap.String("selector", sel), zap.Error(err))
			continue
		}
		return sel, true
	}
	return "", false
}

func (s *SiteScraper) SetLocation(ctx context.Context, zipcode string) (bool, error) {
	s.setState(StateLocationPending)
	s.logger.Info("setting location", zap.String("zipcode", zipcode))

	if !s.ready() {
		s.setState(StateError)
		return false, ErrDriverNotReady
	}

	if err := s.acquire(ctx); err != nil {
		s.setState(StateError)
		return false, err
	}

	if s.restoreSession(ctx, zipcode) {
		s.locationSet(zipcode)
		return true, nil
	}

	if err := s.locateViaUI(ctx, zipcode); err != nil {
		s.setState(StateError)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		s.logger.Error("failed to set location", zap.String("zipcode", zipcode), zap.Error(err))
		s.metrics.IncFailure(s.name, "location")
		return false, nil
	}

	s.saveSession(ctx, zipcode)
	s.locationSet(zipcode)
	s.logger.Info("location set", zap.String("zipcode", zipcode))
	return true, nil
}

// restoreSession installs cached cookies for zipcode. Any failure only means
// the location UI has to be driven again.
func (s *SiteScraper) restoreSession(ctx context.Context, zipcode string) bool {
	if s.sessions == nil {
		return false
	}

	rec, err := s.sessions.Load(ctx, s.name, zipcode)
	if err != nil {
		s.metrics.IncSessionLookup(s.name, "error")
		s.logger.Warn("failed to load session", zap.String("zipcode", zipcode), zap.Error(err))
		return false
	}
	if rec == nil {
		s.metrics.IncSessionLookup(s.name, "miss")
		return false
	}

	if err := s.driver.SetCookies(ctx, rec.Cookies); err != nil {
		s.metrics.IncSessionLookup(s.name, "error")
		s.logger.Warn("failed to restore session cookies", zap.String("zipcode", zipcode), zap.Error(err))
		return false
	}

	s.metrics.IncSessionLookup(s.name, "hit")
	s.logger.Info("restored session from cache", zap.String("zipcode", zipcode), zap.Int("cookies", len(rec.Cookies)))
	return true
}

func (s *SiteScraper) saveSession(ctx context.Context, zipcode string) {
	if s.sessions == nil {
		return
	}

	cookies, err := s.driver.Cookies(ctx)
	if err != nil {
		s.logger.Warn("failed to read cookies", zap.Error(err))
		return
	}

	meta := map[string]any{"base_url": s.cfg.Site.BaseURL}
	if err := s.sessions.Save(ctx, s.name, zipcode, cookies, meta); err != nil {
		s.logger.Warn("failed to save session", zap.String("zipcode", zipcode), zap.Error(err))
	}
}

func (s *SiteScraper) locateViaUI(ctx context.Context, zipcode string) error {
	if _, err := s.navigate(ctx, s.origin.String(), browser.WaitLoad, metrics.PhaseLocation); err != nil {
		return fmt.Errorf("failed to open %s: %w", s.origin, err)
	}
	if err := s.sleep(ctx, s.cfg.Timing.SettleDelay); err != nil {
		return err
	}

	sel := s.cfg.Location.Selectors
	timeout := s.cfg.Timing.ActionTimeout

	used, ok := s.firstWorking(ctx, "location_button", sel.LocationButton, func(selector string) error {
		return s.driver.Click(ctx, selector, timeout)
	})
	if !ok {
		return errors.New("no location button could be clicked")
	}
	s.logger.Info("clicked location button", zap.String("selector", used))

	if err := s.sleep(ctx, s.cfg.Timing.SettleDelay); err != nil {
		return err
	}

	used, ok = s.firstWorking(ctx, "zipcode_input", sel.ZipcodeInput, func(selector string) error {
		return s.driver.Fill(ctx, selector, zipcode, timeout)
	})
	if !ok {
		return errors.New("no zipcode input could be filled")
	}
	s.logger.Info("filled zipcode input", zap.String("selector", used))

	used, ok = s.firstWorking(ctx, "submit_button", sel.SubmitButton, func(selector string) error {
		return s.driver.Click(ctx, selector, timeout)
	})
	if !ok {
		return errors.New("no submit button could be clicked")
	}
	s.logger.Info("clicked submit button", zap.String("selector", used))

	return s.sleep(ctx, s.cfg.Timing.SubmitSettleDelay)
}

func (s *SiteScraper) SearchProducts(ctx context.Context, query string, maxResults int) ([]string, error) {
	if !s.ready() {
		return nil, ErrDriverNotReady
	}
	if s.Zipcode() == "" {
		return nil, ErrLocationNotSet
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	s.setState(StateSearching)
	s.logger.Info("searching", zap.String("query", query), zap.Int("max_results", maxResults))

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	searchURL := s.cfg.SearchURL(query, 1)
	resp, err := s.navigate(ctx, searchURL, browser.WaitNetworkIdle, metrics.PhaseSearch)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		s.logger.Error("search failed", zap.String("url", searchURL), zap.Error(err))
		return []string{}, nil
	}
	if err := s.sleep(ctx, s.cfg.Timing.SettleDelay); err != nil {
		return nil, err
	}

	urls := s.productLinks(resp.HTML, maxResults)
	s.logger.Info("found product urls", zap.Int("count", len(urls)))
	return urls, nil
}

// productLinks prefers the product_link selectors and falls back to the
// card selectors only when those yield nothing.
func (s *SiteScraper) productLinks(html string, maxResults int) []string {
	eng, err := extract.New(html, extract.WithLogger(s.logger))
	if err != nil {
		s.logger.Error("failed to parse search page", zap.Error(err))
		return []string{}
	}

	sel := s.cfg.Search.Selectors
	links := eng.SelectMany(sel.ProductLink, "href", 0)
	if len(links) == 0 {
		links = eng.SelectMany(sel.ProductCards, "href", 0)
	}

	seen := make(map[string]struct{}, len(links))
	urls := make([]string, 0, min(len(links), maxResults))
	for _, link := range links {
		abs, ok := s.resolve(link)
		if !ok {
			continue
		}
		if _, dup := seen[abs]; dup {
			continue
		}
		seen[abs] = struct{}{}
		urls = append(urls, abs)
		if len(urls) == maxResults {
			break
		}
	}
	return urls
}

// resolve turns a scraped href into an absolute URL on the site origin.
func (s *SiteScraper) resolve(link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "#") || strings.HasPrefix(strings.ToLower(link), "javascript:") {
		return "", false
	}

	u, err := s.origin.Parse(link)
	if err != nil {
		return "", false
	}
	u.Fragment = ""
	return u.String(), true
}

func (s *SiteScraper) GetProductDetails(ctx context.Context, productURL string) (*models.ProductRecord, error) {
	if !s.ready() {
		return nil, ErrDriverNotReady
	}

	s.mu.Lock()
	s.fetched++
	index := s.fetched
	s.mu.Unlock()
	s.setState(StateFetchingDetail)

	log := s.logger.With(zap.String("url", productURL), zap.Int("index", index))

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}

	key := cache.Key(s.name, s.Zipcode(), productURL)
	if html, ok := s.pages.Get(key); ok {
		log.Debug("page cache hit")
		return s.record(s.ParseProduct(html, productURL)), nil
	}

	log.Info("fetching product")
	resp, err := s.navigate(ctx, productURL, browser.WaitNetworkIdle, metrics.PhaseDetail)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Error("failed to fetch product", zap.Error(err))
		return nil, nil
	}
	if err := s.sleep(ctx, s.cfg.Timing.SettleDelay); err != nil {
		return nil, err
	}

	s.pages.Put(key, resp.HTML)

	rec := s.record(s.ParseProduct(resp.HTML, productURL))
	if rec == nil {
		log.Warn("failed to parse product")
		return nil, nil
	}
	log.Info("scraped product", zap.Stringer("product", rec))
	return rec, nil
}

func (s *SiteScraper) record(rec *models.ProductRecord) *models.ProductRecord {
	if rec != nil {
		s.metrics.IncRecord(s.name, rec.Valid())
	}
	return rec
}
