package scraper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/maltedev/retail-scraper/internal/browser"
	"github.com/maltedev/retail-scraper/internal/config"
	"github.com/maltedev/retail-scraper/internal/models"
)

var errNoElement = errors.New("element not found")

// fakeDriver serves canned pages and accepts interactions only for the
// selectors it was told about.
type fakeDriver struct {
	mu sync.Mutex

	pages     map[string]*browser.Response
	navErr    map[string]error
	clickable map[string]bool
	fillable  map[string]bool
	cookies   []models.Cookie
	setErr    error
	notReady  bool
	closed    bool

	navigations []string
	clicks      []string
	fills       map[string]string
	installed   []models.Cookie
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		pages:     map[string]*browser.Response{},
		navErr:    map[string]error{},
		clickable: map[string]bool{},
		fillable:  map[string]bool{},
		fills:     map[string]string{},
	}
}

func (f *fakeDriver) page(url, html string) {
	f.pages[url] = &browser.Response{URL: url, StatusCode: 200, HTML: html}
}

func (f *fakeDriver) Navigate(ctx context.Context, url string, _ browser.NavigateOptions) (*browser.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.navigations = append(f.navigations, url)
	if err, ok := f.navErr[url]; ok {
		return nil, err
	}
	if resp, ok := f.pages[url]; ok {
		return resp, nil
	}
	return &browser.Response{URL: url, StatusCode: 404, HTML: "<html></html>"}, nil
}

func (f *fakeDriver) Click(_ context.Context, selector string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.clickable[selector] {
		return errNoElement
	}
	f.clicks = append(f.clicks, selector)
	return nil
}

func (f *fakeDriver) Fill(_ context.Context, selector, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.fillable[selector] {
		return errNoElement
	}
	f.fills[selector] = value
	return nil
}

func (f *fakeDriver) Cookies(context.Context) ([]models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cookies, nil
}

func (f *fakeDriver) SetCookies(_ context.Context, cookies []models.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.installed = cookies
	return nil
}

func (f *fakeDriver) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.notReady && !f.closed
}

func (f *fakeDriver) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// fakeGovernor counts admissions and backoff signals.
type fakeGovernor struct {
	mu       sync.Mutex
	acquired int
	backoffs int
	resets   int
}

func (g *fakeGovernor) Acquire(ctx context.Context, _ string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	g.acquired++
	return nil
}

func (g *fakeGovernor) TriggerBackoff(string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.backoffs++
}

func (g *fakeGovernor) ResetBackoff(string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resets++
}

const testSiteYAML = `
site:
  name: shop
  base_url: https://shop.example.com
location:
  selectors:
    location_button: ["#missing-button", "button.location"]
    zipcode_input: ["input#zip"]
    submit_button: ["button.save"]
search:
  url_template: "https://shop.example.com/search?q={query}&page={page}"
  selectors:
    product_cards: ["div.card a"]
    product_link: ["a.product-link"]
product:
  max_images: 2
  selectors:
    name: ["h1.missing", "h1[itemprop=name]"]
    current_price: ["span[itemprop=price]"]
    original_price: ["span.was"]
    stock_status: ["div.stock"]
    rating_avg: ["span.rating"]
    rating_count: ["a.reviews"]
    free_shipping: ["div.ship"]
    delivery_date: ["div.ship"]
    brand: ["a.brand"]
    sku: ["span.sku"]
    description: ["div.description"]
    specs_table: ["table.specs"]
    images: ["div.gallery img"]
`

const productPage = `<html><body>
<h1 itemprop="name">Acme 15" Laptop</h1>
<span itemprop="price">$499.99</span>
<span class="was">$599.99</span>
<div class="stock">Only 3 left</div>
<span class="rating">4.5 out of 5</span>
<a class="reviews">1,234 reviews</a>
<div class="ship">Free shipping, arrives in 3 days</div>
<a class="brand">Acme</a>
<table class="specs">
  <tr><th>Screen</th><td>15.6 in</td></tr>
  <tr><th>RAM</th><td>16 GB</td></tr>
</table>
<div class="gallery">
  <img src="/img/1.jpg"><img src="//cdn.shop.example.com/2.jpg"><img src="/img/3.jpg">
</div>
</body></html>`

func testSite(t *testing.T) *config.Site {
	t.Helper()
	site, err := config.ParseSite([]byte(testSiteYAML))
	require.NoError(t, err)
	return site
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

type fixture struct {
	driver   *fakeDriver
	governor *fakeGovernor
	scraper  *SiteScraper
	deps     Deps
}

func newFixture(t *testing.T, mutate ...func(*Deps)) *fixture {
	t.Helper()
	driver := newFakeDriver()
	driver.clickable["button.location"] = true
	driver.clickable["button.save"] = true
	driver.fillable["input#zip"] = true
	driver.page("https://shop.example.com/", "<html><body>home</body></html>")
	driver.cookies = []models.Cookie{{Name: "location-data", Value: "94102", Domain: ".shop.example.com", Path: "/", Expires: -1}}

	gov := &fakeGovernor{}
	deps := Deps{
		Driver:   driver,
		Governor: gov,
		Clock:    func() time.Time { return testNow },
		Sleep:    noSleep,
	}
	for _, m := range mutate {
		m(&deps)
	}

	return &fixture{
		driver:   driver,
		governor: gov,
		scraper:  NewSiteScraper(testSite(t), deps),
		deps:     deps,
	}
}
