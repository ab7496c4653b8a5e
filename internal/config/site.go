package config

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/maltedev/retail-scraper/internal/ratelimit"
)

//go:embed sites/*.yaml
var embeddedSites embed.FS

var ErrSiteNotFound = errors.New("site configuration not found")

// Site is the per-site YAML document driving a configuration-based scraper.
type Site struct {
	Site         SiteInfo     `yaml:"site"`
	RateLimiting RateLimiting `yaml:"rate_limiting"`
	Location     Location     `yaml:"location"`
	Search       Search       `yaml:"search"`
	Product      Product      `yaml:"product"`
	Timing       Timing       `yaml:"timing"`
}

type SiteInfo struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
}

type RateLimiting struct {
	RequestsPerMinute int     `yaml:"requests_per_minute"`
	MinDelaySeconds   float64 `yaml:"min_delay_seconds"`
	MaxDelaySeconds   float64 `yaml:"max_delay_seconds"`
}

type Location struct {
	Selectors LocationSelectors `yaml:"selectors"`
}

type LocationSelectors struct {
	LocationButton []string `yaml:"location_button"`
	ZipcodeInput   []string `yaml:"zipcode_input"`
	SubmitButton   []string `yaml:"submit_button"`
}

type Search struct {
	URLTemplate string          `yaml:"url_template"`
	Selectors   SearchSelectors `yaml:"selectors"`
}

type SearchSelectors struct {
	ProductCards []string `yaml:"product_cards"`
	ProductLink  []string `yaml:"product_link"`
}

type Product struct {
	Selectors ProductSelectors `yaml:"selectors"`
	MaxImages int              `yaml:"max_images"`
}

type ProductSelectors struct {
	Name          []string `yaml:"name"`
	CurrentPrice  []string `yaml:"current_price"`
	OriginalPrice []string `yaml:"original_price"`
	StockStatus   []string `yaml:"stock_status"`
	RatingAvg     []string `yaml:"rating_avg"`
	RatingCount   []string `yaml:"rating_count"`
	ReviewSummary []string `yaml:"review_summary"`
	ShippingCost  []string `yaml:"shipping_cost"`
	FreeShipping  []string `yaml:"free_shipping"`
	DeliveryDate  []string `yaml:"delivery_date"`
	Brand         []string `yaml:"brand"`
	Model         []string `yaml:"model"`
	SKU           []string `yaml:"sku"`
	UPC           []string `yaml:"upc"`
	Category      []string `yaml:"category"`
	ProductID     []string `yaml:"product_id"`
	Description   []string `yaml:"description"`
	SpecsTable    []string `yaml:"specs_table"`
	Images        []string `yaml:"images"`
}

// Timing bounds every browser interaction of a site.
type Timing struct {
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	ActionTimeout     time.Duration `yaml:"action_timeout"`
	SettleDelay       time.Duration `yaml:"settle_delay"`
	SubmitSettleDelay time.Duration `yaml:"submit_settle_delay"`
}

// LoadSite reads <dir>/<name>.yaml, falling back to the built-in
// configurations when the file does not exist.
func LoadSite(dir, name string) (*Site, error) {
	file := name + ".yaml"

	data, err := os.ReadFile(filepath.Join(dir, file))
	if errors.Is(err, fs.ErrNotExist) {
		data, err = embeddedSites.ReadFile("sites/" + file)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSiteNotFound, name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read site config %s: %w", name, err)
	}

	site, err := ParseSite(data)
	if err != nil {
		return nil, fmt.Errorf("invalid site config %s: %w", name, err)
	}
	if site.Site.Name == "" {
		site.Site.Name = name
	}
	return site, nil
}

// BuiltinSites lists the site names shipped with the binary.
func BuiltinSites() []string {
	entries, err := embeddedSites.ReadDir("sites")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return names
}

func ParseSite(data []byte) (*Site, error) {
	var site Site
	if err := yaml.Unmarshal(data, &site); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	site.applyDefaults()
	if err := site.Validate(); err != nil {
		return nil, err
	}
	return &site, nil
}

func (s *Site) applyDefaults() {
	if s.RateLimiting.RequestsPerMinute == 0 {
		s.RateLimiting.RequestsPerMinute = 10
	}
	if s.RateLimiting.MinDelaySeconds == 0 && s.RateLimiting.MaxDelaySeconds == 0 {
		s.RateLimiting.MinDelaySeconds = 2
		s.RateLimiting.MaxDelaySeconds = 5
	}
	if s.Product.MaxImages == 0 {
		s.Product.MaxImages = 5
	}
	if s.Timing.NavigationTimeout == 0 {
		s.Timing.NavigationTimeout = 30 * time.Second
	}
	if s.Timing.ActionTimeout == 0 {
		s.Timing.ActionTimeout = 5 * time.Second
	}
	if s.Timing.SettleDelay == 0 {
		s.Timing.SettleDelay = 2 * time.Second
	}
	if s.Timing.SubmitSettleDelay == 0 {
		s.Timing.SubmitSettleDelay = 3 * time.Second
	}
}

func (s *Site) Validate() error {
	if s.Site.Name == "" {
		return fmt.Errorf("site.name is required")
	}

	u, err := url.Parse(s.Site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("site.base_url must be an absolute URL")
	}

	if !strings.Contains(s.Search.URLTemplate, "{query}") {
		return fmt.Errorf("search.url_template must contain {query}")
	}

	if len(s.Search.Selectors.ProductLink) == 0 && len(s.Search.Selectors.ProductCards) == 0 {
		return fmt.Errorf("search.selectors needs product_link or product_cards")
	}

	if len(s.Product.Selectors.Name) == 0 {
		return fmt.Errorf("product.selectors.name is required")
	}

	rl := s.RateLimiting
	if rl.RequestsPerMinute < 0 {
		return fmt.Errorf("rate_limiting.requests_per_minute must be positive")
	}
	if rl.MinDelaySeconds < 0 || rl.MaxDelaySeconds < rl.MinDelaySeconds {
		return fmt.Errorf("rate_limiting delays must satisfy 0 <= min <= max")
	}

	return nil
}

// Origin is the scheme://host root used to resolve relative links.
func (s *Site) Origin() *url.URL {
	u, _ := url.Parse(s.Site.BaseURL)
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}
}

// SearchURL fills the url_template placeholders for the given query and page.
func (s *Site) SearchURL(query string, page int) string {
	return strings.NewReplacer(
		"{query}", url.QueryEscape(query),
		"{page}", fmt.Sprint(page),
	).Replace(s.Search.URLTemplate)
}

func (s *Site) Governor() ratelimit.Config {
	return ratelimit.Config{
		RequestsPerMinute: s.RateLimiting.RequestsPerMinute,
		MinDelay:          seconds(s.RateLimiting.MinDelaySeconds),
		MaxDelay:          seconds(s.RateLimiting.MaxDelaySeconds),
	}
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
