package scraper

import (
	"sort"
	"sync"

	"github.com/maltedev/retail-scraper/internal/config"
)

// Factory builds the scraper for one site.
type Factory func(cfg *config.Site, deps Deps) Scraper

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func init() {
	Register("walmart", NewWalmart)
}

func Register(name string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = f
}

// New returns the registered scraper for name, or the generic
// configuration-driven one.
func New(name string, cfg *config.Site, deps Deps) Scraper {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()

	if ok {
		return f(cfg, deps)
	}
	return NewSiteScraper(cfg, deps)
}

func Registered() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
