// Package cache keeps recently fetched product pages in memory so repeated
// detail fetches within a run do not hit the site again.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	DefaultSize = 256
	DefaultTTL  = 15 * time.Minute
)

// Pages is a size- and age-bounded HTML cache. A nil *Pages never hits.
// Entries are keyed with Key because the same URL renders differently per
// delivery location.
type Pages struct {
	lru *expirable.LRU[string, string]
}

// Key identifies a page rendered for site under zipcode.
func Key(site, zipcode, url string) string {
	return site + "|" + zipcode + "|" + url
}

func NewPages(size int, ttl time.Duration) *Pages {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Pages{lru: expirable.NewLRU[string, string](size, nil, ttl)}
}

func (p *Pages) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	return p.lru.Get(key)
}

func (p *Pages) Put(key, html string) {
	if p == nil || html == "" {
		return
	}
	p.lru.Add(key, html)
}

func (p *Pages) Len() int {
	if p == nil {
		return 0
	}
	return p.lru.Len()
}

func (p *Pages) Purge() {
	if p == nil {
		return
	}
	p.lru.Purge()
}
