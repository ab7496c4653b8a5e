// Package extract pulls values out of rendered HTML using ordered lists of
// candidate CSS selectors, and normalizes the raw strings it finds.
package extract

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
)

// Engine wraps one parsed document. It is read-only after construction and
// safe for concurrent use.
type Engine struct {
	doc    *goquery.Document
	logger *zap.Logger
}

type Option func(*Engine)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

func New(html string, opts ...Option) (*Engine, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	e := &Engine{doc: doc, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// find compiles selector and runs it against the document. Selectors that
// do not compile are reported as not ok so callers move on to the next one.
func (e *Engine) find(selector string) (*goquery.Selection, bool) {
	m, err := cascadia.Compile(selector)
	if err != nil {
		e.logger.Debug("skipping invalid selector", zap.String("selector", selector), zap.Error(err))
		return nil, false
	}
	return e.doc.FindMatcher(m), true
}

func value(s *goquery.Selection, attr string) string {
	if attr != "" {
		v, _ := s.Attr(attr)
		return strings.TrimSpace(v)
	}
	return strings.TrimSpace(s.Text())
}

// SelectOne tries each selector in order and returns the text (or attr
// value) of the first element it matches, skipping selectors whose first
// match is empty.
func (e *Engine) SelectOne(selectors []string, attr string) (string, bool) {
	for _, selector := range selectors {
		sel, ok := e.find(selector)
		if !ok || sel.Length() == 0 {
			continue
		}

		if v := value(sel.First(), attr); v != "" {
			e.logger.Debug("selector hit", zap.String("selector", selector))
			return v, true
		}
	}
	return "", false
}

// SelectMany returns up to limit non-empty values from the first selector
// that yields any. Values are never merged across selectors. A limit <= 0
// means no limit.
func (e *Engine) SelectMany(selectors []string, attr string, limit int) []string {
	for _, selector := range selectors {
		sel, ok := e.find(selector)
		if !ok {
			continue
		}

		var results []string
		sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
			if v := value(s, attr); v != "" {
				results = append(results, v)
			}
			return limit <= 0 || len(results) < limit
		})

		if len(results) > 0 {
			e.logger.Debug("selector hit", zap.String("selector", selector), zap.Int("count", len(results)))
			return results
		}
	}
	return []string{}
}

// ExtractTable reads the first element matched by a selector as a list of
// rows, mapping the first cell of each row to the second. Rows with an
// empty key or value are skipped. The first selector producing at least
// one pair wins.
func (e *Engine) ExtractTable(selectors []string) map[string]string {
	for _, selector := range selectors {
		sel, ok := e.find(selector)
		if !ok || sel.Length() == 0 {
			continue
		}

		table := make(map[string]string)
		sel.First().Find("tr").Each(func(_ int, row *goquery.Selection) {
			cells := row.Find("th, td")
			if cells.Length() < 2 {
				return
			}
			key := strings.TrimSpace(cells.Eq(0).Text())
			val := strings.TrimSpace(cells.Eq(1).Text())
			if key != "" && val != "" {
				table[key] = val
			}
		})

		if len(table) > 0 {
			return table
		}
	}
	return map[string]string{}
}

// ContainsText reports whether the document text contains text. Matching is
// case-insensitive unless caseSensitive is set.
func (e *Engine) ContainsText(text string, caseSensitive bool) bool {
	body := e.doc.Text()
	if caseSensitive {
		return strings.Contains(body, text)
	}
	fold := cases.Fold()
	return strings.Contains(fold.String(body), fold.String(text))
}
