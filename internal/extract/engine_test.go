package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const productPage = `<html><body>
<h1 class="empty"></h1>
<h1 itemprop="name">Acme Blender 3000</h1>
<span class="price">$49.99</span>
<div class="images">
  <img class="thumb" src="">
  <img class="hero" src="https://img.example.com/1.jpg">
  <img class="hero" src="https://img.example.com/2.jpg">
  <img class="hero" src="https://img.example.com/3.jpg">
  <img class="alt" src="https://img.example.com/alt.jpg">
</div>
<table class="specs">
  <tr><th>Brand</th><td>Acme</td></tr>
  <tr><th>Wattage</th><td>1200 W</td></tr>
  <tr><th>Empty</th><td></td></tr>
  <tr><td>single cell</td></tr>
</table>
<table class="empty-specs"><tr><td></td><td>x</td></tr></table>
<p>Ships FREE with Plus</p>
</body></html>`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(productPage)
	require.NoError(t, err)
	return e
}

func TestSelectOne(t *testing.T) {
	e := newEngine(t)

	tests := []struct {
		name      string
		selectors []string
		attr      string
		want      string
		wantOK    bool
	}{
		{"first match wins", []string{"h1[itemprop='name']", "span.price"}, "", "Acme Blender 3000", true},
		{"skips missing selector", []string{".does-not-exist", "span.price"}, "", "$49.99", true},
		{"skips empty first match", []string{"h1.empty", "span.price"}, "", "$49.99", true},
		{"skips invalid selector", []string{"h1[[[", "span.price"}, "", "$49.99", true},
		{"attribute", []string{"img.hero"}, "src", "https://img.example.com/1.jpg", true},
		{"empty attribute falls through", []string{"img.thumb", "img.alt"}, "src", "https://img.example.com/alt.jpg", true},
		{"nothing matches", []string{".nope", "#nope"}, "", "", false},
		{"no selectors", nil, "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := e.SelectOne(tt.selectors, tt.attr)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectOneSingleCandidateEqualsDirectLookup(t *testing.T) {
	e := newEngine(t)

	direct := e.doc.Find("span.price").First().Text()
	got, ok := e.SelectOne([]string{"span.price"}, "")
	require.True(t, ok)
	assert.Equal(t, direct, got)
}

func TestSelectMany(t *testing.T) {
	e := newEngine(t)

	t.Run("stops at first productive selector", func(t *testing.T) {
		got := e.SelectMany([]string{".nope", "img.hero", "img.alt"}, "src", 0)
		assert.Equal(t, []string{
			"https://img.example.com/1.jpg",
			"https://img.example.com/2.jpg",
			"https://img.example.com/3.jpg",
		}, got)
	})

	t.Run("respects limit", func(t *testing.T) {
		got := e.SelectMany([]string{"img.hero"}, "src", 2)
		assert.Len(t, got, 2)
	})

	t.Run("skips empty values", func(t *testing.T) {
		got := e.SelectMany([]string{"img.thumb", "img.alt"}, "src", 5)
		assert.Equal(t, []string{"https://img.example.com/alt.jpg"}, got)
	})

	t.Run("empty when nothing matches", func(t *testing.T) {
		got := e.SelectMany([]string{".nope"}, "src", 5)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})
}

func TestExtractTable(t *testing.T) {
	e := newEngine(t)

	got := e.ExtractTable([]string{"table.empty-specs", "table.specs"})
	assert.Equal(t, map[string]string{
		"Brand":   "Acme",
		"Wattage": "1200 W",
	}, got)

	assert.Empty(t, e.ExtractTable([]string{".nope"}))
}

func TestContainsText(t *testing.T) {
	e := newEngine(t)

	assert.True(t, e.ContainsText("free with plus", false))
	assert.False(t, e.ContainsText("free with plus", true))
	assert.True(t, e.ContainsText("FREE with Plus", true))
	assert.False(t, e.ContainsText("out of stock", false))
}
