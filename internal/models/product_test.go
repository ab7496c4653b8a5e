package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestDiscountPercent(t *testing.T) {
	tests := []struct {
		name     string
		current  *float64
		original *float64
		want     *float64
	}{
		{"discounted", ptr(49.99), ptr(59.99), ptr(16.67)},
		{"half off", ptr(50.0), ptr(100.0), ptr(50.0)},
		{"same price", ptr(10.0), ptr(10.0), nil},
		{"original lower", ptr(12.0), ptr(10.0), nil},
		{"missing current", nil, ptr(10.0), nil},
		{"missing original", ptr(10.0), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DiscountPercent(tt.current, tt.original)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.InDelta(t, *tt.want, *got, 0.01)
		})
	}
}

func TestProductRecordValidate(t *testing.T) {
	now := time.Now()

	valid := NewProductRecord("Widget", "https://example.com/ip/1", "walmart", "94102", now)
	valid.CurrentPrice = ptr(9.99)
	valid.RatingAvg = ptr(4.5)
	assert.Empty(t, valid.Validate())
	assert.True(t, valid.Valid())

	tests := []struct {
		name   string
		mutate func(p *ProductRecord)
	}{
		{"missing name", func(p *ProductRecord) { p.Name = "" }},
		{"missing zipcode", func(p *ProductRecord) { p.Zipcode = "" }},
		{"negative price", func(p *ProductRecord) { p.CurrentPrice = ptr(-1.0) }},
		{"rating above five", func(p *ProductRecord) { p.RatingAvg = ptr(5.5) }},
		{"negative rating count", func(p *ProductRecord) { p.RatingCount = ptr(-3) }},
		{"negative quantity", func(p *ProductRecord) { p.QuantityAvailable = ptr(-1) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProductRecord("Widget", "https://example.com/ip/1", "walmart", "94102", now)
			tt.mutate(p)
			assert.NotEmpty(t, p.Validate())
			assert.False(t, p.Valid())
		})
	}
}

func TestProductRecordAbsentFieldsSerializeAsNull(t *testing.T) {
	p := NewProductRecord("Widget", "https://example.com/ip/1", "walmart", "94102", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "2024-05-01T12:00:00Z", decoded["scraped_at"])
	for _, key := range []string{"current_price", "in_stock", "rating_avg", "brand", "primary_image_url"} {
		v, ok := decoded[key]
		assert.True(t, ok, key)
		assert.Nil(t, v, key)
	}
	assert.Equal(t, "USD", decoded["currency"])
}

func TestProductRecordString(t *testing.T) {
	p := NewProductRecord("Widget", "u", "walmart", "94102", time.Now())
	assert.Equal(t, "Widget - N/A (Unknown) [walmart]", p.String())

	p.CurrentPrice = ptr(19.5)
	p.InStock = ptr(true)
	assert.Equal(t, "Widget - $19.50 (In Stock) [walmart]", p.String())
}

func TestScrapeResultComplete(t *testing.T) {
	r := NewScrapeResult("walmart", "94102", "laptop")
	assert.NotEmpty(t, r.ID)
	assert.Nil(t, r.CompletedAt)

	r.Add(NewProductRecord("A", "u1", "walmart", "94102", time.Now()))
	r.Add(nil)
	r.Add(NewProductRecord("B", "u2", "walmart", "94102", time.Now()))
	r.Complete(nil)

	assert.True(t, r.Success)
	assert.Equal(t, 2, r.ProductsFound)
	assert.Equal(t, 2, r.Count())
	require.NotNil(t, r.CompletedAt)
	require.NotNil(t, r.DurationSeconds)
	assert.GreaterOrEqual(t, *r.DurationSeconds, 0.0)

	failed := NewScrapeResult("walmart", "94102", "laptop")
	failed.Complete(errors.New("failed to set location"))
	assert.False(t, failed.Success)
	assert.Equal(t, "failed to set location", failed.Error)
	assert.Equal(t, 0, failed.ProductsFound)
}
