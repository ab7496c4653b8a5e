package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/maltedev/retail-scraper/internal/models"
)

// JSONFile keeps the products of every result written through it and
// rewrites filename as one JSON array after each write.
type JSONFile struct {
	mu       sync.Mutex
	products []*models.ProductRecord
	filename string
}

func NewJSONFile(filename string) (*JSONFile, error) {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	return &JSONFile{
		products: make([]*models.ProductRecord, 0),
		filename: filename,
	}, nil
}

func (j *JSONFile) Write(_ context.Context, result *models.ScrapeResult) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.products = append(j.products, result.Products...)
	if err := j.save(); err != nil {
		return fmt.Errorf("failed to write %s: %w", j.filename, err)
	}
	return nil
}

func (j *JSONFile) Count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.products)
}

func (j *JSONFile) save() error {
	data, err := json.MarshalIndent(j.products, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first for atomicity
	tmpFile := j.filename + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o644); err != nil {
		return err
	}

	return os.Rename(tmpFile, j.filename)
}

// ReadJSONFile loads a product array written by JSONFile.
func ReadJSONFile(filename string) ([]*models.ProductRecord, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}

	var products []*models.ProductRecord
	if err := json.Unmarshal(data, &products); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filename, err)
	}
	return products, nil
}
