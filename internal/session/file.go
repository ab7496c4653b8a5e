package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
)

// FileStore keeps one JSON file per (site, zipcode) in a directory.
type FileStore struct {
	mu     sync.RWMutex
	dir    string
	expiry expiry
	logger *zap.Logger
}

func NewFileStore(dir string, maxAge time.Duration, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileStore{
		dir:    dir,
		expiry: newExpiry(maxAge),
		logger: logger.Named("session"),
	}, nil
}

// keyEscaper keeps key parts to a single path element and keeps the '_'
// separator unambiguous.
var keyEscaper = strings.NewReplacer(
	"%", "%25",
	"_", "%5F",
	"/", "%2F",
	"\\", "%5C",
	"\x00", "%00",
)

func sanitize(part string) string {
	return keyEscaper.Replace(part)
}

func (s *FileStore) path(site, zipcode string) string {
	return filepath.Join(s.dir, fmt.Sprintf("%s_%s.json", sanitize(site), sanitize(zipcode)))
}

func (s *FileStore) IsValid(r *Record) bool {
	return s.expiry.valid(r)
}

func (s *FileStore) Save(_ context.Context, site, zipcode string, cookies []models.Cookie, metadata map[string]any) error {
	rec := s.expiry.newRecord(site, zipcode, cookies, metadata)

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Write to temp file first so readers never see a partial record
	path := s.path(site, zipcode)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	s.logger.Info("session saved", zap.String("site", site), zap.String("zipcode", zipcode), zap.Int("cookies", len(cookies)))
	return nil
}

func (s *FileStore) read(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", filepath.Base(path), err)
	}
	return &rec, nil
}

func (s *FileStore) Load(_ context.Context, site, zipcode string) (*Record, error) {
	path := s.path(site, zipcode)

	s.mu.RLock()
	rec, err := s.read(path)
	s.mu.RUnlock()

	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if rec.Site != site || rec.Zipcode != zipcode {
		s.logger.Warn("session file belongs to another key",
			zap.String("site", site), zap.String("zipcode", zipcode),
			zap.String("file_site", rec.Site), zap.String("file_zipcode", rec.Zipcode))
		return nil, nil
	}

	if !s.IsValid(rec) {
		s.logger.Info("session expired", zap.String("site", site), zap.String("zipcode", zipcode))
		s.removeExpired(path)
		return nil, nil
	}

	return rec, nil
}

// removeExpired deletes path unless a Save replaced it with a valid record
// since it was read.
func (s *FileStore) removeExpired(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.read(path)
	if err == nil && s.IsValid(current) {
		return
	}
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	_ = os.Remove(path)
}

func (s *FileStore) Delete(_ context.Context, site, zipcode string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(site, zipcode))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return true, nil
}

type entry struct {
	path string
	rec  *Record
}

// entries returns the decodable records in the directory, optionally
// filtered by site. Undecodable files are logged and skipped.
func (s *FileStore) entries(site string) ([]entry, error) {
	paths, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sort.Strings(paths)

	var out []entry
	for _, p := range paths {
		rec, err := s.read(p)
		if err != nil {
			s.logger.Warn("skipping unreadable session", zap.String("file", filepath.Base(p)), zap.Error(err))
			continue
		}
		if site != "" && rec.Site != site {
			continue
		}
		out = append(out, entry{path: p, rec: rec})
	}
	return out, nil
}

func (s *FileStore) List(_ context.Context, site string) ([]Info, error) {
	s.mu.RLock()
	entries, err := s.entries(site)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(entries))
	for _, e := range entries {
		infos = append(infos, Info{
			Site:      e.rec.Site,
			Zipcode:   e.rec.Zipcode,
			CreatedAt: e.rec.CreatedAt,
			Valid:     s.IsValid(e.rec),
		})
	}
	return infos, nil
}

func (s *FileStore) PurgeExpired(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.entries("")
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if s.IsValid(e.rec) {
			continue
		}
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove session: %w", err)
		}
		removed++
	}

	if removed > 0 {
		s.logger.Info("expired sessions purged", zap.Int("count", removed))
	}
	return removed, nil
}

func (s *FileStore) ClearAll(_ context.Context, site string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.entries(site)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if err := os.Remove(e.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove session: %w", err)
		}
		removed++
	}

	s.logger.Info("sessions cleared", zap.String("site", site), zap.Int("count", removed))
	return removed, nil
}
