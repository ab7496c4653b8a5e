package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/maltedev/retail-scraper/internal/models"
)

const keyPrefix = "session"

// RedisClient is the subset of *redis.Client used by RedisStore.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisStore keeps sessions as JSON strings under session:<site>:<zipcode>,
// expiring them server-side after maxAge as well.
type RedisStore struct {
	client RedisClient
	expiry expiry
	logger *zap.Logger
}

func NewRedisStore(client RedisClient, maxAge time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		client: client,
		expiry: newExpiry(maxAge),
		logger: logger.Named("session"),
	}
}

func redisKey(site, zipcode string) string {
	return fmt.Sprintf("%s:%s:%s", keyPrefix, site, zipcode)
}

func (s *RedisStore) IsValid(r *Record) bool {
	return s.expiry.valid(r)
}

func (s *RedisStore) Save(ctx context.Context, site, zipcode string, cookies []models.Cookie, metadata map[string]any) error {
	rec := s.expiry.newRecord(site, zipcode, cookies, metadata)

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}

	if err := s.client.Set(ctx, redisKey(site, zipcode), data, s.expiry.maxAge).Err(); err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}

	s.logger.Info("session saved", zap.String("site", site), zap.String("zipcode", zipcode), zap.Int("cookies", len(cookies)))
	return nil
}

func (s *RedisStore) get(ctx context.Context, key string) (*Record, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", key, err)
	}
	return &rec, nil
}

func (s *RedisStore) Load(ctx context.Context, site, zipcode string) (*Record, error) {
	key := redisKey(site, zipcode)

	rec, err := s.get(ctx, key)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if rec.Site != site || rec.Zipcode != zipcode {
		s.logger.Warn("session belongs to another key", zap.String("key", key))
		return nil, nil
	}

	if !s.IsValid(rec) {
		s.logger.Info("session expired", zap.String("site", site), zap.String("zipcode", zipcode))
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("failed to delete expired session", zap.String("key", key), zap.Error(err))
		}
		return nil, nil
	}

	return rec, nil
}

func (s *RedisStore) Delete(ctx context.Context, site, zipcode string) (bool, error) {
	n, err := s.client.Del(ctx, redisKey(site, zipcode)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete session: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) keys(ctx context.Context, site string) ([]string, error) {
	pattern := keyPrefix + ":*"
	if site != "" {
		pattern = fmt.Sprintf("%s:%s:*", keyPrefix, site)
	}

	var (
		all    []string
		cursor uint64
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan sessions: %w", err)
		}
		all = append(all, keys...)
		if next == 0 {
			break
		}
		cursor = next
	}

	sort.Strings(all)
	return all, nil
}

func (s *RedisStore) List(ctx context.Context, site string) ([]Info, error) {
	keys, err := s.keys(ctx, site)
	if err != nil {
		return nil, err
	}

	infos := make([]Info, 0, len(keys))
	for _, key := range keys {
		rec, err := s.get(ctx, key)
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				s.logger.Warn("skipping unreadable session", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		// site names may themselves contain ':'
		if site != "" && rec.Site != site {
			continue
		}
		infos = append(infos, Info{
			Site:      rec.Site,
			Zipcode:   rec.Zipcode,
			CreatedAt: rec.CreatedAt,
			Valid:     s.IsValid(rec),
		})
	}
	return infos, nil
}

func (s *RedisStore) PurgeExpired(ctx context.Context) (int, error) {
	keys, err := s.keys(ctx, "")
	if err != nil {
		return 0, err
	}

	var stale []string
	for _, key := range keys {
		rec, err := s.get(ctx, key)
		if err != nil {
			continue
		}
		if !s.IsValid(rec) {
			stale = append(stale, key)
		}
	}

	if len(stale) == 0 {
		return 0, nil
	}
	n, err := s.client.Del(ctx, stale...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}

	s.logger.Info("expired sessions purged", zap.Int64("count", n))
	return int(n), nil
}

func (s *RedisStore) ClearAll(ctx context.Context, site string) (int, error) {
	keys, err := s.keys(ctx, site)
	if err != nil {
		return 0, err
	}
	if site != "" {
		prefix := redisKey(site, "")
		filtered := keys[:0]
		for _, k := range keys {
			if strings.HasPrefix(k, prefix) && !strings.Contains(strings.TrimPrefix(k, prefix), ":") {
				filtered = append(filtered, k)
			}
		}
		keys = filtered
	}
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := s.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to clear sessions: %w", err)
	}

	s.logger.Info("sessions cleared", zap.String("site", site), zap.Int64("count", n))
	return int(n), nil
}
