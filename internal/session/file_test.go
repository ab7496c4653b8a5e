package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/retail-scraper/internal/models"
)

var testCookies = []models.Cookie{
	{Name: "location-data", Value: "94102:San Francisco", Domain: ".walmart.com", Path: "/", Expires: -1, Secure: true},
	{Name: "ACID", Value: "abc", Domain: ".walmart.com", Path: "/", Expires: 1893456000, HTTPOnly: true, SameSite: "Lax"},
}

func newFileStore(t *testing.T) (*FileStore, *time.Time) {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), 24*time.Hour, nil)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.expiry.now = func() time.Time { return now }
	return s, &now
}

func TestFileStoreSaveLoad(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies, map[string]any{"store_id": "1234"}))

	rec, err := s.Load(ctx, "walmart", "94102")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "walmart", rec.Site)
	assert.Equal(t, "94102", rec.Zipcode)
	assert.Equal(t, testCookies, rec.Cookies)
	assert.Equal(t, "1234", rec.Metadata["store_id"])
	assert.Equal(t, FormatVersion, rec.Version)

	_, err = os.Stat(filepath.Join(s.dir, "walmart_94102.json"))
	assert.NoError(t, err)

	missing, err := s.Load(ctx, "walmart", "10001")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFileStoreSaveOverwrites(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies, nil))
	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies[:1], nil))

	rec, err := s.Load(ctx, "walmart", "94102")
	require.NoError(t, err)
	assert.Len(t, rec.Cookies, 1)
}

func TestFileStoreExpiry(t *testing.T) {
	s, now := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies, nil))

	*now = now.Add(23 * time.Hour)
	rec, err := s.Load(ctx, "walmart", "94102")
	require.NoError(t, err)
	require.NotNil(t, rec)

	*now = now.Add(time.Hour)
	rec, err = s.Load(ctx, "walmart", "94102")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = os.Stat(filepath.Join(s.dir, "walmart_94102.json"))
	assert.True(t, os.IsNotExist(err), "expired session should be removed on load")
}

func TestFileStoreIsValid(t *testing.T) {
	s, now := newFileStore(t)

	assert.False(t, s.IsValid(nil))
	assert.False(t, s.IsValid(&Record{}))
	assert.True(t, s.IsValid(&Record{CreatedAt: now.Add(-time.Minute)}))
	assert.False(t, s.IsValid(&Record{CreatedAt: now.Add(-24 * time.Hour)}))
}

func TestFileStoreCorruptRecord(t *testing.T) {
	s, _ := newFileStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "walmart_94102.json"), []byte("{not json"), 0o600))

	rec, err := s.Load(context.Background(), "walmart", "94102")
	assert.Error(t, err)
	assert.Nil(t, rec)
}

func TestFileStoreKeysStayInsideDirectory(t *testing.T) {
	s, _ := newFileStore(t)

	path := s.path("../../etc", "passwd")
	assert.Equal(t, s.dir, filepath.Dir(path))
}

func TestFileStoreKeysDoNotCollide(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	assert.NotEqual(t, s.path("a_b", "1"), s.path("a", "b_1"))

	require.NoError(t, s.Save(ctx, "a_b", "1", testCookies[:1], nil))
	require.NoError(t, s.Save(ctx, "a", "b_1", testCookies[1:], nil))

	rec, err := s.Load(ctx, "a_b", "1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testCookies[:1], rec.Cookies)

	rec, err = s.Load(ctx, "a", "b_1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testCookies[1:], rec.Cookies)
}

func TestFileStoreLoadRejectsRecordForOtherKey(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "walmart", "10001", testCookies, nil))
	require.NoError(t, os.Rename(s.path("walmart", "10001"), s.path("walmart", "94102")))

	rec, err := s.Load(ctx, "walmart", "94102")
	require.NoError(t, err)
	assert.Nil(t, rec, "cookies saved for another zipcode must not be returned")
}

func TestFileStoreExpiredRemovalKeepsFreshSave(t *testing.T) {
	s, now := newFileStore(t)
	ctx := context.Background()
	path := s.path("walmart", "94102")

	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies, nil))
	*now = now.Add(25 * time.Hour)

	stale, err := s.read(path)
	require.NoError(t, err)
	require.False(t, s.IsValid(stale))

	// A Save lands between reading the stale record and removing it.
	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies[:1], nil))
	s.removeExpired(path)

	rec, err := s.Load(ctx, "walmart", "94102")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, testCookies[:1], rec.Cookies)

	*now = now.Add(25 * time.Hour)
	s.removeExpired(path)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreListPurgeClear(t *testing.T) {
	s, now := newFileStore(t)
	ctx := context.Background()
	start := *now

	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies, nil))
	require.NoError(t, s.Save(ctx, "target", "94102", testCookies, nil))

	*now = start.Add(20 * time.Hour)
	require.NoError(t, s.Save(ctx, "walmart", "10001", testCookies, nil))

	*now = start.Add(25 * time.Hour)

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	walmart, err := s.List(ctx, "walmart")
	require.NoError(t, err)
	require.Len(t, walmart, 2)
	valid := map[string]bool{}
	for _, info := range walmart {
		valid[info.Zipcode] = info.Valid
	}
	assert.Equal(t, map[string]bool{"94102": false, "10001": true}, valid)

	purged, err := s.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, purged)

	all, err = s.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, s.Save(ctx, "target", "60601", testCookies, nil))
	cleared, err := s.ClearAll(ctx, "walmart")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)

	cleared, err = s.ClearAll(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 1, cleared)
}

func TestFileStoreDelete(t *testing.T) {
	s, _ := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, "walmart", "94102", testCookies, nil))

	ok, err := s.Delete(ctx, "walmart", "94102")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, "walmart", "94102")
	require.NoError(t, err)
	assert.False(t, ok)
}
