package offcache

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestRegistry(t *testing.T, dir, version string) *Registry {
	t.Helper()
	reg, err := OpenRegistry(dir, "safira-lounge", version)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

// testEntry builds a 200 entry whose accounted size comes from an
// explicit Content-Length header, the same way eviction and stats see it.
func testEntry(body string, size int64, cachedAt int64) Entry {
	h := make(http.Header)
	h.Set("Content-Type", "text/plain")
	if size > 0 {
		h.Set("Content-Length", strconv.FormatInt(size, 10))
	}
	if cachedAt > 0 {
		h.Set(cachedAtHeader, strconv.FormatInt(cachedAt, 10))
	}
	return Entry{Status: http.StatusOK, Header: h, Body: []byte(body)}
}

func TestBucketPutMatchDelete(t *testing.T) {
	t.Parallel()

	reg := openTestRegistry(t, t.TempDir(), "v1.0.1")
	b := reg.Bucket(bucketStatic)

	_, ok := b.Match("/index.html")
	assert.False(t, ok)

	ent := testEntry("<html>menu</html>", 17, 0)
	require.NoError(t, b.Put("/index.html", ent))

	got, ok := b.Match("/index.html")
	require.True(t, ok)
	assert.Equal(t, ent.Body, got.Body)
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))

	assert.True(t, b.Delete("/index.html"))
	assert.False(t, b.Delete("/index.html"), "second delete is a no-op")
	_, ok = b.Match("/index.html")
	assert.False(t, ok)
}

func TestBucketRefusesUncacheableResponses(t *testing.T) {
	t.Parallel()

	reg := openTestRegistry(t, t.TempDir(), "v1.0.1")
	b := reg.Bucket(bucketImages)

	partial := testEntry("chunk", 5, 0)
	partial.Status = http.StatusPartialContent
	assert.ErrorIs(t, b.Put("/images/big.webp", partial), errNotCacheable)

	failed := testEntry("boom", 4, 0)
	failed.Status = http.StatusInternalServerError
	assert.ErrorIs(t, b.Put("/images/big.webp", failed), errNotCacheable)

	_, ok := b.Match("/images/big.webp")
	assert.False(t, ok, "rejected writes must not be observable")
	assert.Zero(t, b.Count())
}

func TestBucketAccounting(t *testing.T) {
	t.Parallel()

	reg := openTestRegistry(t, t.TempDir(), "v1.0.1")
	b := reg.Bucket(bucketVideos)

	require.NoError(t, b.Put("/videos/a.mp4", testEntry("a", 1000, 5)))
	require.NoError(t, b.Put("/videos/b.mp4", testEntry("b", 2500, 9)))
	require.NoError(t, b.Put("/videos/c.mp4", testEntry("c", 0, 0)), "missing Content-Length counts as zero")

	assert.Equal(t, 3, b.Count())
	assert.Equal(t, int64(3500), b.TotalSize())
	assert.ElementsMatch(t, []string{"/videos/a.mp4", "/videos/b.mp4", "/videos/c.mp4"}, b.Keys())

	// overwrite replaces the accounted size
	require.NoError(t, b.Put("/videos/a.mp4", testEntry("a2", 1200, 11)))
	assert.Equal(t, 3, b.Count())
	assert.Equal(t, int64(3700), b.TotalSize())
}

func TestRegistryMatchAny(t *testing.T) {
	t.Parallel()

	reg := openTestRegistry(t, t.TempDir(), "v1.0.1")
	require.NoError(t, reg.Bucket(bucketAPI).Put("/shared", testEntry("from-api", 8, 0)))

	got, ok := reg.MatchAny("/shared")
	require.True(t, ok)
	assert.Equal(t, []byte("from-api"), got.Body)

	_, ok = reg.MatchAny("/absent")
	assert.False(t, ok)
}

func TestRegistryListAndDeleteBuckets(t *testing.T) {
	t.Parallel()

	reg := openTestRegistry(t, t.TempDir(), "v1.0.1")
	require.NoError(t, reg.Bucket(bucketStatic).Put("/", testEntry("shell", 5, 0)))
	require.NoError(t, reg.Bucket(bucketImages).Put("/images/logo.webp", testEntry("img", 3, 0)))

	names := reg.ListBucketNames()
	assert.ElementsMatch(t, []string{
		"safira-lounge-static-v1.0.1",
		"safira-lounge-images-v1.0.1",
	}, names)

	require.NoError(t, reg.DeleteBucket("safira-lounge-static-v1.0.1"))
	assert.ElementsMatch(t, []string{"safira-lounge-images-v1.0.1"}, reg.ListBucketNames())
	_, ok := reg.Bucket(bucketStatic).Match("/")
	assert.False(t, ok)
}

func TestRegistrySurvivesReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	reg, err := OpenRegistry(dir, "safira-lounge", "v1.0.1")
	require.NoError(t, err)
	now := time.Now().UnixMilli()
	require.NoError(t, reg.Bucket(bucketVideos).Put("/videos/intro.mp4", testEntry("vid", 4096, now)))
	require.NoError(t, reg.Close())

	reg2 := openTestRegistry(t, dir, "v1.0.1")
	b := reg2.Bucket(bucketVideos)
	assert.Equal(t, 1, b.Count(), "index rebuilt from disk")
	assert.Equal(t, int64(4096), b.TotalSize())

	got, ok := b.Match("/videos/intro.mp4")
	require.True(t, ok)
	assert.Equal(t, []byte("vid"), got.Body)
	assert.Equal(t, now, got.cachedAt())
}
