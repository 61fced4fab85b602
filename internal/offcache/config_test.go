package offcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "offcache.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "server:\n  origin: http://origin.test/\n")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "http://origin.test", cfg.Server.Origin, "trailing slash trimmed")
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "safira-lounge", cfg.Cache.Namespace)
	assert.Equal(t, "v1.0.1", cfg.Cache.Version)
	assert.Equal(t, int64(50*1024*1024), cfg.videoMaxBytes)
	assert.Equal(t, 0.8, cfg.Cache.EvictTarget)
	assert.Equal(t, 5*time.Minute, cfg.apiTTL)

	assert.Contains(t, cfg.Routes.NetworkFirst, "/api/")
	assert.Contains(t, cfg.Routes.NetworkFirst, "/safira-api-fixed.php")
	assert.Contains(t, cfg.Routes.Skip, "fonts.googleapis.com")
	assert.Contains(t, cfg.Install.CriticalAssets, "/manifest.json")

	require.Len(t, cfg.Routes.CacheFirst, 2)
	assert.Equal(t, bucketStatic, cfg.Routes.CacheFirst[0].Bucket)
	assert.Equal(t, bucketImages, cfg.Routes.CacheFirst[1].Bucket)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, `
server:
  port: 9000
  origin: http://origin.test
cache:
  version: v2.0.0
  videoMax: 10mb
  apiTTL: 30s
warmup:
  every: 1h
logging:
  logStatsEvery: 5m
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "v2.0.0", cfg.Cache.Version)
	assert.Equal(t, int64(10*1024*1024), cfg.videoMaxBytes)
	assert.Equal(t, 30*time.Second, cfg.apiTTL)
	assert.Equal(t, time.Hour, cfg.warmupEvery)
	assert.Equal(t, 5*time.Minute, cfg.statsEvery)
}

func TestLoadConfigRequiresOrigin(t *testing.T) {
	t.Parallel()

	path := writeConfigFile(t, "server:\n  port: 9000\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.origin")
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{"bad videoMax", "server:\n  origin: http://o\ncache:\n  videoMax: whatever\n"},
		{"bad apiTTL", "server:\n  origin: http://o\ncache:\n  apiTTL: soon\n"},
		{"bad evictTarget", "server:\n  origin: http://o\ncache:\n  evictTarget: 1.5\n"},
		{"bad warmup", "server:\n  origin: http://o\nwarmup:\n  every: often\n"},
		{"unknown bucket", "server:\n  origin: http://o\nroutes:\n  cacheFirst:\n    - match: /x/\n      bucket: nope\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := writeConfigFile(t, tt.body)
			_, err := LoadConfig(path)
			assert.Error(t, err)
		})
	}
}
