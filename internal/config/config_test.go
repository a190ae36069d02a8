package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressroom/api/internal/store"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PRESSROOM_CONFIG", "")
	t.Setenv("PRESSROOM_CACHE_TTL", "")
	t.Setenv("REDIS_URL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 1000, cfg.SyncBatchSize)
	assert.Equal(t, 0.7, cfg.Dedup.Threshold)
	assert.Equal(t, 10, cfg.Dedup.MinTitleLength)
	assert.Equal(t, 500*time.Millisecond, cfg.Dedup.Debounce)
	assert.Equal(t, 5, cfg.Dedup.MaxCandidates)
	assert.Equal(t, store.DefaultCollections(), cfg.Collections)
	assert.True(t, cfg.Migrate)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PRESSROOM_CACHE_TTL", "90s")
	t.Setenv("PRESSROOM_SYNC_BATCH_SIZE", "250")
	t.Setenv("SYNC_PAGES_PER_SECOND", "2.5")
	t.Setenv("PRESSROOM_DEDUP_THRESHOLD", "0.8")
	t.Setenv("PRESSROOM_DEDUP_DEBOUNCE", "1s")
	t.Setenv("PRESSROOM_MIGRATE", "false")
	t.Setenv("DATABASE_URL", "sqlite:/tmp/pressroom.db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.CacheTTL)
	assert.Equal(t, 250, cfg.SyncBatchSize)
	assert.Equal(t, 2.5, cfg.SyncPagesPerSecond)
	assert.Equal(t, 0.8, cfg.Dedup.Threshold)
	assert.Equal(t, time.Second, cfg.Dedup.Debounce)
	assert.False(t, cfg.Migrate)
	assert.Equal(t, "sqlite:/tmp/pressroom.db", cfg.DatabaseURL)
}

func TestMalformedValuesFallBack(t *testing.T) {
	t.Setenv("PRESSROOM_CACHE_TTL", "soon")
	t.Setenv("PRESSROOM_SYNC_BATCH_SIZE", "lots")
	t.Setenv("PRESSROOM_MIGRATE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.CacheTTL)
	assert.Equal(t, 1000, cfg.SyncBatchSize)
	assert.True(t, cfg.Migrate)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Setenv("PRESSROOM_DEDUP_THRESHOLD", "1.5")
	_, err := Load()
	assert.ErrorContains(t, err, "threshold")
}

func TestCollectionsOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pressroom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
collections:
  - name: press_releases
    order_key: published_at
    title_field: headline
  - name: newsletters
`), 0o600))
	t.Setenv("PRESSROOM_CONFIG", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []store.Collection{
		{Name: "press_releases", OrderKey: "published_at", TitleField: "headline"},
		{Name: "newsletters", OrderKey: "created_at", TitleField: "title"},
	}, cfg.Collections)
}

func TestCollectionsOverlayErrors(t *testing.T) {
	dir := t.TempDir()

	t.Setenv("PRESSROOM_CONFIG", filepath.Join(dir, "missing.yaml"))
	_, err := Load()
	assert.ErrorContains(t, err, "read config")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("collections: [\n"), 0o600))
	t.Setenv("PRESSROOM_CONFIG", bad)
	_, err = Load()
	assert.ErrorContains(t, err, "parse config")

	dup := filepath.Join(dir, "dup.yaml")
	require.NoError(t, os.WriteFile(dup, []byte("collections:\n  - name: a\n  - name: a\n"), 0o600))
	t.Setenv("PRESSROOM_CONFIG", dup)
	_, err = Load()
	assert.ErrorContains(t, err, "configured twice")

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("collections: []\n"), 0o600))
	t.Setenv("PRESSROOM_CONFIG", empty)
	_, err = Load()
	assert.ErrorContains(t, err, "at least one collection")
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero ttl", func(c *Config) { c.CacheTTL = 0 }, "cache_ttl"},
		{"zero batch", func(c *Config) { c.SyncBatchSize = 0 }, "sync_batch_size"},
		{"negative rate", func(c *Config) { c.SyncPagesPerSecond = -1 }, "sync_pages_per_second"},
		{"bad order key", func(c *Config) { c.Collections = []store.Collection{{Name: "a", OrderKey: "x;y", TitleField: "title"}} }, "order_key"},
		{"bad title field", func(c *Config) { c.Collections = []store.Collection{{Name: "a", OrderKey: "id", TitleField: ""}} }, "title_field"},
		{"bad name", func(c *Config) { c.Collections = []store.Collection{{Name: "a-b", OrderKey: "id", TitleField: "t"}} }, "collection name"},
		{"bad dedup", func(c *Config) { c.Dedup.MaxCandidates = 0 }, "dedup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}
