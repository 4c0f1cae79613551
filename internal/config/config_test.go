package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "DISK_CACHE_MB", "MEMORY_TIER", "FETCH_TIMEOUT_SEC", "VIEW_RETENTION_MIN"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, int64(50<<20), cfg.DiskCapacity())
	assert.Equal(t, MemoryTierLRU, cfg.MemoryTier)
	assert.True(t, cfg.StrictLRU())
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 30*time.Minute, cfg.ViewRetention)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("MEMORY_TIER", "Ristretto")
	t.Setenv("MEMORY_CACHE_MB", "16")
	t.Setenv("DISK_CACHE_MB", "not-a-number")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, MemoryTierRistretto, cfg.MemoryTier)
	assert.False(t, cfg.StrictLRU(), "ristretto admission is not strict LRU")
	assert.Equal(t, int64(16<<20), cfg.MemoryCapacity())
	assert.Equal(t, int64(50<<20), cfg.DiskCapacity())
}
