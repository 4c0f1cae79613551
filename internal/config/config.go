package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/unkn0wn-root/imgcache"
)

const (
	// MemoryTierLRU is the default: strict least-recently-used eviction,
	// every Put admitted.
	MemoryTierLRU = "lru"
	// MemoryTierRistretto trades strict LRU for TinyLFU admission. Puts may
	// be rejected and eviction is not by recency, so a just-filled image can
	// miss memory on the next request. Opt-in only.
	MemoryTierRistretto = "ristretto"
)

type Config struct {
	Port           int
	CacheDir       string
	DiskCacheMB    int
	MemoryCacheMB  int
	MemoryTier     string // MemoryTierLRU or MemoryTierRistretto
	Decoder        string
	JournalCodec   string
	FetchTimeout   time.Duration
	LogLevel       string
	ViewRetention  time.Duration
	VipsMaxCacheMB int
}

func Load() *Config {
	return &Config{
		Port:           getEnvInt("PORT", 8080),
		CacheDir:       getEnv("CACHE_DIR", imgcache.DefaultCacheDir("imgcache")),
		DiskCacheMB:    getEnvInt("DISK_CACHE_MB", 50),
		MemoryCacheMB:  getEnvInt("MEMORY_CACHE_MB", 0), // 0 => 1/8 of memory budget
		MemoryTier:     strings.ToLower(getEnv("MEMORY_TIER", MemoryTierLRU)),
		Decoder:        strings.ToLower(getEnv("DECODER", "std")),
		JournalCodec:   strings.ToLower(getEnv("JOURNAL_CODEC", "cbor")),
		FetchTimeout:   time.Duration(getEnvInt("FETCH_TIMEOUT_SEC", 30)) * time.Second,
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		ViewRetention:  time.Duration(getEnvInt("VIEW_RETENTION_MIN", 30)) * time.Minute,
		VipsMaxCacheMB: getEnvInt("VIPS_MAX_CACHE_MB", 64),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) DiskCapacity() int64 { return int64(c.DiskCacheMB) << 20 }

func (c *Config) MemoryCapacity() int64 { return int64(c.MemoryCacheMB) << 20 }

// StrictLRU reports whether the memory tier evicts strictly by recency and
// admits every Put.
func (c *Config) StrictLRU() bool { return c.MemoryTier == MemoryTierLRU || c.MemoryTier == "" }
