package imgcache

import (
	"os"
	"path/filepath"
	"time"
)

const (
	defaultDiskCapacity   = 50 << 20
	defaultMemoryBudget   = 512 << 20
	memoryBudgetFraction  = 8
	defaultKeepAlive      = 10 * time.Second
	defaultFetchTimeout   = 30 * time.Second
	defaultAppVersion     = 1
	defaultCacheDirectory = "imgcache"
	contentSlot           = 0
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// DefaultCacheDir returns name under the user cache directory, or under the
// temp directory when the platform has none.
func DefaultCacheDir(name string) string {
	if base, err := os.UserCacheDir(); err == nil && base != "" {
		return filepath.Join(base, name)
	}
	return filepath.Join(os.TempDir(), name)
}
