// Package sysinfo probes the host for storage and memory budgets.
package sysinfo

import (
	"errors"
	"math"
	"runtime/debug"
)

// ErrUnsupported is returned where the platform offers no probe.
var ErrUnsupported = errors.New("sysinfo: not supported on this platform")

// MemoryBudget returns the working-memory budget of the process: the Go
// memory limit when one is set, else total system memory, else fallback.
func MemoryBudget(fallback int64) int64 {
	if limit := debug.SetMemoryLimit(-1); limit > 0 && limit != math.MaxInt64 {
		return limit
	}
	if total, err := TotalMemory(); err == nil && total > 0 {
		if total > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(total)
	}
	return fallback
}
