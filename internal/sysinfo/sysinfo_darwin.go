//go:build darwin

package sysinfo

import "golang.org/x/sys/unix"

// TotalMemory returns physical memory in bytes.
func TotalMemory() (uint64, error) {
	return unix.SysctlUint64("hw.memsize")
}
