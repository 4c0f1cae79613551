//go:build !linux && !darwin

package sysinfo

func TotalMemory() (uint64, error) { return 0, ErrUnsupported }
