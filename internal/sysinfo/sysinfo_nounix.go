//go:build !unix

package sysinfo

func UsableSpace(string) (int64, error) { return 0, ErrUnsupported }
