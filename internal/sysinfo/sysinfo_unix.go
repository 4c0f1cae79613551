//go:build unix

package sysinfo

import "golang.org/x/sys/unix"

// UsableSpace returns the bytes available to an unprivileged writer on the
// filesystem holding dir.
func UsableSpace(dir string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil
}
