//go:build !windows

package core

import "syscall"

// deviceOf returns the filesystem device id that path resides on, used by
// ChooseCacheDir to decide whether an intra-device (and so atomic, fast)
// rename into the cache is possible.
func deviceOf(path string) (uint64, error) {
	var st syscall.Stat_t
	if err := syscall.Stat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
