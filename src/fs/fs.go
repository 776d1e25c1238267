// Package fs provides the filesystem helpers shared by the cache, sandbox
// and orchestrator packages: existence checks, directory creation,
// recursive copy/link, fast walking, and mtime-cached digesting.
package fs

import (
	"os"
	"path/filepath"

	"github.com/reu-dev/razel/src/cli/logging"
)

var log = logging.MustGetLogger("fs")

// DirPermissions are the default permission bits applied to created directories.
const DirPermissions = os.ModeDir | 0775

// EnsureDir ensures the directory containing filename exists.
func EnsureDir(filename string) error {
	dir := filepath.Dir(filename)
	err := os.MkdirAll(dir, DirPermissions)
	if err != nil && FileExists(dir) {
		log.Warning("removing %s, a file where a directory is required", dir)
		if err2 := os.Remove(dir); err2 == nil {
			err = os.MkdirAll(dir, DirPermissions)
		}
	}
	return err
}

// PathExists returns true if the given path exists, as a file or directory.
func PathExists(filename string) bool {
	_, err := os.Lstat(filename)
	return err == nil
}

// FileExists returns true if the given path exists and is a regular file.
func FileExists(filename string) bool {
	info, err := os.Lstat(filename)
	return err == nil && !info.IsDir()
}

// IsSymlink returns true if the given path exists and is a symlink.
func IsSymlink(filename string) bool {
	info, err := os.Lstat(filename)
	return err == nil && info.Mode()&os.ModeSymlink != 0
}

// RemoveAll removes path and anything under it, tolerating it already being gone.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
