package fs

import (
	"io"
	"os"
	"path/filepath"
)

// CopyOrLinkFile either hardlinks or copies from to to, falling back to a
// copy if linking fails (e.g. across filesystem devices).
func CopyOrLinkFile(from, to string, fromMode os.FileMode, link, fallback bool) error {
	if link {
		if fromMode&os.ModeSymlink != 0 {
			dest, err := os.Readlink(from)
			if err != nil {
				return err
			}
			return os.Symlink(dest, to)
		}
		if err := os.Link(from, to); err == nil || !fallback {
			return err
		}
	}
	return CopyFile(from, to, fromMode)
}

// CopyFile copies the contents of from to to, creating to with the given mode.
func CopyFile(from, to string, mode os.FileMode) error {
	in, err := os.Open(from)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := EnsureDir(to); err != nil {
		return err
	}
	out, err := os.OpenFile(to, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// RecursiveLink hardlinks a single file or, recursively, every file under a
// directory, falling back to a copy per-file where hardlinking fails (e.g.
// crossing a filesystem device). A symlink source is recreated as a
// symlink with the same target rather than linked or copied.
func RecursiveLink(from, to string) error {
	info, err := os.Lstat(from)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		if err := EnsureDir(to); err != nil {
			return err
		}
		return CopyOrLinkFile(from, to, info.Mode(), true, true)
	}
	return WalkMode(from, func(name string, isDir bool, mode os.FileMode) error {
		rel, err := filepath.Rel(from, name)
		if err != nil {
			return err
		}
		dest := filepath.Join(to, rel)
		if isDir {
			return os.MkdirAll(dest, DirPermissions)
		}
		if err := EnsureDir(dest); err != nil {
			return err
		}
		return CopyOrLinkFile(name, dest, mode, true, true)
	})
}
