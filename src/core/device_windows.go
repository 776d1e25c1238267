//go:build windows

package core

import (
	"hash/fnv"
	"path/filepath"
)

// deviceOf on Windows has no cheap equivalent of a Unix device id available
// without CGo or golang.org/x/sys/windows's volume APIs, so we fall back to
// comparing drive letters/UNC roots via filepath.VolumeName. This is the
// weaker of the two device-identity schemes the original project's two
// parallel implementations used; per spec we apply the stricter one where
// they disagree, so a VolumeName mismatch always forces the sibling
// ".razel-cache" fallback even in cases a true device id might allow the
// fast path -- see DESIGN.md.
func deviceOf(path string) (uint64, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0, err
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(filepath.VolumeName(abs)))
	return h.Sum64(), nil
}
