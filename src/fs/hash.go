package fs

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/xattr"

	"github.com/reu-dev/razel/src/digest"
)

// xattrName is the extended attribute PathHasher stores a cached digest
// under, alongside the mtime it was computed at so a later change to the
// file is always detected even if the xattr survives a copy.
const xattrName = "user.razel_digest"

// PathHasher computes source file digests, optionally caching the result
// in a per-file extended attribute keyed by the file's mtime so an
// unchanged source tree is never rehashed on a warm second run. Not every
// filesystem supports xattrs (e.g. some overlay/network mounts); on those,
// EnabledXattrs should be left false and PathHasher falls back to always
// hashing, which is what original_source's Digest::for_path always does.
type PathHasher struct {
	EnabledXattrs bool

	mu    sync.RWMutex
	memo  map[string]cachedDigest
}

type cachedDigest struct {
	mtimeNano int64
	digest    digest.Digest
}

// NewPathHasher returns a PathHasher with xattr caching enabled or not.
func NewPathHasher(enabledXattrs bool) *PathHasher {
	return &PathHasher{EnabledXattrs: enabledXattrs, memo: map[string]cachedDigest{}}
}

// Hash returns path's content digest, consulting and then updating the
// in-process memo and, if enabled, the on-disk xattr cache.
func (h *PathHasher) Hash(path string) (digest.Digest, error) {
	info, err := os.Stat(path)
	if err != nil {
		return digest.Digest{}, err
	}
	mtime := info.ModTime().UnixNano()

	h.mu.RLock()
	cached, ok := h.memo[path]
	h.mu.RUnlock()
	if ok && cached.mtimeNano == mtime {
		return cached.digest, nil
	}

	if h.EnabledXattrs {
		if d, ok := h.readXattr(path, mtime); ok {
			h.store(path, mtime, d)
			return d, nil
		}
	}

	d, err := digest.ForPath(path)
	if err != nil {
		return digest.Digest{}, err
	}
	h.store(path, mtime, d)
	if h.EnabledXattrs {
		h.writeXattr(path, mtime, d)
	}
	return d, nil
}

func (h *PathHasher) store(path string, mtime int64, d digest.Digest) {
	h.mu.Lock()
	h.memo[path] = cachedDigest{mtimeNano: mtime, digest: d}
	h.mu.Unlock()
}

// encoding: 8 bytes mtime, 8 bytes size, then the hex hash string.
func encodeXattr(mtime int64, d digest.Digest) []byte {
	buf := make([]byte, 16+len(d.Hash))
	binary.BigEndian.PutUint64(buf[0:8], uint64(mtime))
	binary.BigEndian.PutUint64(buf[8:16], uint64(d.SizeBytes))
	copy(buf[16:], d.Hash)
	return buf
}

func decodeXattr(b []byte) (mtime int64, d digest.Digest, ok bool) {
	if len(b) < 16 {
		return 0, digest.Digest{}, false
	}
	mtime = int64(binary.BigEndian.Uint64(b[0:8]))
	size := int64(binary.BigEndian.Uint64(b[8:16]))
	hash := string(b[16:])
	return mtime, digest.Digest{Hash: hash, SizeBytes: size}, true
}

func (h *PathHasher) readXattr(path string, mtime int64) (digest.Digest, bool) {
	b, err := xattr.Get(path, xattrName)
	if err != nil {
		return digest.Digest{}, false
	}
	storedMtime, d, ok := decodeXattr(b)
	if !ok || storedMtime != mtime {
		return digest.Digest{}, false
	}
	return d, true
}

func (h *PathHasher) writeXattr(path string, mtime int64, d digest.Digest) {
	if err := xattr.Set(path, xattrName, encodeXattr(mtime, d)); err != nil {
		log.Debug("could not cache digest of %s as an xattr, falling back to rehashing next time: %s", path, err)
	}
}

// Forget drops a path from the in-process memo, used after a produced file
// is overwritten in place so a stale digest is never reused.
func (h *PathHasher) Forget(path string) {
	h.mu.Lock()
	delete(h.memo, path)
	h.mu.Unlock()
}
