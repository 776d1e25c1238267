package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/djherbis/atime"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/proto"

	"github.com/reu-dev/razel/src/cli/logging"
	"github.com/reu-dev/razel/src/digest"
	razfs "github.com/reu-dev/razel/src/fs"
)

var log = logging.MustGetLogger("cache")

// LocalCache is the on-disk action cache (ac/<hex>) plus content-addressed
// store (cas/<hex>). Every blob in cas/ is made read-only once written;
// content addressing means two concurrent writers racing to create the
// same entry are harmless, so no in-process locking is needed for that
// path -- only the final rename needs to be atomic.
type LocalCache struct {
	Dir string

	gcMu  sync.Mutex
	marks map[string]uint64
}

// NewLocalCache creates the ac/ and cas/ subdirectories (plus a .gitignore)
// under dir if they don't already exist.
func NewLocalCache(dir string) (*LocalCache, error) {
	c := &LocalCache{Dir: dir, marks: map[string]uint64{}}
	for _, sub := range []string{"ac", "cas"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), razfs.DirPermissions); err != nil {
			return nil, fmt.Errorf("cache: creating %s: %w", sub, err)
		}
	}
	gitignore := filepath.Join(dir, ".gitignore")
	if !razfs.PathExists(gitignore) {
		_ = os.WriteFile(gitignore, []byte("*\n"), 0644)
	}
	return c, nil
}

func (c *LocalCache) acPath(d digest.Digest) string  { return filepath.Join(c.Dir, "ac", d.Hash) }
func (c *LocalCache) casPath(d digest.Digest) string { return filepath.Join(c.Dir, "cas", d.Hash) }

// CasPath returns where d would live in the local content-addressed store,
// used by the sandbox staging code to link a command's inputs directly
// from cache rather than from their original source location.
func (c *LocalCache) CasPath(d digest.Digest) string { return c.casPath(d) }

// GetActionResult returns the cached ActionResult for actionDigest, if any.
func (c *LocalCache) GetActionResult(actionDigest digest.Digest) (*pb.ActionResult, bool) {
	b, err := os.ReadFile(c.acPath(actionDigest))
	if err != nil {
		return nil, false
	}
	ar := &pb.ActionResult{}
	if err := proto.Unmarshal(b, ar); err != nil {
		log.Warning("corrupt action result for %s, ignoring: %s", actionDigest, err)
		return nil, false
	}
	c.mark(c.acPath(actionDigest), uint64(len(b)))
	return ar, true
}

// PushActionResult writes ar under actionDigest's key, replacing any
// existing entry. The write is staged to a uniquely-named temp file and
// then renamed into place, so a reader never observes a partial file.
func (c *LocalCache) PushActionResult(actionDigest digest.Digest, ar *pb.ActionResult) error {
	b, err := proto.Marshal(ar)
	if err != nil {
		return err
	}
	dest := c.acPath(actionDigest)
	if err := c.writeAtomic(dest, b, 0644); err != nil {
		return err
	}
	c.mark(dest, uint64(len(b)))
	return nil
}

// IsBlobCached reports whether the content-addressed blob for d is present
// locally, without reading it. A blob found with the wrong size or with its
// read-only bit cleared (spec §8.1: every cas/ entry is read-only) is
// assumed to have been modified after being cached and is purged rather
// than trusted.
func (c *LocalCache) IsBlobCached(d digest.Digest) bool {
	path := c.casPath(d)
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Mode().Perm()&0222 != 0 {
		log.Warning("cas entry is writable, assuming modified: %s", path)
		_ = os.Remove(path)
		return false
	}
	if info.Size() != d.SizeBytes {
		log.Warning("cas entry has wrong size (act: %d, exp: %d): %s", info.Size(), d.SizeBytes, path)
		_ = os.Remove(path)
		return false
	}
	return true
}

// PushBlob writes data (whose digest must be d) into cas/<hex>, read-only,
// tolerating a concurrent writer racing to create the same entry: since
// the content is identical by construction, whichever write wins is fine.
func (c *LocalCache) PushBlob(d digest.Digest, data []byte) error {
	if c.IsBlobCached(d) {
		c.mark(c.casPath(d), uint64(d.SizeBytes))
		return nil
	}
	if err := c.writeAtomic(c.casPath(d), data, 0444); err != nil {
		return err
	}
	c.mark(c.casPath(d), uint64(d.SizeBytes))
	return nil
}

// MoveFileIntoCache promotes a freshly-produced output file at path into
// cas/<hex>, making it read-only. It's an atomic rename, so it's safe to
// race against another command that happens to produce byte-identical
// output concurrently -- content addressing makes the duplicate harmless,
// and whichever rename lands last simply overwrites the other with
// identical bytes.
func (c *LocalCache) MoveFileIntoCache(path string, d digest.Digest) error {
	if err := os.Chmod(path, 0444); err != nil {
		return fmt.Errorf("cache: making %s read-only: %w", path, err)
	}
	dest := c.casPath(d)
	if c.IsBlobCached(d) {
		// Already present with the right size; drop the duplicate rather
		// than overwrite, since an in-flight reader might have it open.
		return os.Remove(path)
	}
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("cache: promoting %s into cas: %w", path, err)
	}
	c.mark(dest, uint64(d.SizeBytes))
	return nil
}

// LinkOutputIntoOutDir hardlinks the cached blob for d to destPath
// (typically under OUT_DIR), falling back to a copy if the two paths are
// on different filesystem devices.
func (c *LocalCache) LinkOutputIntoOutDir(d digest.Digest, destPath string, executable bool) error {
	if err := razfs.EnsureDir(destPath); err != nil {
		return err
	}
	_ = os.Remove(destPath)
	mode := os.FileMode(0444)
	if executable {
		mode = 0555
	}
	return razfs.CopyOrLinkFile(c.casPath(d), destPath, mode, true, true)
}

// writeAtomic stages data under a uniquely-named sibling of dest, then
// renames it into place -- the rename is the only operation that must be
// intra-device and atomic; the temp file's name doesn't matter.
func (c *LocalCache) writeAtomic(dest string, data []byte, mode os.FileMode) error {
	if err := razfs.EnsureDir(dest); err != nil {
		return err
	}
	tmp := dest + ".tmp-" + uuid.NewString()
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return err
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

func (c *LocalCache) mark(path string, size uint64) {
	c.gcMu.Lock()
	c.marks[path] = size
	c.gcMu.Unlock()
}

// gcEntry is one candidate for eviction during GC.
type gcEntry struct {
	path  string
	size  uint64
	atime int64
}

// accessTimeGracePeriod: entries whose atimes are within this many seconds
// of each other are treated as equally-recently-used and broken by size
// instead, so GC preferentially evicts the biggest of a batch that was
// last touched together (e.g. one run's worth of outputs).
const accessTimeGracePeriod = 600

// GC runs the local CAS's size-bounded LRU eviction: it walks cas/, and if
// the total size is at or above highWaterMark, removes the least recently
// accessed blobs (by atime) until the total is below lowWaterMark. Blobs marked
// during the current run (via mark, called from every Get/Push) are never
// evicted, so a long run can't have its own working set GC'd out from
// under it.
func (c *LocalCache) GC(highWaterMark, lowWaterMark uint64) (uint64, error) {
	casDir := filepath.Join(c.Dir, "cas")
	var entries []gcEntry
	var total uint64

	c.gcMu.Lock()
	marked := make(map[string]bool, len(c.marks))
	for p := range c.marks {
		marked[p] = true
	}
	c.gcMu.Unlock()

	if err := razfs.Walk(casDir, func(path string, isDir bool) error {
		if isDir {
			return nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil // vanished under us, ignore
		}
		size := uint64(info.Size())
		total += size
		if marked[path] {
			return nil
		}
		entries = append(entries, gcEntry{path: path, size: size, atime: atime.Get(info).Unix()})
		return nil
	}); err != nil {
		return total, fmt.Errorf("cache: walking cas for GC: %w", err)
	}

	log.Info("local cache size: %s", humanize.Bytes(total))
	if total < highWaterMark {
		return total, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		diff := entries[i].atime - entries[j].atime
		if diff > -accessTimeGracePeriod && diff < accessTimeGracePeriod {
			return entries[i].size > entries[j].size
		}
		return entries[i].atime < entries[j].atime
	})

	for _, e := range entries {
		log.Debug("evicting %s, last accessed %s, frees %s", e.path, humanize.Time(time.Unix(e.atime, 0)), humanize.Bytes(e.size))
		if err := os.Remove(e.path); err != nil {
			log.Warning("could not evict %s: %s", e.path, err)
			continue
		}
		total -= e.size
		if total < lowWaterMark {
			break
		}
	}
	return total, nil
}
