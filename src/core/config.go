package core

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/reu-dev/razel/src/cli/logging"
)

var log = logging.MustGetLogger("core")

// Environment variable names consumed directly by razel (spec §6). There is
// no config *file* format; flags and these env vars are the whole surface.
const (
	EnvCacheDir             = "RAZEL_CACHE_DIR"
	EnvRemoteCacheURLs      = "RAZEL_REMOTE_CACHE"
	EnvRemoteCacheThreshold = "RAZEL_REMOTE_CACHE_THRESHOLD_KBPS"
	EnvRemoteExecURLs       = "RAZEL_REMOTE_EXEC"

	// EnvDisableXattrs turns off the mtime+digest xattr cache that would
	// otherwise speed up re-hashing unchanged source files, for
	// filesystems that don't support extended attributes.
	EnvDisableXattrs = "RAZEL_DISABLE_XATTRS"
)

// DefaultOutDir is the workspace-relative directory successful outputs are
// linked into.
const DefaultOutDir = "razel-out"

// Configuration holds every tunable that isn't specific to a single command:
// cache location and remote endpoints, scheduler sizing, and the workspace
// layout. It's built once from flags+env at startup and then passed around
// read-only.
type Configuration struct {
	WorkspaceDir string
	OutDir       string

	CacheDir             string
	RemoteCacheURLs      []string
	RemoteCacheThreshold float64 // kB/s; 0 disables the gate
	RemoteExecURLs       []string

	// CacheHighWaterMark/CacheLowWaterMark bound the local CAS's
	// background LRU cleaner (see cache.LocalCache.GC); zero disables it.
	CacheHighWaterMark uint64
	CacheLowWaterMark  uint64

	// AvailableSlots bounds the scheduler's concurrency; defaults to
	// runtime.NumCPU() but can be lowered (e.g. under a cgroup quota).
	AvailableSlots int

	KeepGoing bool
	Verbose   bool
}

// DefaultConfiguration returns a Configuration with every field set to its
// zero-input default: no remote endpoints, cache dir chosen per
// ChooseCacheDir, and AvailableSlots from the host CPU count.
func DefaultConfiguration(workspaceDir string) (*Configuration, error) {
	cacheDir, err := ChooseCacheDir(workspaceDir)
	if err != nil {
		return nil, err
	}
	const gigabyte = 1 << 30
	return &Configuration{
		WorkspaceDir:       workspaceDir,
		OutDir:             filepath.Join(workspaceDir, DefaultOutDir),
		CacheDir:           cacheDir,
		AvailableSlots:     runtime.NumCPU(),
		CacheHighWaterMark: 10 * gigabyte,
		CacheLowWaterMark:  8 * gigabyte,
	}, nil
}

// ApplyEnv overrides configuration fields from the environment variables
// named in spec §6, where set.
func (c *Configuration) ApplyEnv() error {
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv(EnvRemoteCacheURLs); v != "" {
		c.RemoteCacheURLs = splitNonEmpty(v)
	}
	if v := os.Getenv(EnvRemoteCacheThreshold); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("core: invalid %s=%q: %w", EnvRemoteCacheThreshold, v, err)
		}
		c.RemoteCacheThreshold = f
	}
	if v := os.Getenv(EnvRemoteExecURLs); v != "" {
		c.RemoteExecURLs = splitNonEmpty(v)
	}
	return nil
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ChooseCacheDir implements the cache-dir selection rule from spec §6:
// prefer the user's cache-home project directory, but only if it's on the
// same filesystem device as the workspace's parent, since promotion into
// the cache relies on an intra-device (and therefore atomic) rename.
// Otherwise fall back to a sibling ".razel-cache" directory next to the
// workspace, which is guaranteed to share a device with it.
func ChooseCacheDir(workspaceDir string) (string, error) {
	parent := filepath.Dir(workspaceDir)
	parentDev, err := deviceOf(parent)
	if err != nil {
		return "", fmt.Errorf("core: stat %s: %w", parent, err)
	}

	if userCacheDir, err := os.UserCacheDir(); err == nil {
		candidate := filepath.Join(userCacheDir, "razel", projectKey(workspaceDir))
		if dev, err := deviceOf(filepath.Dir(userCacheDir)); err == nil && dev == parentDev {
			return candidate, nil
		}
		log.Debug("cache home %s is on a different device than %s, falling back to sibling cache dir", userCacheDir, workspaceDir)
	}

	return filepath.Join(parent, ".razel-cache"), nil
}

// projectKey derives a stable, filesystem-safe directory name for a
// workspace so unrelated projects don't collide inside a shared cache home.
func projectKey(workspaceDir string) string {
	abs, err := filepath.Abs(workspaceDir)
	if err != nil {
		abs = workspaceDir
	}
	return strings.ReplaceAll(strings.Trim(abs, string(filepath.Separator)), string(filepath.Separator), "_")
}

