// Package razel wires the dependency graph, scheduler, caches, sandboxes
// and executors together into a single local build run: connect the
// caches, build the graph, digest every source file, then repeatedly hand
// ready commands to the scheduler and react to their results until nothing
// is left to run.
package razel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/reu-dev/razel/src/cache"
	"github.com/reu-dev/razel/src/cli/logging"
	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/executor"
	razfs "github.com/reu-dev/razel/src/fs"
	"github.com/reu-dev/razel/src/ids"
	"github.com/reu-dev/razel/src/metadata"
	"github.com/reu-dev/razel/src/oom"
	"github.com/reu-dev/razel/src/sandbox"
	"github.com/reu-dev/razel/src/scheduler"
)

var log = logging.MustGetLogger("razel")

// remoteCacheInstanceName is the REAPI instance_name razel presents to a
// remote cache server; razel has no notion of multiple instances sharing
// one server, so this is always the empty default instance.
const remoteCacheInstanceName = ""

// remoteUploadQueueDepth bounds how many pending blob/action-result pushes
// the remote cache's background goroutine will buffer before starting to
// drop them (cache.RemoteCache's async push is always best-effort).
const remoteUploadQueueDepth = 256

// Orchestrator drives one local build run to completion. It is not safe
// for concurrent use by multiple goroutines other than its own internal
// worker goroutines.
type Orchestrator struct {
	Config *core.Configuration
	Graph  *core.Graph

	scheduler   *scheduler.Scheduler
	localCache  *cache.LocalCache
	remoteCache *cache.RemoteCache
	hasher      *razfs.PathHasher
	cgroup      oom.Cgroup
	sandboxBase string

	log          *metadata.Log
	measurements *metadata.Measurements
	profile      *metadata.Profile

	succeeded       []ids.CommandId
	failed          []ids.CommandId
	conditionFailed []ids.CommandId
	cacheHits       int
	errs            *multierror.Error
}

// Stats summarises one completed run for the caller (CLI exit-code
// mapping, the final printed report).
type Stats struct {
	Succeeded int
	Failed    int
	Skipped   int
	NotRun    int
	CacheHits int
}

// New returns an Orchestrator ready to have Prepare called on it. graph
// must already be sealed (core.Builder.Seal).
func New(cfg *core.Configuration, graph *core.Graph) *Orchestrator {
	return &Orchestrator{
		Config:       cfg,
		Graph:        graph,
		scheduler:    scheduler.New(cfg.AvailableSlots),
		hasher:       razfs.NewPathHasher(supportsXattrs()),
		log:          metadata.NewLog(),
		measurements: metadata.NewMeasurements(),
		profile:      metadata.NewProfile(),
	}
}

// Prepare connects the local (and, if configured, remote) cache, cleans up
// any sandbox directories left behind by a previous killed run, creates a
// memory-accounting cgroup when the platform supports one, creates output
// directories for every declared output, and digests every source file
// so the graph's initially-ready commands can compute their action digest
// immediately (spec §4.8).
func (o *Orchestrator) Prepare(ctx context.Context) error {
	localCache, err := cache.NewLocalCache(o.Config.CacheDir)
	if err != nil {
		return fmt.Errorf("razel: preparing local cache: %w", err)
	}
	o.localCache = localCache
	if o.Config.CacheHighWaterMark > 0 {
		go func() {
			if _, err := o.localCache.GC(o.Config.CacheHighWaterMark, o.Config.CacheLowWaterMark); err != nil {
				log.Warning("local cache cleanup failed: %s", err)
			}
		}()
	}

	if len(o.Config.RemoteCacheURLs) > 0 {
		// razel supports a single remote cache endpoint; a configured list
		// with more than one entry is accepted but only the first is used.
		rc, err := cache.Dial(o.Config.RemoteCacheURLs[0], remoteCacheInstanceName, remoteUploadQueueDepth)
		if err != nil {
			log.Warning("could not connect to remote cache %s, continuing without it: %s", o.Config.RemoteCacheURLs[0], err)
		} else {
			o.remoteCache = rc
		}
	}

	o.sandboxBase = filepath.Join(o.Config.CacheDir, "sandbox")
	if err := sandbox.CleanBase(o.sandboxBase); err != nil {
		log.Warning("could not clean stale sandbox directories: %s", err)
	}
	if err := os.MkdirAll(o.sandboxBase, razfs.DirPermissions); err != nil {
		return fmt.Errorf("razel: creating sandbox base: %w", err)
	}

	if cg, err := oom.NewCgroup(filepath.Base(o.Config.WorkspaceDir)); err != nil {
		log.Debug("no memory cgroup available: %s", err)
	} else {
		o.cgroup = cg
	}

	if err := o.createOutputDirs(); err != nil {
		return err
	}
	if err := o.digestSourceFiles(ctx); err != nil {
		return err
	}
	return nil
}

// createOutputDirs makes sure the parent directory of every declared
// output file exists before any command runs, so a command need not
// create its own output directory structure.
func (o *Orchestrator) createOutputDirs() error {
	for i := range o.Graph.Files.All() {
		f := o.Graph.Files.Get(i)
		if f.IsSource {
			continue
		}
		dest := filepath.Join(o.Config.OutDir, f.Path)
		if err := razfs.EnsureDir(dest); err != nil {
			return fmt.Errorf("razel: creating output directory for %s: %w", f.Path, err)
		}
	}
	return nil
}

// digestSourceFiles computes the content digest of every source file
// referenced by the graph, over a worker pool sized to the available
// slots (spec §4.8 step 3) rather than one goroutine per file, so a large
// graph doesn't open thousands of files at once. A produced file's digest
// is left nil here; it is filled in once the command that creates it
// succeeds.
func (o *Orchestrator) digestSourceFiles(ctx context.Context) error {
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(o.Config.AvailableSlots)
	for i := range o.Graph.Files.All() {
		f := o.Graph.Files.Get(i)
		if !f.IsSource {
			continue
		}
		g.Go(func() error {
			d, err := o.hasher.Hash(o.resolveWorkspacePath(f.Path))
			if err != nil {
				return fmt.Errorf("razel: digesting source file %s: %w", f.Path, err)
			}
			f.Digest = &d
			return nil
		})
	}
	return g.Wait()
}

// resolveWorkspacePath turns a File's Path into an absolute on-disk
// location. An ExecutableOutsideWorkspace file's Path is already absolute
// (spec §3: "used as-is"); everything else is workspace-relative.
func (o *Orchestrator) resolveWorkspacePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(o.Config.WorkspaceDir, path)
}

func supportsXattrs() bool {
	return os.Getenv(core.EnvDisableXattrs) == ""
}
