// Command razel executes a graph of commands described by a JSON batch
// file, caching action results locally and (optionally) in a remote
// Bazel-remote-execution-v2 compatible cache.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/thought-machine/go-flags"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/reu-dev/razel/src/cli/batch"
	"github.com/reu-dev/razel/src/cli/logging"
	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/razel"
	"github.com/reu-dev/razel/src/watch"
)

var log = logging.MustGetLogger("razel")

var opts struct {
	Verbosity         logging.Verbosity `short:"v" long:"verbosity" default:"warning" description:"Logging verbosity (error, warning, notice, info, debug)"`
	WorkspaceDir      string            `short:"w" long:"workspace_dir" default:"." description:"Root directory commands are run relative to"`
	OutDir            string            `long:"out_dir" description:"Directory to link successful command outputs into (default <workspace_dir>/razel-out)"`
	Jobs              int               `short:"j" long:"jobs" description:"Maximum number of commands to run concurrently (default: number of CPUs)"`
	KeepGoing         bool              `short:"k" long:"keep_going" description:"Keep running independent commands after one fails"`
	Watch             bool              `long:"watch" description:"Rerun the batch whenever one of its source files changes"`
	GroupByTag        string            `long:"group_by_tag" description:"Custom tag to group the final report's per-command breakdown by"`
	PrintActionDigest string            `long:"print_action_digest" description:"Print the input/command/action digests for the named command and exit, without running anything"`
	Args              struct {
		BatchFile string `positional-arg-name:"batch_file" required:"true" description:"JSON batch file describing the commands to run"`
	} `positional-args:"true" required:"true"`
}

func main() {
	os.Exit(run())
}

func run() int {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		return 1
	}
	logging.Init(logging.Level(opts.Verbosity))

	if _, err := maxprocs.Set(maxprocs.Logger(log.Info), maxprocs.Min(opts.Jobs)); err != nil {
		log.Warning("failed to set GOMAXPROCS: %s", err)
	}

	config, err := buildConfig()
	if err != nil {
		log.Error("%s", err)
		return 2
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	notifyOnSignal(cancel)

	runOnce := func() error { return runBatch(ctx, config) }

	if opts.Watch {
		return runWatch(config, runOnce)
	}

	if err := runOnce(); err != nil {
		log.Error("%s", err)
		return 1
	}
	return 0
}

// buildConfig assembles the Configuration from its defaults, environment
// overrides, and the handful of flags that affect it.
func buildConfig() (*core.Configuration, error) {
	workspaceDir, err := filepath.Abs(opts.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir: %w", err)
	}
	config, err := core.DefaultConfiguration(workspaceDir)
	if err != nil {
		return nil, fmt.Errorf("building configuration: %w", err)
	}
	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}
	if opts.OutDir != "" {
		config.OutDir = opts.OutDir
	}
	if opts.Jobs > 0 {
		config.AvailableSlots = opts.Jobs
	}
	config.KeepGoing = opts.KeepGoing
	config.Verbose = opts.Verbosity >= logging.Verbosity(logging.INFO)
	return config, nil
}

// runBatch loads a fresh Graph from the batch file and runs it to
// completion on a fresh Orchestrator. Re-loading rather than reusing state
// is what makes --watch's repeated reruns meaningful: a Graph records
// which commands have already succeeded or failed and never un-marks them.
func runBatch(ctx context.Context, config *core.Configuration) error {
	graph, err := batch.Load(opts.Args.BatchFile)
	if err != nil {
		return err
	}
	orch := razel.New(config, graph)
	defer orch.Close()

	if err := orch.Prepare(ctx); err != nil {
		return err
	}
	if opts.PrintActionDigest != "" {
		return orch.PrintActionDigest(opts.PrintActionDigest)
	}
	stats, err := orch.Run(ctx, opts.GroupByTag)
	if err != nil {
		return err
	}
	log.Notice("%d succeeded, %d failed, %d skipped, %d cache hits",
		stats.Succeeded, stats.Failed, stats.Skipped, stats.CacheHits)
	return orch.Err()
}

// runWatch runs once immediately and then every time one of the
// workspace's source files changes, until interrupted.
func runWatch(config *core.Configuration, rerun func() error) int {
	paths, err := sourcePaths(config)
	if err != nil {
		log.Error("%s", err)
		return 2
	}
	if err := rerun(); err != nil {
		log.Error("%s", err)
	}
	stop := make(chan struct{})
	notifyOnSignal(func() { close(stop) })
	if err := watch.Watch(paths, stop, rerun); err != nil {
		log.Error("watch: %s", err)
		return 2
	}
	return 0
}

// sourcePaths walks the workspace for files to watch, excluding OUT_DIR and
// the cache directory: both are written by razel itself, and watching them
// would make every successful run trigger another one.
func sourcePaths(config *core.Configuration) ([]string, error) {
	excluded := map[string]bool{config.OutDir: true, config.CacheDir: true}
	var paths []string
	err := filepath.Walk(config.WorkspaceDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if excluded[path] {
				return filepath.SkipDir
			}
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	return paths, err
}

func notifyOnSignal(onSignal func()) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		onSignal()
	}()
}
