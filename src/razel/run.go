package razel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reu-dev/razel/src/cache"
	"github.com/reu-dev/razel/src/core"
	razfs "github.com/reu-dev/razel/src/fs"
	"github.com/reu-dev/razel/src/ids"
	"github.com/reu-dev/razel/src/metadata"
)

// Run executes every command in the graph to completion: it admits ready
// commands onto the scheduler up to its available slots, runs each in its
// own goroutine, and reacts to results one at a time as they arrive,
// stopping new admissions (but letting in-flight commands finish) on a
// SystemError or, absent KeepGoing, on any command failure. It always
// writes the run's metadata sinks before returning, even after a stopped
// run.
func (o *Orchestrator) Run(ctx context.Context, groupByTag string) (Stats, error) {
	for _, id := range o.Graph.PopReady() {
		o.pushReady(id)
	}

	type result struct {
		id      ids.CommandId
		exec    core.ExecutionResult
		outputs []cache.InputFile
	}
	resultsCh := make(chan result)
	inFlight := 0
	startMore := true

	for {
		for startMore {
			id, ok := o.scheduler.PopReadyAndRun()
			if !ok {
				break
			}
			inFlight++
			go func(id ids.CommandId) {
				r, outs := o.execCommand(ctx, id)
				resultsCh <- result{id: id, exec: r, outputs: outs}
			}(id)
		}
		if inFlight == 0 {
			break
		}
		f := <-resultsCh
		inFlight--

		if o.scheduler.SetFinishedAndGetRetryFlag(f.id, f.exec.OOMKilled) {
			log.Info("retrying %s with more memory after an OOM kill", o.Graph.Commands.Get(int(f.id)).Name)
			continue
		}
		o.onCommandFinished(f.id, f.exec, f.outputs)

		if f.exec.Status == core.SystemError || (len(o.failed) > 0 && !o.Config.KeepGoing) {
			startMore = false
		}
	}

	o.pushLogsForNotRun()
	stats := Stats{
		Succeeded: len(o.succeeded),
		Failed:    len(o.failed) + len(o.conditionFailed),
		Skipped:   o.countSkipped(),
		NotRun:    o.countNotRun(),
		CacheHits: o.cacheHits,
	}

	o.removeStaleOutputs()
	if err := o.WriteMetadata(groupByTag); err != nil {
		return stats, fmt.Errorf("razel: writing metadata: %w", err)
	}
	return stats, nil
}

// removeStaleOutputs deletes anything left under OUT_DIR for a command
// that did not succeed in this invocation (it failed, was skipped, or was
// never reached because the run stopped early), so OUT_DIR never holds
// output for a command that didn't succeed in this run.
func (o *Orchestrator) removeStaleOutputs() {
	for i := range o.Graph.Commands.All() {
		succeeded, _, _ := o.Graph.Status(ids.CommandId(i))
		if succeeded {
			continue
		}
		cmd := o.Graph.Commands.Get(i)
		for _, fid := range cmd.Outputs {
			p := filepath.Join(o.Config.OutDir, o.Graph.Files.Get(int(fid)).Path)
			if razfs.PathExists(p) {
				if err := os.Remove(p); err != nil {
					log.Debug("could not remove stale output %s: %s", p, err)
				}
			}
		}
	}
}

// WriteMetadata writes every metadata sink (measurements, execution
// times, the full log, and a tag-grouped report) under
// OUT_DIR/razel-metadata, and prints the report's summary to stdout.
func (o *Orchestrator) WriteMetadata(groupByTag string) error {
	dir := filepath.Join(o.Config.OutDir, "razel-metadata")
	if err := os.MkdirAll(dir, razfs.DirPermissions); err != nil {
		return fmt.Errorf("creating metadata directory: %w", err)
	}
	if err := o.measurements.WriteCSV(filepath.Join(dir, "measurements.csv")); err != nil {
		return fmt.Errorf("writing measurements.csv: %w", err)
	}
	if err := o.profile.WriteJSON(filepath.Join(dir, "execution_times.json")); err != nil {
		return fmt.Errorf("writing execution_times.json: %w", err)
	}
	if err := o.log.Write(filepath.Join(dir, "log.json")); err != nil {
		return fmt.Errorf("writing log.json: %w", err)
	}
	report := metadata.NewReport(groupByTag, o.log.Items)
	report.Print()
	if err := report.Write(filepath.Join(dir, "report.json")); err != nil {
		return fmt.Errorf("writing report.json: %w", err)
	}
	return nil
}

// Close releases resources acquired by Prepare: the remote cache
// connection and the memory cgroup. Safe to call even if Prepare failed
// partway through.
func (o *Orchestrator) Close() {
	if o.remoteCache != nil {
		if err := o.remoteCache.Close(); err != nil {
			log.Warning("error closing remote cache: %s", err)
		}
	}
	if o.cgroup != nil {
		if err := o.cgroup.Destroy(); err != nil {
			log.Debug("could not destroy cgroup: %s", err)
		}
	}
}
