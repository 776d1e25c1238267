package razel

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/reu-dev/razel/src/cache"
	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/ids"
	"github.com/reu-dev/razel/src/scheduler"
)

// pushReady admits a newly-ready command onto the scheduler, grouped with
// others invoking the same executable (see scheduler.GroupForCommand).
func (o *Orchestrator) pushReady(id ids.CommandId) {
	cmd := o.Graph.Commands.Get(int(id))
	o.scheduler.PushReady(id, scheduler.GroupForCommand(cmd, o.Graph))
}

// onCommandFinished records a command's final outcome -- not one the
// scheduler decided to retry -- into the metadata sinks and the
// dependency graph.
func (o *Orchestrator) onCommandFinished(id ids.CommandId, result core.ExecutionResult, outputs []cache.InputFile) {
	cmd := o.Graph.Commands.Get(int(id))

	var measurements map[string]interface{}
	if len(result.Stdout) > 0 {
		measurements = o.measurements.Collect(cmd.Name, result.Status, result.Stdout)
	}
	o.profile.Collect(cmd, result)
	o.log.Push(cmd, result, measurements)

	if result.Status.IsOk() {
		o.setOutputDigests(cmd, outputs)
		o.onCommandSucceeded(id, result)
		return
	}
	if cmd.Tags.Condition {
		// A condition command's failure doesn't stop the overall run (it
		// never joins o.failed, so it can't trip the keep_going check), but
		// it is still a failure for stats/report purposes, and it still
		// skips whatever depends on it the normal way.
		o.conditionFailed = append(o.conditionFailed, id)
		o.Graph.MarkFailed(id)
		return
	}
	o.onCommandFailed(id, result)
}

// setOutputDigests writes each produced file's newly-known digest back
// into the graph, matched by path rather than position so the mapping
// holds regardless of the order a cache hit's ActionResult happens to
// list its output files in.
func (o *Orchestrator) setOutputDigests(cmd *core.Command, outputs []cache.InputFile) {
	byPath := make(map[string]ids.FileId, len(cmd.Outputs))
	for _, fid := range cmd.Outputs {
		byPath[o.Graph.Files.Get(int(fid)).Path] = fid
	}
	for _, out := range outputs {
		fid, ok := byPath[out.Path]
		if !ok {
			continue
		}
		d := out.Digest
		o.Graph.Files.Get(int(fid)).Digest = &d
	}
}

func (o *Orchestrator) onCommandSucceeded(id ids.CommandId, result core.ExecutionResult) {
	o.succeeded = append(o.succeeded, id)
	if result.CacheHit != core.NoCacheHit {
		o.cacheHits++
	}
	for _, readyId := range o.Graph.MarkSucceeded(id) {
		o.pushReady(readyId)
	}
}

func (o *Orchestrator) onCommandFailed(id ids.CommandId, result core.ExecutionResult) {
	o.failed = append(o.failed, id)
	cmd := o.Graph.Commands.Get(int(id))
	err := result.Error
	if err == nil {
		err = fmt.Errorf("%s", result.Status)
	}
	o.errs = multierror.Append(o.errs, fmt.Errorf("%s: %w", cmd.Name, err))
	o.Graph.MarkFailed(id)
}

// Err returns every command failure collected during Run, aggregated with
// go-multierror so a keep_going run that failed N independent commands
// reports all N instead of only the first. Returns nil if nothing failed.
func (o *Orchestrator) Err() error {
	if o.errs == nil {
		return nil
	}
	return o.errs
}

// pushLogsForNotRun fills in a log entry for every command that never got
// a turn: Skipped for one whose dependency failed, NotStarted for one that
// was still ready or waiting when the run stopped (keep_going disabled, or
// a SystemError). Commands that actually ran were already logged by
// onCommandFinished.
func (o *Orchestrator) pushLogsForNotRun() {
	for i := range o.Graph.Commands.All() {
		cmd := o.Graph.Commands.Get(i)
		succeeded, failed, skipped := o.Graph.Status(ids.CommandId(i))
		if succeeded || failed {
			continue
		}
		if skipped {
			o.log.PushNotRun(cmd, core.Skipped)
		} else {
			o.log.PushNotRun(cmd, core.NotStarted)
		}
	}
}

func (o *Orchestrator) countSkipped() int {
	n := 0
	for i := range o.Graph.Commands.All() {
		if _, _, skipped := o.Graph.Status(ids.CommandId(i)); skipped {
			n++
		}
	}
	return n
}

func (o *Orchestrator) countNotRun() int {
	total := o.Graph.Commands.Len()
	return total - len(o.succeeded) - len(o.failed) - len(o.conditionFailed) - o.countSkipped()
}
