package razel

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/reu-dev/razel/src/cache"
	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/digest"
	"github.com/reu-dev/razel/src/executor"
	"github.com/reu-dev/razel/src/ids"
	"github.com/reu-dev/razel/src/sandbox"
)

// execCommand runs the full per-action decision tree for one ready command:
// compute its action digest, try to satisfy it from cache, otherwise
// execute it (sandboxed or not) and cache a successful result, per spec
// §4.9.
func (o *Orchestrator) execCommand(ctx context.Context, id ids.CommandId) (core.ExecutionResult, []cache.InputFile) {
	cmd := o.Graph.Commands.Get(int(id))
	inputs := o.buildInputFiles(cmd)
	outputPaths := o.outputPathsOf(cmd)
	argv, env := actionIdentity(cmd)

	action, err := cache.BuildActionDigest(argv, env, outputPaths, inputs)
	if err != nil {
		return core.ExecutionResult{Status: core.SystemError,
			Error: fmt.Errorf("razel: building action digest for %s: %w", cmd.Name, err)}, nil
	}

	if !cmd.Tags.CachingDisabled() {
		if result, outputs, ok := o.getActionFromCache(ctx, action.Action, cmd); ok {
			for _, f := range outputs {
				if err := o.localCache.LinkOutputIntoOutDir(f.Digest, filepath.Join(o.Config.OutDir, f.Path), f.Executable); err != nil {
					return core.ExecutionResult{Status: core.SystemError,
						Error: fmt.Errorf("razel: linking cached output %s into out dir: %w", f.Path, err)}, nil
				}
			}
			return result, outputs
		}
	}

	if ce, ok := cmd.Executor.(*executor.CommandExecutor); ok && o.cgroup != nil {
		ce.Cgroup = o.cgroup
	}

	var result core.ExecutionResult
	var outputs []cache.InputFile
	if cmd.Tags.NoSandbox {
		result, outputs = o.execWithoutSandbox(ctx, cmd, outputPaths)
	} else {
		result, outputs = o.execWithSandbox(ctx, cmd, outputPaths, inputs)
	}

	if result.Status.IsOk() && !cmd.Tags.CachingDisabled() {
		o.cacheResult(action.Action, cmd, result, outputs)
	}
	return result, outputs
}

// actionIdentity returns the argv/env that go into a command's action
// digest (spec §6: command_digest and input_root_digest only -- a
// command's timeout never perturbs it). Only CommandExecutor carries
// these explicitly; the task, WASI and remote-exec variants are out of
// scope for real execution (see executor.stubs.go) and fall back to the
// command's own name as a stand-in argv, which keeps their action digests
// deterministic without claiming a real argv that doesn't exist.
func actionIdentity(cmd *core.Command) ([]string, map[string]string) {
	if ce, ok := cmd.Executor.(*executor.CommandExecutor); ok {
		return ce.Argv, ce.Env
	}
	return []string{cmd.Name}, nil
}

// buildInputFiles resolves every file a command reads into the digest/path
// shape the cache package needs to build an action digest. Every such file
// must already have a digest: a command never becomes ready until all its
// producers have succeeded (see core.Graph).
func (o *Orchestrator) buildInputFiles(cmd *core.Command) []cache.InputFile {
	all := cmd.AllInputFiles()
	out := make([]cache.InputFile, 0, len(all))
	for _, fid := range all {
		f := o.Graph.Files.Get(int(fid))
		out = append(out, cache.InputFile{
			Path:       f.Path,
			Digest:     *f.Digest,
			Executable: f.IsExecutableFile(),
		})
	}
	return out
}

func (o *Orchestrator) outputPathsOf(cmd *core.Command) []string {
	paths := make([]string, len(cmd.Outputs))
	for i, fid := range cmd.Outputs {
		paths[i] = o.Graph.Files.Get(int(fid)).Path
	}
	return paths
}

// newSandbox picks the sandbox variant for cmd: no isolation for a
// NoSandbox command, hardlink-staged for one running a WASI module, and
// symlink-staged TmpDirSandbox otherwise.
func (o *Orchestrator) newSandbox(cmd *core.Command) sandbox.Sandbox {
	if cmd.Tags.NoSandbox {
		return sandbox.NewWorkspaceDirSandbox(o.Config.WorkspaceDir)
	}
	if _, ok := cmd.Executor.(*executor.WasiExecutor); ok {
		return sandbox.NewWasiSandbox(o.sandboxBase)
	}
	return sandbox.NewTmpDirSandbox(o.sandboxBase)
}

// sourcePathFor resolves where a declared input's content currently lives
// on disk: the local CAS if it's already there (true for every produced
// file, and for any source file that happens to share content with a
// previously cached blob), the workspace otherwise.
func (o *Orchestrator) sourcePathFor(in cache.InputFile) string {
	if o.localCache.IsBlobCached(in.Digest) {
		return o.localCache.CasPath(in.Digest)
	}
	return o.resolveWorkspacePath(in.Path)
}

func (o *Orchestrator) sandboxInputsOf(inputs []cache.InputFile) []sandbox.Input {
	out := make([]sandbox.Input, len(inputs))
	for i, in := range inputs {
		out[i] = sandbox.Input{Path: in.Path, SourcePath: o.sourcePathFor(in), Executable: in.Executable}
	}
	return out
}

func (o *Orchestrator) execWithSandbox(ctx context.Context, cmd *core.Command, outputPaths []string, inputs []cache.InputFile) (core.ExecutionResult, []cache.InputFile) {
	sbx := o.newSandbox(cmd)
	if err := sbx.Create(o.sandboxInputsOf(inputs), outputPaths); err != nil {
		return core.ExecutionResult{Status: core.SystemError, Error: err}, nil
	}

	result := cmd.Executor.Exec(ctx, "", sbx.Dir())
	var outputs []cache.InputFile
	if result.Status.IsOk() {
		// A command whose result must never reach ac/ or cas/ (spec §8)
		// still has its outputs digested here, for downstream commands to
		// see a consistent digest, but they're moved straight into
		// OUT_DIR rather than promoted into the CAS.
		cacheable := !cmd.Tags.CachingDisabled()
		outs, err := o.digestOutputs(sbx.Dir(), outputPaths, cacheable)
		if err != nil {
			result.Status = core.SystemError
			result.Error = err
		} else {
			outputs = outs
			if !cacheable {
				if _, err := sbx.MoveOutputFilesIntoOutDir(o.Config.OutDir); err != nil {
					result.Status = core.SystemError
					result.Error = err
					outputs = nil
				}
			}
		}
	}

	if err := sbx.Destroy(); err != nil {
		log.Warning("could not destroy sandbox for %s: %s", cmd.Name, err)
	}
	return result, outputs
}

// execWithoutSandbox runs a NoSandbox command directly against the
// workspace. Its result is never cached (Tags.NoSandbox implies
// Tags.CachingDisabled), so outputs are digested in place and left where
// the command wrote them rather than promoted into the CAS.
func (o *Orchestrator) execWithoutSandbox(ctx context.Context, cmd *core.Command, outputPaths []string) (core.ExecutionResult, []cache.InputFile) {
	for _, rel := range outputPaths {
		_ = os.Remove(o.resolveWorkspacePath(rel))
	}

	result := cmd.Executor.Exec(ctx, o.Config.WorkspaceDir, "")
	var outputs []cache.InputFile
	if result.Status.IsOk() {
		outs, err := o.digestOutputs(o.Config.WorkspaceDir, outputPaths, false)
		if err != nil {
			result.Status = core.SystemError
			result.Error = err
		} else {
			outputs = outs
		}
	}
	return result, outputs
}

// digestOutputs digests every expected output under stagingDir, rejecting
// a symlinked output (spec §4.9's output-validity rule). When promote is
// true each output is additionally moved into the local CAS and linked
// into OUT_DIR; promote is false both for an unsandboxed command (whose
// outputs are never cached and already sit in the workspace) and for a
// sandboxed command with caching disabled for it (whose caller moves the
// staged files into OUT_DIR directly instead).
func (o *Orchestrator) digestOutputs(stagingDir string, outputPaths []string, promote bool) ([]cache.InputFile, error) {
	outputs := make([]cache.InputFile, 0, len(outputPaths))
	for _, rel := range outputPaths {
		src := filepath.Join(stagingDir, rel)
		info, err := os.Lstat(src)
		if err != nil {
			return nil, fmt.Errorf("razel: expected output %s was not produced: %w", rel, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return nil, fmt.Errorf("razel: output %s must not be a symlink", rel)
		}
		d, err := o.hasher.Hash(src)
		if err != nil {
			return nil, fmt.Errorf("razel: digesting output %s: %w", rel, err)
		}
		executable := info.Mode()&0111 != 0
		if promote {
			if err := o.localCache.MoveFileIntoCache(src, d); err != nil {
				return nil, fmt.Errorf("razel: caching output %s: %w", rel, err)
			}
			if err := o.localCache.LinkOutputIntoOutDir(d, filepath.Join(o.Config.OutDir, rel), executable); err != nil {
				return nil, fmt.Errorf("razel: linking output %s into out dir: %w", rel, err)
			}
		}
		outputs = append(outputs, cache.InputFile{Path: rel, Digest: d, Executable: executable})
	}
	return outputs, nil
}

// getActionFromCache tries the local action cache first, then (if
// configured and not disabled for this command) the remote one, verifying
// every referenced output blob is actually fetchable before declaring a
// hit. A local hit whose blobs are only available remotely is reported as
// MixedCacheHit; a hit satisfied entirely from the remote cache is
// RemoteCacheHit, and is also written into the local action cache so a
// later run gets a local hit without needing the network again.
func (o *Orchestrator) getActionFromCache(ctx context.Context, actionDigest digest.Digest, cmd *core.Command) (core.ExecutionResult, []cache.InputFile, bool) {
	if ar, ok := o.localCache.GetActionResult(actionDigest); ok {
		outputs := cache.OutputFilesOf(ar)
		missing := missingLocally(o.localCache, outputs)
		if len(missing) == 0 {
			return cache.ActionResultToExecutionResult(ar, core.LocalCacheHit), outputs, true
		}
		if o.remoteCache != nil && !cmd.Tags.RemoteCachingDisabled() && o.fetchMissingBlobs(ctx, missing) {
			return cache.ActionResultToExecutionResult(ar, core.MixedCacheHit), outputs, true
		}
	}

	if o.remoteCache != nil && !cmd.Tags.RemoteCachingDisabled() {
		if ar, ok := o.remoteCache.GetActionResult(ctx, actionDigest); ok {
			outputs := cache.OutputFilesOf(ar)
			digests := make([]digest.Digest, len(outputs))
			for i, f := range outputs {
				digests[i] = f.Digest
			}
			if o.fetchMissingBlobs(ctx, digests) {
				if err := o.localCache.PushActionResult(actionDigest, ar); err != nil {
					log.Warning("could not write remote cache hit into local cache: %s", err)
				}
				return cache.ActionResultToExecutionResult(ar, core.RemoteCacheHit), outputs, true
			}
		}
	}
	return core.ExecutionResult{}, nil, false
}

func missingLocally(lc *cache.LocalCache, outputs []cache.InputFile) []digest.Digest {
	var missing []digest.Digest
	for _, f := range outputs {
		if !lc.IsBlobCached(f.Digest) {
			missing = append(missing, f.Digest)
		}
	}
	return missing
}

func (o *Orchestrator) fetchMissingBlobs(ctx context.Context, digests []digest.Digest) bool {
	if len(digests) == 0 {
		return true
	}
	blobs, err := o.remoteCache.DownloadBlobs(ctx, digests)
	if err != nil {
		return false
	}
	for _, d := range digests {
		data, ok := blobs[d.Hash]
		if !ok {
			return false
		}
		if err := o.localCache.PushBlob(d, data); err != nil {
			return false
		}
	}
	return true
}

// cacheResult writes a successful execution's ActionResult into the local
// action cache and, if a remote cache is configured, asynchronously pushes
// both the action result and its output blobs there too -- unless
// RemoteCacheThreshold (spec §4.3) says it isn't worth the upload: a large,
// fast result has a high output-bytes/second ratio and is cheaper to
// rebuild than to transfer, while a small, slow one is worth the round trip.
func (o *Orchestrator) cacheResult(actionDigest digest.Digest, cmd *core.Command, result core.ExecutionResult, outputs []cache.InputFile) {
	ar := cache.ResultToActionResult(result, outputs)
	if err := o.localCache.PushActionResult(actionDigest, ar); err != nil {
		log.Warning("could not cache action result for %s: %s", cmd.Name, err)
		return
	}
	if o.remoteCache == nil || cmd.Tags.RemoteCachingDisabled() {
		return
	}
	if !o.worthRemoteCaching(outputs, result.Duration()) {
		return
	}
	o.remoteCache.PushActionResultAsync(actionDigest, ar)
	blobs := make(map[digest.Digest][]byte, len(outputs))
	for _, f := range outputs {
		data, err := os.ReadFile(o.localCache.CasPath(f.Digest))
		if err == nil {
			blobs[f.Digest] = data
		}
	}
	if len(blobs) > 0 {
		o.remoteCache.UploadBlobsAsync(blobs)
	}
}

// PrintActionDigest prints the input-root, command and action digests for
// the named command without executing it, modelled on please's
// remote.Client.PrintHashes diagnostic -- useful when two runs unexpectedly
// produce different action digests for what looks like the same command.
func (o *Orchestrator) PrintActionDigest(name string) error {
	for i := range o.Graph.Commands.All() {
		cmd := o.Graph.Commands.Get(i)
		if cmd.Name != name {
			continue
		}
		inputs := o.buildInputFiles(cmd)
		outputPaths := o.outputPathsOf(cmd)
		argv, env := actionIdentity(cmd)
		action, err := cache.BuildActionDigest(argv, env, outputPaths, inputs)
		if err != nil {
			return fmt.Errorf("razel: building action digest for %s: %w", cmd.Name, err)
		}
		fmt.Printf("   Input: %7d bytes: %s\n", action.InputRoot.SizeBytes, action.InputRoot.Hash)
		fmt.Printf(" Command: %7d bytes: %s\n", action.Command.SizeBytes, action.Command.Hash)
		fmt.Printf("  Action: %7d bytes: %s\n", action.Action.SizeBytes, action.Action.Hash)
		return nil
	}
	return fmt.Errorf("razel: no command named %q", name)
}

// worthRemoteCaching applies the RemoteCacheThreshold gate: outputs are
// pushed to the remote cache only if total_output_bytes / exec_duration is
// below the configured kB/s threshold. A zero threshold disables the gate
// (always push), and a zero or unmeasured duration never blocks a push --
// there's no throughput to compare against, so the result falls back to
// always being worth sharing.
func (o *Orchestrator) worthRemoteCaching(outputs []cache.InputFile, duration time.Duration) bool {
	if o.Config.RemoteCacheThreshold <= 0 || duration <= 0 {
		return true
	}
	var totalBytes int64
	for _, f := range outputs {
		totalBytes += f.Digest.SizeBytes
	}
	kBPerSec := float64(totalBytes) / 1000 / duration.Seconds()
	return kBPerSec < o.Config.RemoteCacheThreshold
}
