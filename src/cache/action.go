// Package cache implements the local action cache + content-addressed
// store, the canonical action-digest encoding (Bazel remote-execution v2
// shaped), and the optional remote cache client.
package cache

import (
	"sort"

	pb "github.com/bazelbuild/remote-apis/build/bazel/remote/execution/v2"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/digest"
)

// action.go deliberately never sets Action.Timeout: spec §6's canonical
// encoding is "the Action message contains command_digest and
// input_root_digest" -- nothing else -- so a command's timeout must not
// perturb its action digest.

// InputFile describes one input to a command as seen by the digesting code:
// its workspace-relative path, content digest, and executable bit. It's
// the caller's job (the orchestrator) to have resolved every File's Digest
// before building an Action.
type InputFile struct {
	Path       string
	Digest     digest.Digest
	Executable bool
}

// BuildInputRoot constructs the REAPI v2 Directory message used as a
// command's input root: a flat list of file nodes sorted by name, per
// spec §6. razel does not model subdirectories as a tree the way a real
// remote-execution worker would -- every input is named by its full
// workspace-relative path as a single flat entry, matching the reference
// tool's InputRoot record.
func BuildInputRoot(files []InputFile) *pb.Directory {
	sorted := make([]InputFile, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	dir := &pb.Directory{Files: make([]*pb.FileNode, 0, len(sorted))}
	for _, f := range sorted {
		dir.Files = append(dir.Files, &pb.FileNode{
			Name:         f.Path,
			Digest:       toPbDigest(f.Digest),
			IsExecutable: f.Executable,
		})
	}
	return dir
}

// BuildCommand constructs the REAPI v2 Command message: argv with the
// executable as argument 0, environment variables sorted by name, and
// output paths sorted and de-duplicated. The working directory is always
// empty -- razel runs every command at the root of its sandbox or
// workspace, never a subdirectory.
func BuildCommand(argv []string, env map[string]string, outputPaths []string) *pb.Command {
	names := make([]string, 0, len(env))
	for k := range env {
		names = append(names, k)
	}
	sort.Strings(names)
	envVars := make([]*pb.Command_EnvironmentVariable, 0, len(names))
	for _, k := range names {
		envVars = append(envVars, &pb.Command_EnvironmentVariable{Name: k, Value: env[k]})
	}

	outs := dedupSorted(outputPaths)

	return &pb.Command{
		Arguments:            argv,
		EnvironmentVariables: envVars,
		OutputPaths:          outs,
	}
}

func dedupSorted(paths []string) []string {
	sorted := append([]string(nil), paths...)
	sort.Strings(sorted)
	out := sorted[:0]
	var prev string
	for i, p := range sorted {
		if i == 0 || p != prev {
			out = append(out, p)
			prev = p
		}
	}
	return out
}

// ActionDigest holds every digest produced while building an action: the
// action digest itself is the cache key, but the command and input-root
// digests are also needed to upload the action's constituent blobs.
type ActionDigest struct {
	Action     digest.Digest
	Command    digest.Digest
	InputRoot  digest.Digest
	ActionMsg  *pb.Action
	CommandMsg *pb.Command
	InputMsg   *pb.Directory
}

// BuildActionDigest assembles and hashes the Command/InputRoot/Action
// triple for one invocation, per spec §6's canonical encoding.
func BuildActionDigest(argv []string, env map[string]string, outputPaths []string, inputs []InputFile) (ActionDigest, error) {
	inputRootMsg := BuildInputRoot(inputs)
	inputRootDigest, err := digest.ForMessage(inputRootMsg)
	if err != nil {
		return ActionDigest{}, err
	}
	commandMsg := BuildCommand(argv, env, outputPaths)
	commandDigest, err := digest.ForMessage(commandMsg)
	if err != nil {
		return ActionDigest{}, err
	}
	actionMsg := &pb.Action{
		CommandDigest:   toPbDigest(commandDigest),
		InputRootDigest: toPbDigest(inputRootDigest),
	}
	actionDigest, err := digest.ForMessage(actionMsg)
	if err != nil {
		return ActionDigest{}, err
	}
	return ActionDigest{
		Action:     actionDigest,
		Command:    commandDigest,
		InputRoot:  inputRootDigest,
		ActionMsg:  actionMsg,
		CommandMsg: commandMsg,
		InputMsg:   inputRootMsg,
	}, nil
}

func toPbDigest(d digest.Digest) *pb.Digest {
	return &pb.Digest{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

func fromPbDigest(d *pb.Digest) digest.Digest {
	if d == nil {
		return digest.Digest{}
	}
	return digest.Digest{Hash: d.Hash, SizeBytes: d.SizeBytes}
}

// ResultToActionResult converts an executed command's outputs into a REAPI
// v2 ActionResult message, ready to be stored raw in ac/<hex> (spec §6).
func ResultToActionResult(result core.ExecutionResult, outputs []InputFile) *pb.ActionResult {
	files := make([]*pb.OutputFile, 0, len(outputs))
	for _, o := range outputs {
		files = append(files, &pb.OutputFile{
			Path:         o.Path,
			Digest:       toPbDigest(o.Digest),
			IsExecutable: o.Executable,
		})
	}
	return &pb.ActionResult{
		ExitCode:    int32(result.ExitCode),
		OutputFiles: files,
		StdoutRaw:   result.Stdout,
		StderrRaw:   result.Stderr,
		ExecutionMetadata: &pb.ExecutedActionMetadata{
			VirtualExecutionDuration: durationpb.New(result.Duration()),
		},
	}
}

// OutputFilesOf returns the digests named in an ActionResult, used to
// check every blob is available before declaring a cache hit and to link
// them into OUT_DIR afterwards.
func OutputFilesOf(ar *pb.ActionResult) []InputFile {
	files := make([]InputFile, 0, len(ar.OutputFiles))
	for _, f := range ar.OutputFiles {
		files = append(files, InputFile{Path: f.Path, Digest: fromPbDigest(f.Digest), Executable: f.IsExecutable})
	}
	return files
}

// ActionResultToExecutionResult converts a cached ActionResult back into
// the ExecutionResult shape the rest of razel deals in, tagging it with
// which cache it was satisfied from.
func ActionResultToExecutionResult(ar *pb.ActionResult, hit core.CacheHit) core.ExecutionResult {
	return core.ExecutionResult{
		Status:   core.Success,
		CacheHit: hit,
		ExitCode: int(ar.ExitCode),
		Stdout:   ar.StdoutRaw,
		Stderr:   ar.StderrRaw,
	}
}
