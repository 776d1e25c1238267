// Package core holds the data model shared by every other razel package:
// files, commands, tags, the dependency graph and execution results. It
// intentionally has no dependency on cache, sandbox or executor so that all
// of those can depend on core without creating import cycles.
package core

import (
	"github.com/reu-dev/razel/src/digest"
	"github.com/reu-dev/razel/src/ids"
)

// ExecutableType tags how a File participates as an executable, if at all.
// The zero value, NotExecutable, means the file is plain data.
type ExecutableType int

const (
	NotExecutable ExecutableType = iota
	// ExecutableInWorkspace is a binary built or checked in within the workspace.
	ExecutableInWorkspace
	// ExecutableOutsideWorkspace is an absolute path outside the workspace, used as-is.
	ExecutableOutsideWorkspace
	// WasiModule is a .wasm module run by the WASI executor.
	WasiModule
	// SystemExecutable is resolved by searching $PATH.
	SystemExecutable
	// BuilderExecutable marks the razel binary itself, used when a command
	// re-invokes a task built into this tool.
	BuilderExecutable
)

// File is one node of the bipartite file/command dependency graph,
// identified by a dense FileId. A source file's Digest is computed eagerly
// before scheduling; a produced file's Digest is nil until the command that
// creates it has succeeded, and every downstream command's admission to
// the scheduler's ready set is gated on that being true (see Graph).
type File struct {
	Id         ids.FileId
	Path       string // workspace-relative
	Executable ExecutableType
	Digest     *digest.Digest
	IsExcluded bool
	// IsSource is true for files with no producing command (read directly
	// off disk), false for files produced by some Command's outputs.
	IsSource bool
}

// HasDigest reports whether this file's content digest is currently known.
func (f *File) HasDigest() bool {
	return f.Digest != nil
}

// IsExecutableFile reports whether this file should be staged with the
// executable bit set.
func (f *File) IsExecutableFile() bool {
	return f.Executable != NotExecutable
}
