// Package sandbox stages a command's declared inputs into an isolated
// directory before it runs, and captures its declared outputs back out
// afterwards. Three variants share the same lifecycle interface. In
// TmpDirSandbox and WasiSandbox a command only ever sees the files it
// declared, never its neighbours'; WorkspaceDirSandbox runs it directly in
// the workspace with no isolation.
package sandbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/reu-dev/razel/src/cli/logging"
	razfs "github.com/reu-dev/razel/src/fs"
)

var log = logging.MustGetLogger("sandbox")

// Input describes one file to stage into a sandbox: its workspace-relative
// path and the absolute path of the already-materialised content to link
// or symlink from (typically a CAS blob, or the original source file).
type Input struct {
	Path       string
	SourcePath string
	Executable bool
}

// Sandbox is the lifecycle every variant implements: Create stages the
// declared inputs and reserves space for the declared outputs, Dir returns
// where the command should run, MoveOutputFilesIntoOutDir promotes
// whatever the command actually produced back out, and Destroy tears the
// staging area down unconditionally.
type Sandbox interface {
	Create(inputs []Input, expectedOutputs []string) error
	Dir() string
	// MoveOutputFilesIntoOutDir moves each expected output that exists to
	// destDir, preserving its relative path, and returns the set actually
	// moved. An output that was not produced is skipped; a symlinked
	// output is an error.
	MoveOutputFilesIntoOutDir(destDir string) ([]string, error)
	Destroy() error
}

// rejectEscapingPath guards against a declared path that would stage or
// capture outside the sandbox root, e.g. via a leading "../" component.
func rejectEscapingPath(relPath string) error {
	clean := filepath.Clean(relPath)
	if clean == ".." || strings.HasPrefix(clean, "../") || filepath.IsAbs(clean) {
		return fmt.Errorf("sandbox: path %q escapes the sandbox", relPath)
	}
	return nil
}

// newUniqueDir creates and returns a fresh directory under base, named
// uniquely so concurrently-running commands never collide.
func newUniqueDir(base string) (string, error) {
	dir := filepath.Join(base, uuid.NewString())
	if err := os.MkdirAll(dir, razfs.DirPermissions); err != nil {
		return "", fmt.Errorf("sandbox: creating %s: %w", dir, err)
	}
	return dir, nil
}

// CleanBase removes every sandbox directory left behind under base, e.g.
// from a previous run that was killed before it could clean up. Run once
// at orchestrator startup, never while commands may be executing.
func CleanBase(base string) error {
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil
	} else if err != nil {
		return err
	}
	for _, e := range entries {
		p := filepath.Join(base, e.Name())
		if err := razfs.RemoveAll(p); err != nil {
			log.Warning("failed to clean stale sandbox dir %s: %s", p, err)
		}
	}
	return nil
}

func moveOutputFiles(stagingDir, destDir string, expectedOutputs []string) ([]string, error) {
	var found []string
	for _, rel := range expectedOutputs {
		src := filepath.Join(stagingDir, rel)
		info, err := os.Lstat(src)
		if os.IsNotExist(err) {
			continue
		} else if err != nil {
			return found, fmt.Errorf("sandbox: stat output %s: %w", rel, err)
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return found, fmt.Errorf("sandbox: output %s is a symlink, which is not permitted as an action output", rel)
		}
		dest := filepath.Join(destDir, rel)
		if err := razfs.EnsureDir(dest); err != nil {
			return found, err
		}
		if err := os.Rename(src, dest); err != nil {
			return found, fmt.Errorf("sandbox: moving output %s out of sandbox: %w", rel, err)
		}
		found = append(found, rel)
	}
	return found, nil
}
