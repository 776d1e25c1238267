package sandbox

import (
	"fmt"
	"os"
	"path/filepath"

	razfs "github.com/reu-dev/razel/src/fs"
)

// TmpDirSandbox is the default sandbox: a fresh temp directory with every
// declared input symlinked in at its workspace-relative path. Symlinking
// rather than copying keeps staging cheap even for large inputs, at the
// cost of the command being able to see the real (outside-sandbox) path
// via readlink -- acceptable since razel doesn't aim for hermeticity
// against a deliberately adversarial command (spec Non-goals).
type TmpDirSandbox struct {
	base string
	dir  string

	expectedOutputs []string
}

// NewTmpDirSandbox returns a TmpDirSandbox that will create its staging
// directories under base.
func NewTmpDirSandbox(base string) *TmpDirSandbox {
	return &TmpDirSandbox{base: base}
}

func (s *TmpDirSandbox) Create(inputs []Input, expectedOutputs []string) error {
	dir, err := newUniqueDir(s.base)
	if err != nil {
		return err
	}
	s.dir = dir
	s.expectedOutputs = expectedOutputs
	for _, in := range inputs {
		if err := rejectEscapingPath(in.Path); err != nil {
			return err
		}
		dest := filepath.Join(dir, in.Path)
		if err := razfs.EnsureDir(dest); err != nil {
			return err
		}
		if err := os.Symlink(in.SourcePath, dest); err != nil {
			return fmt.Errorf("sandbox: symlinking input %s: %w", in.Path, err)
		}
	}
	for _, out := range expectedOutputs {
		if err := rejectEscapingPath(out); err != nil {
			return err
		}
		if err := razfs.EnsureDir(filepath.Join(dir, out)); err != nil {
			return err
		}
	}
	return nil
}

func (s *TmpDirSandbox) Dir() string { return s.dir }

func (s *TmpDirSandbox) MoveOutputFilesIntoOutDir(destDir string) ([]string, error) {
	return moveOutputFiles(s.dir, destDir, s.expectedOutputs)
}

func (s *TmpDirSandbox) Destroy() error {
	if s.dir == "" {
		return nil
	}
	return razfs.RemoveAll(s.dir)
}
