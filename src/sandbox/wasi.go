package sandbox

import (
	"fmt"
	"path/filepath"

	razfs "github.com/reu-dev/razel/src/fs"
)

// WasiSandbox stages inputs by hardlinking rather than symlinking, since
// the WASI runtime resolves a preopened directory's contents by following
// the host filesystem directly and some runtimes refuse to preopen a
// directory containing symlinks that point outside it. A hardlink keeps
// staging cheap (no copy) while still presenting a real file at the
// expected path. When a source is already inside the local CAS, that path
// is linked directly rather than via an intermediate copy.
type WasiSandbox struct {
	base string
	dir  string

	expectedOutputs []string
}

// NewWasiSandbox returns a WasiSandbox that will create its staging
// directories under base.
func NewWasiSandbox(base string) *WasiSandbox {
	return &WasiSandbox{base: base}
}

func (s *WasiSandbox) Create(inputs []Input, expectedOutputs []string) error {
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
		if err := razfs.RecursiveLink(in.SourcePath, dest); err != nil {
			return fmt.Errorf("sandbox: linking input %s: %w", in.Path, err)
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

func (s *WasiSandbox) Dir() string { return s.dir }

func (s *WasiSandbox) MoveOutputFilesIntoOutDir(destDir string) ([]string, error) {
	return moveOutputFiles(s.dir, destDir, s.expectedOutputs)
}

func (s *WasiSandbox) Destroy() error {
	if s.dir == "" {
		return nil
	}
	return razfs.RemoveAll(s.dir)
}
