package sandbox

import "fmt"

// WorkspaceDirSandbox provides no isolation at all: the command runs
// directly against the real workspace directory. It's used for commands
// carrying the NoSandbox tag, where the command needs to see (or mutate)
// more of the filesystem than razel can enumerate up front, and whose
// result is therefore never cached (Tags.NoSandbox implies
// Tags.CachingDisabled).
type WorkspaceDirSandbox struct {
	workspaceDir string
}

// NewWorkspaceDirSandbox returns a sandbox that always resolves to
// workspaceDir.
func NewWorkspaceDirSandbox(workspaceDir string) *WorkspaceDirSandbox {
	return &WorkspaceDirSandbox{workspaceDir: workspaceDir}
}

// Create is a no-op: there is no staging to do, and expectedOutputs are
// expected to already exist relative to the workspace once the command
// finishes (or be newly created by it in place).
func (s *WorkspaceDirSandbox) Create(inputs []Input, expectedOutputs []string) error {
	return nil
}

func (s *WorkspaceDirSandbox) Dir() string { return s.workspaceDir }

// MoveOutputFilesIntoOutDir always fails: an unsandboxed command's
// outputs are used in place and are never promoted into OUT_DIR via the
// cache-linking path.
func (s *WorkspaceDirSandbox) MoveOutputFilesIntoOutDir(destDir string) ([]string, error) {
	return nil, fmt.Errorf("sandbox: WorkspaceDirSandbox does not support output promotion (NoSandbox commands are not cached)")
}

// Destroy is a no-op: there is nothing to tear down.
func (s *WorkspaceDirSandbox) Destroy() error { return nil }
