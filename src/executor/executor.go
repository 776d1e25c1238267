// Package executor implements the Executor variants named in the core
// package: CommandExecutor runs a native subprocess; TaskExecutor,
// WasiExecutor and HttpRemoteExecutor satisfy the same interface with
// their domains left out of scope (their bodies only need to honour the
// contract, not actually run anything meaningful here).
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/reu-dev/razel/src/cli/logging"
	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/oom"
	"github.com/reu-dev/razel/src/process"
)

var log = logging.MustGetLogger("executor")

// argvLimit is the platform-specific byte-length threshold above which
// CommandExecutor materialises a @params response file instead of passing
// argv directly, accounting for NUL terminators and argv pointer slots per
// spec §7.
func argvLimit() int {
	switch runtime.GOOS {
	case "windows":
		return 32760
	case "darwin":
		return 1048512
	default:
		return 2097088
	}
}

// CommandExecutor runs a native subprocess: clears the inherited
// environment in favour of the command's own, runs in the sandbox's
// directory (falling back to cwd for an unsandboxed command), and enables
// a per-command timeout and Linux OOM-cgroup attachment.
type CommandExecutor struct {
	Argv   []string
	Env    map[string]string
	Timeout time.Duration

	StdoutRedirectFile string
	StderrRedirectFile string

	// Cgroup, if non-nil, is attached to the spawned process so an OOM
	// kill against it can be detected and reported to the scheduler.
	Cgroup oom.Cgroup
}

func (e *CommandExecutor) Exec(ctx context.Context, cwd string, sandboxDir string) core.ExecutionResult {
	start := time.Now()
	runDir := sandboxDir
	if runDir == "" {
		runDir = cwd
	}

	argv, respErr := e.materialiseArgv(runDir)
	if respErr != nil {
		return core.ExecutionResult{
			Status:     core.FailedToCreateResponseFile,
			Error:      respErr,
			StartedAt:  start,
			FinishedAt: time.Now(),
		}
	}

	env := make([]string, 0, len(e.Env))
	for k, v := range e.Env {
		env = append(env, k+"="+v)
	}

	var onStart func(pid int)
	if e.Cgroup != nil {
		onStart = func(pid int) {
			if err := e.Cgroup.Attach(pid); err != nil {
				log.Warning("could not attach pid %d to memory cgroup: %s", pid, err)
			}
		}
	}
	result := process.Run(ctx, runDir, env, e.Timeout, argv, onStart)
	finished := time.Now()

	if result.Err != nil && result.ExitCode == 0 && result.Signal == 0 {
		return core.ExecutionResult{
			Status:     core.FailedToStart,
			Error:      result.Err,
			StartedAt:  start,
			FinishedAt: finished,
		}
	}

	stdout, stderr := result.Stdout, result.Stderr
	status, writeErr := e.writeRedirects(runDir, &stdout, &stderr)
	if writeErr != nil {
		return core.ExecutionResult{Status: status, Error: writeErr, StartedAt: start, FinishedAt: finished}
	}

	er := core.ExecutionResult{
		ExitCode:   result.ExitCode,
		Signal:     result.Signal,
		Stdout:     stdout,
		Stderr:     stderr,
		StartedAt:  start,
		FinishedAt: finished,
	}
	switch {
	case result.TimedOut:
		er.Status = core.Timeout
	case result.Signal != 0:
		er.Status = core.Crashed
	case result.ExitCode != 0:
		er.Status = core.Failed
	default:
		er.Status = core.Success
	}
	if e.Cgroup != nil && er.Status != core.Success {
		er.OOMKilled = e.Cgroup.WasOOMKilled()
	}
	return er
}

// materialiseArgv returns argv unchanged, unless its total byte length is
// at or above the platform threshold, in which case it writes a `params`
// response file into dir and returns a single "@params" argument preceded
// by the original executable.
func (e *CommandExecutor) materialiseArgv(dir string) ([]string, error) {
	total := 0
	for _, a := range e.Argv {
		total += len(a) + 1 // NUL terminator
	}
	total += 8 * len(e.Argv) // pointer slots, approximated at 8 bytes each
	if total < argvLimit() || len(e.Argv) == 0 {
		return e.Argv, nil
	}
	paramsPath := filepath.Join(dir, "params")
	if err := os.WriteFile(paramsPath, []byte(strings.Join(e.Argv[1:], "\n")+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("executor: writing response file: %w", err)
	}
	return []string{e.Argv[0], "@params"}, nil
}

func (e *CommandExecutor) writeRedirects(dir string, stdout, stderr *[]byte) (core.Status, error) {
	if e.StdoutRedirectFile != "" {
		if err := os.WriteFile(filepath.Join(dir, e.StdoutRedirectFile), *stdout, 0644); err != nil {
			return core.FailedToWriteStdoutFile, fmt.Errorf("executor: writing stdout redirect: %w", err)
		}
		*stdout = nil
	}
	if e.StderrRedirectFile != "" {
		if err := os.WriteFile(filepath.Join(dir, e.StderrRedirectFile), *stderr, 0644); err != nil {
			return core.FailedToWriteStderrFile, fmt.Errorf("executor: writing stderr redirect: %w", err)
		}
		*stderr = nil
	}
	return core.Success, nil
}
