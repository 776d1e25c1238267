package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/reu-dev/razel/src/core"
)

// TaskExecutor satisfies core.Executor for an in-process task body (a Go
// closure registered by an embedding program rather than a subprocess).
// The task body itself is out of scope here; only the plumbing to run one
// and translate its error into a core.ExecutionResult is implemented.
type TaskExecutor struct {
	Name string
	Run  func(ctx context.Context, cwd string) error
}

func (e *TaskExecutor) Exec(ctx context.Context, cwd string, _ string) core.ExecutionResult {
	start := time.Now()
	if e.Run == nil {
		return core.ExecutionResult{
			Status:     core.FailedToStart,
			Error:      fmt.Errorf("executor: task %q has no body", e.Name),
			StartedAt:  start,
			FinishedAt: start,
		}
	}
	err := e.Run(ctx, cwd)
	finished := time.Now()
	if err != nil {
		return core.ExecutionResult{Status: core.Failed, Error: err, StartedAt: start, FinishedAt: finished}
	}
	return core.ExecutionResult{Status: core.Success, StartedAt: start, FinishedAt: finished}
}

// WasiExecutor satisfies core.Executor for a WASI module run. Running the
// module itself is out of scope; callers needing actual WASI execution
// should provide their own Executor, constructed the same way
// CommandExecutor is, and reuse WasiSandbox for input staging.
type WasiExecutor struct {
	ModulePath string
}

func (e *WasiExecutor) Exec(_ context.Context, _ string, _ string) core.ExecutionResult {
	now := time.Now()
	return core.ExecutionResult{
		Status:     core.SystemError,
		Error:      fmt.Errorf("executor: WASI execution of %q is not implemented", e.ModulePath),
		StartedAt:  now,
		FinishedAt: now,
	}
}

// HttpRemoteExecutor satisfies core.Executor for dispatching a command to
// an HTTP-based remote executor rather than the gRPC remote-execution path
// the cache package speaks. No such backend is implemented; this exists so
// a command tagged for one fails clearly instead of silently running
// locally.
type HttpRemoteExecutor struct {
	URL string
}

func (e *HttpRemoteExecutor) Exec(_ context.Context, _ string, _ string) core.ExecutionResult {
	now := time.Now()
	return core.ExecutionResult{
		Status:     core.SystemError,
		Error:      fmt.Errorf("executor: HTTP remote execution against %q is not implemented", e.URL),
		StartedAt:  now,
		FinishedAt: now,
	}
}
