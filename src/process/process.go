// Package process implements generic subprocess management: starting a
// command, capturing its output safely from two goroutines, enforcing a
// timeout, and terminating it with a SIGTERM-then-SIGKILL escalation.
package process

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
	"time"

	"github.com/reu-dev/razel/src/cli/logging"
)

var log = logging.MustGetLogger("process")

// safeBuffer is an io.Writer safe for concurrent use from stdout and
// stderr copy goroutines writing into the same buffer.
type safeBuffer struct {
	sync.Mutex
	buf bytes.Buffer
}

func (sb *safeBuffer) Write(b []byte) (int, error) {
	sb.Lock()
	defer sb.Unlock()
	return sb.buf.Write(b)
}

func (sb *safeBuffer) Bytes() []byte {
	sb.Lock()
	defer sb.Unlock()
	return append([]byte(nil), sb.buf.Bytes()...)
}

// Result is the outcome of running one subprocess.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Signal   int // 0 unless the process was terminated by a signal
	TimedOut bool
	Err      error // a failure to start the process at all, or ctx.Err() if ctx was cancelled while it ran
}

// Run starts argv[0] with argv[1:] as arguments and env as its complete
// environment (no inheritance -- callers that want inherited variables
// must include them explicitly), in dir, with a process group of its own
// so the whole tree can be killed at once. If timeout is non-zero and
// elapses before the process exits, it is killed (SIGTERM, then SIGKILL
// after a grace period) and Result.TimedOut is set. If onStart is
// non-nil, it's called with the child's pid right after it starts, before
// Run waits on it -- used to attach the process to a memory cgroup.
func Run(ctx context.Context, dir string, env []string, timeout time.Duration, argv []string, onStart func(pid int)) Result {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = setpgid()

	var stdout, stderr safeBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return Result{Err: err}
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		return resultFromWait(stdout.Bytes(), stderr.Bytes(), err, false)
	case <-timer:
		killGroup(cmd)
		<-done // reap, ignoring its error: the kill is why it died
		return resultFromWait(stdout.Bytes(), stderr.Bytes(), nil, true)
	case <-ctx.Done():
		killGroup(cmd)
		<-done
		return resultFromWait(stdout.Bytes(), stderr.Bytes(), ctx.Err(), false)
	}
}

func resultFromWait(stdout, stderr []byte, err error, timedOut bool) Result {
	r := Result{Stdout: stdout, Stderr: stderr, TimedOut: timedOut}
	if err == nil {
		return r
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		r.ExitCode, r.Signal = decodeExitError(exitErr)
		return r
	}
	r.Err = err
	return r
}

// Kill terminates a running process group: SIGTERM first, escalating to
// SIGKILL after a short grace period if it hasn't exited.
func Kill(cmd *exec.Cmd, done <-chan error) {
	killGroup(cmd)
	select {
	case <-done:
	case <-time.After(time.Second):
		log.Warning("process group for pid %d did not exit after SIGKILL", cmd.Process.Pid)
	}
}

// BashCommand returns the argv for running command in a strict bash shell:
// unset variables and pipeline failures are treated as errors.
func BashCommand(bashPath, command string) []string {
	return []string{bashPath, "--noprofile", "--norc", "-u", "-o", "pipefail", "-c", command}
}
