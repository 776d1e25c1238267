// Package oom provides OOM detection for spawned commands via a shared
// Linux memory cgroup. On non-Linux platforms it is a no-op: OOM kills are
// simply reported as an ordinary Crashed/Killed result with no retry
// signal, since there is no cheap way to distinguish "killed because the
// system ran out of memory" from any other SIGKILL there.
package oom

// Cgroup attaches spawned processes to a shared memory-accounting group
// and reports whether a given process was killed by the kernel OOM killer
// rather than any other signal.
type Cgroup interface {
	// Attach adds pid to this cgroup so its memory usage is accounted
	// against the group's limit.
	Attach(pid int) error
	// WasOOMKilled reports whether the kernel OOM killer has fired
	// against this cgroup since it was created.
	WasOOMKilled() bool
	// AvailableMemoryBytes returns how much memory the system currently
	// has available.
	AvailableMemoryBytes() (uint64, error)
	// Destroy removes the cgroup. Safe to call once all attached
	// processes have exited.
	Destroy() error
}
