package core

import "time"

// Tags is the closed set of named behaviour modifiers a Command can carry,
// plus a free-form Custom escape hatch for ones that only matter to callers
// building the graph (e.g. grouping labels used by metadata sinks).
type Tags struct {
	// Quiet suppresses stdout/stderr from being echoed to the console on
	// success; it is still captured and written to the metadata sinks.
	Quiet bool
	// Verbose forces stdout/stderr to be echoed even on success.
	Verbose bool
	// Condition marks a command whose failure should not fail the overall
	// run, but still gates its own dependents the normal way.
	Condition bool
	// Timeout is the per-command wall clock limit; zero means no timeout.
	Timeout time.Duration
	// NoCache disables both local and remote action-cache lookups and
	// writes for this command; it still executes in a sandbox as usual.
	NoCache bool
	// NoRemoteCache disables only the remote action cache; the local cache
	// is still consulted and updated.
	NoRemoteCache bool
	// NoSandbox runs the command directly in the workspace directory
	// instead of an isolated sandbox, and implies NoCache: an
	// unsandboxed command's inputs aren't fully known, so its result
	// can't safely be cached.
	NoSandbox bool
	// Custom holds arbitrary string tags with no built-in meaning to core.
	Custom []string
}

// CachingDisabled reports whether this command's result must never be read
// from or written to any cache. NoSandbox implies this even if NoCache
// wasn't set explicitly, since an unsandboxed command can escape its
// declared input set.
func (t Tags) CachingDisabled() bool {
	return t.NoCache || t.NoSandbox
}

// RemoteCachingDisabled reports whether the remote cache must be skipped,
// either because it's disabled for this command specifically or because
// all caching is disabled for it.
func (t Tags) RemoteCachingDisabled() bool {
	return t.NoRemoteCache || t.CachingDisabled()
}

// HasCustom reports whether the given custom tag string is present.
func (t Tags) HasCustom(tag string) bool {
	for _, c := range t.Custom {
		if c == tag {
			return true
		}
	}
	return false
}
