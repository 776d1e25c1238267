package scheduler

import "github.com/reu-dev/razel/src/core"

// GroupForCommand returns the resource group a command should be scheduled
// under: commands are assumed to share a memory footprint with others
// invoking the same executable, since stripping arguments down to just the
// executable is a cheap proxy for "probably similar resource usage" without
// having to actually measure anything up front. Commands with no
// executable of their own (in-process tasks, remote dispatch) share the
// single default group.
func GroupForCommand(cmd *core.Command, graph *core.Graph) group {
	if len(cmd.Executables) == 0 {
		return ""
	}
	file := graph.Files.Get(int(cmd.Executables[0]))
	return file.Path
}
