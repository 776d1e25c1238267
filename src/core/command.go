package core

import "github.com/reu-dev/razel/src/ids"

// Command is one node of the bipartite file/command dependency graph: it
// consumes Inputs (and Executables, which are inputs that additionally get
// the executable bit and go on argv[0]), produces Outputs, and may name
// explicit Deps on other commands that produce no file this command reads
// directly (ordering-only dependencies).
type Command struct {
	Id          ids.CommandId
	Name        string
	Executables []ids.FileId
	Inputs      []ids.FileId
	Outputs     []ids.FileId
	Deps        []ids.CommandId
	Tags        Tags
	Executor    Executor
}

// AllInputFiles returns Executables followed by Inputs, the full set of
// files that must have a digest before this command's action digest can be
// computed.
func (c *Command) AllInputFiles() []ids.FileId {
	all := make([]ids.FileId, 0, len(c.Executables)+len(c.Inputs))
	all = append(all, c.Executables...)
	all = append(all, c.Inputs...)
	return all
}
