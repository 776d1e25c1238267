package core

import (
	"fmt"

	"github.com/reu-dev/razel/src/ids"
)

// Graph is the built, immutable (in shape -- not in per-file digest state)
// dependency graph over a Files/Commands arena pair. It tracks which
// commands are ready to run, which are still waiting on a producer, and
// which have been skipped or failed as a result of a dependency's failure.
//
// A command becomes ready only once every file it reads has a known
// digest and every command it explicitly depends on has succeeded: this is
// what guarantees a produced file's digest is always written into the
// arena before any command that reads it computes its own action digest.
type Graph struct {
	Files    *ids.Arena[File]
	Commands *ids.Arena[Command]

	creatorForFile map[ids.FileId]ids.CommandId
	unfinishedDeps map[ids.CommandId]int
	fileWaiters    map[ids.FileId][]ids.CommandId
	cmdWaiters     map[ids.CommandId][]ids.CommandId

	ready     []ids.CommandId
	waiting   map[ids.CommandId]bool
	succeeded map[ids.CommandId]bool
	skipped   map[ids.CommandId]bool
	failed    map[ids.CommandId]bool
}

// Build computes creator/waiter indices for the given arenas, detects
// cycles, and returns the Graph with its initial ready set populated.
func Build(files *ids.Arena[File], commands *ids.Arena[Command]) (*Graph, error) {
	g := &Graph{
		Files:          files,
		Commands:       commands,
		creatorForFile: make(map[ids.FileId]ids.CommandId),
		unfinishedDeps: make(map[ids.CommandId]int),
		fileWaiters:    make(map[ids.FileId][]ids.CommandId),
		cmdWaiters:     make(map[ids.CommandId][]ids.CommandId),
		waiting:        make(map[ids.CommandId]bool),
		succeeded:      make(map[ids.CommandId]bool),
		skipped:        make(map[ids.CommandId]bool),
		failed:         make(map[ids.CommandId]bool),
	}

	for i, cmd := range commands.All() {
		cmdId := ids.CommandId(i)
		for _, out := range cmd.Outputs {
			if prev, ok := g.creatorForFile[out]; ok {
				return nil, fmt.Errorf("core: file %s produced by both %s and %s",
					files.Get(int(out)).Path, prev, cmdId)
			}
			g.creatorForFile[out] = cmdId
		}
	}

	for i := range commands.All() {
		cmdId := ids.CommandId(i)
		cmd := commands.Get(i)
		unfinished := 0
		for _, in := range cmd.AllInputFiles() {
			f := files.Get(int(in))
			if f.IsSource {
				continue // source file digests are known up front
			}
			creator, ok := g.creatorForFile[in]
			if !ok {
				return nil, fmt.Errorf("core: command %s reads %s which no command produces and which is not a source file", cmd.Name, f.Path)
			}
			unfinished++
			g.fileWaiters[in] = append(g.fileWaiters[in], cmdId)
			_ = creator
		}
		for _, dep := range cmd.Deps {
			unfinished++
			g.cmdWaiters[dep] = append(g.cmdWaiters[dep], cmdId)
		}
		g.unfinishedDeps[cmdId] = unfinished
		if unfinished == 0 {
			g.ready = append(g.ready, cmdId)
		} else {
			g.waiting[cmdId] = true
		}
	}

	if err := g.checkCycles(); err != nil {
		return nil, err
	}
	return g, nil
}

// checkCycles runs a depth-first walk along the waiter indices, starting
// from every command in turn, and fails as soon as the walk reaches a
// command that is already on its current path, i.e. a command reachable
// from itself.
func (g *Graph) checkCycles() error {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := make(map[ids.CommandId]int, g.Commands.Len())
	var path []ids.CommandId

	var visit func(id ids.CommandId) error
	visit = func(id ids.CommandId) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("core: dependency cycle detected involving command %s", g.Commands.Get(int(id)).Name)
		}
		state[id] = visiting
		path = append(path, id)
		cmd := g.Commands.Get(int(id))
		for _, out := range cmd.Outputs {
			for _, waiter := range g.fileWaiters[out] {
				if err := visit(waiter); err != nil {
					return err
				}
			}
		}
		for _, waiter := range g.cmdWaiters[id] {
			if err := visit(waiter); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		state[id] = done
		return nil
	}

	for i := range g.Commands.All() {
		id := ids.CommandId(i)
		if state[id] == unvisited {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// PopReady removes and returns all currently ready commands, clearing the
// internal ready queue. The scheduler calls this to refill its own queue.
func (g *Graph) PopReady() []ids.CommandId {
	r := g.ready
	g.ready = nil
	return r
}

// HasPendingWork reports whether any command is still ready, waiting, or
// (transitively) might yet become ready.
func (g *Graph) HasPendingWork() bool {
	return len(g.ready) > 0 || len(g.waiting) > 0
}

// MarkSucceeded records that cmdId finished successfully -- the caller must
// already have written digests for all of cmdId's Outputs into the Files
// arena before calling this. It returns commands that became newly ready.
func (g *Graph) MarkSucceeded(cmdId ids.CommandId) []ids.CommandId {
	g.succeeded[cmdId] = true
	return g.resolve(cmdId)
}

// MarkFailed records that cmdId finished unsuccessfully and recursively
// marks every transitive dependent as Skipped, since none of them can ever
// become ready now.
func (g *Graph) MarkFailed(cmdId ids.CommandId) {
	g.failed[cmdId] = true
	g.skipDependents(cmdId)
}

func (g *Graph) skipDependents(cmdId ids.CommandId) {
	cmd := g.Commands.Get(int(cmdId))
	var dependents []ids.CommandId
	for _, out := range cmd.Outputs {
		dependents = append(dependents, g.fileWaiters[out]...)
	}
	dependents = append(dependents, g.cmdWaiters[cmdId]...)
	for _, dep := range dependents {
		if g.skipped[dep] || g.failed[dep] {
			continue
		}
		g.skipped[dep] = true
		delete(g.waiting, dep)
		g.skipDependents(dep)
	}
}

func (g *Graph) resolve(cmdId ids.CommandId) []ids.CommandId {
	cmd := g.Commands.Get(int(cmdId))
	var candidates []ids.CommandId
	for _, out := range cmd.Outputs {
		candidates = append(candidates, g.fileWaiters[out]...)
	}
	candidates = append(candidates, g.cmdWaiters[cmdId]...)

	var newlyReady []ids.CommandId
	for _, cand := range candidates {
		if g.skipped[cand] || g.failed[cand] || g.succeeded[cand] {
			continue
		}
		g.unfinishedDeps[cand]--
		if g.unfinishedDeps[cand] == 0 {
			delete(g.waiting, cand)
			newlyReady = append(newlyReady, cand)
		}
	}
	g.ready = append(g.ready, newlyReady...)
	return newlyReady
}

// Status reports the terminal classification of a command that has left
// the ready/waiting state, for metadata reporting.
func (g *Graph) Status(cmdId ids.CommandId) (succeeded, failed, skipped bool) {
	return g.succeeded[cmdId], g.failed[cmdId], g.skipped[cmdId]
}
