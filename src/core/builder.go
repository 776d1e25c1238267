package core

import (
	"fmt"

	"github.com/reu-dev/razel/src/ids"
)

// Builder accumulates files and commands by path/name before sealing them
// into an immutable Graph. It's the only way new Files or Commands are
// created: callers never construct a File or Command arena directly.
type Builder struct {
	files    *ids.Arena[File]
	commands *ids.Arena[Command]

	filesByPath   map[string]ids.FileId
	commandsByName map[string]ids.CommandId
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		files:          ids.NewArena[File](256),
		commands:       ids.NewArena[Command](256),
		filesByPath:    make(map[string]ids.FileId),
		commandsByName: make(map[string]ids.CommandId),
	}
}

// File returns the FileId for path, creating a new source File if one
// doesn't already exist. Calling this more than once for the same path
// always returns the same id.
func (b *Builder) File(path string) ids.FileId {
	if id, ok := b.filesByPath[path]; ok {
		return id
	}
	id := ids.FileId(b.files.Add(File{Path: path, IsSource: true}))
	b.files.Get(int(id)).Id = id
	b.filesByPath[path] = id
	return id
}

// ExecutableFile is like File but tags the result with the given
// executable type.
func (b *Builder) ExecutableFile(path string, kind ExecutableType) ids.FileId {
	id := b.File(path)
	b.files.Get(int(id)).Executable = kind
	return id
}

// Output declares that path is produced by some command rather than read
// from disk. It must be called before the producing command is added via
// AddCommand, and at most one command may produce a given path.
func (b *Builder) Output(path string) ids.FileId {
	id := b.File(path)
	b.files.Get(int(id)).IsSource = false
	return id
}

// AddCommand registers cmd under a unique name, assigns it an id, and
// returns it. Names must be unique within a Builder.
func (b *Builder) AddCommand(cmd Command) (ids.CommandId, error) {
	if cmd.Name == "" {
		return ids.NoCommand, fmt.Errorf("core: command has no name")
	}
	if _, exists := b.commandsByName[cmd.Name]; exists {
		return ids.NoCommand, fmt.Errorf("core: duplicate command name %q", cmd.Name)
	}
	id := ids.CommandId(b.commands.Add(cmd))
	b.commands.Get(int(id)).Id = id
	b.commandsByName[cmd.Name] = id
	return id, nil
}

// CommandByName looks up a previously added command by name.
func (b *Builder) CommandByName(name string) (ids.CommandId, bool) {
	id, ok := b.commandsByName[name]
	return id, ok
}

// Seal validates the accumulated files/commands and builds the immutable
// Graph, detecting dangling references and cycles.
func (b *Builder) Seal() (*Graph, error) {
	for i := range b.commands.All() {
		cmd := b.commands.Get(i)
		for _, out := range cmd.Outputs {
			if int(out) >= b.files.Len() {
				return nil, fmt.Errorf("core: command %s has invalid output file id %s", cmd.Name, out)
			}
			b.files.Get(int(out)).IsSource = false
		}
	}
	return Build(b.files, b.commands)
}
