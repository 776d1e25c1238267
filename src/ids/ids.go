// Package ids provides the dense integer identifiers and arena-style
// ownership used for the file/command graph. Files and commands are never
// referenced by pointer across package boundaries; they're referenced by
// these typed indices into the owning Arena, which avoids the cyclic
// ownership that a command -> file -> creator-command back-reference would
// otherwise require.
package ids

import "fmt"

// FileId identifies a File in an Arena[File]. Ids start at 0, so the zero
// value is a valid id; NoFile (-1) is used as a sentinel for "no such file".
type FileId int32

// CommandId identifies a Command in an Arena[Command].
type CommandId int32

// NoFile and NoCommand are sentinel ids meaning "absent".
const (
	NoFile    FileId    = -1
	NoCommand CommandId = -1
)

func (id FileId) String() string {
	if id == NoFile {
		return "<no file>"
	}
	return fmt.Sprintf("file#%d", int32(id))
}

func (id CommandId) String() string {
	if id == NoCommand {
		return "<no command>"
	}
	return fmt.Sprintf("command#%d", int32(id))
}

// Arena is a generic append-only, index-addressed store. It owns every T it
// is given; callers get back a dense, stable id they can hold onto instead
// of a pointer or a map key.
type Arena[T any] struct {
	items []T
}

// NewArena returns an empty arena with the given initial capacity hint.
func NewArena[T any](capacityHint int) *Arena[T] {
	return &Arena[T]{items: make([]T, 0, capacityHint)}
}

// Add appends an item and returns its new, dense index.
func (a *Arena[T]) Add(item T) int {
	a.items = append(a.items, item)
	return len(a.items) - 1
}

// Get returns a pointer to the item at index i, allowing in-place mutation.
func (a *Arena[T]) Get(i int) *T {
	return &a.items[i]
}

// Len returns the number of items currently in the arena.
func (a *Arena[T]) Len() int {
	return len(a.items)
}

// All returns the backing slice. Callers must not retain it across further
// calls to Add, which may reallocate.
func (a *Arena[T]) All() []T {
	return a.items
}
