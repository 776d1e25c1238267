// Package scheduler decides which ready command to run next given a limited
// number of execution slots, and how to react when a command turns out to
// have been killed by the OOM killer. It is not safe for concurrent use:
// callers drive it from a single goroutine, the same way the rest of the
// command graph is driven (see core.Graph).
package scheduler

import "github.com/reu-dev/razel/src/ids"

// group identifies a set of commands assumed to share the same memory
// requirement, so that an OOM-triggered slot increase for one of them
// benefits the whole set instead of needing to be rediscovered command by
// command.
type group = string

type readyItem struct {
	id    ids.CommandId
	group group
	slots int
}

// Scheduler admits ready commands onto a bounded pool of slots, doubling a
// group's slot requirement whenever one of its commands is OOM-killed, and
// re-queueing a killed command for retry only while at least one other
// command is still running.
type Scheduler struct {
	availableSlots int
	usedSlots      int

	readyItems []readyItem
	// running maps a running command to the group it was admitted under, so
	// SetFinishedAndGetRetryFlag can free the slots it actually used
	// even if groupToSlots has since changed.
	running map[ids.CommandId]group

	groupToSlots map[group]int
}

// New returns a Scheduler with no ready or running commands.
func New(availableSlots int) *Scheduler {
	if availableSlots < 1 {
		availableSlots = 1
	}
	return &Scheduler{
		availableSlots: availableSlots,
		running:        make(map[ids.CommandId]group),
		groupToSlots:   make(map[group]int),
	}
}

// Ready returns the number of commands waiting for a free slot.
func (s *Scheduler) Ready() int {
	return len(s.readyItems)
}

// Running returns the number of commands currently occupying slots.
func (s *Scheduler) Running() int {
	return len(s.running)
}

// Len returns the total number of commands the scheduler is tracking,
// ready or running.
func (s *Scheduler) Len() int {
	return s.Ready() + s.Running()
}

// IsEmpty reports whether the scheduler has no ready or running commands.
func (s *Scheduler) IsEmpty() bool {
	return s.Len() == 0
}

// ReadyIds returns the ids of every command currently waiting for a slot,
// in no particular order.
func (s *Scheduler) ReadyIds() []ids.CommandId {
	out := make([]ids.CommandId, len(s.readyItems))
	for i, item := range s.readyItems {
		out[i] = item.id
	}
	return out
}

// PushReady marks a command as ready to run, under the given resource
// group. Commands pushed under the same group share a slot requirement:
// scaling one up by an OOM kill scales every command currently ready or
// running in that group.
func (s *Scheduler) PushReady(id ids.CommandId, g group) {
	s.readyItems = append(s.readyItems, readyItem{
		id:    id,
		group: g,
		slots: s.slotsForGroup(g),
	})
}

// PopReadyAndRun admits the first ready command (strict first-fit by
// insertion order, not by slot count) that fits in the currently free
// slots, marks it running, and returns its id. It returns false if no ready
// command currently fits, including when there are no ready commands at
// all.
func (s *Scheduler) PopReadyAndRun() (ids.CommandId, bool) {
	if s.usedSlots >= s.availableSlots || len(s.readyItems) == 0 {
		return ids.NoCommand, false
	}
	freeSlots := s.availableSlots - s.usedSlots
	for i, item := range s.readyItems {
		if item.slots > freeSlots {
			continue
		}
		s.readyItems = append(s.readyItems[:i], s.readyItems[i+1:]...)
		s.running[item.id] = item.group
		s.usedSlots += item.slots
		return item.id, true
	}
	return ids.NoCommand, false
}

// SetFinishedAndGetRetryFlag records that a running command has finished,
// frees its slots, and reports whether the caller should re-run it instead
// of treating this as its final result. A retry is requested only when
// oomKilled is true and at least one other command is still running --
// otherwise the command already had the whole machine to itself and
// running it again under more memory would not help.
func (s *Scheduler) SetFinishedAndGetRetryFlag(id ids.CommandId, oomKilled bool) bool {
	g, ok := s.running[id]
	if !ok {
		return false
	}
	delete(s.running, id)
	s.usedSlots -= s.slotsForGroup(g)

	if !oomKilled {
		return false
	}
	s.scaleUpMemoryRequirement(g)
	if len(s.running) == 0 {
		return false
	}
	slots := s.slotsForGroup(g)
	s.readyItems = append(s.readyItems, readyItem{id: id, group: g, slots: slots})
	return true
}

// scaleUpMemoryRequirement doubles group's slot requirement, capped at
// availableSlots, and applies the new requirement retroactively to every
// command of that group currently running or waiting.
func (s *Scheduler) scaleUpMemoryRequirement(g group) {
	oldSlots := s.slotsForGroup(g)
	newSlots := oldSlots * 2
	if newSlots > s.availableSlots {
		newSlots = s.availableSlots
	}
	if newSlots == oldSlots {
		return
	}
	s.groupToSlots[g] = newSlots

	runningInGroup := 0
	for _, runningGroup := range s.running {
		if runningGroup == g {
			runningInGroup++
		}
	}
	s.usedSlots += runningInGroup * (newSlots - oldSlots)

	for i := range s.readyItems {
		if s.readyItems[i].group == g {
			s.readyItems[i].slots = newSlots
		}
	}
}

func (s *Scheduler) slotsForGroup(g group) int {
	if slots, ok := s.groupToSlots[g]; ok {
		return slots
	}
	return 1
}
