package scheduler

import (
	"testing"

	"github.com/reu-dev/razel/src/ids"
)

func create(availableSlots int, groups []group) *Scheduler {
	s := New(availableSlots)
	for i, g := range groups {
		s.PushReady(ids.CommandId(i), g)
	}
	if s.Ready() != len(groups) {
		panic("setup: not all commands were pushed ready")
	}
	return s
}

func mustPop(t *testing.T, s *Scheduler) ids.CommandId {
	t.Helper()
	id, ok := s.PopReadyAndRun()
	if !ok {
		t.Fatalf("expected a command to be runnable")
	}
	return id
}

func TestSchedulerSimple(t *testing.T) {
	s := create(3, []group{"exec_0", "exec_0", "exec_1", "exec_1"})
	c0 := mustPop(t, s)
	c1 := mustPop(t, s)
	c2 := mustPop(t, s)
	if _, ok := s.PopReadyAndRun(); ok {
		t.Fatalf("expected no free slot")
	}
	if s.usedSlots != 3 {
		t.Fatalf("usedSlots = %d, want 3", s.usedSlots)
	}
	if s.SetFinishedAndGetRetryFlag(c1, false) {
		t.Fatalf("did not expect a retry for a non-OOM finish")
	}
	c3 := mustPop(t, s)
	if s.SetFinishedAndGetRetryFlag(c0, false) {
		t.Fatalf("did not expect a retry")
	}
	if s.SetFinishedAndGetRetryFlag(c2, false) {
		t.Fatalf("did not expect a retry")
	}
	if s.SetFinishedAndGetRetryFlag(c3, false) {
		t.Fatalf("did not expect a retry")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	if s.usedSlots != 0 {
		t.Fatalf("usedSlots = %d, want 0", s.usedSlots)
	}
}

func TestSchedulerKilled(t *testing.T) {
	s := create(3, []group{"exec_0", "exec_0", "exec_1", "exec_1"})
	c0 := mustPop(t, s)
	c1 := mustPop(t, s)
	c2 := mustPop(t, s)
	if _, ok := s.PopReadyAndRun(); ok {
		t.Fatalf("expected no free slot")
	}
	if s.usedSlots != 3 {
		t.Fatalf("usedSlots = %d, want 3", s.usedSlots)
	}

	if !s.SetFinishedAndGetRetryFlag(c1, true) { // -> exec_0: 2 slots
		t.Fatalf("expected retry: other commands still running")
	}
	if s.usedSlots != 3 { // c0 (2), c2 (1)
		t.Fatalf("usedSlots = %d, want 3", s.usedSlots)
	}
	if _, ok := s.PopReadyAndRun(); ok {
		t.Fatalf("expected no free slot for the retried command")
	}

	if !s.SetFinishedAndGetRetryFlag(c0, true) { // -> exec_0: 3 slots
		t.Fatalf("expected retry: c2 still running")
	}
	if s.usedSlots != 1 { // c2 (1)
		t.Fatalf("usedSlots = %d, want 1", s.usedSlots)
	}
	if s.SetFinishedAndGetRetryFlag(c2, false) {
		t.Fatalf("did not expect a retry")
	}
	if s.usedSlots != 0 {
		t.Fatalf("usedSlots = %d, want 0", s.usedSlots)
	}

	c3 := mustPop(t, s)
	if s.usedSlots != 1 { // c3 (1)
		t.Fatalf("usedSlots = %d, want 1", s.usedSlots)
	}
	if _, ok := s.PopReadyAndRun(); ok {
		t.Fatalf("expected no free slot")
	}
	if s.SetFinishedAndGetRetryFlag(c3, false) {
		t.Fatalf("did not expect a retry")
	}
	if s.usedSlots != 0 {
		t.Fatalf("usedSlots = %d, want 0", s.usedSlots)
	}

	c0or1 := mustPop(t, s)
	if s.usedSlots != 3 {
		t.Fatalf("usedSlots = %d, want 3 (scaled-up exec_0 retry)", s.usedSlots)
	}
	if _, ok := s.PopReadyAndRun(); ok {
		t.Fatalf("expected no free slot")
	}
	if s.SetFinishedAndGetRetryFlag(c0or1, false) {
		t.Fatalf("did not expect a retry")
	}

	c0or1 = mustPop(t, s)
	if s.SetFinishedAndGetRetryFlag(c0or1, true) {
		t.Fatalf("did not expect a retry: no other command was running")
	}
	if s.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", s.Len())
	}
	if s.usedSlots != 0 {
		t.Fatalf("usedSlots = %d, want 0", s.usedSlots)
	}
}
