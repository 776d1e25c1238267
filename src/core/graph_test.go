package core

import (
	"testing"

	"github.com/reu-dev/razel/src/ids"
)

func TestGraphReadyAndPropagation(t *testing.T) {
	b := NewBuilder()
	in := b.File("in.txt")
	mid := b.Output("mid.txt")
	out := b.Output("out.txt")

	cmd1, err := b.AddCommand(Command{Name: "step1", Inputs: []ids.FileId{in}, Outputs: []ids.FileId{mid}})
	if err != nil {
		t.Fatal(err)
	}
	_, err = b.AddCommand(Command{Name: "step2", Inputs: []ids.FileId{mid}, Outputs: []ids.FileId{out}})
	if err != nil {
		t.Fatal(err)
	}

	g, err := b.Seal()
	if err != nil {
		t.Fatal(err)
	}

	ready := g.PopReady()
	if len(ready) != 1 || ready[0] != cmd1 {
		t.Fatalf("expected only step1 ready, got %v", ready)
	}

	// step2 must not be ready until step1's output has a digest and has
	// been marked succeeded.
	newly := g.MarkSucceeded(cmd1)
	if len(newly) != 1 {
		t.Fatalf("expected step2 to become ready, got %v", newly)
	}
}

func TestGraphFailurePropagatesSkipped(t *testing.T) {
	b := NewBuilder()
	in := b.File("in.txt")
	mid := b.Output("mid.txt")
	out := b.Output("out.txt")

	cmd1, _ := b.AddCommand(Command{Name: "step1", Inputs: []ids.FileId{in}, Outputs: []ids.FileId{mid}})
	cmd2, _ := b.AddCommand(Command{Name: "step2", Inputs: []ids.FileId{mid}, Outputs: []ids.FileId{out}})

	g, err := b.Seal()
	if err != nil {
		t.Fatal(err)
	}
	g.PopReady()
	g.MarkFailed(cmd1)

	_, failed, _ := g.Status(cmd1)
	if !failed {
		t.Fatal("expected step1 to be marked failed")
	}
	_, _, skipped := g.Status(cmd2)
	if !skipped {
		t.Fatal("expected step2 to be marked skipped after step1 failed")
	}
}

func TestBuilderRejectsDuplicateOutput(t *testing.T) {
	b := NewBuilder()
	out := b.Output("out.txt")
	if _, err := b.AddCommand(Command{Name: "a", Outputs: []ids.FileId{out}}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddCommand(Command{Name: "b", Outputs: []ids.FileId{out}}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Seal(); err == nil {
		t.Fatal("expected Seal to reject two commands producing the same output")
	}
}

func TestBuilderDetectsCycle(t *testing.T) {
	b := NewBuilder()
	a := b.Output("a.txt")
	c := b.Output("c.txt")

	if _, err := b.AddCommand(Command{Name: "make-a", Inputs: []ids.FileId{c}, Outputs: []ids.FileId{a}}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.AddCommand(Command{Name: "make-c", Inputs: []ids.FileId{a}, Outputs: []ids.FileId{c}}); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Seal(); err == nil {
		t.Fatal("expected Seal to detect the a->c->a cycle")
	}
}
