package razel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/executor"
	"github.com/reu-dev/razel/src/ids"
)

// newTestConfig returns a Configuration rooted at fresh temp directories,
// with caching's background GC disabled (CacheHighWaterMark == 0) so a
// test's own assertions about cache state aren't racing a cleanup
// goroutine.
func newTestConfig(t *testing.T) *core.Configuration {
	t.Helper()
	workspaceDir := t.TempDir()
	return &core.Configuration{
		WorkspaceDir:   workspaceDir,
		OutDir:         filepath.Join(workspaceDir, "razel-out"),
		CacheDir:       filepath.Join(t.TempDir(), "cache"),
		AvailableSlots: 2,
	}
}

// writeCommand builds a graph with a single command invoking /bin/sh -c
// script, producing the given output file.
func writeCommand(t *testing.T, script, output string) *core.Graph {
	t.Helper()
	b := core.NewBuilder()
	out := b.Output(output)
	_, err := b.AddCommand(core.Command{
		Name:     "cmd",
		Outputs:  []ids.FileId{out},
		Executor: &executor.CommandExecutor{Argv: []string{"/bin/sh", "-c", script}},
	})
	if err != nil {
		t.Fatalf("AddCommand: %s", err)
	}
	graph, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal: %s", err)
	}
	return graph
}

func TestOrchestratorRunSucceeds(t *testing.T) {
	config := newTestConfig(t)
	graph := writeCommand(t, "echo hi > hello.txt", "hello.txt")

	orch := New(config, graph)
	defer orch.Close()
	ctx := context.Background()
	if err := orch.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %s", err)
	}
	stats, err := orch.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if stats.Succeeded != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if err := orch.Err(); err != nil {
		t.Fatalf("Err: %s", err)
	}

	content, err := os.ReadFile(filepath.Join(config.OutDir, "hello.txt"))
	if err != nil {
		t.Fatalf("reading output: %s", err)
	}
	if string(content) != "hi\n" {
		t.Fatalf("unexpected output content %q", content)
	}
}

func TestOrchestratorCachesSecondRun(t *testing.T) {
	config := newTestConfig(t)
	ctx := context.Background()

	first := New(config, writeCommand(t, "echo hi > hello.txt", "hello.txt"))
	if err := first.Prepare(ctx); err != nil {
		t.Fatalf("Prepare (first): %s", err)
	}
	if _, err := first.Run(ctx, ""); err != nil {
		t.Fatalf("Run (first): %s", err)
	}
	first.Close()

	second := New(config, writeCommand(t, "echo hi > hello.txt", "hello.txt"))
	defer second.Close()
	if err := second.Prepare(ctx); err != nil {
		t.Fatalf("Prepare (second): %s", err)
	}
	stats, err := second.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run (second): %s", err)
	}
	if stats.Succeeded != 1 {
		t.Fatalf("expected the cached rerun to still report success, got %+v", stats)
	}
	if stats.CacheHits != 1 {
		t.Fatalf("expected a cache hit on the second run, got %+v", stats)
	}
}

func TestOrchestratorKeepGoingAggregatesFailures(t *testing.T) {
	config := newTestConfig(t)
	config.KeepGoing = true

	b := core.NewBuilder()
	failOut := b.Output("fail.txt")
	okOut := b.Output("ok.txt")
	if _, err := b.AddCommand(core.Command{
		Name:     "fails",
		Outputs:  []ids.FileId{failOut},
		Executor: &executor.CommandExecutor{Argv: []string{"/bin/sh", "-c", "exit 1"}},
	}); err != nil {
		t.Fatalf("AddCommand: %s", err)
	}
	if _, err := b.AddCommand(core.Command{
		Name:     "succeeds",
		Outputs:  []ids.FileId{okOut},
		Executor: &executor.CommandExecutor{Argv: []string{"/bin/sh", "-c", "echo ok > ok.txt"}},
	}); err != nil {
		t.Fatalf("AddCommand: %s", err)
	}
	graph, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal: %s", err)
	}

	orch := New(config, graph)
	defer orch.Close()
	ctx := context.Background()
	if err := orch.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %s", err)
	}
	stats, err := orch.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if orch.Err() == nil {
		t.Fatal("expected Err() to report the failure")
	}
}

func TestOrchestratorStopsWithoutKeepGoing(t *testing.T) {
	config := newTestConfig(t)
	config.KeepGoing = false

	b := core.NewBuilder()
	failOut := b.Output("fail.txt")
	if _, err := b.AddCommand(core.Command{
		Name:     "fails",
		Outputs:  []ids.FileId{failOut},
		Executor: &executor.CommandExecutor{Argv: []string{"/bin/sh", "-c", "exit 1"}},
	}); err != nil {
		t.Fatalf("AddCommand: %s", err)
	}
	graph, err := b.Seal()
	if err != nil {
		t.Fatalf("Seal: %s", err)
	}

	orch := New(config, graph)
	defer orch.Close()
	ctx := context.Background()
	if err := orch.Prepare(ctx); err != nil {
		t.Fatalf("Prepare: %s", err)
	}
	stats, err := orch.Run(ctx, "")
	if err != nil {
		t.Fatalf("Run: %s", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if orch.Err() == nil {
		t.Fatal("expected Err() to report the failure")
	}
}
