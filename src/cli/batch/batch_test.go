package batch

import (
	"os"
	"path/filepath"
	"testing"
)

func writeBatch(t *testing.T, dir, content string) string {
	t.Helper()
	p := filepath.Join(dir, "batch.json")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadSimpleGraph(t *testing.T) {
	dir := t.TempDir()
	p := writeBatch(t, dir, `{
		"commands": [
			{"name": "echo", "executable": "/bin/echo", "executableKind": "outside",
			 "args": ["hello"], "outputs": ["out.txt"]}
		]
	}`)

	graph, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	if graph.Commands.Len() != 1 {
		t.Fatalf("expected 1 command, got %d", graph.Commands.Len())
	}
	cmd := graph.Commands.Get(0)
	if cmd.Name != "echo" {
		t.Fatalf("unexpected command name %q", cmd.Name)
	}
	if len(cmd.Outputs) != 1 {
		t.Fatalf("expected 1 output, got %d", len(cmd.Outputs))
	}
}

func TestLoadWithDeps(t *testing.T) {
	dir := t.TempDir()
	p := writeBatch(t, dir, `{
		"commands": [
			{"name": "a", "executable": "/bin/true", "executableKind": "outside"},
			{"name": "b", "executable": "/bin/true", "executableKind": "outside", "deps": ["a"]}
		]
	}`)

	graph, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %s", err)
	}
	b := graph.Commands.Get(1)
	if len(b.Deps) != 1 {
		t.Fatalf("expected 1 dep, got %d", len(b.Deps))
	}
}

func TestLoadRejectsForwardDep(t *testing.T) {
	dir := t.TempDir()
	p := writeBatch(t, dir, `{
		"commands": [
			{"name": "a", "executable": "/bin/true", "executableKind": "outside", "deps": ["b"]},
			{"name": "b", "executable": "/bin/true", "executableKind": "outside"}
		]
	}`)

	if _, err := Load(p); err == nil {
		t.Fatal("expected an error for a forward-referencing dep")
	}
}
