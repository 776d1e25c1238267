// Package batch is razel's narrow front-end: it turns a JSON batch file of
// commands into a sealed core.Graph. It is deliberately not a build
// language -- no targets, no rule bodies, no glob/select -- just the flat
// command/file shape core.Builder accepts, serialised directly to JSON.
package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/reu-dev/razel/src/core"
	"github.com/reu-dev/razel/src/executor"
	"github.com/reu-dev/razel/src/ids"
)

// Command is one JSON command's view of a command: an executable plus
// argv/env, the files it reads and writes, and the tags that control its
// caching/sandboxing behaviour.
type Command struct {
	Name           string            `json:"name"`
	Executable     string            `json:"executable"`
	ExecutableKind string            `json:"executableKind"` // "workspace" (default), "outside", "system", "wasm", "builder"
	Args           []string          `json:"args"`
	Env            map[string]string `json:"env"`
	Inputs         []string          `json:"inputs"`
	Outputs        []string          `json:"outputs"`
	// Deps names other commands in this same batch that must run first
	// but produce no file this command reads directly. Forward
	// references are not supported: a dep must be defined earlier in
	// the commands array.
	Deps []string `json:"deps"`
	Tags Tags     `json:"tags"`
}

// Tags mirrors core.Tags in JSON-friendly form (a plain float of seconds
// instead of time.Duration).
type Tags struct {
	Quiet          bool     `json:"quiet"`
	Verbose        bool     `json:"verbose"`
	Condition      bool     `json:"condition"`
	TimeoutSeconds float64  `json:"timeoutSeconds"`
	NoCache        bool     `json:"noCache"`
	NoRemoteCache  bool     `json:"noRemoteCache"`
	NoSandbox      bool     `json:"noSandbox"`
	Custom         []string `json:"custom"`
}

func (t Tags) toCore() core.Tags {
	return core.Tags{
		Quiet:         t.Quiet,
		Verbose:       t.Verbose,
		Condition:     t.Condition,
		Timeout:       time.Duration(t.TimeoutSeconds * float64(time.Second)),
		NoCache:       t.NoCache,
		NoRemoteCache: t.NoRemoteCache,
		NoSandbox:     t.NoSandbox,
		Custom:        t.Custom,
	}
}

// File is the top-level shape of a batch file.
type File struct {
	Commands []Command `json:"commands"`
}

// Load reads a JSON batch file at path and seals it into a Graph.
func Load(path string) (*core.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("batch: reading %s: %w", path, err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("batch: parsing %s: %w", path, err)
	}

	b := core.NewBuilder()
	for _, c := range f.Commands {
		if err := addCommand(b, c); err != nil {
			return nil, fmt.Errorf("batch: command %q: %w", c.Name, err)
		}
	}
	graph, err := b.Seal()
	if err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	return graph, nil
}

func addCommand(b *core.Builder, c Command) error {
	var executables []ids.FileId
	kind := executableKind(c.ExecutableKind)
	if kind == core.SystemExecutable || kind == core.BuilderExecutable {
		// Not a workspace file at all; argv[0] names it directly and it's
		// never digested as an input.
	} else {
		executables = append(executables, b.ExecutableFile(c.Executable, kind))
	}

	inputs := make([]ids.FileId, len(c.Inputs))
	for i, p := range c.Inputs {
		inputs[i] = b.File(p)
	}
	outputs := make([]ids.FileId, len(c.Outputs))
	for i, p := range c.Outputs {
		outputs[i] = b.Output(p)
	}

	deps := make([]ids.CommandId, 0, len(c.Deps))
	for _, name := range c.Deps {
		id, ok := b.CommandByName(name)
		if !ok {
			return fmt.Errorf("dep %q is not defined before this command", name)
		}
		deps = append(deps, id)
	}

	argv := append([]string{c.Executable}, c.Args...)
	tags := c.Tags.toCore()
	_, err := b.AddCommand(core.Command{
		Name:        c.Name,
		Executables: executables,
		Inputs:      inputs,
		Outputs:     outputs,
		Deps:        deps,
		Tags:        tags,
		Executor: &executor.CommandExecutor{
			Argv:    argv,
			Env:     c.Env,
			Timeout: tags.Timeout,
		},
	})
	return err
}

func executableKind(s string) core.ExecutableType {
	switch s {
	case "outside":
		return core.ExecutableOutsideWorkspace
	case "system":
		return core.SystemExecutable
	case "wasm":
		return core.WasiModule
	case "builder":
		return core.BuilderExecutable
	default:
		return core.ExecutableInWorkspace
	}
}
