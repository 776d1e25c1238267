// Package metadata writes the per-run reporting sinks: a detailed log of
// every attempted command, a CTest/Dart-style measurements CSV scraped from
// stdout, a flat execution-times profile, and a tag-grouped summary report.
package metadata

import (
	"encoding/json"
	"os"

	"github.com/reu-dev/razel/src/core"
)

// LogItem is one command's entry in log.json: its final status, where its
// result came from (if anywhere), how long it ran, and any measurements
// scraped from its stdout. ExecSeconds and TotalSeconds both hold the
// command's run duration; time spent on cache work is not measured
// separately.
type LogItem struct {
	Name         string                 `json:"name"`
	Tags         []string               `json:"tags,omitempty"`
	Status       core.Status            `json:"status"`
	Cache        *core.CacheHit         `json:"cache,omitempty"`
	ExecSeconds  *float64               `json:"exec,omitempty"`
	TotalSeconds *float64               `json:"total,omitempty"`
	Measurements map[string]interface{} `json:"measurements,omitempty"`
}

// Log accumulates a LogItem per attempted command across a run and writes
// them out as a single JSON array.
type Log struct {
	Items []LogItem
}

// NewLog returns an empty Log.
func NewLog() *Log {
	return &Log{}
}

// Push records one command's outcome. measurements may be nil.
func (l *Log) Push(cmd *core.Command, result core.ExecutionResult, measurements map[string]interface{}) {
	item := LogItem{
		Name:         cmd.Name,
		Tags:         cmd.Tags.Custom,
		Status:       result.Status,
		Measurements: measurements,
	}
	if result.CacheHit != core.NoCacheHit || result.Status == core.Success {
		hit := result.CacheHit
		item.Cache = &hit
	}
	if d := result.Duration(); d > 0 {
		secs := d.Seconds()
		item.ExecSeconds = &secs
		item.TotalSeconds = &secs
	}
	l.Items = append(l.Items, item)
}

// PushNotRun records a command that never ran at all: NotStarted (the
// build was interrupted before it got a turn) or Skipped (a dependency
// failed).
func (l *Log) PushNotRun(cmd *core.Command, status core.Status) {
	l.Items = append(l.Items, LogItem{
		Name:   cmd.Name,
		Tags:   cmd.Tags.Custom,
		Status: status,
	})
}

// Write serializes the log as a compact JSON array to path.
func (l *Log) Write(path string) error {
	b, err := json.Marshal(l.Items)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
