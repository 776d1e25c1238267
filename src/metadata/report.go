package metadata

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/reu-dev/razel/src/core"
)

const (
	keyAll   = "[all]"
	keyOther = "[other]"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiGreen = "\x1b[32m"
	ansiRed   = "\x1b[31m"
	ansiYellow = "\x1b[33m"
)

// Stats counts how many commands landed in each terminal bucket within one
// report group.
type Stats struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	NotRun    int `json:"not_run"`
}

func (s *Stats) add(status core.Status) {
	switch status {
	case core.NotStarted:
		s.NotRun++
	case core.Skipped:
		s.Skipped++
	case core.Success:
		s.Succeeded++
	default:
		s.Failed++
	}
}

func (s Stats) isZero() bool {
	return s == Stats{}
}

// Report groups every command's final status by the value of a chosen
// custom tag (e.g. "suite:unit" groups under "unit"), plus an implicit
// "[all]" total and an "[other]" bucket for commands carrying none of the
// tag's values.
type Report struct {
	Stats map[string]Stats
}

// NewReport builds a Report from log items, grouping by tags of the form
// "<groupByTag>:<value>". Commands with no such tag fall into [other],
// which is only included if at least one command actually grouped
// successfully (otherwise [other] would just duplicate [all]).
func NewReport(groupByTag string, items []LogItem) *Report {
	prefix := groupByTag + ":"
	var all, other Stats
	grouped := make(map[string]Stats)

	for _, item := range items {
		all.add(item.Status)
		isOther := true
		for _, tag := range item.Tags {
			value, ok := strings.CutPrefix(tag, prefix)
			if !ok {
				continue
			}
			s := grouped[value]
			s.add(item.Status)
			grouped[value] = s
			isOther = false
		}
		if isOther {
			other.add(item.Status)
		}
	}

	if len(grouped) > 0 && !other.isZero() {
		grouped[keyOther] = other
	}
	grouped[keyAll] = all
	return &Report{Stats: grouped}
}

// Write serializes the report as pretty-printed JSON to path.
func (r *Report) Write(path string) error {
	b, err := json.MarshalIndent(r.Stats, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

// Print writes a human-readable, colorized summary to stdout. It is a
// no-op when there's nothing to usefully break down (just [all] and at
// most one other group).
func (r *Report) Print() {
	if len(r.Stats) <= 2 {
		return
	}
	fmt.Println()
	fmt.Println("report:")

	width := 0
	for key := range r.Stats {
		if len(key) > width {
			width = len(key)
		}
	}

	var keys []string
	for key := range r.Stats {
		if key == keyAll || key == keyOther {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		printStats(key, r.Stats[key], width)
	}
	if s, ok := r.Stats[keyOther]; ok {
		printStats(keyOther, s, width)
	}
	fmt.Println()
}

func printStats(key string, s Stats, width int) {
	fmt.Printf("  %-*s: ", width, key)
	printStatus("succeeded", s.Succeeded, ansiGreen, true)
	printStatus("failed", s.Failed, ansiRed, false)
	printStatus("skipped", s.Skipped, ansiReset, false)
	printStatus("not run", s.NotRun, ansiYellow, false)
	fmt.Println()
}

func printStatus(label string, count int, color string, first bool) {
	if !first && count == 0 {
		return
	}
	sep := ", "
	if first {
		sep = ""
	}
	c := ansiReset
	if count != 0 {
		c = color
	}
	fmt.Printf("%s%s%d%s%s %s", sep, ansiBold+c, count, ansiReset, ansiReset, label)
}
