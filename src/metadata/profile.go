package metadata

import (
	"encoding/json"
	"os"

	"github.com/reu-dev/razel/src/core"
)

type executionTimesItem struct {
	Name    string   `json:"name"`
	Tags    []string `json:"tags,omitempty"`
	Seconds float64  `json:"time"`
}

// Profile accumulates a flat list of (command, duration) pairs across a
// run, skipping anything that didn't actually execute (cache hits, skips).
// This is a separate, simpler sink from Log -- it exists purely to make a
// plot of "what actually took the time this run" cheap to produce.
type Profile struct {
	items []executionTimesItem
}

// NewProfile returns an empty Profile.
func NewProfile() *Profile {
	return &Profile{}
}

// Collect records cmd's execution duration if it actually ran.
func (p *Profile) Collect(cmd *core.Command, result core.ExecutionResult) {
	d := result.Duration()
	if d <= 0 {
		return
	}
	p.items = append(p.items, executionTimesItem{
		Name:    cmd.Name,
		Tags:    cmd.Tags.Custom,
		Seconds: d.Seconds(),
	})
}

// WriteJSON writes the accumulated execution times to path as a JSON array.
func (p *Profile) WriteJSON(path string) error {
	b, err := json.Marshal(p.items)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}
