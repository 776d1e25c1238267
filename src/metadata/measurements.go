package metadata

import (
	"encoding/csv"
	"os"
	"regexp"

	"github.com/reu-dev/razel/src/core"
)

// measurementPatterns matches CTest/Dart-style measurement tags embedded in
// a command's stdout, in both attribute orders -- CTest historically moved
// the type attribute around between versions, and DartMeasurement is an
// older name for the same tag kept around for test harnesses that still
// emit it.
var measurementPatterns = []*regexp.Regexp{
	regexp.MustCompile(`<CTestMeasurement\s+type="[^"]+"\s+name="(?P<key>[^"]+)">(?P<value>[^<]+)</CTestMeasurement>`),
	regexp.MustCompile(`<CTestMeasurement\s+name="(?P<key>[^"]+)"\s+type="[^"]+">(?P<value>[^<]+)</CTestMeasurement>`),
	regexp.MustCompile(`<DartMeasurement\s+type="[^"]+"\s+name="(?P<key>[^"]+)">(?P<value>[^<]+)</DartMeasurement>`),
	regexp.MustCompile(`<DartMeasurement\s+name="(?P<key>[^"]+)"\s+type="[^"]+">(?P<value>[^<]+)</DartMeasurement>`),
}

// Measurements scrapes CTest/Dart measurement tags out of command stdout
// and accumulates them into rows of a CSV report, discovering columns as
// it goes (every command can emit a different set of measurement names).
type Measurements struct {
	// cols maps a measurement name to its column index; "command" and
	// "status" are always columns 0 and 1.
	cols map[string]int
	rows [][]string
}

// NewMeasurements returns an empty Measurements collector.
func NewMeasurements() *Measurements {
	return &Measurements{
		cols: map[string]int{"command": 0, "status": 1},
	}
}

// Collect scrapes commandName's stdout for measurement tags. If any were
// found, it records a CSV row for this command and returns the captured
// values keyed by name, suitable for LogItem.Measurements; it returns nil
// if stdout had no measurement tags at all.
func (m *Measurements) Collect(commandName string, status core.Status, stdout []byte) map[string]interface{} {
	row, values := m.capture(string(stdout))
	if len(row) == 0 {
		return nil
	}
	row[0] = commandName
	row[1] = status.String()
	m.rows = append(m.rows, row)
	return values
}

func (m *Measurements) capture(text string) ([]string, map[string]interface{}) {
	var row []string
	values := make(map[string]interface{})
	for _, re := range measurementPatterns {
		keyIdx := re.SubexpIndex("key")
		valIdx := re.SubexpIndex("value")
		for _, match := range re.FindAllStringSubmatch(text, -1) {
			key, value := match[keyIdx], match[valIdx]
			col, ok := m.cols[key]
			if !ok {
				col = len(m.cols)
				m.cols[key] = col
			}
			for len(row) < col+1 {
				row = append(row, "")
			}
			row[col] = value
			values[key] = value
		}
	}
	return row, values
}

// WriteCSV writes the accumulated measurement rows to path, with a header
// row ordered by column index. It is a no-op if no command emitted any
// measurements.
func (m *Measurements) WriteCSV(path string) error {
	if len(m.rows) == 0 {
		return nil
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := make([]string, len(m.cols))
	for name, col := range m.cols {
		header[col] = name
	}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, row := range m.rows {
		fixed := make([]string, len(m.cols))
		copy(fixed, row)
		if err := w.Write(fixed); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
