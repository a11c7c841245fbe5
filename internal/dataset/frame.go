// Package dataset holds the tabular cardiac dataset flowing through the
// pipeline. The core only requires a well-formed table with the columns
// below; how the table is obtained (spreadsheet, file, API) is the
// caller's concern.
package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"github.com/pulsekit/pulseboard/pkg/schema"
)

// Sex labels derived from the numeric sex code (0 = Female, 1 = Male).
const (
	SexFemale = "Female"
	SexMale   = "Male"
)

// FilterAll is the selector value meaning "no row filter".
const FilterAll = "All"

// GenderOptions is the list of valid gender filter values.
var GenderOptions = []string{FilterAll, SexMale, SexFemale}

// Row is a single record of the cardiac dataset.
type Row struct {
	Age      float64 `json:"age"`
	Sex      int     `json:"sex"`
	SexLabel string  `json:"sex_label"`
	Chol     float64 `json:"chol"`
	Target   int     `json:"target"`
}

// Frame is an in-memory table of cardiac records.
type Frame struct {
	Rows []Row `json:"rows"`
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Empty reports whether the frame has no rows.
func (f *Frame) Empty() bool { return len(f.Rows) == 0 }

// normalizeSex coerces a raw sex value to the 0/1 code. Non-numeric input
// becomes 0 (Female), matching the source data cleanup.
func normalizeSex(raw string) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n != 1 {
		return 0
	}
	return 1
}

func sexLabel(code int) string {
	if code == 1 {
		return SexMale
	}
	return SexFemale
}

// NewRow builds a Row from raw values, deriving the sex label.
func NewRow(age float64, sexCode int, chol float64, target int) Row {
	if sexCode != 1 {
		sexCode = 0
	}
	return Row{Age: age, Sex: sexCode, SexLabel: sexLabel(sexCode), Chol: chol, Target: target}
}

// FromCSV reads a frame from CSV input. The header row must contain at
// least the columns age, sex, chol and target; extra columns are ignored.
func FromCSV(r io.Reader) (*Frame, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "read csv header: %s", err.Error()).WithCause(err)
	}

	idx := make(map[string]int, len(header))
	for i, col := range header {
		idx[col] = i
	}
	for _, required := range []string{"age", "sex", "chol", "target"} {
		if _, ok := idx[required]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "csv missing required column %q", required)
		}
	}

	frame := &Frame{}
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "read csv line %d: %s", line, err.Error()).WithCause(err)
		}

		age, err := strconv.ParseFloat(record[idx["age"]], 64)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "line %d: invalid age %q", line, record[idx["age"]])
		}
		chol, err := strconv.ParseFloat(record[idx["chol"]], 64)
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "line %d: invalid chol %q", line, record[idx["chol"]])
		}
		target, err := strconv.Atoi(record[idx["target"]])
		if err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "line %d: invalid target %q", line, record[idx["target"]])
		}
		sex := normalizeSex(record[idx["sex"]])

		frame.Rows = append(frame.Rows, NewRow(age, sex, chol, target))
	}
	return frame, nil
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{Rows: make([]Row, len(f.Rows))}
	copy(out.Rows, f.Rows)
	return out
}

// FilterFunc returns a new frame keeping rows for which pred returns true.
func (f *Frame) FilterFunc(pred func(Row) (bool, error)) (*Frame, error) {
	out := &Frame{}
	for _, row := range f.Rows {
		keep, err := pred(row)
		if err != nil {
			return nil, err
		}
		if keep {
			out.Rows = append(out.Rows, row)
		}
	}
	return out, nil
}

// BySexLabel returns the subset matching the gender filter. FilterAll
// returns a copy of the whole frame.
func (f *Frame) BySexLabel(filter string) *Frame {
	if filter == FilterAll {
		return f.Clone()
	}
	out := &Frame{}
	for _, row := range f.Rows {
		if row.SexLabel == filter {
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

// MeanAge returns the average age rounded to one decimal place. An empty
// frame yields 0 rather than NaN or an error.
func (f *Frame) MeanAge() float64 {
	if f.Empty() {
		return 0
	}
	ages := make([]float64, len(f.Rows))
	for i, row := range f.Rows {
		ages[i] = row.Age
	}
	return math.Round(stat.Mean(ages, nil)*10) / 10
}

// TargetCounts returns the number of records per sex label, the source
// data for the dashboard's pie chart.
func (f *Frame) TargetCounts() map[string]int {
	counts := make(map[string]int)
	for _, row := range f.Rows {
		counts[row.SexLabel]++
	}
	return counts
}

// CholBySex returns cholesterol values grouped by sex label, the source
// data for the dashboard's box plot.
func (f *Frame) CholBySex() map[string][]float64 {
	groups := make(map[string][]float64)
	for _, row := range f.Rows {
		groups[row.SexLabel] = append(groups[row.SexLabel], row.Chol)
	}
	return groups
}

// Env returns the row as an expression environment for predicate
// evaluation: column names map to their values.
func (r Row) Env() map[string]any {
	return map[string]any{
		"age":       r.Age,
		"sex":       r.Sex,
		"sex_label": r.SexLabel,
		"chol":      r.Chol,
		"target":    r.Target,
	}
}
