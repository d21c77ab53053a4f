// Package cleaning implements the automated cleaning pass over a table:
// whitespace trimming, empty-row and duplicate-row removal, and mean
// imputation for missing numeric cells.
package cleaning

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/databot-io/databot/internal/table"
)

// CleanedSuffix is appended to a dataset name to derive the slot the cleaned
// version is saved under.
const CleanedSuffix = "_cleaned.csv"

// Step records one cleaning action and how many cells or rows it touched.
type Step struct {
	Action string `json:"action"`
	Column string `json:"column,omitempty"`
	Count  int    `json:"count"`
}

// Report describes what a cleaning pass did. Steps with zero effect are omitted.
type Report struct {
	ID    string `json:"id"`
	Steps []Step `json:"steps"`
}

func (r *Report) add(action, column string, count int) {
	if count > 0 {
		r.Steps = append(r.Steps, Step{Action: action, Column: column, Count: count})
	}
}

// CleanedName derives the save slot for the cleaned version of name. The
// second return is true when name already carries the cleaned suffix; the
// caller is expected to surface that as a warning, not resolve it silently.
func CleanedName(name string) (string, bool) {
	return name + CleanedSuffix, strings.HasSuffix(name, CleanedSuffix)
}

// Clean runs the automated pass and returns the cleaned table with a report.
// The input table is not modified.
func Clean(t *table.Table) (*table.Table, Report) {
	report := Report{ID: uuid.New().String()}

	out := cloneTable(t)

	trimStrings(out, &report)

	keep := rowsToKeep(out, &report)
	out = selectRows(out, keep)

	fillNumeric(out, &report)

	return out, report
}

func trimStrings(t *table.Table, report *Report) {
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Type != table.String {
			continue
		}
		trimmed := 0
		for row, v := range c.Strings {
			if c.IsNull(row) {
				continue
			}
			tv := strings.TrimSpace(v)
			if tv != v {
				c.Strings[row] = tv
				trimmed++
			}
		}
		report.add("trim_whitespace", c.Name, trimmed)
	}
}

// rowsToKeep drops rows that are entirely null and then duplicate rows,
// keeping the first occurrence of each.
func rowsToKeep(t *table.Table, report *Report) []int {
	rows := t.NumRows()
	var keep []int
	emptyDropped, dupDropped := 0, 0

	seen := make(map[string]bool, rows)
	for row := 0; row < rows; row++ {
		if rowAllNull(t, row) {
			emptyDropped++
			continue
		}
		key := rowKey(t, row)
		if seen[key] {
			dupDropped++
			continue
		}
		seen[key] = true
		keep = append(keep, row)
	}

	report.add("drop_empty_rows", "", emptyDropped)
	report.add("drop_duplicate_rows", "", dupDropped)
	return keep
}

func rowAllNull(t *table.Table, row int) bool {
	if t.NumCols() == 0 {
		return false
	}
	for i := range t.Columns {
		if !t.Columns[i].IsNull(row) {
			return false
		}
	}
	return true
}

func rowKey(t *table.Table, row int) string {
	var b strings.Builder
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.IsNull(row) {
			b.WriteString("\x00~null")
		} else {
			switch c.Type {
			case table.Int:
				fmt.Fprintf(&b, "\x00%d", c.Ints[row])
			case table.Float:
				fmt.Fprintf(&b, "\x00%g", c.Floats[row])
			case table.Bool:
				fmt.Fprintf(&b, "\x00%t", c.Bools[row])
			case table.Time:
				fmt.Fprintf(&b, "\x00%d", c.Times[row].UnixNano())
			default:
				b.WriteString("\x00")
				b.WriteString(c.Strings[row])
			}
		}
	}
	return b.String()
}

// fillNumeric replaces missing numeric cells with the column mean, rounded
// to the nearest integer for int columns. Columns with no present values
// are left untouched.
func fillNumeric(t *table.Table, report *Report) {
	for i := range t.Columns {
		c := &t.Columns[i]
		if c.Null == nil || (c.Type != table.Int && c.Type != table.Float) {
			continue
		}

		sum, n := 0.0, 0
		for row := 0; row < c.Len(); row++ {
			if c.IsNull(row) {
				continue
			}
			if c.Type == table.Int {
				sum += float64(c.Ints[row])
			} else {
				sum += c.Floats[row]
			}
			n++
		}
		if n == 0 {
			continue
		}
		mean := sum / float64(n)

		filled := 0
		for row := 0; row < c.Len(); row++ {
			if !c.IsNull(row) {
				continue
			}
			if c.Type == table.Int {
				c.Ints[row] = int64(math.Round(mean))
			} else {
				c.Floats[row] = mean
			}
			c.Null[row] = false
			filled++
		}
		if filled > 0 && !anyNull(c) {
			c.Null = nil
		}
		report.add("fill_missing_with_mean", c.Name, filled)
	}
}

func anyNull(c *table.Column) bool {
	for _, n := range c.Null {
		if n {
			return true
		}
	}
	return false
}

func cloneTable(t *table.Table) *table.Table {
	out := &table.Table{Columns: make([]table.Column, len(t.Columns))}
	for i := range t.Columns {
		c := t.Columns[i]
		c.Ints = append([]int64(nil), c.Ints...)
		c.Floats = append([]float64(nil), c.Floats...)
		c.Bools = append([]bool(nil), c.Bools...)
		c.Strings = append([]string(nil), c.Strings...)
		c.Times = append([]time.Time(nil), c.Times...)
		c.Null = append([]bool(nil), c.Null...)
		out.Columns[i] = c
	}
	return out
}

func selectRows(t *table.Table, keep []int) *table.Table {
	if len(keep) == t.NumRows() {
		return t
	}
	out := &table.Table{Columns: make([]table.Column, len(t.Columns))}
	for i := range t.Columns {
		c := &t.Columns[i]
		nc := table.Column{Name: c.Name, Type: c.Type}
		switch c.Type {
		case table.Int:
			nc.Ints = make([]int64, len(keep))
			for j, row := range keep {
				nc.Ints[j] = c.Ints[row]
			}
		case table.Float:
			nc.Floats = make([]float64, len(keep))
			for j, row := range keep {
				nc.Floats[j] = c.Floats[row]
			}
		case table.Bool:
			nc.Bools = make([]bool, len(keep))
			for j, row := range keep {
				nc.Bools[j] = c.Bools[row]
			}
		case table.String:
			nc.Strings = make([]string, len(keep))
			for j, row := range keep {
				nc.Strings[j] = c.Strings[row]
			}
		case table.Time:
			nc.Times = make([]time.Time, len(keep))
			for j, row := range keep {
				nc.Times[j] = c.Times[row]
			}
		}
		if c.Null != nil {
			null := make([]bool, len(keep))
			has := false
			for j, row := range keep {
				null[j] = c.Null[row]
				has = has || null[j]
			}
			if has {
				nc.Null = null
			}
		}
		out.Columns[i] = nc
	}
	return out
}
