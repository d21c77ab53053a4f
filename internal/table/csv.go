package table

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// timeLayouts are tried in order during type inference and parsing.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ReadCSV parses CSV into a table. The first record is the header; column
// types are inferred from the non-empty cells (int, then float, then bool,
// then timestamp, falling back to string). Empty cells become nulls.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading csv: %w", err)
	}
	if len(records) == 0 {
		return &Table{}, nil
	}

	header := records[0]
	cells := records[1:]
	rows := len(cells)

	t := &Table{Columns: make([]Column, len(header))}
	for ci, name := range header {
		raw := make([]string, rows)
		for ri := range cells {
			raw[ri] = cells[ri][ci]
		}
		t.Columns[ci] = buildColumn(name, raw)
	}
	return t, nil
}

func buildColumn(name string, raw []string) Column {
	typ := inferType(raw)
	c := Column{Name: name, Type: typ}

	hasNull := false
	null := make([]bool, len(raw))
	for i, cell := range raw {
		if cell == "" {
			null[i] = true
			hasNull = true
		}
	}

	switch typ {
	case Int:
		c.Ints = make([]int64, len(raw))
		for i, cell := range raw {
			if cell == "" {
				continue
			}
			c.Ints[i], _ = strconv.ParseInt(cell, 10, 64)
		}
	case Float:
		c.Floats = make([]float64, len(raw))
		for i, cell := range raw {
			if cell == "" {
				continue
			}
			c.Floats[i], _ = strconv.ParseFloat(cell, 64)
		}
	case Bool:
		c.Bools = make([]bool, len(raw))
		for i, cell := range raw {
			if cell == "" {
				continue
			}
			c.Bools[i] = strings.EqualFold(cell, "true")
		}
	case Time:
		c.Times = make([]time.Time, len(raw))
		for i, cell := range raw {
			if cell == "" {
				continue
			}
			c.Times[i] = parseTime(cell)
		}
	default:
		c.Strings = make([]string, len(raw))
		copy(c.Strings, raw)
	}

	if hasNull {
		c.Null = null
	}
	return c
}

// inferType picks the narrowest type that parses every non-empty cell.
// A column with no non-empty cells is treated as string.
func inferType(raw []string) Type {
	sawValue := false
	isInt, isFloat, isBool, isTime := true, true, true, true

	for _, cell := range raw {
		if cell == "" {
			continue
		}
		sawValue = true
		if isInt {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				isInt = false
			}
		}
		if isFloat {
			if _, err := strconv.ParseFloat(cell, 64); err != nil {
				isFloat = false
			}
		}
		if isBool {
			if !strings.EqualFold(cell, "true") && !strings.EqualFold(cell, "false") {
				isBool = false
			}
		}
		if isTime {
			if parseTime(cell).IsZero() {
				isTime = false
			}
		}
	}

	switch {
	case !sawValue:
		return String
	case isInt:
		return Int
	case isFloat:
		return Float
	case isBool:
		return Bool
	case isTime:
		return Time
	default:
		return String
	}
}

func parseTime(cell string) time.Time {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, cell); err == nil {
			return t
		}
	}
	return time.Time{}
}

// WriteCSV renders the table as CSV: header row first, null cells as empty
// strings. Floats use the shortest representation that round-trips.
func WriteCSV(w io.Writer, t *Table) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("writing csv: %w", err)
	}

	cw := csv.NewWriter(w)

	header := make([]string, t.NumCols())
	for i := range t.Columns {
		header[i] = t.Columns[i].Name
	}
	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return err
		}
	}

	rows := t.NumRows()
	record := make([]string, t.NumCols())
	for row := 0; row < rows; row++ {
		for ci := range t.Columns {
			record[ci] = formatCell(&t.Columns[ci], row)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatCell(c *Column, row int) string {
	if c.IsNull(row) {
		return ""
	}
	switch c.Type {
	case Int:
		return strconv.FormatInt(c.Ints[row], 10)
	case Float:
		return strconv.FormatFloat(c.Floats[row], 'g', -1, 64)
	case Bool:
		return strconv.FormatBool(c.Bools[row])
	case Time:
		return c.Times[row].Format(time.RFC3339)
	default:
		return c.Strings[row]
	}
}
